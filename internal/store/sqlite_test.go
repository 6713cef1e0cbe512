package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "cattree.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func TestSQLiteCategories(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	var a, b Category
	err := s.Update(ctx, func(tx Tx) error {
		a = Category{Name: "Books", Slug: "books"}
		if err := tx.InsertCategory(ctx, &a); err != nil {
			return err
		}
		b = Category{Name: "Music", Slug: "music"}
		return tx.InsertCategory(ctx, &b)
	})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Greater(t, b.ID, a.ID)

	err = s.View(ctx, func(tx Tx) error {
		got, err := tx.GetCategory(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "Books", got.Name)
		assert.Equal(t, "books", got.Slug)
		assert.False(t, got.Created.IsZero())

		all, err := tx.Categories(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		none, err := tx.Categories(ctx, []int64{})
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = tx.GetCategory(ctx, 999)
		assert.True(t, errors.Is(err, ErrNotFound))
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx Tx) error {
		n, err := tx.DeleteCategory(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteCategoriesBatched(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	n := 3*categoryBatch + 7
	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		for i := 0; i < n; i++ {
			if err := tx.InsertCategory(ctx, &Category{Name: "c", Slug: "c"}); err != nil {
				return err
			}
		}
		return nil
	}))

	// Unordered, with a duplicate and an unknown id
	ids := []int64{int64(n + 50)}
	for id := int64(n); id >= 1; id-- {
		ids = append(ids, id)
	}
	ids = append(ids, 1)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		got, err := tx.Categories(ctx, ids)
		require.NoError(t, err)
		require.Len(t, got, n)
		for i, c := range got {
			assert.Equal(t, int64(i+1), c.ID)
		}
		return nil
	}))
}

func TestSQLiteRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.InsertEdges(ctx, Edge{Ancestor: 1, Descendant: 1, NextHop: 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx Tx) error {
		edges, err := tx.SelectEdges(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, edges)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	err := s.Update(ctx, func(tx Tx) error {
		return tx.InsertEdges(ctx,
			Edge{Ancestor: 1, Descendant: 1, NextHop: 1},
			Edge{Ancestor: 2, Descendant: 2, NextHop: 1},
			Edge{Ancestor: 1, Descendant: 2, NextHop: 2},
		)
	})
	require.NoError(t, err)

	t.Run("duplicate edge fails", func(t *testing.T) {
		err := s.Update(ctx, func(tx Tx) error {
			return tx.InsertEdges(ctx, Edge{Ancestor: 1, Descendant: 2, NextHop: 2})
		})
		assert.Error(t, err)
	})

	t.Run("select is ordered", func(t *testing.T) {
		err := s.View(ctx, func(tx Tx) error {
			edges, err := tx.SelectEdges(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, []Edge{
				{Ancestor: 1, Descendant: 1, NextHop: 1},
				{Ancestor: 1, Descendant: 2, NextHop: 2},
				{Ancestor: 2, Descendant: 2, NextHop: 1},
			}, edges)

			self, err := tx.SelectEdges(ctx, SelfEdges())
			require.NoError(t, err)
			assert.Len(t, self, 2)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("bulk update and delete", func(t *testing.T) {
		err := s.Update(ctx, func(tx Tx) error {
			n, err := tx.UpdateEdges(ctx, SelfEdges(), SetField(FieldNextHop, FieldAncestor))
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			e, err := tx.SelectEdges(ctx, SelfEdge(2))
			require.NoError(t, err)
			require.Len(t, e, 1)
			assert.Equal(t, int64(2), e[0].NextHop)

			n, err = tx.DeleteEdges(ctx, Where{Eq(FieldDescendant, 2)})
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestSQLiteIntervals(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	one := int64(1)
	err := s.Update(ctx, func(tx Tx) error {
		max, err := tx.MaxRight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), max)

		if err := tx.InsertInterval(ctx, Interval{ID: 1, Depth: 1, Left: 1, Right: 4}); err != nil {
			return err
		}
		return tx.InsertInterval(ctx, Interval{ID: 2, ParentID: &one, Depth: 2, Left: 2, Right: 3})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx Tx) error {
		all, err := tx.SelectIntervals(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Nil(t, all[0].ParentID)
		require.NotNil(t, all[1].ParentID)
		assert.Equal(t, int64(1), *all[1].ParentID)

		leaves, err := tx.SelectIntervals(ctx, Where{Eq(FieldSpan, 1)})
		require.NoError(t, err)
		require.Len(t, leaves, 1)
		assert.Equal(t, int64(2), leaves[0].ID)

		max, err := tx.MaxRight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), max)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx Tx) error {
		n, err := tx.UpdateIntervals(ctx, Where{Ge(FieldRight, 3)}, Add(FieldRight, 2))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = tx.UpdateIntervals(ctx, Where{Eq(FieldID, 2)}, Set(FieldParentID, nil))
		require.NoError(t, err)

		iv, err := tx.GetInterval(ctx, 2)
		require.NoError(t, err)
		assert.Nil(t, iv.ParentID)
		assert.Equal(t, int64(5), iv.Right)

		_, err = tx.GetInterval(ctx, 42)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cattree.db")

	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	err = s.Update(ctx, func(tx Tx) error {
		return tx.InsertCategory(ctx, &Category{Name: "Kept", Slug: "kept"})
	})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s2, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	defer s2.Close(ctx)

	err = s2.View(ctx, func(tx Tx) error {
		all, err := tx.Categories(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "Kept", all[0].Name)
		return nil
	})
	require.NoError(t, err)
}
