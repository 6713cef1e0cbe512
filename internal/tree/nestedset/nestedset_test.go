package nestedset_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
	"github.com/systemshift/cattree/internal/tree/nestedset"
	"github.com/systemshift/cattree/internal/tree/treetest"
)

const (
	A int64 = iota + 1
	B
	C
	D
	E
	F
)

func ptr(v int64) *int64 { return &v }

// span is an interval as [lft, rgt, depth].
type span [3]int64

type fixture struct {
	ctx context.Context
	s   *store.SQLite
	ix  *nestedset.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "nested.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	return &fixture{ctx: ctx, s: s, ix: nestedset.New()}
}

func (f *fixture) update(fn func(tx store.Tx) error) error {
	return f.s.Update(f.ctx, fn)
}

func (f *fixture) insert(t *testing.T, parent *int64, id int64) {
	t.Helper()
	require.NoError(t, f.update(func(tx store.Tx) error {
		return f.ix.Insert(f.ctx, tx, parent, id)
	}))
}

func (f *fixture) layout(t *testing.T) map[int64]span {
	t.Helper()
	out := make(map[int64]span)
	require.NoError(t, f.s.View(f.ctx, func(tx store.Tx) error {
		ivs, err := tx.SelectIntervals(f.ctx, nil)
		for _, iv := range ivs {
			out[iv.ID] = span{iv.Left, iv.Right, iv.Depth}
		}
		return err
	}))
	return out
}

func (f *fixture) rows(t *testing.T) []store.Interval {
	t.Helper()
	var ivs []store.Interval
	require.NoError(t, f.s.View(f.ctx, func(tx store.Tx) (err error) {
		ivs, err = tx.SelectIntervals(f.ctx, nil)
		return err
	}))
	return ivs
}

func (f *fixture) check(t *testing.T) {
	t.Helper()
	require.NoError(t, f.s.View(f.ctx, func(tx store.Tx) error {
		return f.ix.Check(f.ctx, tx)
	}))
}

func TestScenario(t *testing.T) {
	f := newFixture(t)

	f.insert(t, nil, A)
	assert.Equal(t, map[int64]span{A: {1, 2, 1}}, f.layout(t))

	f.insert(t, ptr(A), B)
	assert.Equal(t, map[int64]span{A: {1, 4, 1}, B: {2, 3, 2}}, f.layout(t))

	f.insert(t, ptr(A), C)
	assert.Equal(t, map[int64]span{A: {1, 6, 1}, B: {2, 3, 2}, C: {4, 5, 2}}, f.layout(t))

	require.NoError(t, f.update(func(tx store.Tx) error {
		return f.ix.Delete(f.ctx, tx, B)
	}))
	assert.Equal(t, map[int64]span{A: {1, 4, 1}, C: {2, 3, 2}}, f.layout(t))
	f.check(t)
}

func TestInsertRootAfterLastRoot(t *testing.T) {
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)
	f.insert(t, nil, C)

	assert.Equal(t, span{5, 6, 1}, f.layout(t)[C])
	f.check(t)
}

func TestDeletePromotesChildren(t *testing.T) {
	// A -> B -> (C -> E, D)
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)
	f.insert(t, ptr(B), C)
	f.insert(t, ptr(B), D)
	f.insert(t, ptr(C), E)

	require.NoError(t, f.update(func(tx store.Tx) error {
		return f.ix.Delete(f.ctx, tx, B)
	}))
	f.check(t)

	assert.Equal(t, map[int64]span{
		A: {1, 8, 1},
		C: {2, 5, 2},
		E: {3, 4, 3},
		D: {6, 7, 2},
	}, f.layout(t))
	for _, iv := range f.rows(t) {
		if iv.ID == C || iv.ID == D {
			require.NotNil(t, iv.ParentID)
			assert.Equal(t, A, *iv.ParentID)
		}
	}
}

func TestMoveSingleNode(t *testing.T) {
	// A[1,8] -> B[2,3], C[4,7] -> D[5,6]
	build := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.insert(t, nil, A)
		f.insert(t, ptr(A), B)
		f.insert(t, ptr(A), C)
		f.insert(t, ptr(C), D)
		return f
	}

	tests := []struct {
		name   string
		id     int64
		parent *int64
		want   map[int64]span
	}{
		{
			name:   "later in numbering",
			id:     B,
			parent: ptr(C),
			want:   map[int64]span{A: {1, 8, 1}, C: {2, 7, 2}, D: {3, 4, 3}, B: {5, 6, 3}},
		},
		{
			name:   "earlier in numbering",
			id:     D,
			parent: ptr(B),
			want:   map[int64]span{A: {1, 8, 1}, B: {2, 5, 2}, D: {3, 4, 3}, C: {6, 7, 2}},
		},
		{
			name:   "to root",
			id:     D,
			parent: nil,
			want:   map[int64]span{A: {1, 6, 1}, B: {2, 3, 2}, C: {4, 5, 2}, D: {7, 8, 1}},
		},
		{
			name:   "up to grandparent",
			id:     D,
			parent: ptr(A),
			want:   map[int64]span{A: {1, 8, 1}, B: {2, 3, 2}, C: {4, 5, 2}, D: {6, 7, 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := build(t)
			require.NoError(t, f.update(func(tx store.Tx) error {
				return f.ix.MoveSingleNode(f.ctx, tx, tt.id, tt.parent)
			}))
			assert.Equal(t, tt.want, f.layout(t))
			f.check(t)
		})
	}

	t.Run("rejects node with children", func(t *testing.T) {
		f := build(t)
		before := f.rows(t)
		err := f.update(func(tx store.Tx) error {
			return f.ix.MoveSingleNode(f.ctx, tx, C, ptr(B))
		})
		assert.ErrorIs(t, err, tree.ErrInvalidRelocation)
		assert.Equal(t, before, f.rows(t))
	})
}

func TestMovePromotesChildren(t *testing.T) {
	// A -> B -> C ; D
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)
	f.insert(t, ptr(B), C)
	f.insert(t, nil, D)

	require.NoError(t, f.update(func(tx store.Tx) error {
		return f.ix.Move(f.ctx, tx, B, ptr(D))
	}))
	f.check(t)
	assert.Equal(t, map[int64]span{
		A: {1, 4, 1},
		C: {2, 3, 2},
		D: {5, 8, 1},
		B: {6, 7, 2},
	}, f.layout(t))
}

func TestMoveToCurrentParentIsNoop(t *testing.T) {
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)
	f.insert(t, ptr(B), C)
	before := f.rows(t)

	require.NoError(t, f.update(func(tx store.Tx) error {
		if err := f.ix.Move(f.ctx, tx, B, ptr(A)); err != nil {
			return err
		}
		if err := f.ix.MoveSubtree(f.ctx, tx, C, ptr(B)); err != nil {
			return err
		}
		return f.ix.MoveSubtree(f.ctx, tx, A, nil)
	}))
	assert.Equal(t, before, f.rows(t))
}

func TestMoveSubtree(t *testing.T) {
	// A[1,10] -> B[2,7] -> (C[3,4], D[5,6]) ; E[8,9]
	build := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.insert(t, nil, A)
		f.insert(t, ptr(A), B)
		f.insert(t, ptr(B), C)
		f.insert(t, ptr(B), D)
		f.insert(t, ptr(A), E)
		return f
	}

	tests := []struct {
		name   string
		id     int64
		parent *int64
		want   map[int64]span
	}{
		{
			name:   "into later sibling",
			id:     B,
			parent: ptr(E),
			want:   map[int64]span{A: {1, 10, 1}, E: {2, 9, 2}, B: {3, 8, 3}, C: {4, 5, 4}, D: {6, 7, 4}},
		},
		{
			name:   "to root",
			id:     B,
			parent: nil,
			want:   map[int64]span{A: {1, 4, 1}, E: {2, 3, 2}, B: {5, 10, 1}, C: {6, 7, 2}, D: {8, 9, 2}},
		},
		{
			name:   "into earlier sibling",
			id:     D,
			parent: ptr(C),
			want:   map[int64]span{A: {1, 10, 1}, B: {2, 7, 2}, C: {3, 6, 3}, D: {4, 5, 4}, E: {8, 9, 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := build(t)
			require.NoError(t, f.update(func(tx store.Tx) error {
				return f.ix.MoveSubtree(f.ctx, tx, tt.id, tt.parent)
			}))
			assert.Equal(t, tt.want, f.layout(t))
			f.check(t)
		})
	}

	t.Run("back and forth", func(t *testing.T) {
		f := build(t)
		before := f.layout(t)
		require.NoError(t, f.update(func(tx store.Tx) error {
			if err := f.ix.MoveSubtree(f.ctx, tx, B, ptr(E)); err != nil {
				return err
			}
			return f.ix.MoveSubtree(f.ctx, tx, B, ptr(A))
		}))
		f.check(t)

		// B is now A's last child; its internal shape is unchanged.
		after := f.layout(t)
		shift := after[B][0] - before[B][0]
		for _, id := range []int64{B, C, D} {
			assert.Equal(t, before[id][0]+shift, after[id][0])
			assert.Equal(t, before[id][1]+shift, after[id][1])
			assert.Equal(t, before[id][2], after[id][2])
		}
	})
}

func TestQueries(t *testing.T) {
	// A -> B -> (C, D) ; E
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)
	f.insert(t, ptr(B), C)
	f.insert(t, ptr(B), D)
	f.insert(t, nil, E)

	ids := func(entries []tree.Entry) []int64 {
		out := make([]int64, len(entries))
		for i, e := range entries {
			out[i] = e.ID
		}
		return out
	}

	require.NoError(t, f.s.View(f.ctx, func(tx store.Tx) error {
		forest, err := f.ix.Forest(f.ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []int64{A, B, C, D, E}, ids(forest))

		sub, err := f.ix.Subtree(f.ctx, tx, B)
		require.NoError(t, err)
		assert.Equal(t, []int64{B, C, D}, ids(sub))

		path, err := f.ix.Path(f.ctx, tx, D)
		require.NoError(t, err)
		assert.Equal(t, []int64{A, B, D}, ids(path))

		leaves, err := f.ix.Leaves(f.ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []int64{C, D, E}, ids(leaves))

		ok, err := f.ix.IsAncestor(f.ctx, tx, A, D)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = f.ix.IsAncestor(f.ctx, tx, D, A)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.ix.IsAncestor(f.ctx, tx, A, A)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = f.ix.Subtree(f.ctx, tx, 99)
		assert.ErrorIs(t, err, tree.ErrNotFound)
		return nil
	}))
}

func TestRelocationErrors(t *testing.T) {
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)
	f.insert(t, ptr(B), C)
	before := f.rows(t)

	tests := []struct {
		name string
		fn   func(tx store.Tx) error
		want error
	}{
		{"move under itself", func(tx store.Tx) error { return f.ix.Move(f.ctx, tx, B, ptr(B)) }, tree.ErrInvalidRelocation},
		{"move under descendant", func(tx store.Tx) error { return f.ix.Move(f.ctx, tx, A, ptr(C)) }, tree.ErrInvalidRelocation},
		{"subtree under descendant", func(tx store.Tx) error { return f.ix.MoveSubtree(f.ctx, tx, A, ptr(B)) }, tree.ErrInvalidRelocation},
		{"move missing node", func(tx store.Tx) error { return f.ix.Move(f.ctx, tx, 99, nil) }, tree.ErrNotFound},
		{"move under missing parent", func(tx store.Tx) error { return f.ix.MoveSubtree(f.ctx, tx, C, ptr(99)) }, tree.ErrNotFound},
		{"delete missing node", func(tx store.Tx) error { return f.ix.Delete(f.ctx, tx, 99) }, tree.ErrNotFound},
		{"insert under missing parent", func(tx store.Tx) error { return f.ix.Insert(f.ctx, tx, ptr(99), D) }, tree.ErrNotFound},
		{"insert twice", func(tx store.Tx) error { return f.ix.Insert(f.ctx, tx, nil, B) }, tree.ErrExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.update(tt.fn), tt.want)
			assert.Equal(t, before, f.rows(t))
		})
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	f := newFixture(t)
	f.insert(t, nil, A)
	f.insert(t, ptr(A), B)

	require.NoError(t, f.update(func(tx store.Tx) error {
		_, err := tx.UpdateIntervals(f.ctx, store.Where{store.Eq(store.FieldID, B)}, store.SetInt(store.FieldDepth, 5))
		return err
	}))

	err := f.s.View(f.ctx, func(tx store.Tx) error {
		return f.ix.Check(f.ctx, tx)
	})
	require.ErrorIs(t, err, tree.ErrInvariant)
	assert.Contains(t, err.Error(), "node 2: depth 5, want 2")
}

func TestRandomSequences(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42} {
		f := newFixture(t)
		treetest.Run(t, f.s, f.ix, seed, 150)
	}
}
