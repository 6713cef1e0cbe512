package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/cattree/internal/catalog"
	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

var errInjected = errors.New("injected write failure")

// faultyStore fails the failAt-th write of each Update transaction.
// Zero disables it.
type faultyStore struct {
	store.Store
	failAt int
	writes int
}

func (s *faultyStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	s.writes = 0
	return s.Store.Update(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, s: s})
	})
}

func (s *faultyStore) write() error {
	s.writes++
	if s.failAt > 0 && s.writes == s.failAt {
		return errInjected
	}
	return nil
}

type faultyTx struct {
	store.Tx
	s *faultyStore
}

func (t *faultyTx) InsertCategory(ctx context.Context, c *store.Category) error {
	if err := t.s.write(); err != nil {
		return err
	}
	return t.Tx.InsertCategory(ctx, c)
}

func (t *faultyTx) DeleteCategory(ctx context.Context, id int64) (int64, error) {
	if err := t.s.write(); err != nil {
		return 0, err
	}
	return t.Tx.DeleteCategory(ctx, id)
}

func (t *faultyTx) InsertEdges(ctx context.Context, edges ...store.Edge) error {
	if err := t.s.write(); err != nil {
		return err
	}
	return t.Tx.InsertEdges(ctx, edges...)
}

func (t *faultyTx) UpdateEdges(ctx context.Context, where store.Where, set ...store.Assign) (int64, error) {
	if err := t.s.write(); err != nil {
		return 0, err
	}
	return t.Tx.UpdateEdges(ctx, where, set...)
}

func (t *faultyTx) DeleteEdges(ctx context.Context, where store.Where) (int64, error) {
	if err := t.s.write(); err != nil {
		return 0, err
	}
	return t.Tx.DeleteEdges(ctx, where)
}

func (t *faultyTx) InsertInterval(ctx context.Context, iv store.Interval) error {
	if err := t.s.write(); err != nil {
		return err
	}
	return t.Tx.InsertInterval(ctx, iv)
}

func (t *faultyTx) UpdateIntervals(ctx context.Context, where store.Where, set ...store.Assign) (int64, error) {
	if err := t.s.write(); err != nil {
		return 0, err
	}
	return t.Tx.UpdateIntervals(ctx, where, set...)
}

func (t *faultyTx) DeleteIntervals(ctx context.Context, where store.Where) (int64, error) {
	if err := t.s.write(); err != nil {
		return 0, err
	}
	return t.Tx.DeleteIntervals(ctx, where)
}

// rows is every persisted row, in store order.
type rows struct {
	Categories []store.Category
	Edges      []store.Edge
	Intervals  []store.Interval
}

func snapshot(t *testing.T, st store.Store) rows {
	t.Helper()
	var r rows
	err := st.View(context.Background(), func(tx store.Tx) error {
		var err error
		if r.Categories, err = tx.Categories(context.Background(), nil); err != nil {
			return err
		}
		if r.Edges, err = tx.SelectEdges(context.Background(), nil); err != nil {
			return err
		}
		r.Intervals, err = tx.SelectIntervals(context.Background(), nil)
		return err
	})
	require.NoError(t, err)
	return r
}

func TestFailedWriteRollsBackMutation(t *testing.T) {
	mutations := []struct {
		name string
		run  func(ctx context.Context, svc *catalog.Service) error
	}{
		{"delete inner node", func(ctx context.Context, svc *catalog.Service) error { return svc.Delete(ctx, 2) }},
		{"delete root", func(ctx context.Context, svc *catalog.Service) error { return svc.Delete(ctx, 1) }},
		{"move subtree down", func(ctx context.Context, svc *catalog.Service) error { return svc.MoveSubtree(ctx, 2, ptr(4)) }},
		{"move subtree to root", func(ctx context.Context, svc *catalog.Service) error { return svc.MoveSubtree(ctx, 2, nil) }},
		{"move inner node", func(ctx context.Context, svc *catalog.Service) error { return svc.Move(ctx, 2, ptr(4)) }},
		{"move leaf", func(ctx context.Context, svc *catalog.Service) error { return svc.Move(ctx, 3, ptr(4)) }},
	}

	for _, ix := range indexes {
		for _, m := range mutations {
			t.Run(ix.name+"/"+m.name, func(t *testing.T) {
				ctx := context.Background()
				st := &faultyStore{Store: openStore(t)}
				rec := &recorder{}
				svc := catalog.New(st, ix.new(), catalog.WithEmitter(rec.emit))
				electronics(t, svc)
				before := snapshot(t, st)
				emitted := len(rec.types())

				failures := 0
				for n := 1; ; n++ {
					require.Less(t, n, 100, "mutation never succeeded")
					st.failAt = n
					err := m.run(ctx, svc)
					if err == nil {
						break
					}
					failures++
					require.ErrorIs(t, err, tree.ErrStoreFailure, "write %d", n)
					require.ErrorIs(t, err, errInjected, "write %d", n)
					require.Equal(t, before, snapshot(t, st), "write %d left partial changes", n)
					require.NoError(t, svc.Check(ctx), "write %d", n)
					require.Len(t, rec.types(), emitted, "write %d emitted an event", n)
				}

				assert.Positive(t, failures)
				assert.NotEqual(t, before, snapshot(t, st))
				assert.Len(t, rec.types(), emitted+1)
				require.NoError(t, svc.Check(ctx))
			})
		}
	}
}
