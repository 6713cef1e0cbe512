package nestedset

import (
	"context"
	"fmt"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// Forest returns every node ordered by lft, which is preorder.
func (ix *Index) Forest(ctx context.Context, tx store.Tx) ([]tree.Entry, error) {
	ivs, err := tx.SelectIntervals(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("forest: %w", err)
	}
	return entries(ivs), nil
}

// Subtree returns the intervals enclosed by id's, id first.
func (ix *Index) Subtree(ctx context.Context, tx store.Tx, id int64) ([]tree.Entry, error) {
	n, err := ix.get(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("subtree %d: %w", id, err)
	}
	ivs, err := tx.SelectIntervals(ctx, store.InRange(n.Left, n.Right))
	if err != nil {
		return nil, fmt.Errorf("subtree %d: %w", id, err)
	}
	return entries(ivs), nil
}

// Path returns the intervals enclosing id's, root first.
func (ix *Index) Path(ctx context.Context, tx store.Tx, id int64) ([]tree.Entry, error) {
	n, err := ix.get(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("path %d: %w", id, err)
	}
	ivs, err := tx.SelectIntervals(ctx, store.Where{
		store.Le(store.FieldLeft, n.Left),
		store.Ge(store.FieldRight, n.Right),
	})
	if err != nil {
		return nil, fmt.Errorf("path %d: %w", id, err)
	}
	return entries(ivs), nil
}

// Leaves returns every interval of width 2.
func (*Index) Leaves(ctx context.Context, tx store.Tx) ([]tree.Entry, error) {
	ivs, err := tx.SelectIntervals(ctx, store.Where{store.Eq(store.FieldSpan, 1)})
	if err != nil {
		return nil, fmt.Errorf("leaves: %w", err)
	}
	return entries(ivs), nil
}

// IsAncestor reports whether a's interval strictly contains d's.
func (*Index) IsAncestor(ctx context.Context, tx store.Tx, a, d int64) (bool, error) {
	if a == d {
		return false, nil
	}
	ivs, err := tx.SelectIntervals(ctx, store.Where{store.In(store.FieldID, []int64{a, d})})
	if err != nil {
		return false, fmt.Errorf("is ancestor %d of %d: %w", a, d, err)
	}

	var ia, id *store.Interval
	for i := range ivs {
		switch ivs[i].ID {
		case a:
			ia = &ivs[i]
		case d:
			id = &ivs[i]
		}
	}
	if ia == nil || id == nil {
		return false, nil
	}
	return ia.Contains(*id), nil
}

func entries(ivs []store.Interval) []tree.Entry {
	out := make([]tree.Entry, len(ivs))
	for i, iv := range ivs {
		out[i] = tree.Entry{
			ID:       iv.ID,
			ParentID: iv.ParentID,
			Depth:    iv.Depth,
			Left:     iv.Left,
			Right:    iv.Right,
		}
	}
	return out
}
