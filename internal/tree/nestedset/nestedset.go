// Package nestedset implements the category index as nested intervals:
// every node owns [lft, rgt] and encloses the intervals of its descendants.
//
// Boundaries are kept contiguous from 1 to 2n. Every mutation is a short
// sequence of range shifts pushed down to the store.
package nestedset

import (
	"context"
	"errors"
	"fmt"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// Index is the nested-set encoding. It holds no state.
type Index struct{}

// New returns a nested-set index.
func New() *Index {
	return &Index{}
}

// Kind implements tree.Index
func (*Index) Kind() tree.Kind {
	return tree.KindNested
}

// Insert adds id as a root after the last root, or as the last child of
// parent.
func (ix *Index) Insert(ctx context.Context, tx store.Tx, parent *int64, id int64) error {
	if _, err := tx.GetInterval(ctx, id); err == nil {
		return fmt.Errorf("insert %d: %w", id, tree.ErrExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("insert %d: %w", id, err)
	}

	if parent == nil {
		return ix.insertRoot(ctx, tx, id)
	}
	return ix.insertChild(ctx, tx, *parent, id)
}

func (*Index) insertRoot(ctx context.Context, tx store.Tx, id int64) error {
	max, err := tx.MaxRight(ctx)
	if err != nil {
		return fmt.Errorf("insert root %d: %w", id, err)
	}
	iv := store.Interval{ID: id, Depth: 1, Left: max + 1, Right: max + 2}
	if err := tx.InsertInterval(ctx, iv); err != nil {
		return fmt.Errorf("insert root %d: %w", id, err)
	}
	return nil
}

// insertChild opens a 2-wide gap at the parent's closing boundary.
func (ix *Index) insertChild(ctx context.Context, tx store.Tx, parent, id int64) error {
	p, err := ix.get(ctx, tx, parent)
	if err != nil {
		return fmt.Errorf("insert %d: parent: %w", id, err)
	}

	if err := shift(ctx, tx, store.Where{store.Ge(store.FieldLeft, p.Right)}, store.FieldLeft, 2); err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	if err := shift(ctx, tx, store.Where{store.Ge(store.FieldRight, p.Right)}, store.FieldRight, 2); err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}

	iv := store.Interval{
		ID:       id,
		ParentID: &parent,
		Depth:    p.Depth + 1,
		Left:     p.Right,
		Right:    p.Right + 1,
	}
	if err := tx.InsertInterval(ctx, iv); err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	return nil
}

// Delete removes id and promotes its children. The interior moves up one
// slot and one level, then everything after id closes the remaining gap.
func (ix *Index) Delete(ctx context.Context, tx store.Tx, id int64) error {
	n, err := ix.get(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}

	steps := []struct {
		where store.Where
		set   []store.Assign
	}{
		{
			store.Where{store.Eq(store.FieldParentID, id)},
			[]store.Assign{store.Set(store.FieldParentID, n.ParentID)},
		},
		{
			store.Where{store.Gt(store.FieldLeft, n.Left), store.Lt(store.FieldRight, n.Right)},
			[]store.Assign{store.Add(store.FieldLeft, -1), store.Add(store.FieldRight, -1), store.Add(store.FieldDepth, -1)},
		},
		{
			store.Where{store.Gt(store.FieldRight, n.Right)},
			[]store.Assign{store.Add(store.FieldRight, -2)},
		},
		{
			store.Where{store.Gt(store.FieldLeft, n.Right)},
			[]store.Assign{store.Add(store.FieldLeft, -2)},
		},
	}
	for _, s := range steps {
		if _, err := tx.UpdateIntervals(ctx, s.where, s.set...); err != nil {
			return fmt.Errorf("delete %d: %w", id, err)
		}
	}

	if _, err := tx.DeleteIntervals(ctx, store.Where{store.Eq(store.FieldID, id)}); err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}
	return nil
}

// Move relocates id alone. A leaf is moved in place; a node with children
// is deleted, promoting them, and reinserted under parent.
func (ix *Index) Move(ctx context.Context, tx store.Tx, id int64, parent *int64) error {
	n, p, noop, err := ix.checkMove(ctx, tx, id, parent)
	if err != nil || noop {
		return err
	}

	if n.IsLeaf() {
		return ix.moveLeaf(ctx, tx, n, p)
	}
	if err := ix.Delete(ctx, tx, id); err != nil {
		return fmt.Errorf("move %d: %w", id, err)
	}
	if err := ix.Insert(ctx, tx, parent, id); err != nil {
		return fmt.Errorf("move %d: %w", id, err)
	}
	return nil
}

// MoveSingleNode relocates a leaf using 2-wide shifts between its old and
// new position. A node with children is rejected.
func (ix *Index) MoveSingleNode(ctx context.Context, tx store.Tx, id int64, parent *int64) error {
	n, p, noop, err := ix.checkMove(ctx, tx, id, parent)
	if err != nil || noop {
		return err
	}
	if !n.IsLeaf() {
		return fmt.Errorf("move single node %d: has children: %w", id, tree.ErrInvalidRelocation)
	}
	return ix.moveLeaf(ctx, tx, n, p)
}

func (ix *Index) moveLeaf(ctx context.Context, tx store.Tx, n, p *store.Interval) error {
	var (
		left, right, depth int64
		parent             *int64
	)

	switch {
	case p == nil:
		max, err := tx.MaxRight(ctx)
		if err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		if err := shift(ctx, tx, store.Where{store.Gt(store.FieldLeft, n.Right)}, store.FieldLeft, -2); err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		if err := shift(ctx, tx, store.Where{store.Gt(store.FieldRight, n.Right)}, store.FieldRight, -2); err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		left, right, depth = max-1, max, 1

	case p.Right > n.Right:
		// Later in the numbering: everything between slides back over the
		// old slot.
		between := func(f store.Field) store.Where {
			return store.Where{store.Gt(f, n.Right), store.Lt(f, p.Right)}
		}
		if err := shift(ctx, tx, between(store.FieldLeft), store.FieldLeft, -2); err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		if err := shift(ctx, tx, between(store.FieldRight), store.FieldRight, -2); err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		left, right, depth, parent = p.Right-2, p.Right-1, p.Depth+1, &p.ID

	default:
		// Earlier in the numbering: everything from the parent's closing
		// boundary up to the old slot slides forward.
		if err := shift(ctx, tx, store.Where{store.Gt(store.FieldLeft, p.Right), store.Lt(store.FieldLeft, n.Left)}, store.FieldLeft, 2); err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		if err := shift(ctx, tx, store.Where{store.Ge(store.FieldRight, p.Right), store.Lt(store.FieldRight, n.Left)}, store.FieldRight, 2); err != nil {
			return fmt.Errorf("move %d: %w", n.ID, err)
		}
		left, right, depth, parent = p.Right, p.Right+1, p.Depth+1, &p.ID
	}

	_, err := tx.UpdateIntervals(ctx, store.Where{store.Eq(store.FieldID, n.ID)},
		store.SetInt(store.FieldLeft, left),
		store.SetInt(store.FieldRight, right),
		store.SetInt(store.FieldDepth, depth),
		store.Set(store.FieldParentID, parent),
	)
	if err != nil {
		return fmt.Errorf("move %d: %w", n.ID, err)
	}
	return nil
}

// MoveSubtree relocates id with all of its descendants, w = rgt-lft+1 wide.
//
// The subtree is parked above the current maximum boundary so the rest of
// the forest can be renumbered with plain range shifts: close the old gap,
// open a new one at the destination, then bring the parked rows down into
// it. Parked rows are the only ones above max, which keeps every step a
// single predicate.
func (ix *Index) MoveSubtree(ctx context.Context, tx store.Tx, id int64, parent *int64) error {
	n, p, noop, err := ix.checkMove(ctx, tx, id, parent)
	if err != nil || noop {
		return err
	}

	w := n.Right - n.Left + 1
	max, err := tx.MaxRight(ctx)
	if err != nil {
		return fmt.Errorf("move subtree %d: %w", id, err)
	}
	depth := int64(1)
	if p != nil {
		depth = p.Depth + 1
	}

	// Park
	_, err = tx.UpdateIntervals(ctx, store.InRange(n.Left, n.Right),
		store.Add(store.FieldLeft, max),
		store.Add(store.FieldRight, max),
		store.Add(store.FieldDepth, depth-n.Depth),
	)
	if err != nil {
		return fmt.Errorf("move subtree %d: parking: %w", id, err)
	}

	// Close the old gap
	for _, f := range []store.Field{store.FieldLeft, store.FieldRight} {
		if err := shift(ctx, tx, store.Where{store.Gt(f, n.Right), store.Le(f, max)}, f, -w); err != nil {
			return fmt.Errorf("move subtree %d: closing gap: %w", id, err)
		}
	}

	dest := max - w + 1
	if p != nil {
		moved, err := ix.get(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("move subtree %d: %w", id, err)
		}
		dest = moved.Right
	}

	// Open the new gap
	for _, f := range []store.Field{store.FieldLeft, store.FieldRight} {
		if err := shift(ctx, tx, store.Where{store.Ge(f, dest), store.Le(f, max)}, f, w); err != nil {
			return fmt.Errorf("move subtree %d: opening gap: %w", id, err)
		}
	}

	// Unpark
	offset := dest - n.Left - max
	_, err = tx.UpdateIntervals(ctx, store.Where{store.Gt(store.FieldLeft, max)},
		store.Add(store.FieldLeft, offset),
		store.Add(store.FieldRight, offset),
	)
	if err != nil {
		return fmt.Errorf("move subtree %d: unparking: %w", id, err)
	}

	_, err = tx.UpdateIntervals(ctx, store.Where{store.Eq(store.FieldID, id)}, store.Set(store.FieldParentID, parent))
	if err != nil {
		return fmt.Errorf("move subtree %d: %w", id, err)
	}
	return nil
}

// Reset removes every interval.
func (*Index) Reset(ctx context.Context, tx store.Tx) error {
	if _, err := tx.DeleteIntervals(ctx, nil); err != nil {
		return fmt.Errorf("reset nested index: %w", err)
	}
	return nil
}

// checkMove loads id and the new parent and rejects cycles before any row
// is written. noop is set when parent is already id's parent.
func (ix *Index) checkMove(ctx context.Context, tx store.Tx, id int64, parent *int64) (n, p *store.Interval, noop bool, err error) {
	n, err = ix.get(ctx, tx, id)
	if err != nil {
		return nil, nil, false, fmt.Errorf("move %d: %w", id, err)
	}

	switch {
	case parent == nil:
		return n, nil, n.ParentID == nil, nil
	case n.ParentID != nil && *n.ParentID == *parent:
		return n, nil, true, nil
	case *parent == id:
		return nil, nil, false, fmt.Errorf("move %d under itself: %w", id, tree.ErrInvalidRelocation)
	}

	p, err = ix.get(ctx, tx, *parent)
	if err != nil {
		return nil, nil, false, fmt.Errorf("move %d: parent: %w", id, err)
	}
	if n.Contains(*p) {
		return nil, nil, false, fmt.Errorf("move %d under its descendant %d: %w", id, *parent, tree.ErrInvalidRelocation)
	}
	return n, p, false, nil
}

func (*Index) get(ctx context.Context, tx store.Tx, id int64) (*store.Interval, error) {
	iv, err := tx.GetInterval(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("category %d: %w", id, tree.ErrNotFound)
	}
	return iv, err
}

func shift(ctx context.Context, tx store.Tx, where store.Where, f store.Field, delta int64) error {
	_, err := tx.UpdateIntervals(ctx, where, store.Add(f, delta))
	return err
}
