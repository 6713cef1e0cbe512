// Package closure implements the category index as a closure table: one
// edge (ancestor, descendant, next_hop) for every ancestor-or-self pair.
//
// next_hop is the child of ancestor on the path toward descendant. On a
// self-edge it holds the node's parent, or the node itself for a root.
package closure

import (
	"context"
	"fmt"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// Index is the closure-table encoding. It holds no state.
type Index struct{}

// New returns a closure index.
func New() *Index {
	return &Index{}
}

// Kind implements tree.Index
func (*Index) Kind() tree.Kind {
	return tree.KindClosure
}

// Insert adds id under parent. The new node inherits every ancestor edge of
// parent; the hop stays the same for strict ancestors and is id itself for
// the edge from parent.
func (ix *Index) Insert(ctx context.Context, tx store.Tx, parent *int64, id int64) error {
	if _, err := ix.selfEdge(ctx, tx, id); err == nil {
		return fmt.Errorf("insert %d: %w", id, tree.ErrExists)
	} else if !isNotFound(err) {
		return err
	}

	if parent == nil {
		if err := tx.InsertEdges(ctx, store.Edge{Ancestor: id, Descendant: id, NextHop: id}); err != nil {
			return fmt.Errorf("insert %d: %w", id, err)
		}
		return nil
	}

	up, err := tx.SelectEdges(ctx, store.Where{store.Eq(store.FieldDescendant, *parent)})
	if err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	if len(up) == 0 {
		return fmt.Errorf("insert %d: parent %d: %w", id, *parent, tree.ErrNotFound)
	}

	edges := make([]store.Edge, 0, len(up)+1)
	edges = append(edges, store.Edge{Ancestor: id, Descendant: id, NextHop: *parent})
	for _, e := range up {
		hop := e.NextHop
		if e.Ancestor == *parent {
			hop = id
		}
		edges = append(edges, store.Edge{Ancestor: e.Ancestor, Descendant: id, NextHop: hop})
	}
	if err := tx.InsertEdges(ctx, edges...); err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	return nil
}

// Delete removes id and promotes its children to id's parent. Every edge
// routed through id is repointed before id's own edges are dropped.
func (ix *Index) Delete(ctx context.Context, tx store.Tx, id int64) error {
	self, err := ix.selfEdge(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}

	if parent, ok := parentOf(self); ok {
		children, err := tx.SelectEdges(ctx, childSelfEdges(id))
		if err != nil {
			return fmt.Errorf("delete %d: %w", id, err)
		}

		// Edges from the parent into a child's subtree now go through that
		// child.
		for _, c := range descendants(children) {
			_, err := tx.UpdateEdges(ctx, store.Where{
				store.Eq(store.FieldAncestor, parent),
				store.Eq(store.FieldNextHop, id),
				store.InEdges(store.FieldDescendant, store.Descendants(c)),
			}, store.SetInt(store.FieldNextHop, c))
			if err != nil {
				return fmt.Errorf("delete %d: repointing child %d: %w", id, c, err)
			}
		}

		_, err = tx.UpdateEdges(ctx, childSelfEdges(id), store.SetInt(store.FieldNextHop, parent))
		if err != nil {
			return fmt.Errorf("delete %d: promoting children: %w", id, err)
		}
	} else {
		// Children of a root become roots.
		_, err := tx.UpdateEdges(ctx, childSelfEdges(id), store.SetField(store.FieldNextHop, store.FieldAncestor))
		if err != nil {
			return fmt.Errorf("delete %d: promoting children: %w", id, err)
		}
	}

	if _, err := tx.DeleteEdges(ctx, store.Where{store.Eq(store.FieldAncestor, id)}); err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}
	if _, err := tx.DeleteEdges(ctx, store.Where{store.Eq(store.FieldDescendant, id)}); err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}
	return nil
}

// Move relocates id alone: its children are promoted in place and id is
// reinserted as a leaf under parent.
func (ix *Index) Move(ctx context.Context, tx store.Tx, id int64, parent *int64) error {
	noop, err := ix.checkMove(ctx, tx, id, parent)
	if err != nil || noop {
		return err
	}
	if err := ix.Delete(ctx, tx, id); err != nil {
		return fmt.Errorf("move %d: %w", id, err)
	}
	if err := ix.Insert(ctx, tx, parent, id); err != nil {
		return fmt.Errorf("move %d: %w", id, err)
	}
	return nil
}

// MoveSubtree relocates id with all of its descendants. Edges inside the
// subtree are untouched; only the edges from id's old strict ancestors are
// replaced by edges from the new ones.
func (ix *Index) MoveSubtree(ctx context.Context, tx store.Tx, id int64, parent *int64) error {
	noop, err := ix.checkMove(ctx, tx, id, parent)
	if err != nil || noop {
		return err
	}

	sub, err := tx.SelectEdges(ctx, store.Where{store.Eq(store.FieldAncestor, id)})
	if err != nil {
		return fmt.Errorf("move subtree %d: %w", id, err)
	}
	members := descendants(sub)

	// Both sets are read inside the store before any row is removed.
	_, err = tx.DeleteEdges(ctx, store.Where{
		store.InEdges(store.FieldAncestor, store.StrictAncestors(id)),
		store.InEdges(store.FieldDescendant, store.Descendants(id)),
	})
	if err != nil {
		return fmt.Errorf("move subtree %d: detaching: %w", id, err)
	}

	if parent != nil {
		above, err := tx.SelectEdges(ctx, store.Where{store.Eq(store.FieldDescendant, *parent)})
		if err != nil {
			return fmt.Errorf("move subtree %d: %w", id, err)
		}
		edges := make([]store.Edge, 0, len(above)*len(members))
		for _, a := range above {
			hop := a.NextHop
			if a.Ancestor == *parent {
				hop = id
			}
			for _, d := range members {
				edges = append(edges, store.Edge{Ancestor: a.Ancestor, Descendant: d, NextHop: hop})
			}
		}
		if err := tx.InsertEdges(ctx, edges...); err != nil {
			return fmt.Errorf("move subtree %d: attaching: %w", id, err)
		}
	}

	hop := id
	if parent != nil {
		hop = *parent
	}
	if _, err := tx.UpdateEdges(ctx, store.SelfEdge(id), store.SetInt(store.FieldNextHop, hop)); err != nil {
		return fmt.Errorf("move subtree %d: %w", id, err)
	}
	return nil
}

// Reset removes every edge.
func (*Index) Reset(ctx context.Context, tx store.Tx) error {
	if _, err := tx.DeleteEdges(ctx, nil); err != nil {
		return fmt.Errorf("reset closure index: %w", err)
	}
	return nil
}

// checkMove validates a relocation before any row is written. It reports
// noop when parent is already id's parent.
func (ix *Index) checkMove(ctx context.Context, tx store.Tx, id int64, parent *int64) (bool, error) {
	self, err := ix.selfEdge(ctx, tx, id)
	if err != nil {
		return false, fmt.Errorf("move %d: %w", id, err)
	}

	current, hasParent := parentOf(self)
	if parent == nil {
		return !hasParent, nil
	}
	if hasParent && current == *parent {
		return true, nil
	}
	if *parent == id {
		return false, fmt.Errorf("move %d under itself: %w", id, tree.ErrInvalidRelocation)
	}

	inside, err := tx.SelectEdges(ctx, store.Where{
		store.Eq(store.FieldAncestor, id),
		store.Eq(store.FieldDescendant, *parent),
	})
	if err != nil {
		return false, fmt.Errorf("move %d: %w", id, err)
	}
	if len(inside) > 0 {
		return false, fmt.Errorf("move %d under its descendant %d: %w", id, *parent, tree.ErrInvalidRelocation)
	}

	if _, err := ix.selfEdge(ctx, tx, *parent); err != nil {
		return false, fmt.Errorf("move %d: parent: %w", id, err)
	}
	return false, nil
}

func (*Index) selfEdge(ctx context.Context, tx store.Tx, id int64) (store.Edge, error) {
	edges, err := tx.SelectEdges(ctx, store.SelfEdge(id))
	if err != nil {
		return store.Edge{}, err
	}
	if len(edges) == 0 {
		return store.Edge{}, fmt.Errorf("category %d: %w", id, tree.ErrNotFound)
	}
	return edges[0], nil
}

// childSelfEdges matches the self-edges of id's children.
func childSelfEdges(id int64) store.Where {
	return store.Where{
		store.EqField(store.FieldAncestor, store.FieldDescendant),
		store.Eq(store.FieldNextHop, id),
		store.Ne(store.FieldAncestor, id),
	}
}

// parentOf reads the parent from a self-edge.
func parentOf(self store.Edge) (int64, bool) {
	if self.NextHop == self.Descendant {
		return 0, false
	}
	return self.NextHop, true
}

func descendants(edges []store.Edge) []int64 {
	ids := make([]int64, len(edges))
	for i, e := range edges {
		ids[i] = e.Descendant
	}
	return ids
}
