package closure

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// Forest returns every node in preorder, read from the self-edges.
func (ix *Index) Forest(ctx context.Context, tx store.Tx) ([]tree.Entry, error) {
	f, err := ix.forest(ctx, tx, store.SelfEdges())
	if err != nil {
		return nil, fmt.Errorf("forest: %w", err)
	}
	return f.Entries(), nil
}

// Subtree returns id and its descendants in preorder.
func (ix *Index) Subtree(ctx context.Context, tx store.Tx, id int64) ([]tree.Entry, error) {
	entries, err := ix.entries(ctx, tx, store.Where{
		store.EqField(store.FieldAncestor, store.FieldDescendant),
		store.InEdges(store.FieldDescendant, store.Descendants(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("subtree %d: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("subtree %d: %w", id, tree.ErrNotFound)
	}

	up, err := tx.SelectEdges(ctx, store.Where{store.Eq(store.FieldDescendant, id)})
	if err != nil {
		return nil, fmt.Errorf("subtree %d: %w", id, err)
	}

	// The top node's depth is its number of ancestor-or-self edges; the rest
	// follow from it.
	for i := range entries {
		if entries[i].ID == id {
			entries[i].Depth = int64(len(up))
		}
	}
	return tree.FromParents(entries).Entries(), nil
}

// Path returns id's ancestors and id, root first.
func (*Index) Path(ctx context.Context, tx store.Tx, id int64) ([]tree.Entry, error) {
	selfs, err := tx.SelectEdges(ctx, store.Where{
		store.EqField(store.FieldAncestor, store.FieldDescendant),
		store.InEdges(store.FieldDescendant, store.Ancestors(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("path %d: %w", id, err)
	}
	if len(selfs) == 0 {
		return nil, fmt.Errorf("path %d: %w", id, tree.ErrNotFound)
	}

	byID := make(map[int64]store.Edge, len(selfs))
	for _, e := range selfs {
		byID[e.Descendant] = e
	}

	var path []tree.Entry
	for cur, ok := byID[id]; ok; {
		path = append(path, entryOf(cur))
		p, hasParent := parentOf(cur)
		if !hasParent || len(path) > len(selfs) {
			break
		}
		cur, ok = byID[p]
	}
	slices.Reverse(path)
	for i := range path {
		path[i].Depth = int64(i + 1)
	}
	return path, nil
}

// Leaves returns the nodes no self-edge names as parent, in preorder.
func (ix *Index) Leaves(ctx context.Context, tx store.Tx) ([]tree.Entry, error) {
	f, err := ix.forest(ctx, tx, store.SelfEdges())
	if err != nil {
		return nil, fmt.Errorf("leaves: %w", err)
	}

	var leaves []tree.Entry
	f.Walk(func(n *tree.Node) error {
		if len(n.Children) == 0 {
			leaves = append(leaves, n.Entry)
		}
		return nil
	})
	return leaves, nil
}

// IsAncestor reports whether a strict edge (a, d) exists.
func (*Index) IsAncestor(ctx context.Context, tx store.Tx, a, d int64) (bool, error) {
	if a == d {
		return false, nil
	}
	edges, err := tx.SelectEdges(ctx, store.Where{
		store.Eq(store.FieldAncestor, a),
		store.Eq(store.FieldDescendant, d),
	})
	if err != nil {
		return false, fmt.Errorf("is ancestor %d of %d: %w", a, d, err)
	}
	return len(edges) > 0, nil
}

func (ix *Index) forest(ctx context.Context, tx store.Tx, where store.Where) (*tree.Forest, error) {
	entries, err := ix.entries(ctx, tx, where)
	if err != nil {
		return nil, err
	}
	return tree.FromParents(entries), nil
}

// entries converts the self-edges matched by where.
func (*Index) entries(ctx context.Context, tx store.Tx, where store.Where) ([]tree.Entry, error) {
	selfs, err := tx.SelectEdges(ctx, where)
	if err != nil {
		return nil, err
	}
	entries := make([]tree.Entry, len(selfs))
	for i, e := range selfs {
		entries[i] = entryOf(e)
	}
	return entries, nil
}

func entryOf(self store.Edge) tree.Entry {
	e := tree.Entry{ID: self.Descendant}
	if p, ok := parentOf(self); ok {
		e.ParentID = &p
	}
	return e
}

func isNotFound(err error) bool {
	return errors.Is(err, tree.ErrNotFound)
}
