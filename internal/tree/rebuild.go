package tree

import (
	"context"
	"fmt"

	"github.com/systemshift/cattree/internal/store"
)

// Rebuild replaces dst's rows with the forest currently encoded by src.
// Nodes are replayed in preorder so every parent exists before its children
// and sibling order is kept.
func Rebuild(ctx context.Context, tx store.Tx, src, dst Index) error {
	entries, err := src.Forest(ctx, tx)
	if err != nil {
		return fmt.Errorf("reading %s forest: %w", src.Kind(), err)
	}
	if err := dst.Reset(ctx, tx); err != nil {
		return fmt.Errorf("resetting %s index: %w", dst.Kind(), err)
	}

	f := Assemble(entries)
	return f.Walk(func(n *Node) error {
		var parent *int64
		if p := f.Parent(n); p != nil {
			id := p.ID
			parent = &id
		}
		if err := dst.Insert(ctx, tx, parent, n.ID); err != nil {
			return fmt.Errorf("replaying %d into %s index: %w", n.ID, dst.Kind(), err)
		}
		return nil
	})
}
