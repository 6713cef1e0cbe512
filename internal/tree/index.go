// Package tree defines the contract shared by the two category index
// encodings, their error taxonomy, and the arena forest used to present
// query results.
package tree

import (
	"context"

	"github.com/systemshift/cattree/internal/store"
)

// Kind names an index encoding.
type Kind string

const (
	KindClosure Kind = "closure"
	KindNested  Kind = "nested"
)

// Entry is one indexed node as returned by a query. Left and Right are zero
// for the closure encoding.
type Entry struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Depth    int64  `json:"depth"`
	Left     int64  `json:"lft,omitempty"`
	Right    int64  `json:"rgt,omitempty"`
}

// IsRoot reports whether e has no parent.
func (e Entry) IsRoot() bool {
	return e.ParentID == nil
}

// Index maintains one encoding of the category forest over a store
// transaction. Implementations keep no state between calls; every method
// reads and writes rows through tx only.
//
// A nil parent means "make it a root". Mutations must be serialized per
// forest by the caller.
type Index interface {
	Kind() Kind

	// Insert adds id as the last child of parent.
	Insert(ctx context.Context, tx store.Tx, parent *int64, id int64) error
	// Delete removes id and promotes its children to id's parent.
	Delete(ctx context.Context, tx store.Tx, id int64) error
	// Move relocates id alone. Its children stay behind, promoted.
	Move(ctx context.Context, tx store.Tx, id int64, parent *int64) error
	// MoveSubtree relocates id together with all of its descendants.
	MoveSubtree(ctx context.Context, tx store.Tx, id int64, parent *int64) error

	// Forest returns every node, parents before children.
	Forest(ctx context.Context, tx store.Tx) ([]Entry, error)
	// Subtree returns id and its descendants, id first.
	Subtree(ctx context.Context, tx store.Tx, id int64) ([]Entry, error)
	// Path returns the ancestors of id and id itself, root first.
	Path(ctx context.Context, tx store.Tx, id int64) ([]Entry, error)
	// Leaves returns every node without children.
	Leaves(ctx context.Context, tx store.Tx) ([]Entry, error)
	// IsAncestor reports whether a is a strict ancestor of d.
	IsAncestor(ctx context.Context, tx store.Tx, a, d int64) (bool, error)

	// Check verifies the encoding's invariants over the full row set. It
	// returns an *InvariantError when any is violated.
	Check(ctx context.Context, tx store.Tx) error
	// Reset removes every index row. Categories are left alone.
	Reset(ctx context.Context, tx store.Tx) error
}
