// Package store holds the row store shared by both tree encodings: the
// categories table, the closure edges and the nested-set intervals.
//
// Index code never touches a backend directly. It issues predicate-based
// selects and bulk updates through Tx, and each backend pushes the predicate
// down as a single statement.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("row not found")

// Tx is the set of row operations available inside one transaction.
type Tx interface {
	// Categories
	InsertCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id int64) (*Category, error)
	// Categories returns the rows for ids, ordered by id. A nil slice
	// returns every category.
	Categories(ctx context.Context, ids []int64) ([]Category, error)
	DeleteCategory(ctx context.Context, id int64) (int64, error)

	// Closure edges, ordered by (ancestor, descendant)
	SelectEdges(ctx context.Context, where Where) ([]Edge, error)
	InsertEdges(ctx context.Context, edges ...Edge) error
	UpdateEdges(ctx context.Context, where Where, set ...Assign) (int64, error)
	DeleteEdges(ctx context.Context, where Where) (int64, error)

	// Nested-set intervals, ordered by lft
	SelectIntervals(ctx context.Context, where Where) ([]Interval, error)
	GetInterval(ctx context.Context, id int64) (*Interval, error)
	MaxRight(ctx context.Context) (int64, error)
	InsertInterval(ctx context.Context, iv Interval) error
	UpdateIntervals(ctx context.Context, where Where, set ...Assign) (int64, error)
	DeleteIntervals(ctx context.Context, where Where) (int64, error)
}

// Store runs functions inside transactions. Update commits when fn returns
// nil and rolls back otherwise, so a failed step never leaves partial
// changes behind.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close(ctx context.Context) error
}

// SelfEdges matches the reflexive edge of every node.
func SelfEdges() Where {
	return Where{EqField(FieldAncestor, FieldDescendant)}
}

// SelfEdge matches the reflexive edge of id.
func SelfEdge(id int64) Where {
	return Where{Eq(FieldAncestor, id), Eq(FieldDescendant, id)}
}

// InRange matches intervals enclosed by [left, right], bounds included.
func InRange(left, right int64) Where {
	return Where{Ge(FieldLeft, left), Le(FieldRight, right)}
}
