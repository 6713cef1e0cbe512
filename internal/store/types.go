package store

import (
	"time"
)

// Category is one row of the node store. Parent and depth belong to the
// index rows, not to the category itself.
type Category struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Slug    string    `json:"slug"`
	Created time.Time `json:"created"`
}

// Edge is one row of the closure index.
type Edge struct {
	Ancestor   int64 `json:"ancestor_id"`
	Descendant int64 `json:"descendant_id"`
	NextHop    int64 `json:"next_hop_id"`
}

// IsSelf reports whether e is the reflexive edge of a node.
func (e Edge) IsSelf() bool {
	return e.Ancestor == e.Descendant
}

// Interval is one row of the nested-set index.
type Interval struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Depth    int64  `json:"depth"`
	Left     int64  `json:"lft"`
	Right    int64  `json:"rgt"`
}

// IsLeaf reports whether the interval encloses no other interval.
func (iv Interval) IsLeaf() bool {
	return iv.Right-iv.Left == 1
}

// Contains reports whether other lies strictly inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Left < other.Left && other.Right < iv.Right
}
