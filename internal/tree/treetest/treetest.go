// Package treetest drives a tree.Index with random operation sequences and
// compares the result against a plain parent-map model.
package treetest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// OpKind names a mutation.
type OpKind string

const (
	OpInsert      OpKind = "insert"
	OpDelete      OpKind = "delete"
	OpMove        OpKind = "move"
	OpMoveSubtree OpKind = "move-subtree"
)

// Op is one mutation. Parent is nil for a root.
type Op struct {
	Kind   OpKind
	ID     int64
	Parent *int64
}

func (o Op) String() string {
	if o.Parent == nil {
		return fmt.Sprintf("%s %d -> root", o.Kind, o.ID)
	}
	return fmt.Sprintf("%s %d -> %d", o.Kind, o.ID, *o.Parent)
}

// Apply runs op against ix inside tx.
func Apply(ctx context.Context, tx store.Tx, ix tree.Index, op Op) error {
	switch op.Kind {
	case OpInsert:
		return ix.Insert(ctx, tx, op.Parent, op.ID)
	case OpDelete:
		return ix.Delete(ctx, tx, op.ID)
	case OpMove:
		return ix.Move(ctx, tx, op.ID, op.Parent)
	case OpMoveSubtree:
		return ix.MoveSubtree(ctx, tx, op.ID, op.Parent)
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

// Model is the reference forest: a parent pointer per node.
type Model struct {
	parent map[int64]*int64
	next   int64
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{parent: make(map[int64]*int64), next: 1}
}

// IDs returns the live node ids in ascending order.
func (m *Model) IDs() []int64 {
	ids := make([]int64, 0, len(m.parent))
	for id := range m.parent {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Parent returns id's parent, nil for a root.
func (m *Model) Parent(id int64) *int64 {
	return m.parent[id]
}

// Depth returns the 1-based depth of id.
func (m *Model) Depth(id int64) int64 {
	d := int64(1)
	for p := m.parent[id]; p != nil; p = m.parent[*p] {
		d++
	}
	return d
}

// IsAncestor reports whether a is a strict ancestor of d.
func (m *Model) IsAncestor(a, d int64) bool {
	for p := m.parent[d]; p != nil; p = m.parent[*p] {
		if *p == a {
			return true
		}
	}
	return false
}

// Apply updates the model and returns the error an index is expected to
// report for op. The model is unchanged when the error is non-nil.
func (m *Model) Apply(op Op) error {
	if op.Kind == OpInsert {
		if _, ok := m.parent[op.ID]; ok {
			return tree.ErrExists
		}
		if op.Parent != nil {
			if _, ok := m.parent[*op.Parent]; !ok {
				return tree.ErrNotFound
			}
		}
		m.parent[op.ID] = copyID(op.Parent)
		if op.ID >= m.next {
			m.next = op.ID + 1
		}
		return nil
	}

	current, ok := m.parent[op.ID]
	if !ok {
		return tree.ErrNotFound
	}

	if op.Kind == OpDelete {
		m.promote(op.ID)
		delete(m.parent, op.ID)
		return nil
	}

	switch {
	case op.Parent == nil && current == nil:
		return nil
	case op.Parent != nil && current != nil && *op.Parent == *current:
		return nil
	case op.Parent != nil && *op.Parent == op.ID:
		return tree.ErrInvalidRelocation
	}
	if op.Parent != nil {
		if _, ok := m.parent[*op.Parent]; !ok {
			return tree.ErrNotFound
		}
		if m.IsAncestor(op.ID, *op.Parent) {
			return tree.ErrInvalidRelocation
		}
	}

	if op.Kind == OpMove {
		m.promote(op.ID)
	}
	m.parent[op.ID] = copyID(op.Parent)
	return nil
}

func (m *Model) promote(id int64) {
	for c, p := range m.parent {
		if p != nil && *p == id {
			m.parent[c] = copyID(m.parent[id])
		}
	}
}

// Generate picks a random operation. Most operations are valid; some
// target a relocation into the node's own subtree or a missing id.
func (m *Model) Generate(r *rand.Rand) Op {
	ids := m.IDs()
	pick := func() *int64 {
		if len(ids) == 0 || r.IntN(5) == 0 {
			return nil
		}
		id := ids[r.IntN(len(ids))]
		return &id
	}

	if len(ids) < 3 || r.IntN(10) < 4 {
		return Op{Kind: OpInsert, ID: m.next, Parent: pick()}
	}

	id := ids[r.IntN(len(ids))]
	if r.IntN(40) == 0 {
		id = m.next + 1000
	}
	switch r.IntN(3) {
	case 0:
		return Op{Kind: OpDelete, ID: id}
	case 1:
		return Op{Kind: OpMove, ID: id, Parent: pick()}
	default:
		return Op{Kind: OpMoveSubtree, ID: id, Parent: pick()}
	}
}

// Run applies steps random operations from seed to ix and to a model,
// asserting after each step that the outcome matches the model and that
// ix.Check passes.
func Run(t testing.TB, s store.Store, ix tree.Index, seed uint64, steps int) *Model {
	t.Helper()
	ctx := context.Background()
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	m := NewModel()

	for i := 0; i < steps; i++ {
		op := m.Generate(r)
		want := m.Apply(op)
		got := s.Update(ctx, func(tx store.Tx) error {
			return Apply(ctx, tx, ix, op)
		})
		if want == nil {
			require.NoError(t, got, "step %d: %v", i, op)
		} else {
			require.ErrorIs(t, got, want, "step %d: %v", i, op)
		}
		Verify(t, s, ix, m)
	}
	return m
}

// Verify checks ix's invariants and that its forest has the model's
// parents and depths.
func Verify(t testing.TB, s store.Store, ix tree.Index, m *Model) {
	t.Helper()
	ctx := context.Background()
	err := s.View(ctx, func(tx store.Tx) error {
		if err := ix.Check(ctx, tx); err != nil {
			return err
		}
		entries, err := ix.Forest(ctx, tx)
		if err != nil {
			return err
		}
		require.Len(t, entries, len(m.parent))
		for _, e := range entries {
			want, ok := m.parent[e.ID]
			require.True(t, ok, "node %d is not in the model", e.ID)
			require.Equal(t, want, e.ParentID, "parent of %d", e.ID)
			require.Equal(t, m.Depth(e.ID), e.Depth, "depth of %d", e.ID)
		}
		return nil
	})
	require.NoError(t, err)
}

// Ancestry returns IsAncestor for every ordered pair of ids.
func Ancestry(t testing.TB, s store.Store, ix tree.Index, ids []int64) map[[2]int64]bool {
	t.Helper()
	ctx := context.Background()
	out := make(map[[2]int64]bool, len(ids)*len(ids))
	err := s.View(ctx, func(tx store.Tx) error {
		for _, a := range ids {
			for _, d := range ids {
				ok, err := ix.IsAncestor(ctx, tx, a, d)
				if err != nil {
					return err
				}
				out[[2]int64{a, d}] = ok
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
