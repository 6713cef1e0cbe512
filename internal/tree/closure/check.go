package closure

import (
	"context"
	"fmt"
	"slices"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

type pair struct{ ancestor, descendant int64 }

// Check verifies the closure invariants over the whole edge set:
//   - each node has exactly one self-edge;
//   - an edge (A, D) exists iff A is an ancestor-or-self of D, where the
//     ancestry is the chain of parents recorded on self-edges;
//   - every next hop is the child of A on the path toward D.
func (*Index) Check(ctx context.Context, tx store.Tx) error {
	edges, err := tx.SelectEdges(ctx, nil)
	if err != nil {
		return fmt.Errorf("check closure index: %w", err)
	}

	var violations []string
	selfCount := make(map[int64]int)
	hops := make(map[int64]int64)
	for _, e := range edges {
		if e.IsSelf() {
			selfCount[e.Descendant]++
			hops[e.Descendant] = e.NextHop
		}
	}

	ids := make([]int64, 0, len(hops))
	for id := range hops {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	expected := make(map[pair]int64, len(edges))
	for _, id := range ids {
		if selfCount[id] > 1 {
			violations = append(violations, fmt.Sprintf("node %d: %d self-edges", id, selfCount[id]))
		}
		if p := hops[id]; p != id && selfCount[p] == 0 {
			violations = append(violations, fmt.Sprintf("node %d: parent %d is not indexed", id, p))
		}

		expected[pair{id, id}] = hops[id]
		cur := id
		for steps := 0; ; steps++ {
			p := hops[cur]
			if p == cur || selfCount[p] == 0 {
				break
			}
			if steps > len(ids) {
				violations = append(violations, fmt.Sprintf("node %d: parent chain has a cycle", id))
				break
			}
			expected[pair{p, id}] = cur
			cur = p
		}
	}

	actual := make(map[pair]int64, len(edges))
	for _, e := range edges {
		k := pair{e.Ancestor, e.Descendant}
		if _, dup := actual[k]; dup && !e.IsSelf() {
			violations = append(violations, fmt.Sprintf("edge (%d,%d): duplicated", e.Ancestor, e.Descendant))
		}
		actual[k] = e.NextHop
		if selfCount[e.Ancestor] == 0 || selfCount[e.Descendant] == 0 {
			violations = append(violations, fmt.Sprintf("edge (%d,%d): endpoint has no self-edge", e.Ancestor, e.Descendant))
			continue
		}
		want, ok := expected[k]
		switch {
		case !ok:
			violations = append(violations, fmt.Sprintf("edge (%d,%d): %d is not an ancestor of %d", e.Ancestor, e.Descendant, e.Ancestor, e.Descendant))
		case want != e.NextHop:
			violations = append(violations, fmt.Sprintf("edge (%d,%d): next hop %d, want %d", e.Ancestor, e.Descendant, e.NextHop, want))
		}
	}
	for k := range expected {
		if _, ok := actual[k]; !ok {
			violations = append(violations, fmt.Sprintf("edge (%d,%d): missing", k.ancestor, k.descendant))
		}
	}

	if len(violations) == 0 {
		return nil
	}
	slices.Sort(violations)
	return &tree.InvariantError{Index: tree.KindClosure, Violations: violations}
}
