package nestedset

import (
	"context"
	"fmt"

	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// Check verifies the nested-set invariants over every interval:
//   - lft < rgt, and the boundaries are exactly 1..2n with no repeats;
//   - intervals nest or are disjoint, never overlap;
//   - parent_id names the innermost enclosing interval;
//   - depth is the parent's depth plus one, and 1 for roots.
func (*Index) Check(ctx context.Context, tx store.Tx) error {
	ivs, err := tx.SelectIntervals(ctx, nil)
	if err != nil {
		return fmt.Errorf("check nested index: %w", err)
	}

	var violations []string
	report := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	seen := make(map[int64]int64, 2*len(ivs))
	claim := func(b, id int64) {
		if other, dup := seen[b]; dup {
			report("boundary %d: used by %d and %d", b, other, id)
			return
		}
		seen[b] = id
	}

	var open []store.Interval
	for _, iv := range ivs {
		if iv.Left >= iv.Right {
			report("node %d: lft %d is not below rgt %d", iv.ID, iv.Left, iv.Right)
		}
		claim(iv.Left, iv.ID)
		claim(iv.Right, iv.ID)

		for len(open) > 0 && open[len(open)-1].Right < iv.Left {
			open = open[:len(open)-1]
		}

		var parent *int64
		depth := int64(1)
		if len(open) > 0 {
			top := open[len(open)-1]
			if iv.Right > top.Right {
				report("node %d: [%d,%d] overlaps %d [%d,%d]", iv.ID, iv.Left, iv.Right, top.ID, top.Left, top.Right)
			}
			parent = &top.ID
			depth = top.Depth + 1
		}

		switch {
		case parent == nil && iv.ParentID != nil:
			report("node %d: parent_id %d, but no interval encloses it", iv.ID, *iv.ParentID)
		case parent != nil && iv.ParentID == nil:
			report("node %d: no parent_id, but enclosed by %d", iv.ID, *parent)
		case parent != nil && *parent != *iv.ParentID:
			report("node %d: parent_id %d, enclosed by %d", iv.ID, *iv.ParentID, *parent)
		}
		if iv.Depth != depth {
			report("node %d: depth %d, want %d", iv.ID, iv.Depth, depth)
		}

		open = append(open, iv)
	}

	for b := int64(1); b <= int64(2*len(ivs)); b++ {
		if _, ok := seen[b]; !ok {
			report("boundary %d: unused", b)
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &tree.InvariantError{Index: tree.KindNested, Violations: violations}
}
