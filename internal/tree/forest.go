package tree

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/systemshift/cattree/internal/store"
)

// Node is one element of a Forest arena. Children holds arena indices.
type Node struct {
	Entry
	Name     string
	Slug     string
	Children []int

	parent int
}

// Forest is a nested view of a flat entry list. Nodes live in one slice and
// refer to each other by index.
type Forest struct {
	nodes []Node
	index map[int64]int
	roots []int
}

func newForest(n int) *Forest {
	return &Forest{
		nodes: make([]Node, 0, n),
		index: make(map[int64]int, n),
	}
}

func (f *Forest) add(e Entry) int {
	i := len(f.nodes)
	f.nodes = append(f.nodes, Node{Entry: e, parent: -1})
	f.index[e.ID] = i
	return i
}

func (f *Forest) attach(child, parent int) {
	if parent < 0 {
		f.roots = append(f.roots, child)
		return
	}
	f.nodes[child].parent = parent
	f.nodes[parent].Children = append(f.nodes[parent].Children, child)
}

// FromParents assembles entries by parent lookup. An entry whose parent is
// not in the set becomes a root. Roots keep their own depth (1 when unset)
// and descendants are numbered from there.
func FromParents(entries []Entry) *Forest {
	f := newForest(len(entries))
	for _, e := range entries {
		f.add(e)
	}
	for i, e := range entries {
		parent := -1
		if e.ParentID != nil {
			if p, ok := f.index[*e.ParentID]; ok && p != i {
				parent = p
			}
		}
		f.attach(i, parent)
	}

	stack := make([]int, 0, len(f.roots))
	for _, r := range f.roots {
		if f.nodes[r].Depth <= 0 {
			f.nodes[r].Depth = 1
		}
		stack = append(stack, r)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range f.nodes[i].Children {
			f.nodes[c].Depth = f.nodes[i].Depth + 1
			stack = append(stack, c)
		}
	}
	return f
}

// FromIntervals assembles entries ordered by left boundary. A stack holds
// the chain of open intervals; an entry's parent is the innermost interval
// still open when it starts.
func FromIntervals(entries []Entry) *Forest {
	f := newForest(len(entries))
	var open []int
	for _, e := range entries {
		for len(open) > 0 && f.nodes[open[len(open)-1]].Right < e.Left {
			open = open[:len(open)-1]
		}
		i := f.add(e)
		parent := -1
		if len(open) > 0 {
			parent = open[len(open)-1]
		}
		f.attach(i, parent)
		open = append(open, i)
	}
	return f
}

// Assemble picks FromIntervals for nested-set entries and FromParents
// otherwise.
func Assemble(entries []Entry) *Forest {
	for _, e := range entries {
		if e.Left == 0 {
			return FromParents(entries)
		}
	}
	return FromIntervals(entries)
}

// Len returns the number of nodes.
func (f *Forest) Len() int { return len(f.nodes) }

// Roots returns the top-level nodes in order.
func (f *Forest) Roots() []*Node {
	out := make([]*Node, len(f.roots))
	for i, r := range f.roots {
		out[i] = &f.nodes[r]
	}
	return out
}

// Lookup returns the node for id.
func (f *Forest) Lookup(id int64) (*Node, bool) {
	i, ok := f.index[id]
	if !ok {
		return nil, false
	}
	return &f.nodes[i], true
}

// Parent returns the node's parent inside the forest, or nil for a root.
func (f *Forest) Parent(n *Node) *Node {
	if n.parent < 0 {
		return nil
	}
	return &f.nodes[n.parent]
}

// IDs returns node ids in arena order.
func (f *Forest) IDs() []int64 {
	ids := make([]int64, len(f.nodes))
	for i := range f.nodes {
		ids[i] = f.nodes[i].ID
	}
	return ids
}

// Label copies category names and slugs onto the nodes.
func (f *Forest) Label(cats []store.Category) {
	for _, c := range cats {
		if i, ok := f.index[c.ID]; ok {
			f.nodes[i].Name = c.Name
			f.nodes[i].Slug = c.Slug
		}
	}
}

// Walk visits every node in preorder, stopping at the first error.
func (f *Forest) Walk(fn func(n *Node) error) error {
	stack := make([]int, 0, len(f.roots))
	for i := len(f.roots) - 1; i >= 0; i-- {
		stack = append(stack, f.roots[i])
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := fn(&f.nodes[i]); err != nil {
			return err
		}
		children := f.nodes[i].Children
		for c := len(children) - 1; c >= 0; c-- {
			stack = append(stack, children[c])
		}
	}
	return nil
}

// Entries returns the nodes in preorder with depths filled in.
func (f *Forest) Entries() []Entry {
	out := make([]Entry, 0, len(f.nodes))
	f.Walk(func(n *Node) error {
		out = append(out, n.Entry)
		return nil
	})
	return out
}

// Print writes the forest as an indented outline, one node per line.
func (f *Forest) Print(w io.Writer) error {
	base := int64(-1)
	return f.Walk(func(n *Node) error {
		if base < 0 || f.Parent(n) == nil {
			base = n.Depth
		}
		indent := strings.Repeat("  ", int(n.Depth-base))
		label := n.Name
		if label == "" {
			label = fmt.Sprintf("#%d", n.ID)
		}
		line := fmt.Sprintf("%s%s (id=%d", indent, label, n.ID)
		if n.Right > 0 {
			line += fmt.Sprintf(" [%d,%d]", n.Left, n.Right)
		}
		_, err := fmt.Fprintln(w, line+")")
		return err
	})
}

type jsonNode struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name,omitempty"`
	Slug     string      `json:"slug,omitempty"`
	Depth    int64       `json:"depth"`
	Left     int64       `json:"lft,omitempty"`
	Right    int64       `json:"rgt,omitempty"`
	Children []*jsonNode `json:"children"`
}

// MarshalJSON encodes the forest as a list of nested root objects.
func (f *Forest) MarshalJSON() ([]byte, error) {
	out := make([]*jsonNode, len(f.nodes))
	for i := range f.nodes {
		n := &f.nodes[i]
		out[i] = &jsonNode{
			ID:       n.ID,
			Name:     n.Name,
			Slug:     n.Slug,
			Depth:    n.Depth,
			Left:     n.Left,
			Right:    n.Right,
			Children: []*jsonNode{},
		}
	}
	for i := range f.nodes {
		for _, c := range f.nodes[i].Children {
			out[i].Children = append(out[i].Children, out[c])
		}
	}
	roots := make([]*jsonNode, 0, len(f.roots))
	for _, r := range f.roots {
		roots = append(roots, out[r])
	}
	return json.Marshal(roots)
}
