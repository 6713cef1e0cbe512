package tree

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/cattree/internal/store"
)

func ptr(v int64) *int64 { return &v }

func preorder(t *testing.T, f *Forest) []int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, f.Walk(func(n *Node) error {
		ids = append(ids, n.ID)
		return nil
	}))
	return ids
}

func TestFromParents(t *testing.T) {
	// 1 -> (2 -> 4), 3 ; 5 is a second root
	entries := []Entry{
		{ID: 1},
		{ID: 2, ParentID: ptr(1)},
		{ID: 3, ParentID: ptr(1)},
		{ID: 4, ParentID: ptr(2)},
		{ID: 5},
	}
	f := FromParents(entries)

	assert.Equal(t, 5, f.Len())
	require.Len(t, f.Roots(), 2)
	assert.Equal(t, []int64{1, 2, 4, 3, 5}, preorder(t, f))

	n, ok := f.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, int64(3), n.Depth)
	assert.Equal(t, int64(2), f.Parent(n).ID)

	_, ok = f.Lookup(99)
	assert.False(t, ok)
}

func TestFromParentsSubset(t *testing.T) {
	// A subtree query: the top node's parent is outside the set.
	entries := []Entry{
		{ID: 7, ParentID: ptr(3), Depth: 3},
		{ID: 8, ParentID: ptr(7)},
	}
	f := FromParents(entries)

	roots := f.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, int64(7), roots[0].ID)
	assert.Equal(t, int64(3), roots[0].Depth)

	n, _ := f.Lookup(8)
	assert.Equal(t, int64(4), n.Depth)
}

func TestFromIntervals(t *testing.T) {
	// A[1,8] -> B[2,5] -> D[3,4]; C[6,7]; E[9,10]
	entries := []Entry{
		{ID: 1, Depth: 1, Left: 1, Right: 8},
		{ID: 2, Depth: 2, Left: 2, Right: 5},
		{ID: 4, Depth: 3, Left: 3, Right: 4},
		{ID: 3, Depth: 2, Left: 6, Right: 7},
		{ID: 5, Depth: 1, Left: 9, Right: 10},
	}
	f := FromIntervals(entries)

	require.Len(t, f.Roots(), 2)
	assert.Equal(t, []int64{1, 2, 4, 3, 5}, preorder(t, f))

	c, _ := f.Lookup(3)
	assert.Equal(t, int64(1), f.Parent(c).ID)

	assert.Equal(t, preorder(t, f), preorder(t, Assemble(entries)))
}

func TestForestPrintAndJSON(t *testing.T) {
	f := FromParents([]Entry{
		{ID: 1},
		{ID: 2, ParentID: ptr(1)},
	})
	f.Label([]store.Category{
		{ID: 1, Name: "Books", Slug: "books"},
		{ID: 2, Name: "Poetry", Slug: "poetry"},
	})

	var buf bytes.Buffer
	require.NoError(t, f.Print(&buf))
	assert.Equal(t, "Books (id=1)\n  Poetry (id=2)\n", buf.String())

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "books", got[0]["slug"])
	children := got[0]["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "Poetry", children[0].(map[string]any)["name"])
	assert.Equal(t, float64(2), children[0].(map[string]any)["depth"])
}

func TestEmptyForest(t *testing.T) {
	f := Assemble(nil)
	assert.Equal(t, 0, f.Len())

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}
