package ivm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
)

func groupFixture(t *testing.T) (*Source, *GroupByOp) {
	t.Helper()
	src := newIssueSource(t,
		Row{"id": "i1", "g": "a", "v": int64(1)},
		Row{"id": "i2", "g": "a", "v": int64(2)},
		Row{"id": "i3", "g": "b", "v": int64(5)},
	)
	g, err := NewGroupBy(src, []string{"g"}, []Aggregation{
		{Kind: ast.AggCount, Alias: "count"},
		{Kind: ast.AggSum, Field: "v", Alias: "sum"},
	})
	require.NoError(t, err)
	return src, g
}

func groupRows(t *testing.T, g *GroupByOp) map[string]Row {
	t.Helper()
	stream, err := g.Fetch(FetchRequest{})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	out := make(map[string]Row, len(nodes))
	for _, n := range nodes {
		out[n.Row["g"].(string)] = n.Row
	}
	return out
}

func TestGroupByCountSum(t *testing.T) {
	_, g := groupFixture(t)

	groups := groupRows(t, g)
	require.Len(t, groups, 2)
	assert.Equal(t, int64(2), groups["a"]["count"])
	assert.Equal(t, int64(3), groups["a"]["sum"])
	assert.Equal(t, int64(1), groups["b"]["count"])
	assert.Equal(t, int64(5), groups["b"]["sum"])
}

func TestGroupByIncrementalRemove(t *testing.T) {
	src, g := groupFixture(t)
	groupRows(t, g) // materialize state

	out := &capture{}
	g.SetOutput(out)

	require.NoError(t, src.Push(RemoveChange(NewNode(Row{"id": "i1", "g": "a", "v": int64(1)}))))

	// Value change on a live group: remove of the old synthetic row, add
	// of the replacement.
	require.Len(t, out.changes, 2)
	require.Equal(t, ChangeRemove, out.changes[0].Kind)
	require.Equal(t, ChangeAdd, out.changes[1].Kind)
	assert.Equal(t, int64(2), out.changes[0].Node.Row["count"])
	assert.Equal(t, int64(1), out.changes[1].Node.Row["count"])
	assert.Equal(t, int64(2), out.changes[1].Node.Row["sum"])
}

func TestGroupByBirthAndDeath(t *testing.T) {
	src, g := groupFixture(t)
	groupRows(t, g)

	out := &capture{}
	g.SetOutput(out)

	require.NoError(t, src.Push(AddChange(NewNode(Row{"id": "i4", "g": "c", "v": int64(7)}))))
	require.Len(t, out.changes, 1)
	require.Equal(t, ChangeAdd, out.changes[0].Kind)
	assert.Equal(t, int64(1), out.changes[0].Node.Row["count"])
	assert.Equal(t, int64(7), out.changes[0].Node.Row["sum"])

	require.NoError(t, src.Push(RemoveChange(NewNode(Row{"id": "i4", "g": "c", "v": int64(7)}))))
	require.Len(t, out.changes, 2)
	require.Equal(t, ChangeRemove, out.changes[1].Kind)
}

func TestGroupByMinMaxTies(t *testing.T) {
	src := newIssueSource(t,
		Row{"id": "i1", "g": "a", "v": int64(3)},
		Row{"id": "i2", "g": "a", "v": int64(3)},
		Row{"id": "i3", "g": "a", "v": int64(9)},
	)
	g, err := NewGroupBy(src, []string{"g"}, []Aggregation{
		{Kind: ast.AggMin, Field: "v", Alias: "min"},
		{Kind: ast.AggMax, Field: "v", Alias: "max"},
	})
	require.NoError(t, err)

	groups := groupRows(t, g)
	assert.Equal(t, int64(3), groups["a"]["min"])
	assert.Equal(t, int64(9), groups["a"]["max"])

	out := &capture{}
	g.SetOutput(out)

	// Removing one of the tied minimum members keeps the min; the group
	// row is untouched, so nothing is emitted.
	require.NoError(t, src.Push(RemoveChange(NewNode(Row{"id": "i2", "g": "a", "v": int64(3)}))))
	assert.Empty(t, out.changes)

	// Removing the last minimum moves it.
	require.NoError(t, src.Push(RemoveChange(NewNode(Row{"id": "i1", "g": "a", "v": int64(3)}))))
	require.Len(t, out.changes, 2)
	assert.Equal(t, int64(9), out.changes[1].Node.Row["min"])
}

func TestGroupByArrayPreservesInsertionOrder(t *testing.T) {
	src := newIssueSource(t,
		Row{"id": "i2", "g": "a", "v": int64(2)},
		Row{"id": "i1", "g": "a", "v": int64(1)},
	)
	g, err := NewGroupBy(src, []string{"g"}, []Aggregation{
		{Kind: ast.AggArray, Field: "v", Alias: "vs"},
	})
	require.NoError(t, err)

	// Fetch materializes in source (primary key) order: i1 then i2.
	groups := groupRows(t, g)
	assert.Equal(t, []Value{int64(1), int64(2)}, groups["a"]["vs"])

	out := &capture{}
	g.SetOutput(out)
	require.NoError(t, src.Push(AddChange(NewNode(Row{"id": "i0", "g": "a", "v": int64(9)}))))
	require.Len(t, out.changes, 2)
	assert.Equal(t, []Value{int64(1), int64(2), int64(9)}, out.changes[1].Node.Row["vs"])
}

func TestGroupByAvgWithNulls(t *testing.T) {
	src := newIssueSource(t,
		Row{"id": "i1", "g": "a", "v": int64(4)},
		Row{"id": "i2", "g": "a", "v": nil},
		Row{"id": "i3", "g": "a", "v": int64(8)},
	)
	g, err := NewGroupBy(src, []string{"g"}, []Aggregation{
		{Kind: ast.AggAvg, Field: "v", Alias: "avg"},
		{Kind: ast.AggCount, Field: "v", Alias: "nonnull"},
	})
	require.NoError(t, err)

	groups := groupRows(t, g)
	assert.Equal(t, 6.0, groups["a"]["avg"])
	assert.Equal(t, int64(2), groups["a"]["nonnull"])
}

func TestGroupByNetEmptySequenceRestoresFetch(t *testing.T) {
	src, g := groupFixture(t)
	before := groupRows(t, g)

	out := &capture{}
	g.SetOutput(out)
	row := Row{"id": "i9", "g": "a", "v": int64(10)}
	require.NoError(t, src.Push(AddChange(NewNode(row))))
	require.NoError(t, src.Push(RemoveChange(NewNode(row))))

	after := groupRows(t, g)
	assert.Equal(t, before, after)
}
