package ivm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
)

func TestFullAggRejectsUnsupportedKinds(t *testing.T) {
	src := newIssueSource(t)
	for _, kind := range []ast.AggregateKind{ast.AggMin, ast.AggMax, ast.AggArray} {
		_, err := NewFullAgg(src, []Aggregation{{Kind: kind, Field: "v", Alias: "x"}})
		assert.Error(t, err, string(kind))
	}
}

func TestFullAggFetch(t *testing.T) {
	src := newIssueSource(t,
		Row{"id": "i1", "v": int64(2)},
		Row{"id": "i2", "v": int64(4)},
	)
	agg, err := NewFullAgg(src, []Aggregation{
		{Kind: ast.AggCount, Alias: "count"},
		{Kind: ast.AggSum, Field: "v", Alias: "sum"},
		{Kind: ast.AggAvg, Field: "v", Alias: "avg"},
	})
	require.NoError(t, err)

	stream, err := agg.Fetch(FetchRequest{})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	assert.Equal(t, int64(2), nodes[0].Row["count"])
	assert.Equal(t, int64(6), nodes[0].Row["sum"])
	assert.Equal(t, 3.0, nodes[0].Row["avg"])
}

func TestFullAggEmptyInput(t *testing.T) {
	src := newIssueSource(t)
	agg, err := NewFullAgg(src, []Aggregation{
		{Kind: ast.AggCount, Alias: "count"},
		{Kind: ast.AggSum, Field: "v", Alias: "sum"},
	})
	require.NoError(t, err)

	stream, err := agg.Fetch(FetchRequest{})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	assert.Equal(t, int64(0), nodes[0].Row["count"])
	assert.Nil(t, nodes[0].Row["sum"])
}

func TestFullAggIncremental(t *testing.T) {
	src := newIssueSource(t, Row{"id": "i1", "v": int64(2)})
	agg, err := NewFullAgg(src, []Aggregation{
		{Kind: ast.AggCount, Alias: "count"},
		{Kind: ast.AggSum, Field: "v", Alias: "sum"},
	})
	require.NoError(t, err)

	stream, err := agg.Fetch(FetchRequest{})
	require.NoError(t, err)
	require.NoError(t, stream.Drain())

	out := &capture{}
	agg.SetOutput(out)

	require.NoError(t, src.Push(AddChange(NewNode(Row{"id": "i2", "v": int64(5)}))))
	require.Len(t, out.changes, 2)
	require.Equal(t, ChangeRemove, out.changes[0].Kind)
	require.Equal(t, ChangeAdd, out.changes[1].Kind)
	assert.Equal(t, int64(1), out.changes[0].Node.Row["count"])
	assert.Equal(t, int64(2), out.changes[1].Node.Row["count"])
	assert.Equal(t, int64(7), out.changes[1].Node.Row["sum"])
}
