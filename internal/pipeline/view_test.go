package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
	"github.com/fluxbase-eu/fluxsync/internal/ivm"
)

func TestViewOrderLimitProjection(t *testing.T) {
	src := issueSource(t,
		ivm.Row{"id": "i1", "uid": "u1", "status": "open", "v": int64(3)},
		ivm.Row{"id": "i2", "uid": "u2", "status": "open", "v": int64(1)},
		ivm.Row{"id": "i3", "uid": "u3", "status": "open", "v": int64(2)},
	)
	r := NewRegistry(testResolver{"issues": src})

	limit := 2
	h, err := r.Register(&ast.Query{
		Table:   "issues",
		Select:  []ast.Selection{{Selector: "id"}, {Selector: "v", Alias: "value"}},
		OrderBy: []ast.Ordering{{Field: "v", Desc: true}},
		Limit:   &limit,
	})
	require.NoError(t, err)

	view := NewView(h)
	require.NoError(t, view.Init())
	defer func() { require.NoError(t, view.Close()) }()

	rows := view.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]interface{}{"id": "i1", "value": int64(3)}, rows[0])
	assert.Equal(t, map[string]interface{}{"id": "i3", "value": int64(2)}, rows[1])

	// A push past the limit threshold reorders the window.
	require.NoError(t, src.Push(ivm.AddChange(ivm.NewNode(
		ivm.Row{"id": "i4", "uid": "u4", "status": "open", "v": int64(10)},
	))))
	rows = view.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "i4", rows[0]["id"])
	assert.Equal(t, "i1", rows[1]["id"])
	assert.Equal(t, 4, view.Len())
}

func TestViewHierarchyRendersRelationships(t *testing.T) {
	issues := issueSource(t,
		ivm.Row{"id": "i1", "uid": "u1", "status": "open", "v": int64(1)},
	)
	comments := commentSource(t,
		ivm.Row{"id": "c1", "issue_id": "i1", "body": "x"},
	)
	r := NewRegistry(testResolver{"issues": issues, "comments": comments})

	h, err := r.Register(&ast.Query{
		Table: "issues",
		Related: []ast.Related{{
			Name:      "comments",
			ParentKey: "id",
			ChildKey:  "issue_id",
			Query:     &ast.Query{Table: "comments"},
		}},
	})
	require.NoError(t, err)

	view := NewView(h)
	require.NoError(t, view.Init())
	defer func() { require.NoError(t, view.Close()) }()

	rows := view.Rows()
	require.Len(t, rows, 1)
	children, ok := rows[0]["#comments"].([]map[string]interface{})
	require.True(t, ok, "relationship key missing: %v", rows[0])
	require.Len(t, children, 1)
	assert.Equal(t, "c1", children[0]["id"])

	// A child insert lands nested under its parent.
	require.NoError(t, comments.Push(ivm.AddChange(ivm.NewNode(
		ivm.Row{"id": "c2", "issue_id": "i1", "body": "y"},
	))))
	rows = view.Rows()
	children = rows[0]["#comments"].([]map[string]interface{})
	assert.Len(t, children, 2)

	// A child delete removes only the nested row.
	require.NoError(t, comments.Push(ivm.RemoveChange(ivm.NewNode(
		ivm.Row{"id": "c1", "issue_id": "i1", "body": "x"},
	))))
	rows = view.Rows()
	children = rows[0]["#comments"].([]map[string]interface{})
	require.Len(t, children, 1)
	assert.Equal(t, "c2", children[0]["id"])
}

func TestViewChildChangeFansOutToSharedParents(t *testing.T) {
	issues := issueSource(t,
		ivm.Row{"id": "i1", "uid": "u1", "status": "open", "v": int64(1)},
		ivm.Row{"id": "i2", "uid": "u1", "status": "open", "v": int64(2)},
	)
	comments, err := ivm.NewSource(&ivm.TableSchema{
		Table: "comments",
		Columns: []ivm.Column{
			{Name: "id", Type: ivm.TypeString},
			{Name: "uid", Type: ivm.TypeString},
		},
		PrimaryKey: []string{"id"},
	})
	require.NoError(t, err)
	r := NewRegistry(testResolver{"issues": issues, "comments": comments})

	h, err := r.Register(&ast.Query{
		Table: "issues",
		Related: []ast.Related{{
			Name:      "comments",
			ParentKey: "uid",
			ChildKey:  "uid",
			Query:     &ast.Query{Table: "comments"},
		}},
	})
	require.NoError(t, err)

	view := NewView(h)
	require.NoError(t, view.Init())
	defer func() { require.NoError(t, view.Close()) }()

	// One child insert shared by both parents shows up under each.
	require.NoError(t, comments.Push(ivm.AddChange(ivm.NewNode(
		ivm.Row{"id": "c1", "uid": "u1"},
	))))

	rows := view.Rows()
	require.Len(t, rows, 2)
	for _, row := range rows {
		children := row["#comments"].([]map[string]interface{})
		require.Len(t, children, 1, "parent %v", row["id"])
		assert.Equal(t, "c1", children[0]["id"])
	}
}

func TestViewGroupedQuery(t *testing.T) {
	src := issueSource(t,
		ivm.Row{"id": "i1", "uid": "u1", "status": "a", "v": int64(1)},
		ivm.Row{"id": "i2", "uid": "u2", "status": "a", "v": int64(2)},
		ivm.Row{"id": "i3", "uid": "u3", "status": "b", "v": int64(5)},
	)
	r := NewRegistry(testResolver{"issues": src})

	h, err := r.Register(&ast.Query{
		Table:   "issues",
		GroupBy: []string{"status"},
		Aggregates: []ast.Aggregation{
			{Aggregate: ast.AggCount, Alias: "count"},
			{Aggregate: ast.AggSum, Field: "v", Alias: "sum"},
		},
	})
	require.NoError(t, err)

	view := NewView(h)
	require.NoError(t, view.Init())
	defer func() { require.NoError(t, view.Close()) }()

	byStatus := func() map[string]map[string]interface{} {
		out := make(map[string]map[string]interface{})
		for _, row := range view.Rows() {
			out[row["status"].(string)] = row
		}
		return out
	}

	groups := byStatus()
	require.Len(t, groups, 2)
	assert.Equal(t, int64(2), groups["a"]["count"])
	assert.Equal(t, int64(3), groups["a"]["sum"])
	assert.Equal(t, int64(1), groups["b"]["count"])
	assert.Equal(t, int64(5), groups["b"]["sum"])

	require.NoError(t, src.Push(ivm.RemoveChange(ivm.NewNode(
		ivm.Row{"id": "i1", "uid": "u1", "status": "a", "v": int64(1)},
	))))
	groups = byStatus()
	assert.Equal(t, int64(1), groups["a"]["count"])
	assert.Equal(t, int64(2), groups["a"]["sum"])
}
