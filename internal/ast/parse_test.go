package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelectBasic(t *testing.T) {
	q, err := ParseSelect(`SELECT id, title AS name FROM issues WHERE status = 'open' AND priority > 2 ORDER BY created DESC LIMIT 10`)
	require.NoError(t, err)

	assert.Equal(t, "issues", q.Table)
	assert.Equal(t, []Selection{{Selector: "id"}, {Selector: "title", Alias: "name"}}, q.Select)

	require.NotNil(t, q.Where)
	require.Equal(t, OpAnd, q.Where.Op)
	require.Len(t, q.Where.Conditions, 2)
	assert.Equal(t, "status", q.Where.Conditions[0].Field)
	assert.Equal(t, OpEqual, q.Where.Conditions[0].Op)
	assert.Equal(t, "open", q.Where.Conditions[0].Value)
	assert.Equal(t, OpGreater, q.Where.Conditions[1].Op)
	assert.Equal(t, int64(2), q.Where.Conditions[1].Value)

	require.Len(t, q.OrderBy, 1)
	assert.Equal(t, Ordering{Field: "created", Desc: true}, q.OrderBy[0])

	require.NotNil(t, q.Limit)
	assert.Equal(t, 10, *q.Limit)
}

func TestParseSelectOperators(t *testing.T) {
	q, err := ParseSelect(`SELECT * FROM t WHERE a IN (1, 2) OR b LIKE 'x%' OR c ILIKE '%y'`)
	require.NoError(t, err)

	require.NotNil(t, q.Where)
	require.Equal(t, OpOr, q.Where.Op)
	require.Len(t, q.Where.Conditions, 3)

	in := q.Where.Conditions[0]
	assert.Equal(t, OpIn, in.Op)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, in.Value)

	assert.Equal(t, OpLike, q.Where.Conditions[1].Op)
	assert.Equal(t, OpILike, q.Where.Conditions[2].Op)
}

func TestParseSelectAggregates(t *testing.T) {
	q, err := ParseSelect(`SELECT count(*) AS n, sum(v) AS total FROM events GROUP BY kind`)
	require.NoError(t, err)

	require.Len(t, q.Aggregates, 2)
	assert.Equal(t, Aggregation{Aggregate: AggCount, Alias: "n"}, q.Aggregates[0])
	assert.Equal(t, Aggregation{Aggregate: AggSum, Field: "v", Alias: "total"}, q.Aggregates[1])
	assert.Equal(t, []string{"kind"}, q.GroupBy)
}

func TestParseSelectRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"not a select", `DELETE FROM t`},
		{"join", `SELECT * FROM a JOIN b ON a.id = b.aid`},
		{"subquery comparison", `SELECT * FROM t WHERE id = (SELECT max(id) FROM t)`},
		{"column to column", `SELECT * FROM t WHERE a = b`},
		{"unsupported function", `SELECT now() FROM t`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSelect(tt.sql)
			assert.Error(t, err)
		})
	}
}
