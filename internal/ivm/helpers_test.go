package ivm

import (
	"testing"
)

// issueSchema is the parent-side table used across operator tests.
func issueSchema() *TableSchema {
	return &TableSchema{
		Table: "issues",
		Columns: []Column{
			{Name: "id", Type: TypeString},
			{Name: "uid", Type: TypeString},
			{Name: "g", Type: TypeString},
			{Name: "v", Type: TypeInt},
		},
		PrimaryKey: []string{"id"},
	}
}

// commentSchema is the child-side table.
func commentSchema() *TableSchema {
	return &TableSchema{
		Table: "comments",
		Columns: []Column{
			{Name: "id", Type: TypeString},
			{Name: "uid", Type: TypeString},
			{Name: "body", Type: TypeString},
		},
		PrimaryKey: []string{"id"},
	}
}

func newIssueSource(t *testing.T, rows ...Row) *Source {
	t.Helper()
	return newSourceWith(t, issueSchema(), rows...)
}

func newSourceWith(t *testing.T, schema *TableSchema, rows ...Row) *Source {
	t.Helper()
	s, err := NewSource(schema)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	for _, row := range rows {
		if err := s.Push(AddChange(NewNode(row))); err != nil {
			t.Fatalf("seeding source: %v", err)
		}
	}
	return s
}

// capture collects pushed changes for assertions.
type capture struct {
	changes []Change
}

func (c *capture) Push(change Change) error {
	c.changes = append(c.changes, change)
	return nil
}

func (c *capture) kinds() []ChangeKind {
	out := make([]ChangeKind, len(c.changes))
	for i, ch := range c.changes {
		out[i] = ch.Kind
	}
	return out
}

func collectRows(t *testing.T, s *Stream) []Row {
	t.Helper()
	nodes, err := s.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	rows := make([]Row, len(nodes))
	for i, n := range nodes {
		rows[i] = n.Row
	}
	return rows
}

func rowIDs(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["id"].(string)
	}
	return out
}
