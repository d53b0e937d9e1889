package ivm

import (
	"strings"
)

// ColumnType is the declared primitive type of a column.
type ColumnType string

const (
	TypeBool   ColumnType = "bool"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeString ColumnType = "string"
)

// Reserved names the replication layer must never hand us. Schemas using
// them are rejected at registration time.
const (
	reservedColumnVersion = "_0_version"
	reservedSchemaName    = "_zero"
)

// Column describes one typed column of a table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// TableSchema describes the rows produced by a source or operator: the
// table name, its typed columns, a non-empty primary key, and any nested
// relationship schemas added by joins.
type TableSchema struct {
	Table         string                  `json:"table"`
	Columns       []Column                `json:"columns"`
	PrimaryKey    []string                `json:"primary_key"`
	Relationships map[string]*TableSchema `json:"relationships,omitempty"`
}

// Validate checks the schema invariants: a table name, at least one column,
// a non-empty primary key referencing declared columns, and no reserved
// names.
func (s *TableSchema) Validate() error {
	if s.Table == "" {
		return &SchemaError{Table: s.Table, Reason: "missing table name"}
	}
	if s.Table == reservedSchemaName || strings.HasPrefix(s.Table, reservedSchemaName+".") {
		return &SchemaError{Table: s.Table, Reason: "table name is reserved"}
	}
	if len(s.Columns) == 0 {
		return &SchemaError{Table: s.Table, Reason: "no columns declared"}
	}
	for _, c := range s.Columns {
		if c.Name == reservedColumnVersion {
			return &SchemaError{Table: s.Table, Column: c.Name, Reason: "column name is reserved"}
		}
	}
	if len(s.PrimaryKey) == 0 {
		return &SchemaError{Table: s.Table, Reason: "empty primary key"}
	}
	for _, pk := range s.PrimaryKey {
		if _, ok := s.Column(pk); !ok {
			return &SchemaError{Table: s.Table, Column: pk, Reason: "primary-key column not declared"}
		}
	}
	return nil
}

// Column looks up a declared column by name.
func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// WithRelationship returns a shallow clone of the schema with one
// relationship schema added. The receiver is not modified; operator graphs
// share upstream schemas.
func (s *TableSchema) WithRelationship(name string, child *TableSchema) *TableSchema {
	clone := *s
	clone.Relationships = make(map[string]*TableSchema, len(s.Relationships)+1)
	for k, v := range s.Relationships {
		clone.Relationships[k] = v
	}
	clone.Relationships[name] = child
	return &clone
}

// RowKey encodes the row's primary-key tuple as a stable string. Returns a
// SchemaError if a primary-key column is absent or null.
func (s *TableSchema) RowKey(row Row) (string, error) {
	parts := make([]string, 0, len(s.PrimaryKey))
	for _, pk := range s.PrimaryKey {
		v, ok := row[pk]
		if !ok {
			return "", &SchemaError{Table: s.Table, Column: pk, Reason: "row missing primary-key column"}
		}
		if v == nil {
			return "", &SchemaError{Table: s.Table, Column: pk, Reason: "null in primary-key column"}
		}
		parts = append(parts, EncodeValue(v))
	}
	return strings.Join(parts, "\x00"), nil
}
