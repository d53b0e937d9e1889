package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxsync/internal/ivm"
)

// SchemaInspector reads replicated table metadata out of the upstream
// database catalogs so the registry can be bootstrapped without a
// hand-written schema file.
type SchemaInspector struct {
	pool *pgxpool.Pool
}

// NewSchemaInspector creates an inspector over the pool.
func NewSchemaInspector(pool *pgxpool.Pool) *SchemaInspector {
	return &SchemaInspector{pool: pool}
}

// RegisterAll inspects every ordinary table in the given schemas and
// registers it. Tables without a primary key are skipped with a warning;
// the engine cannot identify their rows.
func (si *SchemaInspector) RegisterAll(ctx context.Context, registry *TableRegistry, schemas ...string) error {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	for _, schema := range schemas {
		tables, err := si.tableNames(ctx, schema)
		if err != nil {
			return err
		}
		for _, table := range tables {
			ts, err := si.TableSchema(ctx, schema, table)
			if err != nil {
				return err
			}
			if len(ts.PrimaryKey) == 0 {
				log.Warn().
					Str("table", ts.Table).
					Msg("Skipping table without a primary key")
				continue
			}
			if _, err := registry.Register(ts); err != nil {
				return err
			}
		}
	}
	return nil
}

func (si *SchemaInspector) tableNames(ctx context.Context, schema string) ([]string, error) {
	query := `
		SELECT tablename
		FROM pg_tables
		WHERE schemaname = $1
			AND tablename NOT LIKE 'pg_%'
		ORDER BY tablename`

	rows, err := si.pool.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("replication: listing tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableSchema inspects one table's columns and primary key.
func (si *SchemaInspector) TableSchema(ctx context.Context, schema, table string) (*ivm.TableSchema, error) {
	columnQuery := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := si.pool.Query(ctx, columnQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("replication: inspecting columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var columns []ivm.Column
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		columns = append(columns, ivm.Column{Name: name, Type: mapColumnType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pkQuery := `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`

	pkRows, err := si.pool.Query(ctx, pkQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("replication: inspecting primary key of %s.%s: %w", schema, table, err)
	}
	defer pkRows.Close()

	var primaryKey []string
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, err
		}
		primaryKey = append(primaryKey, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	name := table
	if schema != "" && schema != "public" {
		name = schema + "." + table
	}
	return &ivm.TableSchema{
		Table:      name,
		Columns:    columns,
		PrimaryKey: primaryKey,
	}, nil
}

// mapColumnType folds Postgres types into the primitive domain. Anything
// without a numeric or boolean shape replicates as a string.
func mapColumnType(dataType string) ivm.ColumnType {
	switch strings.ToLower(dataType) {
	case "boolean":
		return ivm.TypeBool
	case "smallint", "integer", "bigint", "smallserial", "serial", "bigserial":
		return ivm.TypeInt
	case "real", "double precision", "numeric", "decimal":
		return ivm.TypeFloat
	default:
		return ivm.TypeString
	}
}
