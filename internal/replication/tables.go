// Package replication is the inbound edge of the engine: it owns the
// table sources, validates replicated schema metadata, and applies the
// upstream change feed — whether it arrives over PostgreSQL LISTEN/NOTIFY
// or a pub/sub backend — to the sources, which propagate into every
// registered pipeline.
package replication

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxsync/internal/ivm"
)

// TableRegistry maps replicated table names to their sources. It
// implements the pipeline resolver, so registering a table makes it
// queryable.
type TableRegistry struct {
	mu      sync.RWMutex
	sources map[string]*ivm.Source
}

// NewTableRegistry creates an empty registry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{sources: make(map[string]*ivm.Source)}
}

// Register validates the replicated schema metadata and creates the
// table's source. Reserved names and primary-key violations are rejected
// here, before any row flows.
func (t *TableRegistry) Register(schema *ivm.TableSchema) (*ivm.Source, error) {
	source, err := ivm.NewSource(schema)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sources[schema.Table]; exists {
		return nil, fmt.Errorf("replication: table %q already registered", schema.Table)
	}
	t.sources[schema.Table] = source

	log.Info().
		Str("table", schema.Table).
		Int("columns", len(schema.Columns)).
		Msg("Registered replicated table")
	return source, nil
}

// Source implements pipeline.Resolver.
func (t *TableRegistry) Source(table string) (*ivm.Source, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	source, ok := t.sources[table]
	if !ok {
		return nil, ivm.NewConfigError("unknown table %q", table)
	}
	return source, nil
}

// Tables lists the registered table names.
func (t *TableRegistry) Tables() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.sources))
	for name := range t.sources {
		names = append(names, name)
	}
	return names
}
