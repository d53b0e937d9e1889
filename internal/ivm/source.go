package ivm

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/rs/zerolog/log"
)

type sourceEntry struct {
	key string
	row Row
}

// Source is the entry point for one replicated table: a primary-key
// ordered index of current rows, plus the fan-out point that forwards row
// mutations into every attached pipeline. Sources live for the lifetime of
// a replica and are shared by all pipelines reading the table.
type Source struct {
	schema *TableSchema

	mu   sync.Mutex
	rows *btree.BTreeG[sourceEntry]
	// secondary equality indexes, one per join-key column: column →
	// encoded value → primary-key set. Built on demand by the pipeline
	// builder before joins start constraining fetches.
	indexes map[string]map[string]map[string]Row

	outputs []Output
}

// NewSource creates an empty source for the given schema.
func NewSource(schema *TableSchema) (*Source, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		schema: schema,
		rows: btree.NewG(16, func(a, b sourceEntry) bool {
			return a.key < b.key
		}),
		indexes: make(map[string]map[string]map[string]Row),
	}, nil
}

// Schema implements Operator.
func (s *Source) Schema() *TableSchema {
	return s.schema
}

// EnsureIndex builds an equality index over the given column so that
// constrained fetches on it do not scan the table. Idempotent; the
// pipeline builder calls it for every join key.
func (s *Source) EnsureIndex(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[column]; ok {
		return
	}
	idx := make(map[string]map[string]Row)
	s.rows.Ascend(func(e sourceEntry) bool {
		addToIndex(idx, e.row[column], e.key, e.row)
		return true
	})
	s.indexes[column] = idx
}

func addToIndex(idx map[string]map[string]Row, v Value, pk string, row Row) {
	enc := EncodeValue(v)
	bucket := idx[enc]
	if bucket == nil {
		bucket = make(map[string]Row)
		idx[enc] = bucket
	}
	bucket[pk] = row
}

func dropFromIndex(idx map[string]map[string]Row, v Value, pk string) {
	enc := EncodeValue(v)
	if bucket := idx[enc]; bucket != nil {
		delete(bucket, pk)
		if len(bucket) == 0 {
			delete(idx, enc)
		}
	}
}

// Fetch yields the current rows as nodes in primary-key order, optionally
// restricted by an equality constraint.
func (s *Source) Fetch(req FetchRequest) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Node
	if c := req.Constraint; c != nil {
		if idx, ok := s.indexes[c.Key]; ok {
			bucket := idx[EncodeValue(c.Value)]
			keys := make([]string, 0, len(bucket))
			for pk := range bucket {
				keys = append(keys, pk)
			}
			sort.Strings(keys)
			for _, pk := range keys {
				matched = append(matched, NewNode(bucket[pk]))
			}
			return StreamOf(matched...), nil
		}
		s.rows.Ascend(func(e sourceEntry) bool {
			if ValuesEqual(e.row[c.Key], c.Value) {
				matched = append(matched, NewNode(e.row))
			}
			return true
		})
		return StreamOf(matched...), nil
	}

	s.rows.Ascend(func(e sourceEntry) bool {
		matched = append(matched, NewNode(e.row))
		return true
	})
	return StreamOf(matched...), nil
}

// Cleanup yields the same sequence as Fetch. The source keeps no
// per-constraint state, so cleanup is purely a pass-through signal for
// downstream operators.
func (s *Source) Cleanup(req FetchRequest) (*Stream, error) {
	return s.Fetch(req)
}

// Push applies one row mutation from the replication layer and forwards it
// to every attached output in insertion order. Double adds and removes of
// absent rows are invariant violations.
func (s *Source) Push(change Change) error {
	if change.Kind == ChangeChild {
		return &InvariantError{Op: "source", Reason: "child change pushed into a source"}
	}
	if change.Node == nil {
		return &InvariantError{Op: "source", Reason: "push without node"}
	}

	key, err := s.schema.RowKey(change.Node.Row)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch change.Kind {
	case ChangeAdd:
		if _, exists := s.rows.Get(sourceEntry{key: key}); exists {
			s.mu.Unlock()
			return &InvariantError{Op: "source", Reason: "double add for primary key " + key}
		}
		s.rows.ReplaceOrInsert(sourceEntry{key: key, row: change.Node.Row})
		for col, idx := range s.indexes {
			addToIndex(idx, change.Node.Row[col], key, change.Node.Row)
		}
	case ChangeRemove:
		existing, exists := s.rows.Get(sourceEntry{key: key})
		if !exists {
			s.mu.Unlock()
			return &InvariantError{Op: "source", Reason: "remove of absent primary key " + key}
		}
		s.rows.Delete(sourceEntry{key: key})
		for col, idx := range s.indexes {
			dropFromIndex(idx, existing.row[col], key)
		}
		// Downstream sees the stored row, not whatever subset the
		// replication event carried.
		change = RemoveChange(NewNode(existing.row))
	}
	outputs := append([]Output(nil), s.outputs...)
	s.mu.Unlock()

	for _, out := range outputs {
		if err := out.Push(change); err != nil {
			return err
		}
	}
	return nil
}

// AddOutput attaches one more downstream consumer. A source is the one
// graph node allowed to fan out: every pipeline rooted at this table
// attaches here.
func (s *Source) AddOutput(out Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, out)
}

// RemoveOutput detaches a consumer previously attached with AddOutput.
func (s *Source) RemoveOutput(out Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.outputs {
		if o == out {
			s.outputs = append(s.outputs[:i], s.outputs[i+1:]...)
			return
		}
	}
}

// SetOutput implements Operator by delegating to AddOutput; pipelines
// attach through operator wiring.
func (s *Source) SetOutput(out Output) {
	s.AddOutput(out)
}

// Destroy implements Operator. Sources outlive pipelines, so destroying a
// pipeline never clears the table; it only logs if outputs leak.
func (s *Source) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outputs) > 0 {
		log.Debug().
			Str("table", s.schema.Table).
			Int("outputs", len(s.outputs)).
			Msg("source destroyed with outputs still attached")
	}
}

// Len reports the number of rows currently indexed.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows.Len()
}
