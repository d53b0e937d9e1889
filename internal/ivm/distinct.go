package ivm

import (
	"github.com/fluxbase-eu/fluxsync/internal/opstore"
)

// refPrefix namespaces the per-primary-key reference counts.
const refPrefix = "ref"

// DistinctOp deduplicates by primary key with reference counting: N
// branches of an OR can add the same row, and the outside world sees one
// add when the count rises from zero and one remove when it falls back.
// Fetch establishes the counts (one per branch occurrence) and yields each
// key once; cleanup yields the identical sequence and releases the counts.
type DistinctOp struct {
	input Operator
	store *opstore.MemStore
	out   Output
}

// NewDistinct wraps an input with primary-key deduplication.
func NewDistinct(input Operator) (*DistinctOp, error) {
	if len(input.Schema().PrimaryKey) == 0 {
		return nil, NewConfigError("distinct requires a primary key on table %q", input.Schema().Table)
	}
	d := &DistinctOp{input: input, store: opstore.NewMemStore()}
	input.SetOutput(d)
	return d, nil
}

// Schema implements Operator.
func (d *DistinctOp) Schema() *TableSchema {
	return d.input.Schema()
}

func (d *DistinctOp) refKey(row Row) (string, error) {
	pk, err := d.input.Schema().RowKey(row)
	if err != nil {
		return "", err
	}
	return opstore.Key(refPrefix, pk), nil
}

func (d *DistinctOp) count(key string) int {
	v, ok := d.store.Get(key)
	if !ok {
		return 0
	}
	return v.(int)
}

// Fetch implements Operator: each distinct primary key is yielded on its
// first occurrence in this call, and every occurrence bumps the persistent
// reference count so pushed removes balance later.
func (d *DistinctOp) Fetch(req FetchRequest) (*Stream, error) {
	in, err := d.input.Fetch(req)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	return NewStream(func() (*Node, error) {
		for {
			n, err := in.Next()
			if err != nil || n == nil {
				return nil, err
			}
			key, err := d.refKey(n.Row)
			if err != nil {
				return nil, err
			}
			d.store.Set(key, d.count(key)+1)
			if !seen[key] {
				seen[key] = true
				return n, nil
			}
		}
	}), nil
}

// Cleanup implements Operator, yielding the same distinct sequence while
// unwinding the counts the matching fetch took.
func (d *DistinctOp) Cleanup(req FetchRequest) (*Stream, error) {
	in, err := d.input.Cleanup(req)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	return NewStream(func() (*Node, error) {
		for {
			n, err := in.Next()
			if err != nil || n == nil {
				return nil, err
			}
			key, err := d.refKey(n.Row)
			if err != nil {
				return nil, err
			}
			if c := d.count(key); c <= 1 {
				d.store.Del(key)
			} else {
				d.store.Set(key, c-1)
			}
			if !seen[key] {
				seen[key] = true
				return n, nil
			}
		}
	}), nil
}

// Push implements the incremental path.
func (d *DistinctOp) Push(change Change) error {
	row := change.TargetRow()
	if row == nil {
		return &InvariantError{Op: "distinct", Reason: "push without a target row"}
	}
	key, err := d.refKey(row)
	if err != nil {
		return err
	}

	switch change.Kind {
	case ChangeAdd:
		c := d.count(key)
		d.store.Set(key, c+1)
		if c > 0 || d.out == nil {
			return nil
		}
		return d.out.Push(change)

	case ChangeRemove:
		c := d.count(key)
		if c == 0 {
			return &InvariantError{Op: "distinct", Reason: "remove below zero references"}
		}
		if c == 1 {
			d.store.Del(key)
			if d.out == nil {
				return nil
			}
			return d.out.Push(change)
		}
		d.store.Set(key, c-1)
		return nil

	default:
		// Child changes only originate below join operators, which built
		// pipelines place under the OR expansion; at most one branch
		// carries any given nested change here.
		if d.count(key) == 0 {
			return &InvariantError{Op: "distinct", Reason: "child change for absent primary key"}
		}
		if d.out == nil {
			return nil
		}
		return d.out.Push(change)
	}
}

// SetOutput implements Operator.
func (d *DistinctOp) SetOutput(out Output) {
	d.out = out
}

// Destroy implements Operator.
func (d *DistinctOp) Destroy() {
	d.out = nil
	d.store.Clear()
	d.input.Destroy()
}

// StorageLen reports live reference-count entries for leak tests.
func (d *DistinctOp) StorageLen() int {
	return d.store.Len()
}
