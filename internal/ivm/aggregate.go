package ivm

import (
	"github.com/fluxbase-eu/fluxsync/internal/ast"
)

// FullAggOp aggregates the whole input into a single synthetic row, used
// when a query carries aggregations but no group-by. Only count, sum and
// avg are supported here; min, max and array need the member multiset the
// grouped operator keeps and are rejected at pipeline-build time.
//
// The synthetic row always exists: an empty input yields count 0 and null
// sums. Updates emit remove of the previous row followed by add of the
// replacement.
type FullAggOp struct {
	input  Operator
	aggs   []Aggregation
	schema *TableSchema

	count   int64
	sums    map[string]float64
	nulls   map[string]int64
	fetches int
	out     Output
}

// NewFullAgg wraps an input with full-table aggregation.
func NewFullAgg(input Operator, aggs []Aggregation) (*FullAggOp, error) {
	if len(aggs) == 0 {
		return nil, NewConfigError("full-table aggregation requires at least one aggregate")
	}
	in := input.Schema()
	columns := make([]Column, 0, len(aggs))
	for _, a := range aggs {
		switch a.Kind {
		case ast.AggCount, ast.AggSum, ast.AggAvg:
		default:
			return nil, NewConfigError("aggregate %q is not supported without group-by", a.Kind)
		}
		if a.Field != "" {
			if _, ok := in.Column(a.Field); !ok {
				return nil, NewConfigError("unknown aggregate column %q on table %q", a.Field, in.Table)
			}
		}
		columns = append(columns, Column{Name: a.Alias, Type: TypeFloat})
	}

	f := &FullAggOp{
		input: input,
		aggs:  aggs,
		schema: &TableSchema{
			Table:   in.Table + ".aggregate",
			Columns: columns,
		},
		sums:  make(map[string]float64),
		nulls: make(map[string]int64),
	}
	input.SetOutput(f)
	return f, nil
}

// Schema implements Operator. The synthetic row has no primary key; there
// is only ever one of it.
func (f *FullAggOp) Schema() *TableSchema {
	return f.schema
}

func (f *FullAggOp) row() Row {
	row := make(Row, len(f.aggs))
	for _, a := range f.aggs {
		switch a.Kind {
		case ast.AggCount:
			if a.Field == "" {
				row[a.Alias] = f.count
			} else {
				row[a.Alias] = f.count - f.nulls[a.Alias]
			}
		case ast.AggSum:
			if f.count-f.nulls[a.Alias] == 0 {
				row[a.Alias] = nil
				continue
			}
			s := f.sums[a.Alias]
			if s == float64(int64(s)) {
				row[a.Alias] = int64(s)
			} else {
				row[a.Alias] = s
			}
		case ast.AggAvg:
			n := f.count - f.nulls[a.Alias]
			if n == 0 {
				row[a.Alias] = nil
				continue
			}
			row[a.Alias] = f.sums[a.Alias] / float64(n)
		}
	}
	return row
}

func (f *FullAggOp) apply(row Row, sign float64) {
	for _, a := range f.aggs {
		if a.Field == "" {
			continue
		}
		v := row[a.Field]
		if v == nil {
			f.nulls[a.Alias] += int64(sign)
			continue
		}
		f.sums[a.Alias] += sign * numericValue(v)
	}
	f.count += int64(sign)
}

func (f *FullAggOp) reset() {
	f.count = 0
	f.sums = make(map[string]float64)
	f.nulls = make(map[string]int64)
}

func (f *FullAggOp) rebuild(in *Stream) error {
	f.reset()
	for {
		n, err := in.Next()
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		f.apply(n.Row, 1)
	}
}

// Fetch implements Operator: always exactly one synthetic node.
func (f *FullAggOp) Fetch(req FetchRequest) (*Stream, error) {
	in, err := f.input.Fetch(req)
	if err != nil {
		return nil, err
	}
	if err := f.rebuild(in); err != nil {
		return nil, err
	}
	f.fetches++
	return StreamOf(NewNode(f.row())), nil
}

// Cleanup implements Operator, releasing the running totals once the last
// outstanding fetch has been mirrored.
func (f *FullAggOp) Cleanup(req FetchRequest) (*Stream, error) {
	in, err := f.input.Cleanup(req)
	if err != nil {
		return nil, err
	}
	if err := f.rebuild(in); err != nil {
		return nil, err
	}
	node := NewNode(f.row())
	if f.fetches > 0 {
		f.fetches--
	}
	if f.fetches == 0 {
		f.reset()
	}
	return StreamOf(node), nil
}

// Push implements the incremental path; nested changes cannot cross an
// aggregation boundary and are dropped.
func (f *FullAggOp) Push(change Change) error {
	var sign float64
	switch change.Kind {
	case ChangeAdd:
		sign = 1
	case ChangeRemove:
		sign = -1
	default:
		return nil
	}

	before := f.row()
	f.apply(change.Node.Row, sign)
	after := f.row()
	if rowsEqual(before, after) {
		return nil
	}
	if f.out == nil {
		return nil
	}
	if err := f.out.Push(RemoveChange(NewNode(before))); err != nil {
		return err
	}
	return f.out.Push(AddChange(NewNode(after)))
}

// SetOutput implements Operator.
func (f *FullAggOp) SetOutput(out Output) {
	f.out = out
}

// Destroy implements Operator.
func (f *FullAggOp) Destroy() {
	f.out = nil
	f.reset()
	f.input.Destroy()
}
