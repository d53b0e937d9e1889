package ivm

import (
	"strings"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
)

// Aggregation is one aggregate computed per group.
type Aggregation struct {
	Kind  ast.AggregateKind
	Field string
	Alias string
}

// aggMember is one row's contribution to a group, keyed by the row's
// primary-key tuple.
type aggMember struct {
	id     string
	row    Row
	values map[string]Value // per-alias field value at insertion time
}

// groupState is the running state of one group: the membership set in
// insertion order plus enough per-aggregation totals to update
// incrementally. Min, max and array keep the member multiset itself and
// derive their value from it, so removal never needs a rescan of the
// input.
type groupState struct {
	key     string
	members []*aggMember
	index   map[string]*aggMember

	count int64
	sums  map[string]float64 // per-alias running sum (sum, avg)
	nulls map[string]int64   // per-alias members whose field was null
}

// GroupByOp groups input rows by the declared columns and maintains the
// aggregations incrementally. Each non-empty group materializes as one
// synthetic node: the earliest remaining member's row merged with one
// column per aggregation alias.
//
// When a group's aggregate values change, the operator emits a remove of
// the previous synthetic node followed by an add of the replacement.
type GroupByOp struct {
	input   Operator
	columns []string
	aggs    []Aggregation
	schema  *TableSchema

	groups  map[string]*groupState
	order   []string // group keys in first-seen order
	fetches int      // outstanding fetches not yet mirrored by cleanup
	out     Output
}

// NewGroupBy wraps an input with grouping and aggregation.
func NewGroupBy(input Operator, columns []string, aggs []Aggregation) (*GroupByOp, error) {
	if len(columns) == 0 {
		return nil, NewConfigError("group-by requires at least one column")
	}
	in := input.Schema()
	for _, c := range columns {
		if _, ok := in.Column(c); !ok {
			return nil, NewConfigError("unknown group-by column %q on table %q", c, in.Table)
		}
	}
	for _, a := range aggs {
		if a.Field != "" {
			if _, ok := in.Column(a.Field); !ok {
				return nil, NewConfigError("unknown aggregate column %q on table %q", a.Field, in.Table)
			}
		}
		switch a.Kind {
		case ast.AggCount, ast.AggSum, ast.AggAvg, ast.AggMin, ast.AggMax, ast.AggArray:
		default:
			return nil, NewConfigError("unknown aggregate kind %q", a.Kind)
		}
	}

	schema := *in
	for _, a := range aggs {
		if _, ok := schema.Column(a.Alias); !ok {
			schema.Columns = append(append([]Column(nil), schema.Columns...), Column{Name: a.Alias, Type: TypeFloat})
		}
	}

	g := &GroupByOp{
		input:   input,
		columns: columns,
		aggs:    aggs,
		schema:  &schema,
		groups:  make(map[string]*groupState),
	}
	input.SetOutput(g)
	return g, nil
}

// Schema implements Operator.
func (g *GroupByOp) Schema() *TableSchema {
	return g.schema
}

// groupKey encodes the group-column tuple in declared order.
func (g *GroupByOp) groupKey(row Row) string {
	parts := make([]string, len(g.columns))
	for i, c := range g.columns {
		parts[i] = EncodeValue(row[c])
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Fetch implements Operator. Grouping state is rebuilt from the input so a
// first fetch materializes it and push maintains it afterwards.
func (g *GroupByOp) Fetch(req FetchRequest) (*Stream, error) {
	in, err := g.input.Fetch(req)
	if err != nil {
		return nil, err
	}
	if err := g.rebuild(in); err != nil {
		return nil, err
	}
	g.fetches++
	return StreamOf(g.snapshot()...), nil
}

// Cleanup implements Operator: the same snapshot as Fetch. The grouping
// state is released only when every outstanding fetch has been mirrored;
// until then other subscribers of the shared pipeline still depend on it.
func (g *GroupByOp) Cleanup(req FetchRequest) (*Stream, error) {
	in, err := g.input.Cleanup(req)
	if err != nil {
		return nil, err
	}
	if err := g.rebuild(in); err != nil {
		return nil, err
	}
	nodes := g.snapshot()
	if g.fetches > 0 {
		g.fetches--
	}
	if g.fetches == 0 {
		g.groups = make(map[string]*groupState)
		g.order = nil
	}
	return StreamOf(nodes...), nil
}

func (g *GroupByOp) rebuild(in *Stream) error {
	g.groups = make(map[string]*groupState)
	g.order = nil
	for {
		n, err := in.Next()
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		if _, err := g.applyAdd(n.Row); err != nil {
			return err
		}
	}
}

func (g *GroupByOp) snapshot() []*Node {
	nodes := make([]*Node, 0, len(g.groups))
	for _, key := range g.order {
		gs, ok := g.groups[key]
		if !ok || gs.count == 0 {
			continue
		}
		nodes = append(nodes, NewNode(g.groupRow(gs)))
	}
	return nodes
}

// groupRow builds the synthetic row for a group.
func (g *GroupByOp) groupRow(gs *groupState) Row {
	row := gs.members[0].row.Clone()
	for _, a := range g.aggs {
		row[a.Alias] = g.aggregateValue(gs, a)
	}
	return row
}

func (g *GroupByOp) aggregateValue(gs *groupState, a Aggregation) Value {
	switch a.Kind {
	case ast.AggCount:
		if a.Field == "" {
			return gs.count
		}
		return gs.count - gs.nulls[a.Alias]
	case ast.AggSum:
		return sumValue(gs, a)
	case ast.AggAvg:
		n := gs.count - gs.nulls[a.Alias]
		if n == 0 {
			return nil
		}
		return gs.sums[a.Alias] / float64(n)
	case ast.AggMin, ast.AggMax:
		return extremeValue(gs, a)
	default: // array
		values := make([]Value, 0, len(gs.members))
		for _, m := range gs.members {
			values = append(values, m.values[a.Alias])
		}
		return values
	}
}

func sumValue(gs *groupState, a Aggregation) Value {
	if gs.count-gs.nulls[a.Alias] == 0 {
		return nil
	}
	s := gs.sums[a.Alias]
	if s == float64(int64(s)) {
		return int64(s)
	}
	return s
}

// extremeValue scans the member multiset in insertion order so that ties
// keep the first-seen value until it is removed.
func extremeValue(gs *groupState, a Aggregation) Value {
	var best Value
	seen := false
	for _, m := range gs.members {
		v := m.values[a.Alias]
		if v == nil {
			continue
		}
		if !seen {
			best, seen = v, true
			continue
		}
		cmp := CompareValues(v, best)
		if (a.Kind == ast.AggMin && cmp < 0) || (a.Kind == ast.AggMax && cmp > 0) {
			best = v
		}
	}
	return best
}

// applyAdd folds one row in, returning its group.
func (g *GroupByOp) applyAdd(row Row) (*groupState, error) {
	id, err := g.input.Schema().RowKey(row)
	if err != nil {
		return nil, err
	}
	key := g.groupKey(row)
	gs, ok := g.groups[key]
	if !ok {
		gs = &groupState{
			key:   key,
			index: make(map[string]*aggMember),
			sums:  make(map[string]float64),
			nulls: make(map[string]int64),
		}
		g.groups[key] = gs
		g.order = append(g.order, key)
	}
	if _, dup := gs.index[id]; dup {
		return nil, &InvariantError{Op: "group-by", Reason: "double add for member " + id}
	}

	m := &aggMember{id: id, row: row, values: make(map[string]Value, len(g.aggs))}
	for _, a := range g.aggs {
		if a.Field == "" {
			continue
		}
		v := row[a.Field]
		m.values[a.Alias] = v
		if v == nil {
			gs.nulls[a.Alias]++
			continue
		}
		switch a.Kind {
		case ast.AggSum, ast.AggAvg:
			gs.sums[a.Alias] += numericValue(v)
		}
	}
	gs.members = append(gs.members, m)
	gs.index[id] = m
	gs.count++
	return gs, nil
}

// applyRemove folds one row out, returning its group.
func (g *GroupByOp) applyRemove(row Row) (*groupState, error) {
	id, err := g.input.Schema().RowKey(row)
	if err != nil {
		return nil, err
	}
	key := g.groupKey(row)
	gs, ok := g.groups[key]
	if !ok {
		return nil, &InvariantError{Op: "group-by", Reason: "remove from absent group " + key}
	}
	m, ok := gs.index[id]
	if !ok {
		return nil, &InvariantError{Op: "group-by", Reason: "remove of absent member " + id}
	}

	for _, a := range g.aggs {
		if a.Field == "" {
			continue
		}
		v := m.values[a.Alias]
		if v == nil {
			gs.nulls[a.Alias]--
			continue
		}
		switch a.Kind {
		case ast.AggSum, ast.AggAvg:
			gs.sums[a.Alias] -= numericValue(v)
		}
	}
	delete(gs.index, id)
	for i, member := range gs.members {
		if member == m {
			gs.members = append(gs.members[:i], gs.members[i+1:]...)
			break
		}
	}
	gs.count--
	return gs, nil
}

// Push implements the incremental path. Nested child changes are not
// meaningful past an aggregation boundary and are dropped.
func (g *GroupByOp) Push(change Change) error {
	switch change.Kind {
	case ChangeAdd:
		var before Row
		key := g.groupKey(change.Node.Row)
		if gs, ok := g.groups[key]; ok && gs.count > 0 {
			before = g.groupRow(gs)
		}
		gs, err := g.applyAdd(change.Node.Row)
		if err != nil {
			return err
		}
		return g.emitTransition(before, g.groupRow(gs))

	case ChangeRemove:
		key := g.groupKey(change.Node.Row)
		gs, ok := g.groups[key]
		if !ok {
			return &InvariantError{Op: "group-by", Reason: "remove from absent group " + key}
		}
		before := g.groupRow(gs)
		if _, err := g.applyRemove(change.Node.Row); err != nil {
			return err
		}
		var after Row
		if gs.count > 0 {
			after = g.groupRow(gs)
		} else {
			delete(g.groups, gs.key)
			g.dropOrder(gs.key)
		}
		return g.emitTransition(before, after)

	default:
		return nil
	}
}

func (g *GroupByOp) dropOrder(key string) {
	for i, k := range g.order {
		if k == key {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

// emitTransition turns a group's before/after synthetic rows into the
// minimal change sequence: add on birth, remove on death, remove+add on
// value change, nothing when the row is unchanged.
func (g *GroupByOp) emitTransition(before, after Row) error {
	if g.out == nil {
		return nil
	}
	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		return g.out.Push(AddChange(NewNode(after)))
	case after == nil:
		return g.out.Push(RemoveChange(NewNode(before)))
	case rowsEqual(before, after):
		return nil
	default:
		if err := g.out.Push(RemoveChange(NewNode(before))); err != nil {
			return err
		}
		return g.out.Push(AddChange(NewNode(after)))
	}
}

func rowsEqual(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if valueRank(av) == rankNull && valueRank(bv) == rankNull {
			continue
		}
		if EncodeValue(av) != EncodeValue(bv) {
			return false
		}
	}
	return true
}

// SetOutput implements Operator.
func (g *GroupByOp) SetOutput(out Output) {
	g.out = out
}

// Destroy implements Operator.
func (g *GroupByOp) Destroy() {
	g.out = nil
	g.groups = nil
	g.order = nil
	g.input.Destroy()
}
