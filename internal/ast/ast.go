// Package ast defines the query description consumed by the pipeline
// builder and its deterministic normalization. Semantically equivalent
// queries normalize to byte-identical canonical forms, which is what lets
// registered queries share compiled pipelines.
package ast

// Operator is a simple-condition comparison operator.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpGreater        Operator = ">"
	OpLessOrEqual    Operator = "<="
	OpGreaterOrEqual Operator = ">="
	OpIn             Operator = "IN"
	OpNotIn          Operator = "NOT IN"
	OpLike           Operator = "LIKE"
	OpNotLike        Operator = "NOT LIKE"
	OpILike          Operator = "ILIKE"
	OpNotILike       Operator = "NOT ILIKE"

	// Conjunction operators. A Condition carrying one of these is a
	// conjunction node; everything else is a simple condition.
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
)

// simpleOperators enumerates every valid simple-condition operator.
var simpleOperators = map[Operator]bool{
	OpEqual: true, OpNotEqual: true,
	OpLess: true, OpGreater: true, OpLessOrEqual: true, OpGreaterOrEqual: true,
	OpIn: true, OpNotIn: true,
	OpLike: true, OpNotLike: true, OpILike: true, OpNotILike: true,
}

// Condition is a node of the WHERE tree: either a simple comparison of a
// field against a literal, or an AND/OR conjunction over sub-conditions.
type Condition struct {
	Op         Operator     `json:"op"`
	Field      string       `json:"field,omitempty"`
	Value      interface{}  `json:"value,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`
}

// IsConjunction reports whether the node is an AND/OR conjunction.
func (c *Condition) IsConjunction() bool {
	return c.Op == OpAnd || c.Op == OpOr
}

// Simple builds a simple condition.
func Simple(field string, op Operator, value interface{}) *Condition {
	return &Condition{Op: op, Field: field, Value: value}
}

// And builds an AND conjunction.
func And(conds ...*Condition) *Condition {
	return &Condition{Op: OpAnd, Conditions: conds}
}

// Or builds an OR conjunction.
func Or(conds ...*Condition) *Condition {
	return &Condition{Op: OpOr, Conditions: conds}
}

// AggregateKind names a supported aggregation function.
type AggregateKind string

const (
	AggCount AggregateKind = "count"
	AggSum   AggregateKind = "sum"
	AggAvg   AggregateKind = "avg"
	AggMin   AggregateKind = "min"
	AggMax   AggregateKind = "max"
	AggArray AggregateKind = "array"
)

// Selection is one projected column with an optional output alias.
type Selection struct {
	Selector string `json:"selector"`
	Alias    string `json:"alias,omitempty"`
}

// Aggregation is one aggregate over a field. Field is empty for count(*).
type Aggregation struct {
	Aggregate AggregateKind `json:"aggregate"`
	Field     string        `json:"field,omitempty"`
	Alias     string        `json:"alias"`
}

// Ordering is one ORDER BY entry. Order among entries is semantically
// significant and never normalized away.
type Ordering struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Related describes a hierarchical subquery: child rows of Query whose
// ChildKey column equals the parent row's ParentKey column appear under the
// named relationship of each parent node. The builder compiles each entry
// into a join.
type Related struct {
	Name      string `json:"name"`
	ParentKey string `json:"parent_key"`
	ChildKey  string `json:"child_key"`
	Query     *Query `json:"query"`
}

// Query describes one SELECT-shaped query over a single table, with
// optional hierarchical subqueries.
type Query struct {
	Table      string        `json:"table"`
	Alias      string        `json:"alias,omitempty"`
	Select     []Selection   `json:"select,omitempty"`
	Aggregates []Aggregation `json:"aggregate,omitempty"`
	Where      *Condition    `json:"where,omitempty"`
	OrderBy    []Ordering    `json:"order_by"`
	GroupBy    []string      `json:"group_by,omitempty"`
	Limit      *int          `json:"limit,omitempty"`
	Related    []Related     `json:"related,omitempty"`
}

// Validate rejects structurally malformed queries before they reach the
// builder: unknown operators, conjunctions with fields, simples with
// children.
func (q *Query) Validate() error {
	if q.Table == "" {
		return errMissingTable
	}
	if q.Where != nil {
		if err := validateCondition(q.Where); err != nil {
			return err
		}
	}
	for _, r := range q.Related {
		if r.Name == "" || r.ParentKey == "" || r.ChildKey == "" || r.Query == nil {
			return errMalformedRelated
		}
		if err := r.Query.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(c *Condition) error {
	if c.IsConjunction() {
		if c.Field != "" || c.Value != nil {
			return errConjunctionWithField
		}
		for _, sub := range c.Conditions {
			if err := validateCondition(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if !simpleOperators[c.Op] {
		return &UnknownOperatorError{Op: c.Op}
	}
	if len(c.Conditions) != 0 {
		return errSimpleWithChildren
	}
	if c.Field == "" {
		return errSimpleWithoutField
	}
	return nil
}
