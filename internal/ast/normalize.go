package ast

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Normalize returns the canonical form of a query. The input is never
// mutated. Normalization is idempotent, and queries that differ only in
// WHERE-clause associativity, commutativity or duplication, or in
// select/aggregate/groupBy order, normalize to identical forms. ORDER BY
// is semantically ordered and left untouched.
func Normalize(q *Query) *Query {
	out := &Query{
		Table: q.Table,
		Alias: q.Alias,
	}

	if len(q.Select) > 0 {
		out.Select = append([]Selection(nil), q.Select...)
		sort.SliceStable(out.Select, func(i, j int) bool {
			return out.Select[i].Selector < out.Select[j].Selector
		})
	}

	if len(q.Aggregates) > 0 {
		out.Aggregates = append([]Aggregation(nil), q.Aggregates...)
		sort.SliceStable(out.Aggregates, func(i, j int) bool {
			a, b := out.Aggregates[i], out.Aggregates[j]
			if a.Aggregate != b.Aggregate {
				return a.Aggregate < b.Aggregate
			}
			return aggField(a) < aggField(b)
		})
	}

	if len(q.GroupBy) > 0 {
		out.GroupBy = append([]string(nil), q.GroupBy...)
		sort.Strings(out.GroupBy)
	}

	out.Where = normalizeCondition(q.Where)

	out.OrderBy = append([]Ordering(nil), q.OrderBy...)

	if q.Limit != nil {
		limit := *q.Limit
		out.Limit = &limit
	}

	if len(q.Related) > 0 {
		out.Related = make([]Related, len(q.Related))
		for i, r := range q.Related {
			out.Related[i] = Related{
				Name:      r.Name,
				ParentKey: r.ParentKey,
				ChildKey:  r.ChildKey,
				Query:     Normalize(r.Query),
			}
		}
		sort.SliceStable(out.Related, func(i, j int) bool {
			return out.Related[i].Name < out.Related[j].Name
		})
	}

	return out
}

func aggField(a Aggregation) string {
	if a.Field == "" {
		return "*"
	}
	return a.Field
}

// normalizeCondition flattens same-operator conjunction nesting, sorts
// members, collapses empty and single-child conjunctions, and drops exact
// duplicates.
func normalizeCondition(c *Condition) *Condition {
	if c == nil {
		return nil
	}

	if !c.IsConjunction() {
		return &Condition{Op: c.Op, Field: c.Field, Value: c.Value}
	}

	members := flattenConjunction(c.Op, c.Conditions)

	normalized := make([]*Condition, 0, len(members))
	for _, m := range members {
		n := normalizeCondition(m)
		if n == nil {
			continue
		}
		// A member can collapse into a conjunction with this operator (e.g.
		// a single-child OR holding an AND); inline it as well so a second
		// pass finds nothing left to flatten.
		if n.IsConjunction() && n.Op == c.Op {
			normalized = append(normalized, n.Conditions...)
			continue
		}
		normalized = append(normalized, n)
	}

	sort.SliceStable(normalized, func(i, j int) bool {
		return compareConditions(normalized[i], normalized[j]) < 0
	})
	normalized = dedupeConditions(normalized)

	switch len(normalized) {
	case 0:
		return nil
	case 1:
		return normalized[0]
	default:
		return &Condition{Op: c.Op, Conditions: normalized}
	}
}

// flattenConjunction inlines children that are conjunctions with the same
// operator as their parent.
func flattenConjunction(op Operator, conds []*Condition) []*Condition {
	var out []*Condition
	for _, c := range conds {
		if c == nil {
			continue
		}
		if c.IsConjunction() && c.Op == op {
			out = append(out, flattenConjunction(op, c.Conditions)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func dedupeConditions(conds []*Condition) []*Condition {
	out := conds[:0]
	for i, c := range conds {
		if i > 0 && compareConditions(conds[i-1], c) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// compareConditions orders normalized conditions: simple conditions before
// conjunctions; simples by (field, op, stringified value); conjunctions by
// operator, then member-wise with prefixes first.
func compareConditions(a, b *Condition) int {
	ac, bc := a.IsConjunction(), b.IsConjunction()
	if ac != bc {
		if !ac {
			return -1
		}
		return 1
	}

	if !ac {
		if a.Field != b.Field {
			return compareStrings(a.Field, b.Field)
		}
		if a.Op != b.Op {
			return compareStrings(string(a.Op), string(b.Op))
		}
		return compareStrings(stringifyValue(a.Value), stringifyValue(b.Value))
	}

	if a.Op != b.Op {
		return compareStrings(string(a.Op), string(b.Op))
	}
	for i := 0; i < len(a.Conditions) && i < len(b.Conditions); i++ {
		if c := compareConditions(a.Conditions[i], b.Conditions[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.Conditions) < len(b.Conditions):
		return -1
	case len(a.Conditions) > len(b.Conditions):
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// stringifyValue renders a literal deterministically for condition
// ordering. JSON encoding is stable for the primitive domain; anything it
// rejects falls back to fmt.
func stringifyValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
