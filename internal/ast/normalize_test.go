package ast

import (
	"reflect"
	"testing"
)

func TestNormalizeIdempotent(t *testing.T) {
	q := &Query{
		Table:  "issues",
		Select: []Selection{{Selector: "title"}, {Selector: "id"}},
		Where: Or(
			Simple("b", OpEqual, int64(2)),
			And(Simple("a", OpEqual, int64(1)), Simple("c", OpLess, int64(3))),
		),
		OrderBy: []Ordering{{Field: "created"}, {Field: "id"}},
		GroupBy: []string{"status", "owner"},
	}

	once := Normalize(q)
	twice := Normalize(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalize is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalizeWhereEquivalence(t *testing.T) {
	tests := []struct {
		name string
		a, b *Condition
	}{
		{
			name: "commutativity",
			a:    And(Simple("a", OpEqual, int64(1)), Simple("b", OpEqual, int64(2))),
			b:    And(Simple("b", OpEqual, int64(2)), Simple("a", OpEqual, int64(1))),
		},
		{
			name: "associativity",
			a:    And(Simple("a", OpEqual, int64(1)), And(Simple("b", OpEqual, int64(2)), Simple("c", OpEqual, int64(3)))),
			b:    And(And(Simple("a", OpEqual, int64(1)), Simple("b", OpEqual, int64(2))), Simple("c", OpEqual, int64(3))),
		},
		{
			name: "duplication",
			a:    And(Simple("a", OpEqual, int64(1)), Simple("a", OpEqual, int64(1))),
			b:    Simple("a", OpEqual, int64(1)),
		},
		{
			name: "nested flatten",
			a:    And(Simple("a", OpEqual, int64(1)), And(Simple("b", OpEqual, int64(2)))),
			b:    And(Simple("a", OpEqual, int64(1)), Simple("b", OpEqual, int64(2))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qa := Normalize(&Query{Table: "t", Where: tt.a})
			qb := Normalize(&Query{Table: "t", Where: tt.b})
			if !reflect.DeepEqual(qa, qb) {
				t.Errorf("normalized forms differ:\na: %+v\nb: %+v", qa.Where, qb.Where)
			}
		})
	}
}

func TestNormalizeCollapsesConjunctions(t *testing.T) {
	// A single-child conjunction is replaced by its child regardless of
	// operator; an empty one disappears.
	single := Normalize(&Query{Table: "t", Where: Or(Simple("a", OpEqual, int64(1)))})
	if single.Where == nil || single.Where.IsConjunction() {
		t.Errorf("single-child OR did not collapse: %+v", single.Where)
	}

	empty := Normalize(&Query{Table: "t", Where: And()})
	if empty.Where != nil {
		t.Errorf("empty AND did not become nil: %+v", empty.Where)
	}

	nested := Normalize(&Query{Table: "t", Where: And(Simple("a", OpEqual, int64(1)), And())})
	if nested.Where == nil || nested.Where.IsConjunction() {
		t.Errorf("AND with empty member did not collapse to its child: %+v", nested.Where)
	}
}

func TestNormalizeSortsSimpleBeforeConjunction(t *testing.T) {
	q := Normalize(&Query{
		Table: "t",
		Where: And(
			Or(Simple("x", OpEqual, int64(1)), Simple("y", OpEqual, int64(2))),
			Simple("a", OpEqual, int64(1)),
		),
	})
	if q.Where == nil || len(q.Where.Conditions) != 2 {
		t.Fatalf("unexpected where: %+v", q.Where)
	}
	if q.Where.Conditions[0].IsConjunction() {
		t.Error("conjunction sorted before simple condition")
	}
}

func TestNormalizeOrderByPreserved(t *testing.T) {
	q := Normalize(&Query{
		Table:   "t",
		OrderBy: []Ordering{{Field: "z"}, {Field: "a", Desc: true}},
	})
	if q.OrderBy[0].Field != "z" || q.OrderBy[1].Field != "a" {
		t.Errorf("order by was reordered: %+v", q.OrderBy)
	}
}

func TestNormalizeAggregatesAndRelated(t *testing.T) {
	q := Normalize(&Query{
		Table: "t",
		Aggregates: []Aggregation{
			{Aggregate: AggSum, Field: "v", Alias: "s"},
			{Aggregate: AggCount, Alias: "n"},
		},
		Related: []Related{
			{Name: "b", ParentKey: "id", ChildKey: "tid", Query: &Query{Table: "b"}},
			{Name: "a", ParentKey: "id", ChildKey: "tid", Query: &Query{Table: "a"}},
		},
	})
	if q.Aggregates[0].Aggregate != AggCount {
		t.Errorf("aggregates not sorted: %+v", q.Aggregates)
	}
	if q.Related[0].Name != "a" {
		t.Errorf("related not sorted by name: %+v", q.Related)
	}
}

func TestFingerprintEquivalence(t *testing.T) {
	a := &Query{
		Table:  "issues",
		Select: []Selection{{Selector: "b"}, {Selector: "a"}},
		Where:  And(Simple("x", OpEqual, int64(1)), And(Simple("y", OpEqual, int64(2)), &Condition{Op: OpAnd})),
	}
	b := &Query{
		Table:  "issues",
		Select: []Selection{{Selector: "a"}, {Selector: "b"}},
		Where:  And(Simple("y", OpEqual, int64(2)), Simple("x", OpEqual, int64(1))),
	}

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint(a): %v", err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint(b): %v", err)
	}
	if fa != fb {
		t.Errorf("equivalent queries fingerprint differently: %s vs %s", fa, fb)
	}

	c := &Query{Table: "issues", Where: Simple("x", OpEqual, int64(2))}
	fc, err := Fingerprint(c)
	if err != nil {
		t.Fatalf("Fingerprint(c): %v", err)
	}
	if fa == fc {
		t.Error("distinct queries share a fingerprint")
	}
}
