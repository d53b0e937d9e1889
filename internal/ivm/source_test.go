package ivm

import (
	"reflect"
	"testing"
)

func TestSourceFetchOrdered(t *testing.T) {
	s := newIssueSource(t,
		Row{"id": "i3", "uid": "u2", "v": int64(3)},
		Row{"id": "i1", "uid": "u1", "v": int64(1)},
		Row{"id": "i2", "uid": "u1", "v": int64(2)},
	)

	stream, err := s.Fetch(FetchRequest{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := rowIDs(collectRows(t, stream))
	want := []string{"i1", "i2", "i3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fetch order = %v, want %v", got, want)
	}
}

func TestSourceFetchConstraint(t *testing.T) {
	s := newIssueSource(t,
		Row{"id": "i1", "uid": "u1", "v": int64(1)},
		Row{"id": "i2", "uid": "u2", "v": int64(2)},
		Row{"id": "i3", "uid": "u1", "v": int64(3)},
	)

	for _, indexed := range []bool{false, true} {
		if indexed {
			s.EnsureIndex("uid")
		}
		stream, err := s.Fetch(FetchRequest{Constraint: &Constraint{Key: "uid", Value: "u1"}})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		got := rowIDs(collectRows(t, stream))
		want := []string{"i1", "i3"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("indexed=%v: constrained fetch = %v, want %v", indexed, got, want)
		}
	}
}

func TestSourceIndexMaintainedOnPush(t *testing.T) {
	s := newIssueSource(t, Row{"id": "i1", "uid": "u1", "v": int64(1)})
	s.EnsureIndex("uid")

	if err := s.Push(AddChange(NewNode(Row{"id": "i2", "uid": "u1", "v": int64(2)}))); err != nil {
		t.Fatalf("Push add: %v", err)
	}
	if err := s.Push(RemoveChange(NewNode(Row{"id": "i1", "uid": "u1", "v": int64(1)}))); err != nil {
		t.Fatalf("Push remove: %v", err)
	}

	stream, err := s.Fetch(FetchRequest{Constraint: &Constraint{Key: "uid", Value: "u1"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := rowIDs(collectRows(t, stream))
	if !reflect.DeepEqual(got, []string{"i2"}) {
		t.Errorf("constrained fetch after push = %v, want [i2]", got)
	}
}

func TestSourcePushForwardsInOrder(t *testing.T) {
	s := newIssueSource(t)
	first := &capture{}
	second := &capture{}
	s.AddOutput(first)
	s.AddOutput(second)

	if err := s.Push(AddChange(NewNode(Row{"id": "i1", "uid": "u1", "v": int64(1)}))); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if len(first.changes) != 1 || len(second.changes) != 1 {
		t.Fatalf("outputs saw %d and %d changes, want 1 and 1", len(first.changes), len(second.changes))
	}
	if first.changes[0].Kind != ChangeAdd {
		t.Errorf("forwarded kind = %s, want add", first.changes[0].Kind)
	}
}

func TestSourceInvariants(t *testing.T) {
	s := newIssueSource(t, Row{"id": "i1", "uid": "u1", "v": int64(1)})

	err := s.Push(AddChange(NewNode(Row{"id": "i1", "uid": "u9", "v": int64(9)})))
	if !IsInvariantError(err) {
		t.Errorf("double add returned %v, want invariant error", err)
	}

	err = s.Push(RemoveChange(NewNode(Row{"id": "i404", "uid": "u1", "v": int64(1)})))
	if !IsInvariantError(err) {
		t.Errorf("remove of absent row returned %v, want invariant error", err)
	}

	err = s.Push(AddChange(NewNode(Row{"id": nil, "uid": "u1"})))
	if err == nil {
		t.Error("null primary key did not error")
	}
}

func TestSourceRejectsReservedSchema(t *testing.T) {
	_, err := NewSource(&TableSchema{
		Table:      "t",
		Columns:    []Column{{Name: "id", Type: TypeString}, {Name: "_0_version", Type: TypeString}},
		PrimaryKey: []string{"id"},
	})
	if err == nil {
		t.Error("reserved column name accepted")
	}

	_, err = NewSource(&TableSchema{
		Table:      "_zero",
		Columns:    []Column{{Name: "id", Type: TypeString}},
		PrimaryKey: []string{"id"},
	})
	if err == nil {
		t.Error("reserved schema name accepted")
	}
}
