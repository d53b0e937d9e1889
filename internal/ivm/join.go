package ivm

import (
	"github.com/fluxbase-eu/fluxsync/internal/opstore"
)

// pKeySetPrefix is the namespace for the join's bookkeeping entries. One
// entry per fetched parent, keyed by join value then parent primary key,
// records that the parent holds a child-side constraint. The entries are
// what decides when a child subtree may be torn down: several parents can
// share one join value, and the subtree must survive until the last of
// them is gone.
const pKeySetPrefix = "pKeySet"

// JoinOp joins a parent input to a child input, emitting the parent's
// nodes with a lazy stream of matching children attached under a named
// relationship.
type JoinOp struct {
	parent       Operator
	child        Operator
	parentKey    string
	childKey     string
	relationship string

	store  *opstore.MemStore
	schema *TableSchema
	out    Output
}

// NewJoin wires a join. The same operator must never serve as both parent
// and child; that is an invariant violation caught at construction.
func NewJoin(parent, child Operator, parentKey, childKey, relationship string) (*JoinOp, error) {
	if parent == child {
		return nil, &InvariantError{Op: "join", Reason: "parent and child are the same operator"}
	}
	if _, ok := parent.Schema().Column(parentKey); !ok {
		return nil, NewConfigError("join parent key %q not in schema of %q", parentKey, parent.Schema().Table)
	}
	if _, ok := child.Schema().Column(childKey); !ok {
		return nil, NewConfigError("join child key %q not in schema of %q", childKey, child.Schema().Table)
	}

	j := &JoinOp{
		parent:       parent,
		child:        child,
		parentKey:    parentKey,
		childKey:     childKey,
		relationship: relationship,
		store:        opstore.NewMemStore(),
		schema:       parent.Schema().WithRelationship(relationship, child.Schema()),
	}
	parent.SetOutput(&joinInput{join: j, fromParent: true})
	child.SetOutput(&joinInput{join: j, fromParent: false})
	return j, nil
}

// joinInput tags pushes with the side they arrived from.
type joinInput struct {
	join       *JoinOp
	fromParent bool
}

func (i *joinInput) Push(change Change) error {
	if i.fromParent {
		return i.join.pushParent(change)
	}
	return i.join.pushChild(change)
}

// Schema implements Operator.
func (j *JoinOp) Schema() *TableSchema {
	return j.schema
}

// Fetch implements Operator. Each parent node comes back with the child
// relationship attached as a lazy stream; pulling the stream fetches the
// children constrained to that parent's join value. Fetching also records
// the parent in the pKeySet so a later cleanup knows who still holds the
// constraint.
func (j *JoinOp) Fetch(req FetchRequest) (*Stream, error) {
	in, err := j.parent.Fetch(req)
	if err != nil {
		return nil, err
	}
	return NewStream(func() (*Node, error) {
		n, err := in.Next()
		if err != nil || n == nil {
			return nil, err
		}
		node, err := j.wrapFetch(n)
		if err != nil {
			return nil, err
		}
		return node, nil
	}), nil
}

// Cleanup implements Operator: the same node sequence as Fetch, but each
// parent's pKeySet entry is removed first, and the child is pulled in
// cleanup mode only when no sibling parent still holds the same join
// value.
func (j *JoinOp) Cleanup(req FetchRequest) (*Stream, error) {
	in, err := j.parent.Cleanup(req)
	if err != nil {
		return nil, err
	}
	return NewStream(func() (*Node, error) {
		n, err := in.Next()
		if err != nil || n == nil {
			return nil, err
		}
		node, err := j.wrapCleanup(n)
		if err != nil {
			return nil, err
		}
		return node, nil
	}), nil
}

func (j *JoinOp) parentEntryKey(n *Node) (joinValue Value, key string, err error) {
	pk, err := j.parent.Schema().RowKey(n.Row)
	if err != nil {
		return nil, "", err
	}
	joinValue = n.Row[j.parentKey]
	return joinValue, opstore.Key(pKeySetPrefix, EncodeValue(joinValue), pk), nil
}

// wrapFetch records the parent and attaches the lazy child fetch stream.
func (j *JoinOp) wrapFetch(n *Node) (*Node, error) {
	joinValue, entryKey, err := j.parentEntryKey(n)
	if err != nil {
		return nil, err
	}
	j.store.Set(entryKey, true)
	return n.WithRelationship(j.relationship, j.childStream(joinValue, false)), nil
}

// wrapCleanup drops the parent's entry, then attaches the child stream in
// cleanup mode iff this was the last parent with that join value.
func (j *JoinOp) wrapCleanup(n *Node) (*Node, error) {
	joinValue, entryKey, err := j.parentEntryKey(n)
	if err != nil {
		return nil, err
	}
	j.store.Del(entryKey)
	cleanupChild := !j.siblingHoldsValue(joinValue)
	return n.WithRelationship(j.relationship, j.childStream(joinValue, cleanupChild)), nil
}

// siblingHoldsValue reports whether any parent entry remains for the join
// value.
func (j *JoinOp) siblingHoldsValue(joinValue Value) bool {
	prefix := opstore.Key(pKeySetPrefix, EncodeValue(joinValue))
	found := false
	j.store.Scan(prefix, func(opstore.Entry) bool {
		found = true
		return false
	})
	return found
}

// childStream defers the child-side pull until the relationship is
// iterated.
func (j *JoinOp) childStream(joinValue Value, cleanup bool) *Stream {
	var inner *Stream
	return NewStream(func() (*Node, error) {
		if inner == nil {
			req := FetchRequest{Constraint: &Constraint{Key: j.childKey, Value: joinValue}}
			var err error
			if cleanup {
				inner, err = j.child.Cleanup(req)
			} else {
				inner, err = j.child.Fetch(req)
			}
			if err != nil {
				return nil, err
			}
		}
		return inner.Next()
	})
}

// pushParent handles changes arriving from the parent input.
func (j *JoinOp) pushParent(change Change) error {
	if j.out == nil {
		return nil
	}
	switch change.Kind {
	case ChangeAdd:
		node, err := j.wrapFetch(change.Node)
		if err != nil {
			return err
		}
		return j.out.Push(AddChange(node))
	case ChangeRemove:
		node, err := j.wrapCleanup(change.Node)
		if err != nil {
			return err
		}
		return j.out.Push(RemoveChange(node))
	default:
		// A nested change under an existing parent passes through; the
		// parent's own pKeySet entry is untouched.
		return j.out.Push(change)
	}
}

// pushChild handles changes arriving from the child input: every matching
// parent currently in the parent input re-emits the change nested under
// its relationship.
func (j *JoinOp) pushChild(change Change) error {
	if j.out == nil {
		return nil
	}
	row := change.TargetRow()
	if row == nil {
		return &InvariantError{Op: "join", Reason: "child push without a target row"}
	}
	joinValue := row[j.childKey]

	parents, err := j.parent.Fetch(FetchRequest{
		Constraint: &Constraint{Key: j.parentKey, Value: joinValue},
	})
	if err != nil {
		return err
	}
	for {
		p, err := parents.Next()
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		if err := j.out.Push(NestedChange(p.Row, j.relationship, change)); err != nil {
			return err
		}
	}
}

// Push implements Operator for graph composition; a join's inputs push
// through their tagged sides, so a direct push is treated as parent-side.
func (j *JoinOp) Push(change Change) error {
	return j.pushParent(change)
}

// SetOutput implements Operator.
func (j *JoinOp) SetOutput(out Output) {
	j.out = out
}

// Destroy implements Operator, cascading to both inputs and discarding
// the bookkeeping store.
func (j *JoinOp) Destroy() {
	j.out = nil
	j.store.Clear()
	j.parent.Destroy()
	j.child.Destroy()
}

// StorageLen reports the number of live bookkeeping entries; subscription
// round trips must return it to its pre-subscribe value.
func (j *JoinOp) StorageLen() int {
	return j.store.Len()
}
