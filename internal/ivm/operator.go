package ivm

// Constraint narrows a fetch or cleanup to rows whose column equals the
// given value. Equality is the only supported constraint; joins use it to
// pull the children of one parent.
type Constraint struct {
	Key   string
	Value Value
}

// FetchRequest parameterizes Fetch and Cleanup. A nil Constraint means the
// full, index-ordered sequence.
type FetchRequest struct {
	Constraint *Constraint
}

// Operator is the shared contract of every node in the dataflow graph.
//
// Fetch pulls the current sequence; Cleanup yields the identical sequence
// while signalling that the caller will never re-subscribe with this
// request, letting operators release per-constraint state. Push is the
// incremental path: the operator transforms the change and forwards it to
// its single output. Destroy tears the operator down, cascading to its
// inputs.
type Operator interface {
	Fetch(req FetchRequest) (*Stream, error)
	Cleanup(req FetchRequest) (*Stream, error)
	Push(change Change) error
	SetOutput(out Output)
	Destroy()
	Schema() *TableSchema
}
