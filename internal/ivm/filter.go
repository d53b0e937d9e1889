package ivm

// FilterOp passes through the nodes and changes that satisfy a compiled
// predicate. It keeps no state: add and remove test the node's own row,
// child changes test the parent row, so a parent inside the filtered set
// always sees its nested changes and one outside it never does.
type FilterOp struct {
	input Operator
	pred  Predicate
	out   Output
}

// NewFilter wraps an input operator with a predicate.
func NewFilter(input Operator, pred Predicate) *FilterOp {
	f := &FilterOp{input: input, pred: pred}
	input.SetOutput(f)
	return f
}

// Schema implements Operator; filtering does not reshape rows.
func (f *FilterOp) Schema() *TableSchema {
	return f.input.Schema()
}

// Fetch implements Operator.
func (f *FilterOp) Fetch(req FetchRequest) (*Stream, error) {
	in, err := f.input.Fetch(req)
	if err != nil {
		return nil, err
	}
	return f.filtered(in), nil
}

// Cleanup implements Operator, yielding the same sequence as Fetch.
func (f *FilterOp) Cleanup(req FetchRequest) (*Stream, error) {
	in, err := f.input.Cleanup(req)
	if err != nil {
		return nil, err
	}
	return f.filtered(in), nil
}

func (f *FilterOp) filtered(in *Stream) *Stream {
	return NewStream(func() (*Node, error) {
		for {
			n, err := in.Next()
			if err != nil || n == nil {
				return nil, err
			}
			if f.pred(n.Row) {
				return n, nil
			}
		}
	})
}

// Push implements Output for the upstream operator.
func (f *FilterOp) Push(change Change) error {
	if !f.pred(change.TargetRow()) {
		return nil
	}
	if f.out == nil {
		return nil
	}
	return f.out.Push(change)
}

// SetOutput implements Operator.
func (f *FilterOp) SetOutput(out Output) {
	f.out = out
}

// Destroy implements Operator.
func (f *FilterOp) Destroy() {
	f.out = nil
	f.input.Destroy()
}
