package ivm

// FanoutOp is the explicit sharing point that lets several OR branches
// read one upstream operator without violating the single-output rule:
// the upstream's one output is the fanout, and the fanout forwards every
// push to each branch in attachment order. Fetches pass straight through,
// so each branch pulls its own fresh stream from the upstream.
type FanoutOp struct {
	input    Operator
	branches []Output
}

// NewFanout wraps an input for branched consumption.
func NewFanout(input Operator) *FanoutOp {
	f := &FanoutOp{input: input}
	input.SetOutput(f)
	return f
}

// Schema implements Operator.
func (f *FanoutOp) Schema() *TableSchema {
	return f.input.Schema()
}

// Fetch implements Operator; every branch's fetch reaches the shared
// upstream independently.
func (f *FanoutOp) Fetch(req FetchRequest) (*Stream, error) {
	return f.input.Fetch(req)
}

// Cleanup implements Operator.
func (f *FanoutOp) Cleanup(req FetchRequest) (*Stream, error) {
	return f.input.Cleanup(req)
}

// Push implements Output for the upstream, replicating the change to every
// branch.
func (f *FanoutOp) Push(change Change) error {
	for _, b := range f.branches {
		if err := b.Push(change); err != nil {
			return err
		}
	}
	return nil
}

// SetOutput attaches one more branch. Unlike ordinary operators a fanout
// accepts several outputs; that is its purpose.
func (f *FanoutOp) SetOutput(out Output) {
	f.branches = append(f.branches, out)
}

// Destroy implements Operator. The fanout cascades exactly once no matter
// how many branches tear down above it.
func (f *FanoutOp) Destroy() {
	if f.branches == nil {
		return
	}
	f.branches = nil
	f.input.Destroy()
}
