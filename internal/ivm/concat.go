package ivm

// ConcatOp yields the union of its input streams in input order and
// forwards pushes from any input. It is the merge half of OR expansion;
// Distinct downstream collapses the duplicates.
type ConcatOp struct {
	inputs []Operator
	out    Output
}

// NewConcat merges the given inputs. All inputs must share a schema; the
// first input's schema stands for the output.
func NewConcat(inputs ...Operator) (*ConcatOp, error) {
	if len(inputs) == 0 {
		return nil, NewConfigError("concat requires at least one input")
	}
	c := &ConcatOp{inputs: inputs}
	for _, in := range inputs {
		in.SetOutput(c)
	}
	return c, nil
}

// Schema implements Operator.
func (c *ConcatOp) Schema() *TableSchema {
	return c.inputs[0].Schema()
}

// Fetch implements Operator, chaining the input sequences in input order.
func (c *ConcatOp) Fetch(req FetchRequest) (*Stream, error) {
	return c.pull(req, false)
}

// Cleanup implements Operator with the identical sequence.
func (c *ConcatOp) Cleanup(req FetchRequest) (*Stream, error) {
	return c.pull(req, true)
}

func (c *ConcatOp) pull(req FetchRequest, cleanup bool) (*Stream, error) {
	i := 0
	var current *Stream
	return NewStream(func() (*Node, error) {
		for {
			if current == nil {
				if i >= len(c.inputs) {
					return nil, nil
				}
				var err error
				if cleanup {
					current, err = c.inputs[i].Cleanup(req)
				} else {
					current, err = c.inputs[i].Fetch(req)
				}
				if err != nil {
					return nil, err
				}
				i++
			}
			n, err := current.Next()
			if err != nil {
				return nil, err
			}
			if n != nil {
				return n, nil
			}
			current = nil
		}
	}), nil
}

// Push implements Output for every input.
func (c *ConcatOp) Push(change Change) error {
	if c.out == nil {
		return nil
	}
	return c.out.Push(change)
}

// SetOutput implements Operator.
func (c *ConcatOp) SetOutput(out Output) {
	c.out = out
}

// Destroy implements Operator, cascading to every input.
func (c *ConcatOp) Destroy() {
	c.out = nil
	for _, in := range c.inputs {
		in.Destroy()
	}
}
