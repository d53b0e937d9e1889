package ivm

// Stream is a lazy, synchronous, single-consumption sequence of nodes.
// Iterating a stream consumes it; callers that need the nodes more than
// once collect them first. Partial iteration is allowed: per-operator
// bookkeeping is keyed on the fetch or cleanup call that produced the
// stream, never on iteration progress.
type Stream struct {
	next     func() (*Node, error)
	done     bool
	consumed bool
}

// NewStream wraps a pull function. The function returns (nil, nil) when the
// sequence is exhausted.
func NewStream(next func() (*Node, error)) *Stream {
	return &Stream{next: next}
}

// StreamOf builds an eager stream over a fixed node slice.
func StreamOf(nodes ...*Node) *Stream {
	i := 0
	return NewStream(func() (*Node, error) {
		if i >= len(nodes) {
			return nil, nil
		}
		n := nodes[i]
		i++
		return n, nil
	})
}

// EmptyStream yields nothing.
func EmptyStream() *Stream {
	return StreamOf()
}

// Next pulls the next node. Returns (nil, nil) at the end of the sequence.
func (s *Stream) Next() (*Node, error) {
	if s.done {
		return nil, nil
	}
	s.consumed = true
	n, err := s.next()
	if err != nil {
		s.done = true
		return nil, err
	}
	if n == nil {
		s.done = true
		return nil, nil
	}
	return n, nil
}

// Collect drains the remaining sequence into a slice. Fails with
// ErrStreamConsumed if iteration already started, so a caller never
// mistakes a tail for the full sequence.
func (s *Stream) Collect() ([]*Node, error) {
	if s.consumed {
		return nil, ErrStreamConsumed
	}
	var out []*Node
	for {
		n, err := s.Next()
		if err != nil {
			return nil, err
		}
		if n == nil {
			return out, nil
		}
		out = append(out, n)
	}
}

// Drain iterates the remainder of the stream, discarding nodes. Used by
// cleanup paths that only care about the side effects of iteration.
func (s *Stream) Drain() error {
	for {
		n, err := s.Next()
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
	}
}
