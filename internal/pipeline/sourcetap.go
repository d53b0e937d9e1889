package pipeline

import (
	"github.com/fluxbase-eu/fluxsync/internal/ivm"
)

// sourceTap is the seam between a long-lived shared source and one
// pipeline's operator graph. Sources outlive pipelines, so the cascade of
// Destroy stops here: destroying the tap detaches it from the source
// instead of tearing the source down.
type sourceTap struct {
	source *ivm.Source
	out    ivm.Output
}

func newSourceTap(source *ivm.Source) *sourceTap {
	t := &sourceTap{source: source}
	source.AddOutput(t)
	return t
}

func (t *sourceTap) Schema() *ivm.TableSchema {
	return t.source.Schema()
}

func (t *sourceTap) Fetch(req ivm.FetchRequest) (*ivm.Stream, error) {
	return t.source.Fetch(req)
}

func (t *sourceTap) Cleanup(req ivm.FetchRequest) (*ivm.Stream, error) {
	return t.source.Cleanup(req)
}

func (t *sourceTap) Push(change ivm.Change) error {
	if t.out == nil {
		return nil
	}
	return t.out.Push(change)
}

func (t *sourceTap) SetOutput(out ivm.Output) {
	t.out = out
}

func (t *sourceTap) Destroy() {
	t.out = nil
	t.source.RemoveOutput(t)
}
