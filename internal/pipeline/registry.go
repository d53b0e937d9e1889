package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
	"github.com/fluxbase-eu/fluxsync/internal/ivm"
	"github.com/fluxbase-eu/fluxsync/internal/observability"
)

// Registry deduplicates compiled pipelines by query fingerprint and
// refcounts subscriptions. The first registration of a fingerprint builds
// the graph; every Close of a handle that fetched runs the cleanup mirror
// of that fetch, and the last Close destroys the graph.
type Registry struct {
	resolver Resolver
	metrics  *observability.Metrics

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	pipeline  *Pipeline
	broadcast *broadcaster
	refs      int
}

// broadcaster is the terminal operator's single output; handles attach
// and detach their subscribers here.
type broadcaster struct {
	mu   sync.Mutex
	subs map[string]ivm.Output
}

func (b *broadcaster) Push(change ivm.Change) error {
	b.mu.Lock()
	outs := make([]ivm.Output, 0, len(b.subs))
	for _, o := range b.subs {
		outs = append(outs, o)
	}
	b.mu.Unlock()
	for _, o := range outs {
		if err := o.Push(change); err != nil {
			return err
		}
	}
	return nil
}

func (b *broadcaster) attach(id string, out ivm.Output) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = out
}

func (b *broadcaster) detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// NewRegistry creates a registry over the given source resolver.
func NewRegistry(resolver Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		entries:  make(map[string]*registryEntry),
	}
}

// WithMetrics attaches the engine metrics; registration, fetch and close
// movements are counted from then on.
func (r *Registry) WithMetrics(m *observability.Metrics) *Registry {
	r.metrics = m
	return r
}

// Handle is one registered query subscription.
type Handle struct {
	ID string

	registry    *Registry
	fingerprint string
	entry       *registryEntry

	fetched    bool
	subscribed bool
	closed     bool
}

// Register normalizes and fingerprints the query, reusing an existing
// pipeline when one serves the same canonical form.
func (r *Registry) Register(q *ast.Query) (*Handle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	fingerprint, err := ast.Fingerprint(q)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[fingerprint]
	if !ok {
		p, err := Build(q, r.resolver)
		if err != nil {
			return nil, err
		}
		entry = &registryEntry{
			pipeline:  p,
			broadcast: &broadcaster{subs: make(map[string]ivm.Output)},
		}
		p.SetOutput(entry.broadcast)
		r.entries[fingerprint] = entry
		if r.metrics != nil {
			r.metrics.PipelineBuilt()
		}
		log.Debug().
			Str("fingerprint", fingerprint).
			Str("table", q.Table).
			Msg("pipeline built")
	}
	entry.refs++
	if r.metrics != nil {
		r.metrics.SubscriptionOpened()
	}

	return &Handle{
		ID:          uuid.NewString(),
		registry:    r,
		fingerprint: fingerprint,
		entry:       entry,
	}, nil
}

// Pipelines reports the number of live compiled pipelines.
func (r *Registry) Pipelines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Fetch materializes the current result. Must be called exactly once per
// handle, before Subscribe; no change is delivered in between, because
// the engine's scheduling is single-threaded to quiescence.
func (h *Handle) Fetch() (*ivm.Stream, error) {
	if h.closed {
		return nil, fmt.Errorf("pipeline: fetch on closed handle")
	}
	if h.fetched {
		return nil, fmt.Errorf("pipeline: handle already fetched")
	}
	h.fetched = true
	if h.registry.metrics != nil {
		h.registry.metrics.FetchServed()
	}
	return h.entry.pipeline.Fetch()
}

// Subscribe attaches the handle's output for incremental changes.
func (h *Handle) Subscribe(out ivm.Output) error {
	if h.closed {
		return fmt.Errorf("pipeline: subscribe on closed handle")
	}
	if !h.fetched {
		return fmt.Errorf("pipeline: subscribe before fetch")
	}
	if h.subscribed {
		return fmt.Errorf("pipeline: handle already subscribed")
	}
	h.subscribed = true
	h.entry.broadcast.attach(h.ID, out)
	return nil
}

// Schema returns the pipeline's output schema.
func (h *Handle) Schema() *ivm.TableSchema {
	return h.entry.pipeline.Schema()
}

// Query returns the normalized query the handle subscribed to.
func (h *Handle) Query() *ast.Query {
	return h.entry.pipeline.Query()
}

// Close detaches the subscriber and, if the handle fetched, runs the
// cleanup mirror of that fetch. The last handle on a pipeline also
// destroys the graph.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.entry.broadcast.detach(h.ID)

	r := h.registry
	r.mu.Lock()
	h.entry.refs--
	last := h.entry.refs == 0
	if last {
		delete(r.entries, h.fingerprint)
	}
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SubscriptionClosed()
		if last {
			r.metrics.PipelineDestroyed()
		}
	}

	// Every fetch needs its own cleanup mirror, or join and distinct
	// bookkeeping taken by this handle's fetch outlives it.
	var cleanupErr error
	if h.fetched {
		cleanupErr = h.entry.pipeline.Cleanup()
	}
	if last {
		h.entry.pipeline.Destroy()
		log.Debug().
			Str("fingerprint", h.fingerprint).
			Msg("pipeline destroyed")
	}
	return cleanupErr
}
