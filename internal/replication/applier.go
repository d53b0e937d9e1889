package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxsync/internal/ivm"
	"github.com/fluxbase-eu/fluxsync/internal/observability"
)

// Applier routes change events into table sources. Application is
// serialized: one event is pushed through the operator graphs to
// quiescence before the next is accepted, which is what gives downstream
// operators source-order delivery.
type Applier struct {
	tables  *TableRegistry
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu sync.Mutex
}

// NewApplier creates an applier over the registry. Metrics and tracer may
// be nil.
func NewApplier(tables *TableRegistry, metrics *observability.Metrics, tracer *observability.Tracer) *Applier {
	return &Applier{tables: tables, metrics: metrics, tracer: tracer}
}

// Apply pushes one event into its source. Updates decompose into a remove
// of the old row followed by an add of the new one. Invariant violations
// abort the pipeline and are returned, never swallowed.
func (a *Applier) Apply(ctx context.Context, event *ChangeEvent) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tracer != nil {
		var end func(error)
		ctx, end = a.tracer.Span(ctx, "replication.apply", event.QualifiedTable(), event.Type)
		defer func() { end(err) }()
	}

	source, err := a.tables.Source(event.QualifiedTable())
	if err != nil {
		return err
	}

	switch event.Type {
	case EventInsert:
		if event.Record == nil {
			return fmt.Errorf("replication: INSERT without record on %s", event.QualifiedTable())
		}
		err = source.Push(ivm.AddChange(ivm.NewNode(ivm.NormalizeRow(event.Record))))

	case EventDelete:
		record := event.OldRecord
		if record == nil {
			record = event.Record
		}
		if record == nil {
			return fmt.Errorf("replication: DELETE without record on %s", event.QualifiedTable())
		}
		err = source.Push(ivm.RemoveChange(ivm.NewNode(ivm.NormalizeRow(record))))

	case EventUpdate:
		if event.Record == nil {
			return fmt.Errorf("replication: UPDATE without record on %s", event.QualifiedTable())
		}
		old := event.OldRecord
		if old == nil {
			// Without the old image the primary key must be unchanged;
			// removal is keyed by it.
			old = event.Record
		}
		if err = source.Push(ivm.RemoveChange(ivm.NewNode(ivm.NormalizeRow(old)))); err == nil {
			err = source.Push(ivm.AddChange(ivm.NewNode(ivm.NormalizeRow(event.Record))))
		}

	default:
		return fmt.Errorf("replication: unknown event type %q", event.Type)
	}

	if err != nil {
		if a.metrics != nil {
			a.metrics.ApplyError(event.QualifiedTable())
		}
		if ivm.IsInvariantError(err) {
			log.Error().
				Err(err).
				Str("table", event.QualifiedTable()).
				Str("type", event.Type).
				Msg("Invariant violation while applying change")
		}
		return err
	}

	if a.metrics != nil {
		a.metrics.ChangeApplied(event.QualifiedTable(), event.Type)
	}
	return nil
}
