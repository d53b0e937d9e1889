// Package pipeline compiles normalized query ASTs into connected operator
// graphs rooted at table sources, and manages their subscription
// lifecycle: register, fetch, attach output, receive pushes, cleanup,
// destroy. Queries with equal fingerprints share one compiled pipeline.
package pipeline

import (
	"fmt"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
	"github.com/fluxbase-eu/fluxsync/internal/ivm"
)

// Resolver maps a table name to its source. The replication layer's table
// registry implements it.
type Resolver interface {
	Source(table string) (*ivm.Source, error)
}

// Pipeline is one compiled operator graph. The graph is built when the
// first query with its fingerprint is registered and destroyed when the
// last subscriber unregisters.
type Pipeline struct {
	root        ivm.Operator
	query       *ast.Query
	fingerprint string
}

// Build compiles a query against the resolver's sources. The query is
// normalized first, so semantically equivalent inputs produce identical
// plans.
func Build(q *ast.Query, resolver Resolver) (*Pipeline, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	normalized := ast.Normalize(q)
	fingerprint, err := ast.Fingerprint(normalized)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fingerprinting query: %w", err)
	}

	root, err := buildQuery(normalized, resolver)
	if err != nil {
		return nil, err
	}
	return &Pipeline{root: root, query: normalized, fingerprint: fingerprint}, nil
}

// Fingerprint identifies the canonical query this pipeline serves.
func (p *Pipeline) Fingerprint() string {
	return p.fingerprint
}

// Query returns the normalized query.
func (p *Pipeline) Query() *ast.Query {
	return p.query
}

// Schema returns the terminal operator's output schema.
func (p *Pipeline) Schema() *ivm.TableSchema {
	return p.root.Schema()
}

// Fetch materializes the current hierarchical result. A subscriber calls
// it exactly once before attaching its output.
func (p *Pipeline) Fetch() (*ivm.Stream, error) {
	return p.root.Fetch(ivm.FetchRequest{})
}

// Cleanup mirrors the initial fetch, letting operators release the
// per-constraint state that fetch established. Required before destroy;
// without it join bookkeeping persists.
func (p *Pipeline) Cleanup() error {
	stream, err := p.root.Cleanup(ivm.FetchRequest{})
	if err != nil {
		return err
	}
	return drainDeep(stream)
}

// drainDeep iterates a stream and every relationship stream beneath it,
// so cleanup reaches nested joins.
func drainDeep(stream *ivm.Stream) error {
	for {
		n, err := stream.Next()
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		for _, rel := range n.Relationships {
			if err := drainDeep(rel); err != nil {
				return err
			}
		}
	}
}

// SetOutput attaches the terminal consumer.
func (p *Pipeline) SetOutput(out ivm.Output) {
	p.root.SetOutput(out)
}

// Destroy tears the graph down recursively, detaching from the shared
// sources.
func (p *Pipeline) Destroy() {
	p.root.Destroy()
}

func buildQuery(q *ast.Query, resolver Resolver) (ivm.Operator, error) {
	source, err := resolver.Source(q.Table)
	if err != nil {
		return nil, err
	}

	var op ivm.Operator = newSourceTap(source)

	if q.Where != nil {
		op, err = buildCondition(op, q.Where)
		if err != nil {
			return nil, err
		}
	}

	for _, rel := range q.Related {
		child, err := buildQuery(rel.Query, resolver)
		if err != nil {
			return nil, err
		}
		childSource, err := resolver.Source(rel.Query.Table)
		if err != nil {
			return nil, err
		}
		childSource.EnsureIndex(rel.ChildKey)
		source.EnsureIndex(rel.ParentKey)

		op, err = ivm.NewJoin(op, child, rel.ParentKey, rel.ChildKey, rel.Name)
		if err != nil {
			return nil, err
		}
	}

	aggs, err := convertAggregations(q.Aggregates)
	if err != nil {
		return nil, err
	}

	switch {
	case len(q.GroupBy) > 0:
		return ivm.NewGroupBy(op, q.GroupBy, aggs)
	case len(aggs) > 0:
		return ivm.NewFullAgg(op, aggs)
	default:
		return op, nil
	}
}

// buildCondition wraps an operator with the filter tree for a condition.
// Simple conditions and AND members compose sequentially; each OR expands
// into fanned-out branches merged by concat and collapsed by distinct.
func buildCondition(input ivm.Operator, cond *ast.Condition) (ivm.Operator, error) {
	if cond.Op == ast.OpOr {
		fan := ivm.NewFanout(input)
		branches := make([]ivm.Operator, 0, len(cond.Conditions))
		for _, sub := range cond.Conditions {
			branch, err := buildCondition(fan, sub)
			if err != nil {
				return nil, err
			}
			branches = append(branches, branch)
		}
		concat, err := ivm.NewConcat(branches...)
		if err != nil {
			return nil, err
		}
		return ivm.NewDistinct(concat)
	}

	if cond.Op == ast.OpAnd {
		op := input
		for _, sub := range cond.Conditions {
			var err error
			op, err = buildCondition(op, sub)
			if err != nil {
				return nil, err
			}
		}
		return op, nil
	}

	pred, err := ivm.CompilePredicate(cond, input.Schema())
	if err != nil {
		return nil, err
	}
	return ivm.NewFilter(input, pred), nil
}

func convertAggregations(aggs []ast.Aggregation) ([]ivm.Aggregation, error) {
	out := make([]ivm.Aggregation, 0, len(aggs))
	for _, a := range aggs {
		alias := a.Alias
		if alias == "" {
			alias = string(a.Aggregate)
			if a.Field != "" {
				alias += "_" + a.Field
			}
		}
		out = append(out, ivm.Aggregation{Kind: a.Aggregate, Field: a.Field, Alias: alias})
	}
	return out, nil
}
