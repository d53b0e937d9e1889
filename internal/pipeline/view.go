package pipeline

import (
	"sort"
	"sync"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
	"github.com/fluxbase-eu/fluxsync/internal/ivm"
)

// View is a subscriber that keeps a materialized copy of a registered
// query's result. The streaming core emits unordered differential
// changes; the view is where the query's projection, ordering and limit
// are applied, per level of the hierarchy.
type View struct {
	handle *Handle

	mu    sync.Mutex
	roots []*matNode
}

// matNode is one materialized result node with its realized children.
type matNode struct {
	row      ivm.Row
	children map[string][]*matNode
}

// NewView wraps a handle. Init must run before the view serves rows.
func NewView(handle *Handle) *View {
	return &View{handle: handle}
}

// Init performs the one-time fetch, materializes the hierarchy, then
// attaches the view for pushes. The engine is single-threaded to
// quiescence, so no change can slip between the two steps.
func (v *View) Init() error {
	stream, err := v.handle.Fetch()
	if err != nil {
		return err
	}
	roots, err := materialize(stream)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.roots = roots
	v.mu.Unlock()
	return v.handle.Subscribe(v)
}

func materialize(stream *ivm.Stream) ([]*matNode, error) {
	var out []*matNode
	for {
		n, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if n == nil {
			return out, nil
		}
		m, err := materializeNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
}

func materializeNode(n *ivm.Node) (*matNode, error) {
	m := &matNode{row: n.Row}
	if len(n.Relationships) > 0 {
		m.children = make(map[string][]*matNode, len(n.Relationships))
		for name, stream := range n.Relationships {
			children, err := materialize(stream)
			if err != nil {
				return nil, err
			}
			m.children[name] = children
		}
	}
	return m, nil
}

// Push implements ivm.Output, applying one differential change to the
// materialized state.
func (v *View) Push(change ivm.Change) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	roots, err := applyChange(v.roots, v.handle.Schema(), change)
	if err != nil {
		return err
	}
	v.roots = roots
	return nil
}

func nodeKey(schema *ivm.TableSchema, row ivm.Row) (string, error) {
	if len(schema.PrimaryKey) == 0 {
		// Synthetic single-row levels (full-table aggregates).
		return "", nil
	}
	return schema.RowKey(row)
}

func applyChange(nodes []*matNode, schema *ivm.TableSchema, change ivm.Change) ([]*matNode, error) {
	switch change.Kind {
	case ivm.ChangeAdd:
		m, err := materializeNode(change.Node)
		if err != nil {
			return nil, err
		}
		return append(nodes, m), nil

	case ivm.ChangeRemove:
		key, err := nodeKey(schema, change.Node.Row)
		if err != nil {
			return nil, err
		}
		for i, m := range nodes {
			k, err := nodeKey(schema, m.row)
			if err != nil {
				return nil, err
			}
			if k == key {
				return append(nodes[:i], nodes[i+1:]...), nil
			}
		}
		return nil, &ivm.InvariantError{Op: "view", Reason: "remove of absent row"}

	default:
		key, err := nodeKey(schema, change.Row)
		if err != nil {
			return nil, err
		}
		for _, m := range nodes {
			k, err := nodeKey(schema, m.row)
			if err != nil {
				return nil, err
			}
			if k != key {
				continue
			}
			rel := change.Child.Relationship
			childSchema, ok := schema.Relationships[rel]
			if !ok {
				return nil, &ivm.InvariantError{Op: "view", Reason: "child change for unknown relationship " + rel}
			}
			if m.children == nil {
				m.children = make(map[string][]*matNode)
			}
			updated, err := applyChange(m.children[rel], childSchema, *change.Child.Change)
			if err != nil {
				return nil, err
			}
			m.children[rel] = updated
			return nodes, nil
		}
		return nil, &ivm.InvariantError{Op: "view", Reason: "child change for absent parent row"}
	}
}

// Rows renders the current result with projection, ordering and limit
// applied at every level. Relationship entries carry the external
// # prefix.
func (v *View) Rows() []map[string]interface{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return render(v.roots, v.handle.Query(), v.handle.Schema())
}

// Len reports the number of top-level rows before the limit.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.roots)
}

// Close detaches the subscriber and releases its share of the pipeline.
func (v *View) Close() error {
	return v.handle.Close()
}

func render(nodes []*matNode, query *ast.Query, schema *ivm.TableSchema) []map[string]interface{} {
	ordered := append([]*matNode(nil), nodes...)
	if query != nil && len(query.OrderBy) > 0 {
		sort.SliceStable(ordered, func(i, j int) bool {
			return compareRows(ordered[i].row, ordered[j].row, query.OrderBy) < 0
		})
	}
	if query != nil && query.Limit != nil && len(ordered) > *query.Limit {
		ordered = ordered[:*query.Limit]
	}

	out := make([]map[string]interface{}, 0, len(ordered))
	for _, m := range ordered {
		rendered := project(m.row, query)
		relNames := make([]string, 0, len(m.children))
		for name := range m.children {
			relNames = append(relNames, name)
		}
		sort.Strings(relNames)
		for _, name := range relNames {
			childQuery := relatedQuery(query, name)
			childSchema := schema.Relationships[name]
			rendered[ivm.RelationshipPrefix+name] = render(m.children[name], childQuery, childSchema)
		}
		out = append(out, rendered)
	}
	return out
}

func relatedQuery(query *ast.Query, name string) *ast.Query {
	if query == nil {
		return nil
	}
	for _, r := range query.Related {
		if r.Name == name {
			return r.Query
		}
	}
	return nil
}

func project(row ivm.Row, query *ast.Query) map[string]interface{} {
	if query == nil || len(query.Select) == 0 {
		out := make(map[string]interface{}, len(row))
		for k, val := range row {
			out[k] = val
		}
		return out
	}
	out := make(map[string]interface{}, len(query.Select))
	for _, sel := range query.Select {
		name := sel.Alias
		if name == "" {
			name = sel.Selector
		}
		out[name] = row[sel.Selector]
	}
	return out
}

func compareRows(a, b ivm.Row, orderBy []ast.Ordering) int {
	for _, o := range orderBy {
		cmp := ivm.CompareValues(a[o.Field], b[o.Field])
		if cmp == 0 {
			continue
		}
		if o.Desc {
			return -cmp
		}
		return cmp
	}
	return 0
}
