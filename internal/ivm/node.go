package ivm

// RelationshipPrefix marks relationship keys in externally visible result
// maps, distinguishing them from primitive columns.
const RelationshipPrefix = "#"

// Node is the hierarchical output unit: one row plus named lazy streams of
// child nodes produced by join operators.
type Node struct {
	Row           Row
	Relationships map[string]*Stream
}

// NewNode wraps a row with no relationships.
func NewNode(row Row) *Node {
	return &Node{Row: row}
}

// WithRelationship returns a copy of the node carrying one additional named
// child stream. The original node is left untouched so operators can layer
// relationships without aliasing.
func (n *Node) WithRelationship(name string, children *Stream) *Node {
	out := &Node{
		Row:           n.Row,
		Relationships: make(map[string]*Stream, len(n.Relationships)+1),
	}
	for k, v := range n.Relationships {
		out.Relationships[k] = v
	}
	out.Relationships[name] = children
	return out
}
