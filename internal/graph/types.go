package graph

// NodeID identifies a node within a document. Documents produced by the
// editor use UUID strings; tests may use any non-empty string.
type NodeID string

// ValueKind is the type of value a port carries.
//
// Flow is a control dependency, not data: flow ports form a separate edge
// namespace and only ever connect to other flow ports.
type ValueKind string

const (
	KindFlow    ValueKind = "flow"
	KindBoolean ValueKind = "boolean"
	KindNumber  ValueKind = "number" // always int64, never float
	KindString  ValueKind = "string"
	KindBytes   ValueKind = "bytes"
)

// Compatible reports whether a value of kind k may drive a port of kind
// other. Flow connects only to Flow; data kinds must match exactly.
func (k ValueKind) Compatible(other ValueKind) bool {
	return k == other
}

// IsData reports whether the kind carries data (anything but Flow).
func (k ValueKind) IsData() bool {
	return k != KindFlow
}

// Node is one operation in the document.
//
// Properties is the node's configuration bag (condition expressions,
// constant values, storage keys). Values are restricted to the JSON scalar
// and container types produced by the document decoder.
type Node struct {
	ID         NodeID         `json:"id"`
	Kind       string         `json:"kind"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Prop returns a string property, or "" when absent or not a string.
func (n *Node) Prop(key string) string {
	s, _ := n.Properties[key].(string)
	return s
}

// Edge connects an output port to an input port.
type Edge struct {
	SourceNode NodeID `json:"source_node"`
	SourcePort string `json:"source_port"`
	TargetNode NodeID `json:"target_node"`
	TargetPort string `json:"target_port"`
}

// Document is an immutable snapshot of the author's graph, handed to the
// pipeline per compilation request.
type Document struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (d *Document) NodeByID(id NodeID) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// InEdges returns every edge targeting the given node, in document order.
func (d *Document) InEdges(id NodeID) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.TargetNode == id {
			out = append(out, e)
		}
	}
	return out
}

// OutEdges returns every edge originating at the given node, in document
// order.
func (d *Document) OutEdges(id NodeID) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.SourceNode == id {
			out = append(out, e)
		}
	}
	return out
}
