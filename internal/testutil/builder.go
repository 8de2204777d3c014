// Package testutil provides deterministic graph fixtures shared by
// package tests across the pipeline.
package testutil

import (
	"testing"

	"github.com/canvas-contracts/canvas/internal/compiler"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

// DocBuilder assembles a graph document incrementally. Nodes and edges
// keep insertion order, so a builder run twice yields an identical
// document hash.
type DocBuilder struct {
	doc graph.Document
}

// NewDoc starts a document with the given name.
func NewDoc(name string) *DocBuilder {
	return &DocBuilder{doc: graph.Document{Name: name}}
}

// Node appends a node.
func (b *DocBuilder) Node(id, kind string, props map[string]any) *DocBuilder {
	b.doc.Nodes = append(b.doc.Nodes, graph.Node{
		ID: graph.NodeID(id), Kind: kind, Properties: props,
	})
	return b
}

// Start appends an entry node with number parameters, in order.
func (b *DocBuilder) Start(id string, params ...string) *DocBuilder {
	list := make([]any, len(params))
	for i, p := range params {
		list[i] = map[string]any{"name": p, "kind": "number"}
	}
	props := map[string]any{}
	if len(list) > 0 {
		props["params"] = list
	}
	return b.Node(id, "Start", props)
}

// Edge appends a connection.
func (b *DocBuilder) Edge(sourceNode, sourcePort, targetNode, targetPort string) *DocBuilder {
	b.doc.Edges = append(b.doc.Edges, graph.Edge{
		SourceNode: graph.NodeID(sourceNode), SourcePort: sourcePort,
		TargetNode: graph.NodeID(targetNode), TargetPort: targetPort,
	})
	return b
}

// Build returns the assembled document.
func (b *DocBuilder) Build() *graph.Document {
	return &b.doc
}

// Compile runs the full pipeline on a document and fails the test on any
// problem. Used by tests that need a real artifact but are not probing
// the compiler itself.
func Compile(t *testing.T, doc *graph.Document) *wasm.Artifact {
	t.Helper()
	v := compiler.Validate(doc, graph.Builtin())
	if !v.OK() {
		t.Fatalf("document %q does not validate: %v", doc.Name, v.Problems)
	}
	m, err := compiler.Lower(v)
	if err != nil {
		t.Fatalf("lower %q: %v", doc.Name, err)
	}
	gen, err := wasm.NewGenerator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	art, err := gen.Generate(m)
	if err != nil {
		t.Fatalf("generate %q: %v", doc.Name, err)
	}
	return art
}

// MustHash returns the document's content hash.
func MustHash(t *testing.T, doc *graph.Document) string {
	t.Helper()
	h, err := ir.DocumentHash(doc)
	if err != nil {
		t.Fatalf("hash %q: %v", doc.Name, err)
	}
	return h
}
