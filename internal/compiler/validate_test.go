package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/graph"
)

func mkNode(id, kind string, props map[string]any) graph.Node {
	return graph.Node{ID: graph.NodeID(id), Kind: kind, Properties: props}
}

func mkEdge(sn, sp, tn, tp string) graph.Edge {
	return graph.Edge{
		SourceNode: graph.NodeID(sn), SourcePort: sp,
		TargetNode: graph.NodeID(tn), TargetPort: tp,
	}
}

func mkDoc(nodes []graph.Node, edges []graph.Edge) *graph.Document {
	return &graph.Document{Name: "test", Nodes: nodes, Edges: edges}
}

func startNumber(id, param string) graph.Node {
	return mkNode(id, "Start", map[string]any{
		"params": []any{map[string]any{"name": param, "kind": "number"}},
	})
}

// thresholdDoc is the canonical branching fixture: one number parameter x,
// branch on x > 100, emit an event on the high path.
func thresholdDoc() *graph.Document {
	return mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("if", "If", map[string]any{"condition": "x > 100"}),
			mkNode("emit", "EmitEvent", map[string]any{
				"name":   "above",
				"fields": []any{map[string]any{"name": "value", "kind": "number"}},
			}),
			mkNode("end_t", "End", nil),
			mkNode("end_f", "End", nil),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "if", "flow_in"),
			mkEdge("if", "true_flow", "emit", "flow_in"),
			mkEdge("start", "x", "emit", "value"),
			mkEdge("emit", "flow_out", "end_t", "flow_in"),
			mkEdge("if", "false_flow", "end_f", "flow_in"),
		},
	)
}

func codes(v *Validated) []string {
	var out []string
	for _, p := range v.Problems {
		out = append(out, p.Code)
	}
	return out
}

func TestValidateCleanGraph(t *testing.T) {
	v := Validate(thresholdDoc(), graph.Builtin())
	require.True(t, v.OK(), "problems: %v", v.Problems)
	assert.Empty(t, v.Problems)
	assert.Equal(t, []graph.NodeID{"start"}, v.Entries)
	assert.Empty(t, v.Unreachable)
}

func TestValidateUnknownKind(t *testing.T) {
	doc := mkDoc([]graph.Node{
		startNumber("start", "x"),
		mkNode("bogus", "Frobnicate", nil),
	}, nil)
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrUnknownKind)
	assert.False(t, v.OK())
}

func TestValidateMissingInput(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("add", "Add", nil),
			mkNode("emit", "EmitEvent", map[string]any{
				"name":   "sum",
				"fields": []any{map[string]any{"name": "v", "kind": "number"}},
			}),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "emit", "flow_in"),
			mkEdge("start", "x", "add", "a"),
			// add.b left unwired
			mkEdge("add", "result", "emit", "v"),
		},
	)
	v := Validate(doc, graph.Builtin())
	require.False(t, v.OK())
	found := false
	for _, p := range v.Problems {
		if p.Code == ErrMissingInput && p.Node == "add" && p.Port == "b" {
			found = true
		}
	}
	assert.True(t, found, "problems: %v", v.Problems)
}

func TestValidateMultipleDrivers(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("c", "Const", map[string]any{"value_kind": "number", "value": int64(1)}),
			mkNode("add", "Add", nil),
		},
		[]graph.Edge{
			mkEdge("start", "x", "add", "a"),
			mkEdge("c", "value", "add", "a"),
			mkEdge("c", "value", "add", "b"),
		},
	)
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrMultipleDrivers)
}

func TestValidateTypeMismatch(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("c", "Const", map[string]any{"value_kind": "boolean", "value": true}),
			mkNode("add", "Add", nil),
		},
		[]graph.Edge{
			mkEdge("start", "x", "add", "a"),
			mkEdge("c", "value", "add", "b"),
		},
	)
	v := Validate(doc, graph.Builtin())
	var hit *Problem
	for i, p := range v.Problems {
		if p.Code == ErrTypeMismatch {
			hit = &v.Problems[i]
		}
	}
	require.NotNil(t, hit, "problems: %v", v.Problems)
	assert.Equal(t, graph.KindNumber, hit.Expected)
	assert.Equal(t, graph.KindBoolean, hit.Actual)
}

func TestValidateFlowToData(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("add", "Add", nil),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "add", "a"),
		},
	)
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrFlowToData)
}

func TestValidateBadPortNames(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("end", "End", nil),
		},
		[]graph.Edge{
			mkEdge("start", "no_such_port", "end", "flow_in"),
			mkEdge("start", "flow_out", "end", "flow_in"),
			mkEdge("start", "flow_out", "ghost", "flow_in"),
		},
	)
	v := Validate(doc, graph.Builtin())
	n := 0
	for _, p := range v.Problems {
		if p.Code == ErrInvalidPort {
			n++
		}
	}
	assert.Equal(t, 2, n, "problems: %v", v.Problems)
}

func TestValidateSelfLoopCycle(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("c", "Const", map[string]any{"value_kind": "string", "value": "k"}),
			mkNode("cv", "Const", map[string]any{"value_kind": "string", "value": "v"}),
			mkNode("w", "WriteStorage", nil),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "w", "flow_in"),
			mkEdge("c", "value", "w", "key"),
			mkEdge("cv", "value", "w", "value"),
			mkEdge("w", "flow_out", "w", "flow_in"),
		},
	)
	v := Validate(doc, graph.Builtin())
	// The self edge is both a second driver and a cycle.
	assert.Contains(t, codes(v), ErrFlowCycle)
}

func TestValidateLoopBackEdgeAllowed(t *testing.T) {
	v := Validate(loopDoc(), graph.Builtin())
	require.True(t, v.OK(), "problems: %v", v.Problems)
	assert.NotContains(t, codes(v), ErrFlowCycle)
}

func TestValidateNoEntryPoint(t *testing.T) {
	doc := mkDoc([]graph.Node{mkNode("end", "End", nil)}, nil)
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrNoEntryPoint)
}

func TestValidateConditionBothSources(t *testing.T) {
	doc := thresholdDoc()
	doc.Nodes = append(doc.Nodes,
		mkNode("c", "Const", map[string]any{"value_kind": "boolean", "value": true}))
	doc.Edges = append(doc.Edges, mkEdge("c", "value", "if", "condition"))
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrBadProperty)
}

func TestValidateConditionNotBoolean(t *testing.T) {
	doc := thresholdDoc()
	doc.Nodes[1].Properties["condition"] = "x"
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrConditionType)
}

func TestValidateConditionUnknownVariable(t *testing.T) {
	doc := thresholdDoc()
	doc.Nodes[1].Properties["condition"] = "y > 100"
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrConditionType)
}

func TestValidateUnreachableWarning(t *testing.T) {
	doc := thresholdDoc()
	doc.Nodes = append(doc.Nodes,
		mkNode("dead", "Const", map[string]any{"value_kind": "number", "value": int64(7)}))
	v := Validate(doc, graph.Builtin())
	require.True(t, v.OK(), "warnings must not block: %v", v.Problems)
	assert.Contains(t, codes(v), WarnUnreachable)
	assert.Equal(t, []graph.NodeID{"dead"}, v.Unreachable)
}

func TestValidateSplitEntryComponents(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("s1", "x"),
			mkNode("e1", "End", nil),
			mkNode("s2", "Start", map[string]any{"name": "other"}),
			mkNode("e2", "End", nil),
		},
		[]graph.Edge{
			mkEdge("s1", "flow_out", "e1", "flow_in"),
			mkEdge("s2", "flow_out", "e2", "flow_in"),
		},
	)
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrMultipleEntryComponents)
}

func TestValidateDuplicateEntryNames(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("s1", "x"),
			startNumber("s2", "y"),
			mkNode("e1", "End", nil),
			mkNode("e2", "End", nil),
		},
		[]graph.Edge{
			mkEdge("s1", "flow_out", "e1", "flow_in"),
			mkEdge("s2", "flow_out", "e2", "flow_in"),
			// Keeps both entries in one component.
			mkEdge("s1", "x", "e2", "flow_in"),
		},
	)
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrBadProperty)
}

func TestValidateEventFieldMismatch(t *testing.T) {
	doc := thresholdDoc()
	doc.Nodes = append(doc.Nodes, mkNode("emit2", "EmitEvent", map[string]any{
		"name": "above",
	}))
	// Route the false path through the second emitter.
	doc.Edges[4] = mkEdge("if", "false_flow", "emit2", "flow_in")
	doc.Edges = append(doc.Edges,
		mkEdge("emit2", "flow_out", "end_f", "flow_in"))
	v := Validate(doc, graph.Builtin())
	assert.Contains(t, codes(v), ErrBadProperty)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			mkNode("bogus", "Frobnicate", nil),
			mkNode("add", "Add", nil),
		},
		nil,
	)
	v := Validate(doc, graph.Builtin())
	got := codes(v)
	assert.Contains(t, got, ErrUnknownKind)
	assert.Contains(t, got, ErrMissingInput)
	assert.Contains(t, got, ErrNoEntryPoint)
}
