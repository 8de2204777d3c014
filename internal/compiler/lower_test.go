package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// loopDoc increments nothing interesting; it writes a constant under a
// constant key on each of three iterations.
func loopDoc() *graph.Document {
	return mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("count", "Const", map[string]any{"value_kind": "number", "value": int64(3)}),
			mkNode("loop", "Loop", nil),
			mkNode("key", "Const", map[string]any{"value_kind": "string", "value": "counter"}),
			mkNode("w", "WriteStorage", map[string]any{"value_kind": "number"}),
			mkNode("end", "End", nil),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "loop", "flow_in"),
			mkEdge("count", "value", "loop", "count"),
			mkEdge("loop", "body", "w", "flow_in"),
			mkEdge("key", "value", "w", "key"),
			mkEdge("start", "x", "w", "value"),
			mkEdge("w", "flow_out", "loop", "flow_in"),
			mkEdge("loop", "done", "end", "flow_in"),
		},
	)
}

func mustLower(t *testing.T, doc *graph.Document) *ir.Module {
	t.Helper()
	v := Validate(doc, graph.Builtin())
	require.True(t, v.OK(), "problems: %v", v.Problems)
	m, err := Lower(v)
	require.NoError(t, err)
	return m
}

func ops(b ir.Block) []ir.OpCode {
	out := make([]ir.OpCode, len(b.Instrs))
	for i, in := range b.Instrs {
		out[i] = in.Op
	}
	return out
}

func TestLowerThresholdGraph(t *testing.T) {
	m := mustLower(t, thresholdDoc())

	require.Len(t, m.Funcs, 1)
	fn := m.Funcs[0]
	assert.Equal(t, "main", fn.Name)
	assert.Equal(t, []ir.Param{{Name: "x", Kind: graph.KindNumber}}, fn.Params)

	require.Len(t, fn.Blocks, 3)
	entry := fn.Blocks[0]
	assert.Equal(t, []ir.OpCode{ir.OpEntry, ir.OpParam, ir.OpConst, ir.OpBinary, ir.OpBranch}, ops(entry))
	assert.Equal(t, ir.BinGt, entry.Instrs[3].Bin)
	assert.Equal(t, []int{1, 2}, entry.Succs)

	trueArm := fn.Blocks[1]
	assert.Equal(t, []ir.OpCode{ir.OpEmitEvent, ir.OpReturn}, ops(trueArm))
	assert.Equal(t, "above", trueArm.Instrs[0].Event)
	// The event argument is the entry parameter.
	assert.Equal(t, []ir.ValueRef{{Block: 0, Index: 1}}, trueArm.Instrs[0].Args)

	falseArm := fn.Blocks[2]
	assert.Equal(t, []ir.OpCode{ir.OpReturn}, ops(falseArm))

	require.Len(t, m.Events, 1)
	assert.Equal(t, ir.EventDecl{
		Name:   "above",
		Fields: []ir.Param{{Name: "value", Kind: graph.KindNumber}},
	}, m.Events[0])
}

func TestLowerLoopGraph(t *testing.T) {
	m := mustLower(t, loopDoc())

	fn := m.Funcs[0]
	require.Len(t, fn.Blocks, 3)

	entry := fn.Blocks[0]
	require.NotEmpty(t, entry.Instrs)
	last := entry.Instrs[len(entry.Instrs)-1]
	assert.Equal(t, ir.OpLoop, last.Op)
	assert.Equal(t, []int{1, 2}, last.Succs)

	body := fn.Blocks[1]
	bodyOps := ops(body)
	assert.Contains(t, bodyOps, ir.OpStorageWrite)
	assert.Equal(t, ir.OpLoopBack, bodyOps[len(bodyOps)-1])
	assert.Equal(t, 0, body.Instrs[len(body.Instrs)-1].Target)

	done := fn.Blocks[2]
	assert.Equal(t, []ir.OpCode{ir.OpReturn}, ops(done))

	assert.Equal(t, []string{"counter"}, m.StorageKeys)
}

func TestLowerBranchesDoNotShareArmValues(t *testing.T) {
	// The Add node feeds both arms; each arm must derive its own copy since
	// neither arm dominates the other.
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("one", "Const", map[string]any{"value_kind": "number", "value": int64(1)}),
			mkNode("add", "Add", nil),
			mkNode("if", "If", map[string]any{"condition": "x > 0"}),
			mkNode("emit_t", "EmitEvent", map[string]any{
				"name":   "tick",
				"fields": []any{map[string]any{"name": "v", "kind": "number"}},
			}),
			mkNode("emit_f", "EmitEvent", map[string]any{
				"name":   "tick",
				"fields": []any{map[string]any{"name": "v", "kind": "number"}},
			}),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "if", "flow_in"),
			mkEdge("start", "x", "add", "a"),
			mkEdge("one", "value", "add", "b"),
			mkEdge("if", "true_flow", "emit_t", "flow_in"),
			mkEdge("if", "false_flow", "emit_f", "flow_in"),
			mkEdge("add", "result", "emit_t", "v"),
			mkEdge("add", "result", "emit_f", "v"),
		},
	)
	m := mustLower(t, doc)

	fn := m.Funcs[0]
	require.Len(t, fn.Blocks, 3)
	adds := 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Op == ir.OpBinary && in.Bin == ir.BinAdd {
				adds++
			}
		}
	}
	assert.Equal(t, 2, adds, "each arm lowers its own Add")
}

func TestLowerValueReusedWithinChain(t *testing.T) {
	// The same Add result feeds two writes on one chain; it lowers once.
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("one", "Const", map[string]any{"value_kind": "number", "value": int64(1)}),
			mkNode("add", "Add", nil),
			mkNode("k1", "Const", map[string]any{"value_kind": "string", "value": "a"}),
			mkNode("k2", "Const", map[string]any{"value_kind": "string", "value": "b"}),
			mkNode("w1", "WriteStorage", map[string]any{"value_kind": "number"}),
			mkNode("w2", "WriteStorage", map[string]any{"value_kind": "number"}),
			mkNode("end", "End", nil),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "w1", "flow_in"),
			mkEdge("start", "x", "add", "a"),
			mkEdge("one", "value", "add", "b"),
			mkEdge("k1", "value", "w1", "key"),
			mkEdge("add", "result", "w1", "value"),
			mkEdge("w1", "flow_out", "w2", "flow_in"),
			mkEdge("k2", "value", "w2", "key"),
			mkEdge("add", "result", "w2", "value"),
			mkEdge("w2", "flow_out", "end", "flow_in"),
		},
	)
	m := mustLower(t, doc)

	adds := 0
	for _, b := range m.Funcs[0].Blocks {
		for _, in := range b.Instrs {
			if in.Op == ir.OpBinary {
				adds++
			}
		}
	}
	assert.Equal(t, 1, adds)
	assert.Equal(t, []string{"a", "b"}, m.StorageKeys)
}

func TestLowerReadStorageSharesOneRead(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("start", "x"),
			mkNode("key", "Const", map[string]any{"value_kind": "string", "value": "balance"}),
			mkNode("read", "ReadStorage", nil),
			mkNode("if", "If", nil),
			mkNode("emit", "EmitEvent", map[string]any{
				"name":   "present",
				"fields": []any{map[string]any{"name": "raw", "kind": "bytes"}},
			}),
			mkNode("end_t", "End", nil),
			mkNode("end_f", "End", nil),
		},
		[]graph.Edge{
			mkEdge("start", "flow_out", "if", "flow_in"),
			mkEdge("key", "value", "read", "key"),
			mkEdge("read", "found", "if", "condition"),
			mkEdge("if", "true_flow", "emit", "flow_in"),
			mkEdge("read", "value", "emit", "raw"),
			mkEdge("emit", "flow_out", "end_t", "flow_in"),
			mkEdge("if", "false_flow", "end_f", "flow_in"),
		},
	)
	m := mustLower(t, doc)

	reads := 0
	for _, b := range m.Funcs[0].Blocks {
		for _, in := range b.Instrs {
			if in.Op == ir.OpStorageRead {
				reads++
			}
		}
	}
	// The read happens in the entry block for the condition. The true arm
	// cannot see the arm-scoped memo but the entry block dominates it, so
	// reuse is only guaranteed when the value was lowered before the branch.
	assert.Equal(t, 1, reads)
	assert.Equal(t, []string{"balance"}, m.StorageKeys)
}

func TestLowerDeterministic(t *testing.T) {
	doc := thresholdDoc()
	v1 := Validate(doc, graph.Builtin())
	m1, err := Lower(v1)
	require.NoError(t, err)
	v2 := Validate(doc, graph.Builtin())
	m2, err := Lower(v2)
	require.NoError(t, err)

	assert.Equal(t, m1, m2)

	h1, err := ir.ModuleHash(m1)
	require.NoError(t, err)
	h2, err := ir.ModuleHash(m2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestLowerMultipleEntryPoints(t *testing.T) {
	doc := mkDoc(
		[]graph.Node{
			startNumber("s1", "x"),
			mkNode("s2", "Start", map[string]any{
				"name":   "reset",
				"params": []any{},
			}),
			mkNode("k", "Const", map[string]any{"value_kind": "string", "value": "v"}),
			mkNode("zero", "Const", map[string]any{"value_kind": "number", "value": int64(0)}),
			mkNode("w1", "WriteStorage", map[string]any{"value_kind": "number"}),
			mkNode("w2", "WriteStorage", map[string]any{"value_kind": "number"}),
			mkNode("e1", "End", nil),
			mkNode("e2", "End", nil),
		},
		[]graph.Edge{
			mkEdge("s1", "flow_out", "w1", "flow_in"),
			mkEdge("k", "value", "w1", "key"),
			mkEdge("s1", "x", "w1", "value"),
			mkEdge("w1", "flow_out", "e1", "flow_in"),

			mkEdge("s2", "flow_out", "w2", "flow_in"),
			mkEdge("k", "value", "w2", "key"),
			mkEdge("zero", "value", "w2", "value"),
			mkEdge("w2", "flow_out", "e2", "flow_in"),
		},
	)
	m := mustLower(t, doc)

	require.Len(t, m.Funcs, 2)
	assert.Equal(t, "main", m.Funcs[0].Name)
	assert.Equal(t, "reset", m.Funcs[1].Name)
	assert.Empty(t, m.Funcs[1].Params)
	assert.Equal(t, []string{"v"}, m.StorageKeys)
}

func TestLowerEveryFunctionOpensWithEntryMarker(t *testing.T) {
	for name, doc := range map[string]*graph.Document{
		"threshold": thresholdDoc(),
		"loop":      loopDoc(),
	} {
		m := mustLower(t, doc)
		for _, fn := range m.Funcs {
			require.NotEmpty(t, fn.Blocks[0].Instrs, name)
			first := fn.Blocks[0].Instrs[0]
			assert.Equal(t, ir.OpEntry, first.Op, name)
			assert.NotEmpty(t, first.Node, name)
		}
	}
}

func TestLowerRefusesInvalidDocument(t *testing.T) {
	doc := mkDoc([]graph.Node{mkNode("end", "End", nil)}, nil)
	v := Validate(doc, graph.Builtin())
	_, err := Lower(v)
	assert.Error(t, err)
}

func TestLowerModulePassesSelfCheck(t *testing.T) {
	for name, doc := range map[string]*graph.Document{
		"threshold": thresholdDoc(),
		"loop":      loopDoc(),
	} {
		m := mustLower(t, doc)
		assert.NoError(t, m.Check(), name)
	}
}
