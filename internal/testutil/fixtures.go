package testutil

import "github.com/canvas-contracts/canvas/internal/graph"

// ThresholdDoc branches on x > 100 and emits "above" with the value on
// the high path. The canonical fixture across the pipeline's tests.
func ThresholdDoc() *graph.Document {
	return NewDoc("threshold").
		Start("start", "x").
		Node("if", "If", map[string]any{"condition": "x > 100"}).
		Node("emit", "EmitEvent", map[string]any{
			"name":   "above",
			"fields": []any{map[string]any{"name": "value", "kind": "number"}},
		}).
		Node("end_t", "End", nil).
		Node("end_f", "End", nil).
		Edge("start", "flow_out", "if", "flow_in").
		Edge("if", "true_flow", "emit", "flow_in").
		Edge("start", "x", "emit", "value").
		Edge("emit", "flow_out", "end_t", "flow_in").
		Edge("if", "false_flow", "end_f", "flow_in").
		Build()
}

// CounterLoopDoc writes x under "counter" on each of three iterations.
func CounterLoopDoc() *graph.Document {
	return NewDoc("counter-loop").
		Start("start", "x").
		Node("count", "Const", map[string]any{"value_kind": "number", "value": int64(3)}).
		Node("loop", "Loop", nil).
		Node("key", "Const", map[string]any{"value_kind": "string", "value": "counter"}).
		Node("w", "WriteStorage", map[string]any{"value_kind": "number"}).
		Node("end", "End", nil).
		Edge("start", "flow_out", "loop", "flow_in").
		Edge("count", "value", "loop", "count").
		Edge("loop", "body", "w", "flow_in").
		Edge("key", "value", "w", "key").
		Edge("start", "x", "w", "value").
		Edge("w", "flow_out", "loop", "flow_in").
		Edge("loop", "done", "end", "flow_in").
		Build()
}

// SelfLoopDoc wires a node's flow output back into a plain node's input,
// which the validator must reject as a flow cycle.
func SelfLoopDoc() *graph.Document {
	return NewDoc("self-loop").
		Start("start", "x").
		Node("emit", "EmitEvent", map[string]any{"name": "tick"}).
		Node("end", "End", nil).
		Edge("start", "flow_out", "emit", "flow_in").
		Edge("emit", "flow_out", "emit", "flow_in").
		Edge("emit", "flow_out", "end", "flow_in").
		Build()
}
