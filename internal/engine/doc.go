// Package engine executes compiled modules deterministically.
//
// The engine interprets the WebAssembly subset the code generator emits.
// Interpreting rather than delegating to a general runtime keeps the
// execution contract inspectable: the engine pauses between graph nodes,
// records a trace step per node, and evaluates breakpoint conditions
// against live values.
//
// Single-writer model: a Session is owned by one goroutine. All mutation
// happens through Run, StepNode, and Resume on that goroutine; Sessions are
// not safe for concurrent use. Determinism rules:
//
//   - Ordering uses the session's logical step counter, never wall clocks.
//   - Wall-clock durations are recorded on steps for display only and are
//     excluded from canonical trace serialization.
//   - Host access goes through the Host interface; the in-memory host is
//     fully deterministic. Block context (height, time, sender) is fixed
//     per session, not sampled.
//   - Gas is the only termination clock. Loops are bounded by their counter
//     and every iteration charges gas, so a gas budget bounds all runs.
package engine
