// Package harness runs conformance scenarios against the full pipeline.
//
// A scenario is a YAML file naming a graph document, the entry point and
// inputs to execute, and the expected outcome: terminal status, fault
// code, emitted events, final storage, and gas bounds. The harness
// compiles the graph, executes it in a fresh in-memory host, and
// evaluates the scenario's assertions against the resulting trace.
//
// Golden trace snapshots pin the exact step sequence and gas accounting
// of a scenario. Because traces are canonical and deterministic, a golden
// mismatch means observable behavior changed, not environmental noise.
package harness
