// Package compiler implements the graph validator and the IR builder.
//
// Validate runs structural and semantic checks over an immutable graph
// document and reports every finding as a structured Problem; it never
// fails on graph content. Lower turns a zero-error Validated graph into an
// ir.Module and is total for such inputs - any Lower failure is an internal
// pipeline bug, not a user error.
//
// Check ordering is cheapest-first: port existence and direction, then
// type compatibility, then required-input coverage, then flow-cycle
// detection, then reachability and component analysis.
package compiler
