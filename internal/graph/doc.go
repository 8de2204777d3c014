// Package graph provides the in-memory graph document model and the
// node-kind schema registry.
//
// This package contains type definitions and schema lookups only. The
// compiler and engine packages import graph; graph imports nothing internal,
// keeping it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Documents are immutable snapshots: the compiler never mutates them.
//   - Canvas position/size metadata is accepted on decode and ignored.
//   - The registry is an explicit value passed into the validator and
//     generator, never a process-wide singleton, so pipelines with
//     different schemas can run concurrently in tests.
package graph
