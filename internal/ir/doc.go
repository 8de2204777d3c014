// Package ir provides the block-structured intermediate representation that
// bridges validated graph documents and generated binary modules.
//
// The package holds type definitions, the sealed runtime value types, and
// the canonical serialization used for content addressing. The compiler
// lowers into ir; the wasm generator consumes it; neither mutates a module
// after construction.
//
// Key design constraints:
//   - NO float types anywhere - numbers are int64 for determinism
//   - Value references are (block, instruction) indices, never pointers
//   - Single assignment: each instruction defines at most one value, and
//     every reference resolves to an earlier instruction in the same or a
//     dominating block
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only
//     serialization used for hashing
package ir
