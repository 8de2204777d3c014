// Package wasm turns canonical IR modules into deterministic WebAssembly
// binaries and defines the binary subset the execution engine understands.
//
// The emitted module uses a fixed shape: one linear memory, a data segment
// holding interned constants, env imports for gas metering and host calls,
// and one exported function per entry point. Identical IR plus an identical
// gas table always produces identical bytes.
package wasm
