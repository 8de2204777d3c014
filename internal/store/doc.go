// Package store persists compiled artifacts and execution runs in SQLite.
//
// The artifact table is a content-addressed compile cache: rows are keyed
// by the source document hash, so an unchanged document never recompiles.
// PutArtifact is idempotent; concurrent writers of the same hash converge
// on one row because the stored bytes are deterministic.
//
// The run table is an append-only log of executions with their canonical
// traces, so any run can be audited or re-verified against its trace hash
// later.
package store
