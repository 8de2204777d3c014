package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/compiler"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "canvas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// compiled returns a deterministic artifact plus its document hash.
func compiled(t *testing.T) (string, *wasm.Artifact) {
	t.Helper()
	doc := &graph.Document{
		Name: "threshold",
		Nodes: []graph.Node{
			{ID: "start", Kind: "Start", Properties: map[string]any{
				"params": []any{map[string]any{"name": "x", "kind": "number"}},
			}},
			{ID: "if", Kind: "If", Properties: map[string]any{"condition": "x > 100"}},
			{ID: "emit", Kind: "EmitEvent", Properties: map[string]any{
				"name":   "above",
				"fields": []any{map[string]any{"name": "value", "kind": "number"}},
			}},
			{ID: "end_t", Kind: "End"},
			{ID: "end_f", Kind: "End"},
		},
		Edges: []graph.Edge{
			{SourceNode: "start", SourcePort: "flow_out", TargetNode: "if", TargetPort: "flow_in"},
			{SourceNode: "if", SourcePort: "true_flow", TargetNode: "emit", TargetPort: "flow_in"},
			{SourceNode: "start", SourcePort: "x", TargetNode: "emit", TargetPort: "value"},
			{SourceNode: "emit", SourcePort: "flow_out", TargetNode: "end_t", TargetPort: "flow_in"},
			{SourceNode: "if", SourcePort: "false_flow", TargetNode: "end_f", TargetPort: "flow_in"},
		},
	}
	hash, err := ir.DocumentHash(doc)
	require.NoError(t, err)

	v := compiler.Validate(doc, graph.Builtin())
	require.True(t, v.OK(), "problems: %v", v.Problems)
	m, err := compiler.Lower(v)
	require.NoError(t, err)
	gen, err := wasm.NewGenerator()
	require.NoError(t, err)
	art, err := gen.Generate(m)
	require.NoError(t, err)
	return hash, art
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestArtifactRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	hash, art := compiled(t)

	require.NoError(t, s.PutArtifact(ctx, hash, art))

	got, found, err := s.GetArtifact(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, art.Code, got.Code)
	assert.Equal(t, art.Hash, got.Hash)
	assert.Equal(t, art.ABI, got.ABI)
	assert.Equal(t, art.Map, got.Map)
}

func TestArtifactMissing(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetArtifact(context.Background(), "no-such-hash")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutArtifactIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	hash, art := compiled(t)

	require.NoError(t, s.PutArtifact(ctx, hash, art))
	require.NoError(t, s.PutArtifact(ctx, hash, art))

	n, err := s.ArtifactCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The cache hit must return the bytes written first.
	got, found, err := s.GetArtifact(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, art.Code, got.Code)
}

func TestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	hash, art := compiled(t)
	require.NoError(t, s.PutArtifact(ctx, hash, art))

	run := Run{
		ID:        uuid.NewString(),
		GraphHash: hash,
		Entry:     "main",
		Status:    RunFinished,
		GasUsed:   64,
		TraceHash: "abc123",
		Trace:     []byte(`{"steps":[]}`),
	}
	require.NoError(t, s.RecordRun(ctx, run))
	// Idempotent on id.
	require.NoError(t, s.RecordRun(ctx, run))

	got, found, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, run, *got)

	runs, err := s.ListRuns(ctx, hash)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestRunOrderingAndFaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	hash, art := compiled(t)
	require.NoError(t, s.PutArtifact(ctx, hash, art))

	first := Run{
		ID: uuid.NewString(), GraphHash: hash, Entry: "main",
		Status: RunFinished, GasUsed: 64, TraceHash: "t1", Trace: []byte(`{}`),
	}
	second := Run{
		ID: uuid.NewString(), GraphHash: hash, Entry: "main",
		Status: RunFaulted, GasUsed: 4, FaultCode: "OUT_OF_GAS",
		TraceHash: "t2", Trace: []byte(`{}`),
	}
	require.NoError(t, s.RecordRun(ctx, first))
	require.NoError(t, s.RecordRun(ctx, second))

	runs, err := s.ListRuns(ctx, hash)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)
	assert.Equal(t, "OUT_OF_GAS", runs[1].FaultCode)
}

func TestRunRequiresArtifact(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordRun(context.Background(), Run{
		ID: uuid.NewString(), GraphHash: "unknown", Entry: "main",
		Status: RunFinished, TraceHash: "t", Trace: []byte(`{}`),
	})
	assert.Error(t, err)
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}
