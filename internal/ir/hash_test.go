package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/graph"
)

func sampleDoc() *graph.Document {
	return &graph.Document{
		Name: "sample",
		Nodes: []graph.Node{
			{ID: "start", Kind: "Start", Properties: map[string]any{
				"params": []any{map[string]any{"name": "x", "kind": "number"}},
			}},
			{ID: "end", Kind: "End"},
		},
		Edges: []graph.Edge{
			{SourceNode: "start", SourcePort: "flow_out", TargetNode: "end", TargetPort: "flow_in"},
		},
	}
}

func TestDocumentHashIsStable(t *testing.T) {
	h1, err := DocumentHash(sampleDoc())
	require.NoError(t, err)
	h2, err := DocumentHash(sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestDocumentHashIgnoresDocumentID(t *testing.T) {
	a := sampleDoc()
	b := sampleDoc()
	b.ID = "editor-session-42"

	ha, err := DocumentHash(a)
	require.NoError(t, err)
	hb, err := DocumentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestDocumentHashSeesSemanticChanges(t *testing.T) {
	base, err := DocumentHash(sampleDoc())
	require.NoError(t, err)

	renamed := sampleDoc()
	renamed.Name = "other"
	h, err := DocumentHash(renamed)
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	reProp := sampleDoc()
	reProp.Nodes[0].Properties["params"].([]any)[0].(map[string]any)["name"] = "y"
	h, err = DocumentHash(reProp)
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	rewired := sampleDoc()
	rewired.Edges[0].TargetPort = "other_port"
	h, err = DocumentHash(rewired)
	require.NoError(t, err)
	assert.NotEqual(t, base, h)
}

func TestHashDomainsAreSeparated(t *testing.T) {
	payload := []byte(`{"name":"sample"}`)
	assert.NotEqual(t, ArtifactHash(payload), TraceHash(payload))
}

func TestTraceHashIsStable(t *testing.T) {
	canonical := []byte(`{"gas_used":64,"steps":[]}`)
	h := TraceHash(canonical)
	assert.Len(t, h, 64)
	assert.Equal(t, h, TraceHash(canonical))
	assert.NotEqual(t, h, TraceHash([]byte(`{"gas_used":65,"steps":[]}`)))
}

func TestFromProperty(t *testing.T) {
	v, err := FromProperty(int64(7), graph.KindNumber)
	require.NoError(t, err)
	assert.Equal(t, Int(7), v)

	v, err = FromProperty(true, graph.KindBoolean)
	require.NoError(t, err)
	assert.Equal(t, Bool(true), v)

	v, err = FromProperty("counter", graph.KindString)
	require.NoError(t, err)
	assert.Equal(t, Str("counter"), v)

	v, err = FromProperty("0xCAFE", graph.KindBytes)
	require.NoError(t, err)
	assert.Equal(t, Bytes{0xca, 0xfe}, v)

	_, err = FromProperty(1.5, graph.KindNumber)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")

	_, err = FromProperty("zz", graph.KindBytes)
	assert.Error(t, err)
	_, err = FromProperty(1, graph.KindBoolean)
	assert.Error(t, err)
}
