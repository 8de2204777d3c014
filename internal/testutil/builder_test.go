package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/compiler"
	"github.com/canvas-contracts/canvas/internal/graph"
)

func TestFixturesCompile(t *testing.T) {
	for _, doc := range []*graph.Document{ThresholdDoc(), CounterLoopDoc()} {
		art := Compile(t, doc)
		assert.NotEmpty(t, art.Code, doc.Name)
		assert.NotEmpty(t, art.Hash, doc.Name)
	}
}

func TestBuilderIsDeterministic(t *testing.T) {
	assert.Equal(t, MustHash(t, ThresholdDoc()), MustHash(t, ThresholdDoc()))
}

func TestSelfLoopDocIsRejected(t *testing.T) {
	v := compiler.Validate(SelfLoopDoc(), graph.Builtin())
	require.False(t, v.OK())

	codes := make(map[string]bool)
	for _, p := range v.Problems {
		codes[p.Code] = true
	}
	assert.True(t, codes[compiler.ErrFlowCycle])
}
