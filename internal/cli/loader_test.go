package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

func entryFixture() *wasm.ABIFunc {
	return &wasm.ABIFunc{
		Name: "main",
		Params: []wasm.ABIParam{
			{Name: "amount", Kind: graph.KindNumber},
			{Name: "enabled", Kind: graph.KindBoolean},
			{Name: "label", Kind: graph.KindString},
			{Name: "payload", Kind: graph.KindBytes},
		},
	}
}

func TestParseInputsTyped(t *testing.T) {
	inputs, err := ParseInputs(entryFixture(), []string{
		"amount=150",
		"enabled=true",
		"label=hello",
		"payload=0xdeadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(150), inputs["amount"])
	assert.Equal(t, ir.Bool(true), inputs["enabled"])
	assert.Equal(t, ir.Str("hello"), inputs["label"])
	assert.Equal(t, ir.Bytes{0xde, 0xad, 0xbe, 0xef}, inputs["payload"])
}

func TestParseInputsErrors(t *testing.T) {
	fn := entryFixture()
	cases := []string{
		"no-equals",
		"unknown=1",
		"amount=ten",
		"enabled=maybe",
		"payload=deadbeef", // missing 0x prefix
	}
	for _, bad := range cases {
		_, err := ParseInputs(fn, []string{bad})
		assert.Error(t, err, bad)
	}
}

func TestFindEntry(t *testing.T) {
	abi := &wasm.InterfaceDescriptor{
		Module:    "demo",
		Functions: []wasm.ABIFunc{{Name: "main"}, {Name: "reset"}},
	}
	fn, err := FindEntry(abi, "reset")
	require.NoError(t, err)
	assert.Equal(t, "reset", fn.Name)

	_, err = FindEntry(abi, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42", formatValue(ir.Int(42)))
	assert.Equal(t, "true", formatValue(ir.Bool(true)))
	assert.Equal(t, `"hi"`, formatValue(ir.Str("hi")))
	assert.Equal(t, "0x0102", formatValue(ir.Bytes{1, 2}))
}
