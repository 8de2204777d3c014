package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateKinds(t *testing.T) {
	_, err := NewRegistry(
		&Schema{Kind: "X", GasClass: GasConst},
		&Schema{Kind: "X", GasClass: GasConst},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"X"`)
}

func TestRegistryExtend(t *testing.T) {
	base := Builtin()
	ext, err := base.Extend(&Schema{Kind: "Clamp", GasClass: GasCompare})
	require.NoError(t, err)

	assert.NotNil(t, ext.Lookup("Clamp"))
	assert.NotNil(t, ext.Lookup("Start"))
	// The base registry is untouched.
	assert.Nil(t, base.Lookup("Clamp"))

	_, err = base.Extend(&Schema{Kind: "Start"})
	assert.Error(t, err)
}

func TestBuiltinCoversCoreKinds(t *testing.T) {
	r := Builtin()
	for _, kind := range []string{
		"Start", "End", "If", "Loop",
		"Add", "Subtract", "Multiply", "Divide",
		"And", "Or", "Not", "Equals", "LessThan", "GreaterThan",
		"Const", "ReadStorage", "WriteStorage", "EmitEvent",
		"Sender", "BlockHeight", "BlockTime",
	} {
		assert.NotNil(t, r.Lookup(kind), "missing builtin kind %s", kind)
	}
	assert.Nil(t, r.Lookup("Teleport"))
}

func TestStartPortsFromParams(t *testing.T) {
	s := Builtin().Lookup("Start")
	n := &Node{ID: "start", Kind: "Start", Properties: map[string]any{
		"params": []any{
			map[string]any{"name": "x", "kind": "number"},
			map[string]any{"name": "flag", "kind": "boolean"},
		},
	}}

	ins, outs, err := s.PortsFor(n)
	require.NoError(t, err)
	assert.Empty(t, ins)
	require.Len(t, outs, 3)
	assert.Equal(t, PortSpec{Name: "flow_out", Kind: KindFlow}, outs[0])
	assert.Equal(t, PortSpec{Name: "x", Kind: KindNumber}, outs[1])
	assert.Equal(t, PortSpec{Name: "flag", Kind: KindBoolean}, outs[2])
}

func TestStartRejectsBadParams(t *testing.T) {
	s := Builtin().Lookup("Start")

	_, _, err := s.PortsFor(&Node{Properties: map[string]any{"params": "nope"}})
	assert.Error(t, err)

	_, _, err = s.PortsFor(&Node{Properties: map[string]any{
		"params": []any{map[string]any{"kind": "number"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")

	_, _, err = s.PortsFor(&Node{Properties: map[string]any{
		"params": []any{map[string]any{"name": "f", "kind": "flow"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow is not a data kind")
}

func TestConstPortsFromValueKind(t *testing.T) {
	s := Builtin().Lookup("Const")

	_, outs, err := s.PortsFor(&Node{Properties: map[string]any{"value_kind": "string"}})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, PortSpec{Name: "value", Kind: KindString}, outs[0])

	_, _, err = s.PortsFor(&Node{Properties: map[string]any{"value_kind": "float"}})
	assert.Error(t, err)
	_, _, err = s.PortsFor(&Node{Properties: map[string]any{}})
	assert.Error(t, err)
}

func TestWriteStorageValueKindDefaultsToString(t *testing.T) {
	s := Builtin().Lookup("WriteStorage")

	ins, _, err := s.PortsFor(&Node{Properties: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, ins, 3)
	assert.Equal(t, PortSpec{Name: "value", Kind: KindString, Required: true}, ins[2])

	ins, _, err = s.PortsFor(&Node{Properties: map[string]any{"value_kind": "number"}})
	require.NoError(t, err)
	assert.Equal(t, KindNumber, ins[2].Kind)
}

func TestEmitEventFieldsBecomeInputs(t *testing.T) {
	s := Builtin().Lookup("EmitEvent")

	ins, _, err := s.PortsFor(&Node{Properties: map[string]any{
		"name": "transferred",
		"fields": []any{
			map[string]any{"name": "amount", "kind": "number"},
			map[string]any{"name": "to", "kind": "bytes"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, ins, 3)
	assert.Equal(t, PortSpec{Name: "amount", Kind: KindNumber, Required: true}, ins[1])
	assert.Equal(t, PortSpec{Name: "to", Kind: KindBytes, Required: true}, ins[2])

	// No fields property means a payload-free event.
	ins, _, err = s.PortsFor(&Node{Properties: map[string]any{"name": "tick"}})
	require.NoError(t, err)
	assert.Len(t, ins, 1)
}
