package graph

import (
	"fmt"
	"sort"
)

// PortSpec declares one port on a node kind.
type PortSpec struct {
	Name     string    `json:"name"`
	Kind     ValueKind `json:"kind"`
	Required bool      `json:"required,omitempty"`
}

// GasClass names the cost bucket the code generator charges for a kind.
// Classes map to GasTable entries; an unknown class fails compilation rather
// than emitting an unmetered instruction.
type GasClass string

const (
	GasConst         GasClass = "const"
	GasAdd           GasClass = "add"
	GasSubtract      GasClass = "subtract"
	GasMultiply      GasClass = "multiply"
	GasDivide        GasClass = "divide"
	GasAnd           GasClass = "and"
	GasOr            GasClass = "or"
	GasNot           GasClass = "not"
	GasCompare       GasClass = "compare"
	GasBranch        GasClass = "branch"
	GasReturn        GasClass = "return"
	GasLoopIteration GasClass = "loop_iteration"
	GasStorageRead   GasClass = "storage_read"
	GasStorageWrite  GasClass = "storage_write"
	GasEmitEvent     GasClass = "emit_event"
	GasHostCallBase  GasClass = "host_call_base"
	GasHostCallByte  GasClass = "host_call_byte"
	GasEntry         GasClass = "entry"
)

// Schema describes one node kind: its ports, flags, and cost class.
//
// Dynamic, when set, derives additional ports from a node's property bag
// (entry-point parameter lists, constant value kinds, event payload fields).
// Static ports always come first in declaration order.
type Schema struct {
	Kind        string
	Inputs      []PortSpec
	Outputs     []PortSpec
	LoopCapable bool
	EntryPoint  bool
	GasClass    GasClass

	Dynamic func(props map[string]any) (inputs, outputs []PortSpec, err error)

	// ExprInputs maps an input port name to a property name holding a
	// condition expression that may drive the port instead of an edge.
	// The validator enforces exactly one of the two per node.
	ExprInputs map[string]string
}

// PortsFor resolves the full port lists for a concrete node, static ports
// first, then dynamic ports derived from the node's properties.
func (s *Schema) PortsFor(n *Node) (inputs, outputs []PortSpec, err error) {
	inputs = append(inputs, s.Inputs...)
	outputs = append(outputs, s.Outputs...)
	if s.Dynamic != nil {
		di, do, derr := s.Dynamic(n.Properties)
		if derr != nil {
			return nil, nil, fmt.Errorf("kind %s: %w", s.Kind, derr)
		}
		inputs = append(inputs, di...)
		outputs = append(outputs, do...)
	}
	return inputs, outputs, nil
}

// Registry maps node kinds to schemas. Construct with NewRegistry or
// Builtin; registries are immutable after construction.
type Registry struct {
	kinds map[string]*Schema
}

// NewRegistry builds a registry from the given schemas.
// Duplicate kinds are rejected.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{kinds: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if _, ok := r.kinds[s.Kind]; ok {
			return nil, fmt.Errorf("duplicate node kind %q", s.Kind)
		}
		r.kinds[s.Kind] = s
	}
	return r, nil
}

// Lookup returns the schema for a kind, or nil when unknown.
func (r *Registry) Lookup(kind string) *Schema {
	return r.kinds[kind]
}

// Kinds returns all registered kind names, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Extend returns a new registry containing this registry's schemas plus the
// given ones. Conflicting kinds are rejected.
func (r *Registry) Extend(schemas ...*Schema) (*Registry, error) {
	all := make([]*Schema, 0, len(r.kinds)+len(schemas))
	for _, k := range r.Kinds() {
		all = append(all, r.kinds[k])
	}
	all = append(all, schemas...)
	return NewRegistry(all...)
}

// paramsFromProps decodes a `params` property into port specs. The property
// is a list of {name, kind} objects, in declaration order.
func paramsFromProps(props map[string]any) ([]PortSpec, error) {
	raw, ok := props["params"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("params must be a list")
	}
	specs := make([]PortSpec, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("params[%d] must be an object", i)
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("params[%d] missing name", i)
		}
		kind, err := dataKind(m["kind"])
		if err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		specs = append(specs, PortSpec{Name: name, Kind: kind})
	}
	return specs, nil
}

func dataKind(v any) (ValueKind, error) {
	s, _ := v.(string)
	switch ValueKind(s) {
	case KindBoolean, KindNumber, KindString, KindBytes:
		return ValueKind(s), nil
	case KindFlow:
		return "", fmt.Errorf("flow is not a data kind")
	default:
		return "", fmt.Errorf("unknown value kind %q", s)
	}
}

// Builtin returns the standard node-kind registry shipped with the compiler.
func Builtin() *Registry {
	r, err := NewRegistry(builtinSchemas()...)
	if err != nil {
		// Builtin kinds are a fixed table; a conflict is a programming error.
		panic(err)
	}
	return r
}

func builtinSchemas() []*Schema {
	flowIn := PortSpec{Name: "flow_in", Kind: KindFlow, Required: true}
	flowOut := PortSpec{Name: "flow_out", Kind: KindFlow}

	binNum := func(kind string, class GasClass) *Schema {
		return &Schema{
			Kind: kind,
			Inputs: []PortSpec{
				{Name: "a", Kind: KindNumber, Required: true},
				{Name: "b", Kind: KindNumber, Required: true},
			},
			Outputs:  []PortSpec{{Name: "result", Kind: KindNumber}},
			GasClass: class,
		}
	}
	cmpNum := func(kind string) *Schema {
		return &Schema{
			Kind: kind,
			Inputs: []PortSpec{
				{Name: "a", Kind: KindNumber, Required: true},
				{Name: "b", Kind: KindNumber, Required: true},
			},
			Outputs:  []PortSpec{{Name: "result", Kind: KindBoolean}},
			GasClass: GasCompare,
		}
	}
	binBool := func(kind string, class GasClass) *Schema {
		return &Schema{
			Kind: kind,
			Inputs: []PortSpec{
				{Name: "a", Kind: KindBoolean, Required: true},
				{Name: "b", Kind: KindBoolean, Required: true},
			},
			Outputs:  []PortSpec{{Name: "result", Kind: KindBoolean}},
			GasClass: class,
		}
	}

	return []*Schema{
		{
			Kind:       "Start",
			Outputs:    []PortSpec{flowOut},
			EntryPoint: true,
			GasClass:   GasEntry,
			Dynamic: func(props map[string]any) ([]PortSpec, []PortSpec, error) {
				outs, err := paramsFromProps(props)
				return nil, outs, err
			},
		},
		{
			Kind:     "End",
			Inputs:   []PortSpec{flowIn},
			GasClass: GasReturn,
		},
		{
			Kind: "If",
			Inputs: []PortSpec{
				flowIn,
				// The condition may instead come from a `condition`
				// expression property; the validator enforces exactly one
				// of the two.
				{Name: "condition", Kind: KindBoolean},
			},
			Outputs: []PortSpec{
				{Name: "true_flow", Kind: KindFlow},
				{Name: "false_flow", Kind: KindFlow},
			},
			GasClass:   GasBranch,
			ExprInputs: map[string]string{"condition": "condition"},
		},
		{
			Kind: "Loop",
			Inputs: []PortSpec{
				flowIn,
				{Name: "count", Kind: KindNumber, Required: true},
			},
			Outputs: []PortSpec{
				{Name: "body", Kind: KindFlow},
				{Name: "done", Kind: KindFlow},
			},
			LoopCapable: true,
			GasClass:    GasLoopIteration,
		},

		binBool("And", GasAnd),
		binBool("Or", GasOr),
		{
			Kind:     "Not",
			Inputs:   []PortSpec{{Name: "input", Kind: KindBoolean, Required: true}},
			Outputs:  []PortSpec{{Name: "result", Kind: KindBoolean}},
			GasClass: GasNot,
		},

		binNum("Add", GasAdd),
		binNum("Subtract", GasSubtract),
		binNum("Multiply", GasMultiply),
		binNum("Divide", GasDivide),
		cmpNum("Equals"),
		cmpNum("LessThan"),
		cmpNum("GreaterThan"),

		{
			Kind:     "Const",
			GasClass: GasConst,
			Dynamic: func(props map[string]any) ([]PortSpec, []PortSpec, error) {
				kind, err := dataKind(props["value_kind"])
				if err != nil {
					return nil, nil, err
				}
				return nil, []PortSpec{{Name: "value", Kind: kind}}, nil
			},
		},

		{
			Kind:     "Sender",
			Outputs:  []PortSpec{{Name: "value", Kind: KindBytes}},
			GasClass: GasHostCallBase,
		},
		{
			Kind:     "BlockHeight",
			Outputs:  []PortSpec{{Name: "value", Kind: KindNumber}},
			GasClass: GasHostCallBase,
		},
		{
			Kind:     "BlockTime",
			Outputs:  []PortSpec{{Name: "value", Kind: KindNumber}},
			GasClass: GasHostCallBase,
		},
		{
			Kind:   "ReadStorage",
			Inputs: []PortSpec{{Name: "key", Kind: KindString, Required: true}},
			Outputs: []PortSpec{
				{Name: "value", Kind: KindBytes},
				{Name: "found", Kind: KindBoolean},
			},
			GasClass: GasStorageRead,
		},
		{
			Kind:     "WriteStorage",
			Inputs:   []PortSpec{flowIn, {Name: "key", Kind: KindString, Required: true}},
			Outputs:  []PortSpec{flowOut},
			GasClass: GasStorageWrite,
			Dynamic: func(props map[string]any) ([]PortSpec, []PortSpec, error) {
				kind := KindString
				if raw, ok := props["value_kind"]; ok {
					k, err := dataKind(raw)
					if err != nil {
						return nil, nil, err
					}
					kind = k
				}
				return []PortSpec{{Name: "value", Kind: kind, Required: true}}, nil, nil
			},
		},
		{
			Kind:     "EmitEvent",
			Inputs:   []PortSpec{flowIn},
			Outputs:  []PortSpec{flowOut},
			GasClass: GasEmitEvent,
			Dynamic: func(props map[string]any) ([]PortSpec, []PortSpec, error) {
				raw, ok := props["fields"]
				if !ok {
					return nil, nil, nil
				}
				list, ok := raw.([]any)
				if !ok {
					return nil, nil, fmt.Errorf("fields must be a list")
				}
				ins := make([]PortSpec, 0, len(list))
				for i, item := range list {
					m, ok := item.(map[string]any)
					if !ok {
						return nil, nil, fmt.Errorf("fields[%d] must be an object", i)
					}
					name, _ := m["name"].(string)
					if name == "" {
						return nil, nil, fmt.Errorf("fields[%d] missing name", i)
					}
					kind, err := dataKind(m["kind"])
					if err != nil {
						return nil, nil, fmt.Errorf("fields[%d]: %w", i, err)
					}
					ins = append(ins, PortSpec{Name: name, Kind: kind, Required: true})
				}
				return ins, nil, nil
			},
		},
	}
}
