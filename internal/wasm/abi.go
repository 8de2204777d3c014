package wasm

import (
	"encoding/json"
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// Custom section names.
const (
	SectionABI = "canvas.abi"
	SectionMap = "canvas.map"
)

// Host import names, in import-index order. The engine resolves imports by
// position, so this order is part of the binary contract.
const (
	ImportChargeGas    = "charge_gas"    // (cost i64)
	ImportStorageRead  = "storage_read"  // (keyPtr i32, keyLen i32) -> packed i64, -1 when absent
	ImportStorageWrite = "storage_write" // (keyPtr i32, keyLen i32, val i64, kind i32)
	ImportEmitEvent    = "emit_event"    // (namePtr i32, nameLen i32, argc i32)
	ImportEventArg     = "event_arg"     // (val i64, kind i32)
	ImportGetSender    = "get_sender"    // () -> packed i64
	ImportBlockHeight  = "block_height"  // () -> i64
	ImportBlockTime    = "block_time"    // () -> i64
	ImportBytesEq      = "bytes_eq"      // (a i64, b i64) -> i64 0|1
)

// Import indices matching the order the generator registers them.
const (
	FnChargeGas = iota
	FnStorageRead
	FnStorageWrite
	FnEmitEvent
	FnEventArg
	FnGetSender
	FnBlockHeight
	FnBlockTime
	FnBytesEq
	numImports
)

// Kind codes passed to host calls in i32 operands.
const (
	KindCodeNumber int32 = iota
	KindCodeBoolean
	KindCodeString
	KindCodeBytes
)

// KindCode maps a data value kind to its wire code.
func KindCode(k graph.ValueKind) (int32, error) {
	switch k {
	case graph.KindNumber:
		return KindCodeNumber, nil
	case graph.KindBoolean:
		return KindCodeBoolean, nil
	case graph.KindString:
		return KindCodeString, nil
	case graph.KindBytes:
		return KindCodeBytes, nil
	default:
		return 0, fmt.Errorf("kind %s has no wire code", k)
	}
}

// KindFromCode is the inverse of KindCode.
func KindFromCode(c int32) (graph.ValueKind, error) {
	switch c {
	case KindCodeNumber:
		return graph.KindNumber, nil
	case KindCodeBoolean:
		return graph.KindBoolean, nil
	case KindCodeString:
		return graph.KindString, nil
	case KindCodeBytes:
		return graph.KindBytes, nil
	default:
		return "", fmt.Errorf("unknown kind code %d", c)
	}
}

// ABIParam describes one entry-point parameter or event field.
type ABIParam struct {
	Name string          `json:"name"`
	Kind graph.ValueKind `json:"kind"`
}

// ABIFunc describes one exported entry point.
type ABIFunc struct {
	Name   string     `json:"name"`
	Params []ABIParam `json:"params"`
}

// ABIEvent describes one event the module may emit.
type ABIEvent struct {
	Name   string     `json:"name"`
	Fields []ABIParam `json:"fields"`
}

// InterfaceDescriptor is the module's public surface, embedded in the
// canvas.abi custom section as canonical JSON.
type InterfaceDescriptor struct {
	Module      string     `json:"module"`
	Functions   []ABIFunc  `json:"functions"`
	Events      []ABIEvent `json:"events,omitempty"`
	StorageKeys []string   `json:"storage_keys,omitempty"`
}

// MapRange attributes a half-open code offset range [Start, End) to the
// graph node whose lowering produced it. Offsets are relative to the start
// of the function's instruction stream, after the local declarations.
type MapRange struct {
	Start int          `json:"start"`
	End   int          `json:"end"`
	Node  graph.NodeID `json:"node"`
}

// MapLocal describes one wasm local for debugger display.
type MapLocal struct {
	Name string          `json:"name"`
	Kind graph.ValueKind `json:"kind"`
}

// FuncMap is the source map for one function.
type FuncMap struct {
	Name   string     `json:"name"`
	Ranges []MapRange `json:"ranges"`
	Locals []MapLocal `json:"locals"`
}

// SourceMap ties emitted code back to graph nodes, embedded in the
// canvas.map custom section as canonical JSON.
type SourceMap struct {
	Funcs []FuncMap `json:"funcs"`
}

// RangeAt returns the node owning the given code offset, or "".
func (fm *FuncMap) RangeAt(offset int) graph.NodeID {
	for _, r := range fm.Ranges {
		if offset >= r.Start && offset < r.End {
			return r.Node
		}
	}
	return ""
}

// Func returns the map for the named function, or nil.
func (sm *SourceMap) Func(name string) *FuncMap {
	for i := range sm.Funcs {
		if sm.Funcs[i].Name == name {
			return &sm.Funcs[i]
		}
	}
	return nil
}

func paramMaps(ps []ABIParam) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = map[string]any{"name": p.Name, "kind": string(p.Kind)}
	}
	return out
}

// MarshalCanonical serializes the descriptor as RFC 8785 canonical JSON so
// identical interfaces always produce identical section bytes.
func (d *InterfaceDescriptor) MarshalCanonical() ([]byte, error) {
	fns := make([]any, len(d.Functions))
	for i, f := range d.Functions {
		fns[i] = map[string]any{"name": f.Name, "params": paramMaps(f.Params)}
	}
	m := map[string]any{
		"module":    d.Module,
		"functions": fns,
	}
	if len(d.Events) > 0 {
		evs := make([]any, len(d.Events))
		for i, e := range d.Events {
			evs[i] = map[string]any{"name": e.Name, "fields": paramMaps(e.Fields)}
		}
		m["events"] = evs
	}
	if len(d.StorageKeys) > 0 {
		keys := make([]any, len(d.StorageKeys))
		for i, k := range d.StorageKeys {
			keys[i] = k
		}
		m["storage_keys"] = keys
	}
	return ir.MarshalCanonical(m)
}

// MarshalCanonical serializes the source map as canonical JSON.
func (sm *SourceMap) MarshalCanonical() ([]byte, error) {
	fns := make([]any, len(sm.Funcs))
	for i, f := range sm.Funcs {
		ranges := make([]any, len(f.Ranges))
		for j, r := range f.Ranges {
			ranges[j] = map[string]any{
				"start": int64(r.Start), "end": int64(r.End), "node": string(r.Node),
			}
		}
		locals := make([]any, len(f.Locals))
		for j, l := range f.Locals {
			locals[j] = map[string]any{"name": l.Name, "kind": string(l.Kind)}
		}
		fns[i] = map[string]any{"name": f.Name, "ranges": ranges, "locals": locals}
	}
	return ir.MarshalCanonical(map[string]any{"funcs": fns})
}

// ParseABI decodes a canvas.abi section payload.
func ParseABI(data []byte) (*InterfaceDescriptor, error) {
	var d InterfaceDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("canvas.abi: %w", err)
	}
	return &d, nil
}

// ParseSourceMap decodes a canvas.map section payload.
func ParseSourceMap(data []byte) (*SourceMap, error) {
	var sm SourceMap
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("canvas.map: %w", err)
	}
	return &sm, nil
}
