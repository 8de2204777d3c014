package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

// LoadGraph reads a graph document, wrapping failures as command errors.
func LoadGraph(path string) (*graph.Document, error) {
	doc, err := graph.LoadDocument(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("loading %s", path), err)
	}
	return doc, nil
}

// ParseInputs converts repeated --input key=value flags into typed values
// matching the entry point's declared parameter kinds. Numbers are decimal
// integers, booleans true/false, bytes hex with an 0x prefix, strings raw.
func ParseInputs(fn *wasm.ABIFunc, pairs []string) (map[string]ir.Value, error) {
	inputs := make(map[string]ir.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("input %q: want key=value", pair)
		}
		kind := paramKind(fn, name)
		if kind == "" {
			return nil, fmt.Errorf("input %q: entry point %q has no such parameter", name, fn.Name)
		}
		v, err := parseValue(raw, kind)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = v
	}
	return inputs, nil
}

func paramKind(fn *wasm.ABIFunc, name string) graph.ValueKind {
	for _, p := range fn.Params {
		if p.Name == name {
			return p.Kind
		}
	}
	return ""
}

func parseValue(raw string, kind graph.ValueKind) (ir.Value, error) {
	switch kind {
	case graph.KindNumber:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("want a decimal integer: %w", err)
		}
		return ir.Int(n), nil
	case graph.KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("want true or false: %w", err)
		}
		return ir.Bool(b), nil
	case graph.KindString:
		return ir.Str(raw), nil
	case graph.KindBytes:
		hexStr, ok := strings.CutPrefix(raw, "0x")
		if !ok {
			return nil, fmt.Errorf("want 0x-prefixed hex bytes")
		}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("want 0x-prefixed hex bytes: %w", err)
		}
		return ir.Bytes(b), nil
	default:
		return nil, fmt.Errorf("parameter kind %q takes no literal", kind)
	}
}

// FindEntry resolves an entry point name in a descriptor.
func FindEntry(abi *wasm.InterfaceDescriptor, entry string) (*wasm.ABIFunc, error) {
	for i := range abi.Functions {
		if abi.Functions[i].Name == entry {
			return &abi.Functions[i], nil
		}
	}
	names := make([]string, len(abi.Functions))
	for i, f := range abi.Functions {
		names[i] = f.Name
	}
	return nil, fmt.Errorf("no entry point %q; module exports %v", entry, names)
}

// formatValue renders a typed value for text output.
func formatValue(v ir.Value) string {
	switch v := v.(type) {
	case ir.Int:
		return strconv.FormatInt(int64(v), 10)
	case ir.Bool:
		return strconv.FormatBool(bool(v))
	case ir.Str:
		return strconv.Quote(string(v))
	case ir.Bytes:
		return "0x" + hex.EncodeToString(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
