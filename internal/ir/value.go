package ir

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// Value is a sealed interface over the runtime value types.
// Only Bool, Int, Str, and Bytes implement it. There is no float variant:
// floats break cross-platform determinism and are forbidden throughout the
// pipeline.
type Value interface {
	value() // sealed
	Kind() graph.ValueKind
	// String renders the value for traces and error messages.
	String() string
}

// Bool is a boolean runtime value.
type Bool bool

func (Bool) value()                {}
func (Bool) Kind() graph.ValueKind { return graph.KindBoolean }
func (v Bool) String() string      { return strconv.FormatBool(bool(v)) }

// Int is a numeric runtime value. Always int64, never float.
type Int int64

func (Int) value()                {}
func (Int) Kind() graph.ValueKind { return graph.KindNumber }
func (v Int) String() string      { return strconv.FormatInt(int64(v), 10) }

// Str is a string runtime value.
type Str string

func (Str) value()                {}
func (Str) Kind() graph.ValueKind { return graph.KindString }
func (v Str) String() string      { return strconv.Quote(string(v)) }

// Bytes is a byte-string runtime value.
type Bytes []byte

func (Bytes) value()                {}
func (Bytes) Kind() graph.ValueKind { return graph.KindBytes }
func (v Bytes) String() string      { return "0x" + hex.EncodeToString(v) }

// FromProperty converts a decoded document property into a Value of the
// requested kind. Used for Const nodes and inline literals.
func FromProperty(raw any, kind graph.ValueKind) (Value, error) {
	switch kind {
	case graph.KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return Bool(b), nil
	case graph.KindNumber:
		switch n := raw.(type) {
		case int64:
			return Int(n), nil
		case int:
			return Int(n), nil
		case float64:
			return nil, fmt.Errorf("floats are forbidden: %v", n)
		default:
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
	case graph.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return Str(s), nil
	case graph.KindBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected hex string for bytes, got %T", raw)
		}
		if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
			s = s[2:]
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bytes literal: %w", err)
		}
		return Bytes(b), nil
	default:
		return nil, fmt.Errorf("no value form for kind %q", kind)
	}
}

// canonicalForm returns the value's representation in canonical JSON.
// Bytes map to a 0x-prefixed lowercase hex string so the canonical encoding
// stays within JSON's type system.
func canonicalForm(v Value) any {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Str:
		return string(val)
	case Bytes:
		return "0x" + hex.EncodeToString(val)
	default:
		return nil
	}
}
