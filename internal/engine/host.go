package engine

import (
	"fmt"
	"sort"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// Host provides the world outside the module: storage and block context.
// Implementations must be deterministic for a fixed starting state; the
// engine never calls a host method concurrently.
type Host interface {
	// StorageRead returns the raw bytes under key, or found=false.
	StorageRead(key string) (value []byte, found bool, err error)

	// StorageWrite stores raw bytes under key.
	StorageWrite(key string, value []byte) error

	// Sender returns the caller identity bytes.
	Sender() []byte

	// BlockHeight returns the fixed block height for this session.
	BlockHeight() int64

	// BlockTime returns the fixed block timestamp for this session.
	BlockTime() int64
}

// MemoryHost is the in-memory Host used by tests, the scenario harness, and
// local simulation runs.
type MemoryHost struct {
	storage map[string][]byte
	sender  []byte
	height  int64
	time    int64
}

// MemoryHostOption configures a MemoryHost.
type MemoryHostOption func(*MemoryHost)

// WithSender sets the caller identity.
func WithSender(sender []byte) MemoryHostOption {
	return func(h *MemoryHost) { h.sender = sender }
}

// WithBlock sets the block height and timestamp.
func WithBlock(height, time int64) MemoryHostOption {
	return func(h *MemoryHost) { h.height = height; h.time = time }
}

// WithStorage seeds the starting storage state. Values are copied.
func WithStorage(init map[string][]byte) MemoryHostOption {
	return func(h *MemoryHost) {
		for k, v := range init {
			h.storage[k] = append([]byte(nil), v...)
		}
	}
}

// NewMemoryHost creates an empty deterministic host.
func NewMemoryHost(opts ...MemoryHostOption) *MemoryHost {
	h := &MemoryHost{
		storage: make(map[string][]byte),
		sender:  []byte{0x01},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *MemoryHost) StorageRead(key string) ([]byte, bool, error) {
	v, ok := h.storage[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (h *MemoryHost) StorageWrite(key string, value []byte) error {
	h.storage[key] = append([]byte(nil), value...)
	return nil
}

func (h *MemoryHost) Sender() []byte     { return h.sender }
func (h *MemoryHost) BlockHeight() int64 { return h.height }
func (h *MemoryHost) BlockTime() int64   { return h.time }

// Snapshot returns the storage contents with keys sorted, for assertions
// and canonical run summaries.
func (h *MemoryHost) Snapshot() map[string][]byte {
	out := make(map[string][]byte, len(h.storage))
	for k, v := range h.storage {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Keys returns the stored keys, sorted.
func (h *MemoryHost) Keys() []string {
	keys := make([]string, 0, len(h.storage))
	for k := range h.storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EncodeStorageValue converts a typed value to its storage byte form:
// numbers are 8-byte big-endian, booleans one byte, strings and bytes raw.
func EncodeStorageValue(v ir.Value) ([]byte, error) {
	switch x := v.(type) {
	case ir.Int:
		b := make([]byte, 8)
		u := uint64(int64(x))
		for i := 7; i >= 0; i-- {
			b[i] = byte(u)
			u >>= 8
		}
		return b, nil
	case ir.Bool:
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case ir.Str:
		return []byte(x), nil
	case ir.Bytes:
		return append([]byte(nil), x...), nil
	default:
		return nil, fmt.Errorf("cannot encode %T for storage", v)
	}
}

// DecodeStorageValue is the inverse of EncodeStorageValue for a known kind.
func DecodeStorageValue(raw []byte, kind graph.ValueKind) (ir.Value, error) {
	switch kind {
	case graph.KindNumber:
		if len(raw) != 8 {
			return nil, fmt.Errorf("number value must be 8 bytes, got %d", len(raw))
		}
		var u uint64
		for _, b := range raw {
			u = u<<8 | uint64(b)
		}
		return ir.Int(int64(u)), nil
	case graph.KindBoolean:
		if len(raw) != 1 {
			return nil, fmt.Errorf("boolean value must be 1 byte, got %d", len(raw))
		}
		return ir.Bool(raw[0] != 0), nil
	case graph.KindString:
		return ir.Str(raw), nil
	case graph.KindBytes:
		return ir.Bytes(append([]byte(nil), raw...)), nil
	default:
		return nil, fmt.Errorf("kind %s cannot be decoded from storage", kind)
	}
}
