package ir

import (
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// OpCode tags an instruction variant.
type OpCode string

const (
	OpEntry        OpCode = "entry"
	OpParam        OpCode = "param"
	OpConst        OpCode = "const"
	OpBinary       OpCode = "binary"
	OpNot          OpCode = "not"
	OpBranch       OpCode = "branch"
	OpLoop         OpCode = "loop"
	OpLoopBack     OpCode = "loop_back"
	OpHostCall     OpCode = "host_call"
	OpStorageRead  OpCode = "storage_read"
	OpStorageFound OpCode = "storage_found"
	OpStorageWrite OpCode = "storage_write"
	OpEmitEvent    OpCode = "emit_event"
	OpReturn       OpCode = "return"
)

// BinKind selects the operation of an OpBinary instruction.
type BinKind string

const (
	BinAdd BinKind = "add"
	BinSub BinKind = "sub"
	BinMul BinKind = "mul"
	BinDiv BinKind = "div"
	BinAnd BinKind = "and"
	BinOr  BinKind = "or"
	BinEq  BinKind = "eq"
	BinNe  BinKind = "ne"
	BinLt  BinKind = "lt"
	BinLe  BinKind = "le"
	BinGt  BinKind = "gt"
	BinGe  BinKind = "ge"
)

// Host function names used by OpHostCall.
const (
	HostSender      = "get_sender"
	HostBlockHeight = "block_height"
	HostBlockTime   = "block_time"
)

// ValueRef identifies the value defined by an instruction: block index and
// instruction index within that block. Never a pointer.
type ValueRef struct {
	Block int `json:"block"`
	Index int `json:"index"`
}

// NoValue is the sentinel for "no operand".
var NoValue = ValueRef{Block: -1, Index: -1}

// IsValid reports whether the ref points at an instruction.
func (r ValueRef) IsValid() bool { return r.Block >= 0 && r.Index >= 0 }

// Instruction is a tagged variant. Per-op field usage:
//
//	OpEntry:        nothing; marks the entry node's position in the trace
//	OpParam:        Target = parameter index, Out
//	OpConst:        Lit, Out
//	OpBinary:       Bin, Args[0..1], Out
//	OpNot:          Args[0], Out
//	OpBranch:       Args[0] condition, Succs[0]=true block, Succs[1]=false
//	OpLoop:         Args[0] count, Succs[0]=body block, Succs[1]=done block
//	OpLoopBack:     Target = block holding the OpLoop
//	OpHostCall:     Fn, Out
//	OpStorageRead:  Args[0] key, Out (bytes; empty when absent)
//	OpStorageFound: Args[0] = the OpStorageRead's value, Out (boolean)
//	OpStorageWrite: Args[0] key, Args[1] value
//	OpEmitEvent:    Event, Fields aligned with Args
//	OpReturn:       nothing
type Instruction struct {
	Op   OpCode       `json:"op"`
	Node graph.NodeID `json:"node"`

	Bin    BinKind         `json:"bin,omitempty"`
	Args   []ValueRef      `json:"args,omitempty"`
	Lit    Value           `json:"lit,omitempty"`
	Out    graph.ValueKind `json:"out,omitempty"` // "" when no value is defined
	Succs  []int           `json:"succs,omitempty"`
	Target int             `json:"target,omitempty"`
	Fn     string          `json:"fn,omitempty"`
	Event  string          `json:"event,omitempty"`
	Fields []string        `json:"fields,omitempty"`
}

// Defines reports whether the instruction defines a value.
func (in *Instruction) Defines() bool { return in.Out != "" }

// Block is a straight-line instruction sequence. Succs lists successor
// block indices for terminating Branch/Loop instructions, in the order they
// appear on the instruction.
type Block struct {
	ID     int           `json:"id"`
	Instrs []Instruction `json:"instrs"`
	Succs  []int         `json:"succs,omitempty"`
}

// Param is one entry-point parameter, in port-declaration order.
type Param struct {
	Name string          `json:"name"`
	Kind graph.ValueKind `json:"kind"`
}

// Func is one exported entry point lowered from an entry-point node.
// Blocks[0] is the entry block; block indices are function-local.
type Func struct {
	Name   string  `json:"name"`
	Params []Param `json:"params"`
	Blocks []Block `json:"blocks"`
}

// EventDecl describes one event an entry point may emit.
type EventDecl struct {
	Name   string  `json:"name"`
	Fields []Param `json:"fields"`
}

// Module is the lowered form of one validated document.
type Module struct {
	Name   string      `json:"name"`
	Funcs  []Func      `json:"funcs"`
	Events []EventDecl `json:"events,omitempty"`
	// StorageKeys lists statically-known storage keys, sorted, for the
	// interface descriptor.
	StorageKeys []string `json:"storage_keys,omitempty"`
}

// Check verifies the module's structural invariants: every value reference
// resolves to an earlier instruction in the same block or in a block on the
// path from the entry (single assignment), and every successor id is in
// range. A failure here is always a builder bug, never a user error.
func (m *Module) Check() error {
	for fi := range m.Funcs {
		if err := m.Funcs[fi].check(); err != nil {
			return fmt.Errorf("func %s: %w", m.Funcs[fi].Name, err)
		}
	}
	return nil
}

func (f *Func) check() error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("no blocks")
	}
	// parent[b] = block that branches to b; entry has no parent.
	parent := make([]int, len(f.Blocks))
	for i := range parent {
		parent[i] = -1
	}
	for bi, b := range f.Blocks {
		for _, s := range b.Succs {
			if s < 0 || s >= len(f.Blocks) {
				return fmt.Errorf("block %d: successor %d out of range", bi, s)
			}
			parent[s] = bi
		}
	}

	dominates := func(def, use int) bool {
		for b := use; b >= 0; b = parent[b] {
			if b == def {
				return true
			}
		}
		return false
	}

	for bi, b := range f.Blocks {
		if b.ID != bi {
			return fmt.Errorf("block %d: id mismatch (%d)", bi, b.ID)
		}
		for ii, in := range b.Instrs {
			for ai, ref := range in.Args {
				if !ref.IsValid() {
					return fmt.Errorf("block %d instr %d: arg %d unset", bi, ii, ai)
				}
				if ref.Block >= len(f.Blocks) {
					return fmt.Errorf("block %d instr %d: ref to missing block %d", bi, ii, ref.Block)
				}
				db := f.Blocks[ref.Block]
				if ref.Index >= len(db.Instrs) || !db.Instrs[ref.Index].Defines() {
					return fmt.Errorf("block %d instr %d: ref %v does not define a value", bi, ii, ref)
				}
				if ref.Block == bi {
					if ref.Index >= ii {
						return fmt.Errorf("block %d instr %d: forward ref to instr %d", bi, ii, ref.Index)
					}
				} else if !dominates(ref.Block, bi) {
					return fmt.Errorf("block %d instr %d: ref to non-dominating block %d", bi, ii, ref.Block)
				}
			}
		}
	}
	return nil
}
