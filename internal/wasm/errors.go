package wasm

import (
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// UnsupportedInstructionError reports an IR instruction the generator has no
// lowering for. Always a pipeline bug: the builder and generator move in
// lockstep.
type UnsupportedInstructionError struct {
	Func string
	Op   ir.OpCode
	Bin  ir.BinKind
}

func (e *UnsupportedInstructionError) Error() string {
	if e.Bin != "" {
		return fmt.Sprintf("func %s: no lowering for %s/%s", e.Func, e.Op, e.Bin)
	}
	return fmt.Sprintf("func %s: no lowering for %s", e.Func, e.Op)
}

// UnmeteredError reports a cost class absent from the gas table. Generation
// refuses to emit an uncharged instruction.
type UnmeteredError struct {
	Class graph.GasClass
}

func (e *UnmeteredError) Error() string {
	return fmt.Sprintf("gas table has no entry for class %s", e.Class)
}

// ModuleTooLargeError reports an emitted binary over the size ceiling.
type ModuleTooLargeError struct {
	Size  int
	Limit int
}

func (e *ModuleTooLargeError) Error() string {
	return fmt.Sprintf("module is %d bytes, limit %d", e.Size, e.Limit)
}
