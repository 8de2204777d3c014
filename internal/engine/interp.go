package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

const pageSize = 64 * 1024

// ctrlInfo is pre-scanned control structure for one block/loop/if opcode.
type ctrlInfo struct {
	elsePC int // -1 when absent
	endPC  int
}

// scanControl walks a function body once and matches every structured
// opcode with its else/end, so branches resolve in constant time.
func scanControl(body []byte) (map[int]ctrlInfo, error) {
	info := make(map[int]ctrlInfo)
	var stack []int
	pc := 0
	for pc < len(body) {
		op := body[pc]
		switch op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			info[pc] = ctrlInfo{elsePC: -1}
			stack = append(stack, pc)
		case wasm.OpElse:
			if len(stack) == 0 {
				return nil, fmt.Errorf("else at %d outside a frame", pc)
			}
			top := stack[len(stack)-1]
			ci := info[top]
			ci.elsePC = pc
			info[top] = ci
		case wasm.OpEnd:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				ci := info[top]
				ci.endPC = pc
				info[top] = ci
			}
		}
		next, err := instrEnd(body, pc)
		if err != nil {
			return nil, err
		}
		pc = next
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%d unterminated frames", len(stack))
	}
	return info, nil
}

// instrEnd returns the pc just past the instruction at pc.
func instrEnd(body []byte, pc int) (int, error) {
	op := body[pc]
	pc++
	skipLEB := func() error {
		for {
			if pc >= len(body) {
				return fmt.Errorf("truncated instruction")
			}
			b := body[pc]
			pc++
			if b&0x80 == 0 {
				return nil
			}
		}
	}
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		if pc >= len(body) {
			return 0, fmt.Errorf("truncated block type")
		}
		pc++
	case wasm.OpBr, wasm.OpBrIf, wasm.OpCall, wasm.OpLocalGet, wasm.OpLocalSet,
		wasm.OpI32Const, wasm.OpI64Const:
		if err := skipLEB(); err != nil {
			return 0, err
		}
	case wasm.OpUnreachable, wasm.OpNop, wasm.OpElse, wasm.OpEnd, wasm.OpReturn, wasm.OpDrop,
		wasm.OpI64Eqz, wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64GtS,
		wasm.OpI64LeS, wasm.OpI64GeS, wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul,
		wasm.OpI64DivS, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64ShrU,
		wasm.OpI32WrapI64, wasm.OpI64ExtendU:
	default:
		return 0, fmt.Errorf("unsupported opcode 0x%02x at %d", op, pc-1)
	}
	return pc, nil
}

// label is one runtime control frame.
type label struct {
	op      byte
	startPC int // loop header, for backward branches
	endPC   int
	elsePC  int
}

// instance is one function activation: the module's memory plus the
// interpreter state for the entry point being executed.
type instance struct {
	mod  *wasm.Module
	fn   *wasm.Function
	fmap *wasm.FuncMap
	sess *Session

	mem    []byte
	heap   int32
	locals []int64
	stack  []int64
	labels []label
	ctrl   map[int]ctrlInfo
	pc     int
	done   bool

	// Local slots touched since the current node started, for per-step
	// input/output reporting.
	reads  map[int]bool
	writes map[int]bool
}

func newInstance(mod *wasm.Module, fnName string, sess *Session) (*instance, error) {
	idx, ok := mod.Exports[fnName]
	if !ok {
		return nil, &RuntimeError{
			Code: ErrCodeBadInput, Function: fnName,
			Message: fmt.Sprintf("module exports no function %q", fnName),
		}
	}
	fn, err := mod.Func(idx)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeInvalidModule, Function: fnName, Message: err.Error()}
	}
	fmap := mod.Map.Func(fnName)
	if fmap == nil {
		return nil, &RuntimeError{
			Code: ErrCodeInvalidModule, Function: fnName,
			Message: "missing source map entry",
		}
	}
	ctrl, err := scanControl(fn.Body)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeInvalidModule, Function: fnName, Message: err.Error()}
	}

	in := &instance{
		mod:    mod,
		fn:     fn,
		fmap:   fmap,
		sess:   sess,
		mem:    make([]byte, int(mod.MemPages)*pageSize),
		locals: make([]int64, fn.ParamCount+fn.LocalCount),
		ctrl:   ctrl,
	}
	var dataEnd int32 = wasm.DataBase
	for _, seg := range mod.Data {
		if int(seg.Offset)+len(seg.Bytes) > len(in.mem) {
			return nil, &RuntimeError{Code: ErrCodeInvalidModule, Function: fnName, Message: "data segment outside memory"}
		}
		copy(in.mem[seg.Offset:], seg.Bytes)
		if end := seg.Offset + int32(len(seg.Bytes)); end > dataEnd {
			dataEnd = end
		}
	}
	in.heap = (dataEnd + 7) &^ 7
	return in, nil
}

func (in *instance) nodeAt(pc int) graph.NodeID {
	if pc >= len(in.fn.Body) {
		return ""
	}
	return in.fmap.RangeAt(pc)
}

// runNode executes instructions until the active graph node changes, the
// function returns, or a fault occurs. Returns the node that ran.
func (in *instance) runNode() (graph.NodeID, error) {
	node := in.nodeAt(in.pc)
	in.reads = make(map[int]bool)
	in.writes = make(map[int]bool)
	for !in.done && in.nodeAt(in.pc) == node {
		if err := in.step(); err != nil {
			return node, err
		}
	}
	return node, nil
}

// namedValues decodes the given local slots into their source-map names,
// skipping unnamed slots. Returns nil when nothing is nameable. Slots are
// walked in order, so when a node owns several locals its latest one wins.
func (in *instance) namedValues(idxs map[int]bool) map[string]ir.Value {
	order := make([]int, 0, len(idxs))
	for idx := range idxs {
		order = append(order, idx)
	}
	sort.Ints(order)
	var out map[string]ir.Value
	for _, idx := range order {
		if idx >= len(in.fmap.Locals) {
			continue
		}
		l := in.fmap.Locals[idx]
		if l.Name == "" || l.Kind == "" {
			continue
		}
		v, err := in.localValue(idx)
		if err != nil {
			continue
		}
		if out == nil {
			out = make(map[string]ir.Value)
		}
		out[l.Name] = v
	}
	return out
}

func (in *instance) push(v int64) { in.stack = append(in.stack, v) }

func (in *instance) pop() int64 {
	v := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return v
}

func (in *instance) trap(format string, args ...any) error {
	e := NewTrapError(fmt.Sprintf(format, args...))
	e.Function = in.fmap.Name
	e.Node = in.nodeAt(in.pc)
	return e
}

// readMem bounds-checks and returns a view of linear memory.
func (in *instance) readMem(ptr int32, n int) ([]byte, error) {
	if ptr < 0 || n < 0 || int(ptr)+n > len(in.mem) {
		return nil, in.trap("memory access [%d,%d) outside bounds", ptr, int(ptr)+n)
	}
	return in.mem[ptr : int(ptr)+n], nil
}

// readPacked resolves a packed reference into its bytes.
func (in *instance) readPacked(v int64) ([]byte, error) {
	ptr, n := wasm.Unpack(v)
	return in.readMem(ptr, n)
}

// alloc reserves n bytes on the bump heap, growing memory page-wise.
func (in *instance) alloc(n int) int32 {
	ptr := in.heap
	in.heap = (in.heap + int32(n) + 7) &^ 7
	for int(in.heap) > len(in.mem) {
		in.mem = append(in.mem, make([]byte, pageSize)...)
	}
	return ptr
}

// allocBytes copies data onto the heap and returns its packed reference.
func (in *instance) allocBytes(data []byte) int64 {
	ptr := in.alloc(len(data))
	copy(in.mem[ptr:], data)
	return wasm.Pack(ptr, len(data))
}

func (in *instance) uleb() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if in.pc >= len(in.fn.Body) {
			return 0, in.trap("truncated immediate")
		}
		b := in.fn.Body[in.pc]
		in.pc++
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func (in *instance) sleb() (int64, error) {
	var v int64
	var shift uint
	for {
		if in.pc >= len(in.fn.Body) {
			return 0, in.trap("truncated immediate")
		}
		b := in.fn.Body[in.pc]
		in.pc++
		v |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, nil
		}
	}
}

// step executes one instruction.
func (in *instance) step() error {
	if in.pc >= len(in.fn.Body) {
		in.done = true
		return nil
	}
	opPC := in.pc
	op := in.fn.Body[in.pc]
	in.pc++

	switch op {
	case wasm.OpUnreachable:
		in.pc = opPC
		return in.trap("unreachable executed")

	case wasm.OpNop:

	case wasm.OpBlock:
		in.pc++ // block type
		ci := in.ctrl[opPC]
		in.labels = append(in.labels, label{op: op, endPC: ci.endPC})

	case wasm.OpLoop:
		in.pc++
		ci := in.ctrl[opPC]
		in.labels = append(in.labels, label{op: op, startPC: opPC, endPC: ci.endPC})

	case wasm.OpIf:
		in.pc++
		ci := in.ctrl[opPC]
		cond := in.pop()
		if uint32(cond) != 0 {
			in.labels = append(in.labels, label{op: op, endPC: ci.endPC, elsePC: ci.elsePC})
		} else if ci.elsePC >= 0 {
			in.labels = append(in.labels, label{op: op, endPC: ci.endPC, elsePC: ci.elsePC})
			in.pc = ci.elsePC + 1
		} else {
			in.pc = ci.endPC + 1
		}

	case wasm.OpElse:
		// Falling into else means the then arm finished.
		top := in.labels[len(in.labels)-1]
		in.pc = top.endPC

	case wasm.OpEnd:
		if len(in.labels) > 0 {
			in.labels = in.labels[:len(in.labels)-1]
		} else {
			in.done = true
		}

	case wasm.OpBr, wasm.OpBrIf:
		depth, err := in.uleb()
		if err != nil {
			return err
		}
		if op == wasm.OpBrIf && uint32(in.pop()) == 0 {
			break
		}
		if int(depth) >= len(in.labels) {
			in.pc = opPC
			return in.trap("branch depth %d exceeds %d frames", depth, len(in.labels))
		}
		idx := len(in.labels) - 1 - int(depth)
		target := in.labels[idx]
		if target.op == wasm.OpLoop {
			in.labels = in.labels[:idx+1]
			in.pc = target.startPC + 2 // past the opcode and block type
		} else {
			in.labels = in.labels[:idx]
			in.pc = target.endPC + 1
		}

	case wasm.OpReturn:
		in.done = true

	case wasm.OpCall:
		idx, err := in.uleb()
		if err != nil {
			return err
		}
		if int(idx) >= in.mod.NumImports() {
			in.pc = opPC
			return in.trap("call to non-import function %d", idx)
		}
		if err := in.callImport(in.mod.Imports[idx], opPC); err != nil {
			return err
		}

	case wasm.OpDrop:
		in.pop()

	case wasm.OpLocalGet:
		idx, err := in.uleb()
		if err != nil {
			return err
		}
		if int(idx) >= len(in.locals) {
			in.pc = opPC
			return in.trap("local %d out of range", idx)
		}
		in.reads[int(idx)] = true
		in.push(in.locals[idx])

	case wasm.OpLocalSet:
		idx, err := in.uleb()
		if err != nil {
			return err
		}
		if int(idx) >= len(in.locals) {
			in.pc = opPC
			return in.trap("local %d out of range", idx)
		}
		in.writes[int(idx)] = true
		in.locals[idx] = in.pop()

	case wasm.OpI32Const:
		v, err := in.sleb()
		if err != nil {
			return err
		}
		in.push(int64(uint32(int32(v))))

	case wasm.OpI64Const:
		v, err := in.sleb()
		if err != nil {
			return err
		}
		in.push(v)

	case wasm.OpI64Eqz:
		in.push(b2i(in.pop() == 0))

	case wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64GtS, wasm.OpI64LeS, wasm.OpI64GeS:
		b := in.pop()
		a := in.pop()
		var r bool
		switch op {
		case wasm.OpI64Eq:
			r = a == b
		case wasm.OpI64Ne:
			r = a != b
		case wasm.OpI64LtS:
			r = a < b
		case wasm.OpI64GtS:
			r = a > b
		case wasm.OpI64LeS:
			r = a <= b
		case wasm.OpI64GeS:
			r = a >= b
		}
		in.push(b2i(r))

	case wasm.OpI64Add:
		b := in.pop()
		in.push(in.pop() + b)
	case wasm.OpI64Sub:
		b := in.pop()
		in.push(in.pop() - b)
	case wasm.OpI64Mul:
		b := in.pop()
		in.push(in.pop() * b)
	case wasm.OpI64DivS:
		b := in.pop()
		a := in.pop()
		if b == 0 {
			in.pc = opPC
			return in.trap("integer divide by zero")
		}
		if a == math.MinInt64 && b == -1 {
			in.pc = opPC
			return in.trap("integer overflow in division")
		}
		in.push(a / b)
	case wasm.OpI64And:
		b := in.pop()
		in.push(in.pop() & b)
	case wasm.OpI64Or:
		b := in.pop()
		in.push(in.pop() | b)
	case wasm.OpI64ShrU:
		b := in.pop()
		a := in.pop()
		in.push(int64(uint64(a) >> (uint64(b) % 64)))

	case wasm.OpI32WrapI64:
		in.push(int64(uint32(in.pop())))
	case wasm.OpI64ExtendU:
		in.push(int64(uint32(in.pop())))

	default:
		in.pc = opPC
		return in.trap("unsupported opcode 0x%02x", op)
	}
	return nil
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// callImport dispatches a host call by import name.
func (in *instance) callImport(name string, opPC int) error {
	s := in.sess
	hostErr := func(err error) error {
		return &RuntimeError{
			Code: ErrCodeHostError, Function: in.fmap.Name,
			Node: in.nodeAt(opPC), Message: err.Error(),
		}
	}

	switch name {
	case wasm.ImportChargeGas:
		cost := in.pop()
		return s.charge(cost, in.nodeAt(opPC))

	case wasm.ImportStorageRead:
		keyLen := int(uint32(in.pop()))
		keyPtr := int32(uint32(in.pop()))
		key, err := in.readMem(keyPtr, keyLen)
		if err != nil {
			return err
		}
		if err := s.charge(int64(len(key))*s.hostByteCost, in.nodeAt(opPC)); err != nil {
			return err
		}
		value, found, err := s.host.StorageRead(string(key))
		if err != nil {
			return hostErr(err)
		}
		if !found {
			in.push(-1)
			return nil
		}
		if err := s.charge(int64(len(value))*s.hostByteCost, in.nodeAt(opPC)); err != nil {
			return err
		}
		in.push(in.allocBytes(value))
		return nil

	case wasm.ImportStorageWrite:
		kind := int32(uint32(in.pop()))
		val := in.pop()
		keyLen := int(uint32(in.pop()))
		keyPtr := int32(uint32(in.pop()))
		key, err := in.readMem(keyPtr, keyLen)
		if err != nil {
			return err
		}
		v, err := in.valueFromWire(val, kind)
		if err != nil {
			return err
		}
		raw, err := EncodeStorageValue(v)
		if err != nil {
			return hostErr(err)
		}
		if err := s.charge(int64(len(key)+len(raw))*s.hostByteCost, in.nodeAt(opPC)); err != nil {
			return err
		}
		if err := s.host.StorageWrite(string(key), raw); err != nil {
			return hostErr(err)
		}
		return nil

	case wasm.ImportEmitEvent:
		argc := int(uint32(in.pop()))
		nameLen := int(uint32(in.pop()))
		namePtr := int32(uint32(in.pop()))
		raw, err := in.readMem(namePtr, nameLen)
		if err != nil {
			return err
		}
		if argc != len(s.pendingArgs) {
			in.pc = opPC
			return in.trap("event %q declared %d args, %d staged", raw, argc, len(s.pendingArgs))
		}
		s.recordEvent(string(raw))
		return nil

	case wasm.ImportEventArg:
		kind := int32(uint32(in.pop()))
		val := in.pop()
		v, err := in.valueFromWire(val, kind)
		if err != nil {
			return err
		}
		s.pendingArgs = append(s.pendingArgs, v)
		return nil

	case wasm.ImportGetSender:
		sender := s.host.Sender()
		if err := s.charge(int64(len(sender))*s.hostByteCost, in.nodeAt(opPC)); err != nil {
			return err
		}
		in.push(in.allocBytes(sender))
		return nil

	case wasm.ImportBlockHeight:
		in.push(s.host.BlockHeight())
		return nil

	case wasm.ImportBlockTime:
		in.push(s.host.BlockTime())
		return nil

	case wasm.ImportBytesEq:
		b := in.pop()
		a := in.pop()
		ab, err := in.readPacked(a)
		if err != nil {
			return err
		}
		bb, err := in.readPacked(b)
		if err != nil {
			return err
		}
		in.push(b2i(string(ab) == string(bb)))
		return nil

	default:
		in.pc = opPC
		return in.trap("unknown import %q", name)
	}
}

// valueFromWire decodes an i64 operand plus kind code into a typed value.
func (in *instance) valueFromWire(val int64, code int32) (ir.Value, error) {
	kind, err := wasm.KindFromCode(code)
	if err != nil {
		return nil, in.trap("%v", err)
	}
	switch kind {
	case graph.KindNumber:
		return ir.Int(val), nil
	case graph.KindBoolean:
		return ir.Bool(val != 0), nil
	case graph.KindString:
		raw, err := in.readPacked(val)
		if err != nil {
			return nil, err
		}
		return ir.Str(raw), nil
	default:
		raw, err := in.readPacked(val)
		if err != nil {
			return nil, err
		}
		return ir.Bytes(append([]byte(nil), raw...)), nil
	}
}

// localValue decodes a local slot into a typed value using the source
// map's kind annotation.
func (in *instance) localValue(idx int) (ir.Value, error) {
	if idx >= len(in.fmap.Locals) || idx >= len(in.locals) {
		return nil, fmt.Errorf("local %d out of range", idx)
	}
	raw := in.locals[idx]
	switch in.fmap.Locals[idx].Kind {
	case graph.KindNumber:
		return ir.Int(raw), nil
	case graph.KindBoolean:
		return ir.Bool(raw != 0), nil
	case graph.KindString:
		b, err := in.readPacked(raw)
		if err != nil {
			return nil, err
		}
		return ir.Str(b), nil
	case graph.KindBytes:
		b, err := in.readPacked(raw)
		if err != nil {
			return nil, err
		}
		return ir.Bytes(append([]byte(nil), b...)), nil
	default:
		return nil, fmt.Errorf("local %d has no data kind", idx)
	}
}
