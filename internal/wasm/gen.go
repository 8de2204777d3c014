package wasm

import (
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// DataBase is the linear memory offset where the constant pool starts.
// Offsets 0..7 stay zero so a null packed reference never aliases data.
const DataBase int32 = 8

// DefaultMaxModuleSize caps emitted binaries at 1 MiB.
const DefaultMaxModuleSize = 1 << 20

// Pack combines a memory offset and byte length into the i64 reference
// convention used for string and bytes values.
func Pack(ptr int32, n int) int64 {
	return int64(ptr)<<32 | int64(uint32(n))
}

// Unpack splits a packed reference.
func Unpack(v int64) (ptr int32, n int) {
	return int32(uint64(v) >> 32), int(uint32(v))
}

// Artifact is one compiled module: the binary plus the parsed copies of its
// embedded descriptor and source map.
type Artifact struct {
	Code []byte
	Hash string
	ABI  *InterfaceDescriptor
	Map  *SourceMap
}

// Generator emits deterministic binaries for a fixed gas table.
type Generator struct {
	gas     GasTable
	maxSize int
}

// Option configures a Generator.
type Option func(*Generator)

// WithGasTable overrides the default cost schedule.
func WithGasTable(t GasTable) Option {
	return func(g *Generator) { g.gas = t }
}

// WithMaxModuleSize overrides the binary size ceiling.
func WithMaxModuleSize(n int) Option {
	return func(g *Generator) { g.maxSize = n }
}

// NewGenerator builds a generator, validating the gas table up front.
func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{gas: DefaultGasTable(), maxSize: DefaultMaxModuleSize}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.gas.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Generate emits the module binary. The same IR and gas table always yield
// byte-identical output.
func (g *Generator) Generate(m *ir.Module) (*Artifact, error) {
	b := newBuilder()
	registerImports(b)
	pool := &dataPool{next: DataBase, offsets: make(map[string]int32)}

	smap := &SourceMap{}
	var fnIdx []int
	for i := range m.Funcs {
		params := make([]byte, len(m.Funcs[i].Params))
		for j := range params {
			params[j] = TypeI64
		}
		fnIdx = append(fnIdx, b.addFunc(params, nil))
	}
	for i := range m.Funcs {
		fg := &funcGen{g: g, m: m, fn: &m.Funcs[i], pool: pool}
		body, fmap, err := fg.compile()
		if err != nil {
			return nil, err
		}
		b.codes = append(b.codes, body)
		smap.Funcs = append(smap.Funcs, *fmap)
	}

	for i := range m.Funcs {
		b.addExport(m.Funcs[i].Name, extFunc, uint32(fnIdx[i]))
	}
	b.addExport("memory", extMemory, 0)

	if len(pool.data) > 0 {
		b.addData(DataBase, pool.data)
	}

	abi := descriptorFor(m)
	abiBytes, err := abi.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("canvas.abi: %w", err)
	}
	b.addCustom(SectionABI, abiBytes)

	mapBytes, err := smap.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("canvas.map: %w", err)
	}
	b.addCustom(SectionMap, mapBytes)

	code, err := b.encode()
	if err != nil {
		return nil, err
	}
	if len(code) > g.maxSize {
		return nil, &ModuleTooLargeError{Size: len(code), Limit: g.maxSize}
	}

	return &Artifact{
		Code: code,
		Hash: ir.ArtifactHash(code),
		ABI:  abi,
		Map:  smap,
	}, nil
}

func registerImports(b *builder) {
	i64 := []byte{TypeI64}
	b.addImport("env", ImportChargeGas, i64, nil)
	b.addImport("env", ImportStorageRead, []byte{TypeI32, TypeI32}, i64)
	b.addImport("env", ImportStorageWrite, []byte{TypeI32, TypeI32, TypeI64, TypeI32}, nil)
	b.addImport("env", ImportEmitEvent, []byte{TypeI32, TypeI32, TypeI32}, nil)
	b.addImport("env", ImportEventArg, []byte{TypeI64, TypeI32}, nil)
	b.addImport("env", ImportGetSender, nil, i64)
	b.addImport("env", ImportBlockHeight, nil, i64)
	b.addImport("env", ImportBlockTime, nil, i64)
	b.addImport("env", ImportBytesEq, []byte{TypeI64, TypeI64}, i64)
}

func descriptorFor(m *ir.Module) *InterfaceDescriptor {
	d := &InterfaceDescriptor{Module: m.Name, StorageKeys: m.StorageKeys}
	for i := range m.Funcs {
		f := ABIFunc{Name: m.Funcs[i].Name, Params: []ABIParam{}}
		for _, p := range m.Funcs[i].Params {
			f.Params = append(f.Params, ABIParam{Name: p.Name, Kind: p.Kind})
		}
		d.Functions = append(d.Functions, f)
	}
	for _, e := range m.Events {
		ev := ABIEvent{Name: e.Name, Fields: []ABIParam{}}
		for _, p := range e.Fields {
			ev.Fields = append(ev.Fields, ABIParam{Name: p.Name, Kind: p.Kind})
		}
		d.Events = append(d.Events, ev)
	}
	return d
}

// dataPool interns constant byte strings into the data segment, first come
// first placed.
type dataPool struct {
	next    int32
	data    []byte
	offsets map[string]int32
}

func (p *dataPool) intern(s string) (ptr int32, n int) {
	if off, ok := p.offsets[s]; ok {
		return off, len(s)
	}
	off := p.next
	p.offsets[s] = off
	p.data = append(p.data, s...)
	p.next += int32(len(s))
	return off, len(s)
}

var binGasClass = map[ir.BinKind]graph.GasClass{
	ir.BinAdd: graph.GasAdd,
	ir.BinSub: graph.GasSubtract,
	ir.BinMul: graph.GasMultiply,
	ir.BinDiv: graph.GasDivide,
	ir.BinAnd: graph.GasAnd,
	ir.BinOr:  graph.GasOr,
	ir.BinEq:  graph.GasCompare,
	ir.BinNe:  graph.GasCompare,
	ir.BinLt:  graph.GasCompare,
	ir.BinLe:  graph.GasCompare,
	ir.BinGt:  graph.GasCompare,
	ir.BinGe:  graph.GasCompare,
}

var binOpcode = map[ir.BinKind]byte{
	ir.BinAdd: OpI64Add,
	ir.BinSub: OpI64Sub,
	ir.BinMul: OpI64Mul,
	ir.BinDiv: OpI64DivS,
	ir.BinAnd: OpI64And,
	ir.BinOr:  OpI64Or,
	ir.BinEq:  OpI64Eq,
	ir.BinNe:  OpI64Ne,
	ir.BinLt:  OpI64LtS,
	ir.BinLe:  OpI64LeS,
	ir.BinGt:  OpI64GtS,
	ir.BinGe:  OpI64GeS,
}

var hostImport = map[string]int{
	ir.HostSender:      FnGetSender,
	ir.HostBlockHeight: FnBlockHeight,
	ir.HostBlockTime:   FnBlockTime,
}

// frame is one entry of the emission-time control stack.
// loopBlock is the IR block id whose OpLoop owns the frame, or -1.
type frame struct {
	loopBlock int
}

type funcGen struct {
	g    *Generator
	m    *ir.Module
	fn   *ir.Func
	pool *dataPool

	w         codeWriter
	locals    []byte
	meta      []MapLocal
	localOf   map[ir.ValueRef]int
	counterOf map[int]int // IR block id of OpLoop -> counter local
	frames    []frame
	ranges    []MapRange
}

func (fg *funcGen) compile() ([]byte, *FuncMap, error) {
	fg.localOf = make(map[ir.ValueRef]int)
	fg.counterOf = make(map[int]int)

	for _, p := range fg.fn.Params {
		fg.meta = append(fg.meta, MapLocal{Name: p.Name, Kind: p.Kind})
	}
	fg.assignLocals()

	if err := fg.emitBlock(0); err != nil {
		return nil, nil, err
	}
	fg.w.op(OpEnd)

	fmap := &FuncMap{
		Name:   fg.fn.Name,
		Ranges: fg.ranges,
		Locals: fg.meta,
	}
	return fg.w.finish(fg.locals), fmap, nil
}

// assignLocals gives every value-defining instruction an i64 local, plus a
// hidden iteration counter per loop. Parameters map to themselves.
func (fg *funcGen) assignLocals() {
	nextLocal := len(fg.fn.Params)
	alloc := func(name string, kind graph.ValueKind) int {
		idx := nextLocal
		nextLocal++
		fg.locals = append(fg.locals, TypeI64)
		fg.meta = append(fg.meta, MapLocal{Name: name, Kind: kind})
		return idx
	}

	for bi := range fg.fn.Blocks {
		for ii := range fg.fn.Blocks[bi].Instrs {
			in := &fg.fn.Blocks[bi].Instrs[ii]
			ref := ir.ValueRef{Block: bi, Index: ii}
			switch {
			case in.Op == ir.OpParam:
				fg.localOf[ref] = in.Target
			case in.Op == ir.OpLoop:
				fg.counterOf[bi] = alloc(string(in.Node)+".iter", graph.KindNumber)
			case in.Defines():
				fg.localOf[ref] = alloc(string(in.Node), in.Out)
			}
		}
	}
}

func (fg *funcGen) chargeGas(class graph.GasClass) error {
	cost, ok := fg.g.gas[class]
	if !ok {
		return &UnmeteredError{Class: class}
	}
	if cost > 0 {
		fg.w.i64Const(cost)
		fg.w.call(FnChargeGas)
	}
	return nil
}

func (fg *funcGen) slot(ref ir.ValueRef) int { return fg.localOf[ref] }

// argKind resolves the value kind produced by the referenced instruction.
func (fg *funcGen) argKind(ref ir.ValueRef) graph.ValueKind {
	return fg.fn.Blocks[ref.Block].Instrs[ref.Index].Out
}

func (fg *funcGen) record(node graph.NodeID, start int) {
	end := fg.w.pos()
	if end == start {
		return
	}
	if n := len(fg.ranges); n > 0 && fg.ranges[n-1].Node == node && fg.ranges[n-1].End == start {
		fg.ranges[n-1].End = end
		return
	}
	fg.ranges = append(fg.ranges, MapRange{Start: start, End: end, Node: node})
}

func (fg *funcGen) emitBlock(bi int) error {
	b := &fg.fn.Blocks[bi]
	for ii := range b.Instrs {
		if err := fg.emitInstr(bi, &b.Instrs[ii]); err != nil {
			return err
		}
	}
	return nil
}

func (fg *funcGen) emitInstr(bi int, in *ir.Instruction) error {
	start := fg.w.pos()
	var err error
	switch in.Op {
	case ir.OpEntry:
		// A nop gives the entry node a code range so it shows up in
		// traces and takes breakpoints.
		if err = fg.chargeGas(graph.GasEntry); err != nil {
			return err
		}
		fg.w.op(OpNop)
	case ir.OpParam:
		// The parameter local already holds the value.
	case ir.OpConst:
		err = fg.emitConst(bi, in)
	case ir.OpBinary:
		err = fg.emitBinary(bi, in)
	case ir.OpNot:
		if err = fg.chargeGas(graph.GasNot); err != nil {
			return err
		}
		fg.w.localGet(fg.slot(in.Args[0]))
		fg.w.op(OpI64Eqz)
		fg.w.op(OpI64ExtendU)
		fg.w.localSet(fg.slot(ir.ValueRef{Block: bi, Index: fg.indexOf(bi, in)}))
	case ir.OpBranch:
		err = fg.emitBranch(bi, in)
	case ir.OpLoop:
		err = fg.emitLoop(bi, in)
	case ir.OpLoopBack:
		fg.emitLoopBack(in)
	case ir.OpHostCall:
		err = fg.emitHostCall(bi, in)
	case ir.OpStorageRead:
		err = fg.emitStorageRead(bi, in)
	case ir.OpStorageFound:
		if err = fg.chargeGas(graph.GasCompare); err != nil {
			return err
		}
		fg.w.localGet(fg.slot(in.Args[0]))
		fg.w.i64Const(-1)
		fg.w.op(OpI64Ne)
		fg.w.op(OpI64ExtendU)
		fg.w.localSet(fg.slot(ir.ValueRef{Block: bi, Index: fg.indexOf(bi, in)}))
	case ir.OpStorageWrite:
		err = fg.emitStorageWrite(in)
	case ir.OpEmitEvent:
		err = fg.emitEvent(in)
	case ir.OpReturn:
		if err = fg.chargeGas(graph.GasReturn); err != nil {
			return err
		}
		fg.w.op(OpReturn)
	default:
		return &UnsupportedInstructionError{Func: fg.fn.Name, Op: in.Op}
	}
	if err != nil {
		return err
	}
	fg.record(in.Node, start)
	return nil
}

// indexOf recovers the instruction's index within its block. Emission walks
// blocks by pointer, so the index is recomputed from the slice.
func (fg *funcGen) indexOf(bi int, in *ir.Instruction) int {
	instrs := fg.fn.Blocks[bi].Instrs
	for i := range instrs {
		if &instrs[i] == in {
			return i
		}
	}
	panic("instruction not in its block")
}

func (fg *funcGen) setSlot(bi int, in *ir.Instruction) {
	fg.w.localSet(fg.slot(ir.ValueRef{Block: bi, Index: fg.indexOf(bi, in)}))
}

func (fg *funcGen) emitConst(bi int, in *ir.Instruction) error {
	if err := fg.chargeGas(graph.GasConst); err != nil {
		return err
	}
	switch v := in.Lit.(type) {
	case ir.Int:
		fg.w.i64Const(int64(v))
	case ir.Bool:
		if v {
			fg.w.i64Const(1)
		} else {
			fg.w.i64Const(0)
		}
	case ir.Str:
		ptr, n := fg.pool.intern(string(v))
		fg.w.i64Const(Pack(ptr, n))
	case ir.Bytes:
		ptr, n := fg.pool.intern(string(v))
		fg.w.i64Const(Pack(ptr, n))
	default:
		return &UnsupportedInstructionError{Func: fg.fn.Name, Op: in.Op}
	}
	fg.setSlot(bi, in)
	return nil
}

func (fg *funcGen) emitBinary(bi int, in *ir.Instruction) error {
	class, ok := binGasClass[in.Bin]
	if !ok {
		return &UnsupportedInstructionError{Func: fg.fn.Name, Op: in.Op, Bin: in.Bin}
	}
	if err := fg.chargeGas(class); err != nil {
		return err
	}
	fg.w.localGet(fg.slot(in.Args[0]))
	fg.w.localGet(fg.slot(in.Args[1]))

	kind := fg.argKind(in.Args[0])
	if (in.Bin == ir.BinEq || in.Bin == ir.BinNe) && (kind == graph.KindString || kind == graph.KindBytes) {
		fg.w.call(FnBytesEq)
		if in.Bin == ir.BinNe {
			fg.w.op(OpI64Eqz)
			fg.w.op(OpI64ExtendU)
		}
		fg.setSlot(bi, in)
		return nil
	}

	fg.w.op(binOpcode[in.Bin])
	switch in.Bin {
	case ir.BinEq, ir.BinNe, ir.BinLt, ir.BinLe, ir.BinGt, ir.BinGe:
		// Comparison results are i32.
		fg.w.op(OpI64ExtendU)
	}
	fg.setSlot(bi, in)
	return nil
}

func (fg *funcGen) emitBranch(bi int, in *ir.Instruction) error {
	if err := fg.chargeGas(graph.GasBranch); err != nil {
		return err
	}
	fg.w.localGet(fg.slot(in.Args[0]))
	fg.w.op(OpI32WrapI64)
	fg.w.blockVoid(OpIf)
	fg.frames = append(fg.frames, frame{loopBlock: -1})
	if err := fg.emitBlock(in.Succs[0]); err != nil {
		return err
	}
	fg.w.op(OpElse)
	if err := fg.emitBlock(in.Succs[1]); err != nil {
		return err
	}
	fg.w.op(OpEnd)
	fg.frames = fg.frames[:len(fg.frames)-1]
	return nil
}

func (fg *funcGen) emitLoop(bi int, in *ir.Instruction) error {
	counter := fg.counterOf[bi]
	fg.w.i64Const(0)
	fg.w.localSet(counter)

	fg.w.blockVoid(OpBlock)
	fg.frames = append(fg.frames, frame{loopBlock: -1})
	fg.w.blockVoid(OpLoop)
	fg.frames = append(fg.frames, frame{loopBlock: bi})

	// Exit once the counter reaches the bound.
	fg.w.localGet(counter)
	fg.w.localGet(fg.slot(in.Args[0]))
	fg.w.op(OpI64GeS)
	fg.w.brIf(1)

	if err := fg.chargeGas(graph.GasLoopIteration); err != nil {
		return err
	}
	if err := fg.emitBlock(in.Succs[0]); err != nil {
		return err
	}

	fg.w.op(OpEnd) // loop
	fg.w.op(OpEnd) // block
	fg.frames = fg.frames[:len(fg.frames)-2]

	return fg.emitBlock(in.Succs[1])
}

func (fg *funcGen) emitLoopBack(in *ir.Instruction) {
	counter := fg.counterOf[in.Target]
	fg.w.localGet(counter)
	fg.w.i64Const(1)
	fg.w.op(OpI64Add)
	fg.w.localSet(counter)
	fg.w.br(fg.loopDepth(in.Target))
}

// loopDepth is the br depth from the current emission point to the loop
// frame owned by the given IR block.
func (fg *funcGen) loopDepth(irBlock int) int {
	for i := len(fg.frames) - 1; i >= 0; i-- {
		if fg.frames[i].loopBlock == irBlock {
			return len(fg.frames) - 1 - i
		}
	}
	panic(fmt.Sprintf("no active loop frame for block %d", irBlock))
}

func (fg *funcGen) emitHostCall(bi int, in *ir.Instruction) error {
	idx, ok := hostImport[in.Fn]
	if !ok {
		return &UnsupportedInstructionError{Func: fg.fn.Name, Op: in.Op}
	}
	if err := fg.chargeGas(graph.GasHostCallBase); err != nil {
		return err
	}
	fg.w.call(idx)
	fg.setSlot(bi, in)
	return nil
}

// pushUnpacked splits a packed reference local into (ptr i32, len i32) on
// the stack.
func (fg *funcGen) pushUnpacked(ref ir.ValueRef) {
	fg.w.localGet(fg.slot(ref))
	fg.w.i64Const(32)
	fg.w.op(OpI64ShrU)
	fg.w.op(OpI32WrapI64)
	fg.w.localGet(fg.slot(ref))
	fg.w.op(OpI32WrapI64)
}

func (fg *funcGen) emitStorageRead(bi int, in *ir.Instruction) error {
	if err := fg.chargeGas(graph.GasStorageRead); err != nil {
		return err
	}
	fg.pushUnpacked(in.Args[0])
	fg.w.call(FnStorageRead)
	fg.setSlot(bi, in)
	return nil
}

func (fg *funcGen) emitStorageWrite(in *ir.Instruction) error {
	if err := fg.chargeGas(graph.GasStorageWrite); err != nil {
		return err
	}
	code, err := KindCode(fg.argKind(in.Args[1]))
	if err != nil {
		return &UnsupportedInstructionError{Func: fg.fn.Name, Op: in.Op}
	}
	fg.pushUnpacked(in.Args[0])
	fg.w.localGet(fg.slot(in.Args[1]))
	fg.w.i32Const(code)
	fg.w.call(FnStorageWrite)
	return nil
}

func (fg *funcGen) emitEvent(in *ir.Instruction) error {
	if err := fg.chargeGas(graph.GasEmitEvent); err != nil {
		return err
	}
	for _, arg := range in.Args {
		code, err := KindCode(fg.argKind(arg))
		if err != nil {
			return &UnsupportedInstructionError{Func: fg.fn.Name, Op: in.Op}
		}
		fg.w.localGet(fg.slot(arg))
		fg.w.i32Const(code)
		fg.w.call(FnEventArg)
	}
	ptr, n := fg.pool.intern(in.Event)
	fg.w.i32Const(ptr)
	fg.w.i32Const(int32(n))
	fg.w.i32Const(int32(len(in.Args)))
	fg.w.call(FnEmitEvent)
	return nil
}
