package wasm

import (
	"bytes"
	"fmt"
)

// Value types.
const (
	TypeI32 byte = 0x7F
	TypeI64 byte = 0x7E
)

// Section ids.
const (
	secCustom   byte = 0
	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secMemory   byte = 5
	secExport   byte = 7
	secCode     byte = 10
	secData     byte = 11
)

// Export kinds.
const (
	extFunc   byte = 0
	extMemory byte = 2
)

// Opcodes, the subset the generator emits and the engine interprets.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpI64Eqz      byte = 0x50
	OpI64Eq       byte = 0x51
	OpI64Ne       byte = 0x52
	OpI64LtS      byte = 0x53
	OpI64GtS      byte = 0x55
	OpI64LeS      byte = 0x57
	OpI64GeS      byte = 0x59
	OpI64Add      byte = 0x7C
	OpI64Sub      byte = 0x7D
	OpI64Mul      byte = 0x7E
	OpI64DivS     byte = 0x7F
	OpI64And      byte = 0x83
	OpI64Or       byte = 0x84
	OpI64ShrU     byte = 0x88
	OpI32WrapI64  byte = 0xA7
	OpI64ExtendU  byte = 0xAD

	// blockVoid is the empty block type for void control frames.
	blockVoid byte = 0x40
)

// funcType is a function signature. Signatures are deduplicated in the type
// section by their encoding.
type funcType struct {
	params  []byte
	results []byte
}

type wasmImport struct {
	module string
	name   string
	typ    int
}

type wasmExport struct {
	name string
	kind byte
	idx  uint32
}

type dataSegment struct {
	offset int32
	bytes  []byte
}

type customSection struct {
	name  string
	bytes []byte
}

// builder assembles a module. Function indices count imports first, then
// defined functions, in insertion order.
type builder struct {
	types    []funcType
	imports  []wasmImport
	funcs    []int // defined function type indices
	codes    [][]byte
	exports  []wasmExport
	data     []dataSegment
	customs  []customSection
	memPages uint32
}

func newBuilder() *builder {
	return &builder{memPages: 2}
}

func (b *builder) typeIdx(params, results []byte) int {
	for i, t := range b.types {
		if bytes.Equal(t.params, params) && bytes.Equal(t.results, results) {
			return i
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return len(b.types) - 1
}

// addImport registers an env import and returns its function index.
// All imports must be added before the first addFunc.
func (b *builder) addImport(module, name string, params, results []byte) int {
	b.imports = append(b.imports, wasmImport{
		module: module, name: name, typ: b.typeIdx(params, results),
	})
	return len(b.imports) - 1
}

// addFunc registers a defined function and returns its function index.
func (b *builder) addFunc(params, results []byte) int {
	b.funcs = append(b.funcs, b.typeIdx(params, results))
	return len(b.imports) + len(b.funcs) - 1
}

func (b *builder) addExport(name string, kind byte, idx uint32) {
	b.exports = append(b.exports, wasmExport{name: name, kind: kind, idx: idx})
}

func (b *builder) addData(offset int32, data []byte) {
	b.data = append(b.data, dataSegment{offset: offset, bytes: data})
}

func (b *builder) addCustom(name string, data []byte) {
	b.customs = append(b.customs, customSection{name: name, bytes: data})
}

func (b *builder) encode() ([]byte, error) {
	if len(b.codes) != len(b.funcs) {
		return nil, fmt.Errorf("wasm: %d function declarations but %d bodies", len(b.funcs), len(b.codes))
	}
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6D}) // \0asm
	out.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	var sec bytes.Buffer

	// Type section.
	writeULEB(&sec, uint64(len(b.types)))
	for _, t := range b.types {
		sec.WriteByte(0x60)
		writeULEB(&sec, uint64(len(t.params)))
		sec.Write(t.params)
		writeULEB(&sec, uint64(len(t.results)))
		sec.Write(t.results)
	}
	writeSection(&out, secType, sec.Bytes())
	sec.Reset()

	// Import section.
	if len(b.imports) > 0 {
		writeULEB(&sec, uint64(len(b.imports)))
		for _, im := range b.imports {
			writeName(&sec, im.module)
			writeName(&sec, im.name)
			sec.WriteByte(extFunc)
			writeULEB(&sec, uint64(im.typ))
		}
		writeSection(&out, secImport, sec.Bytes())
		sec.Reset()
	}

	// Function section.
	writeULEB(&sec, uint64(len(b.funcs)))
	for _, t := range b.funcs {
		writeULEB(&sec, uint64(t))
	}
	writeSection(&out, secFunction, sec.Bytes())
	sec.Reset()

	// Memory section: one memory, min pages, no max.
	writeULEB(&sec, 1)
	sec.WriteByte(0x00)
	writeULEB(&sec, uint64(b.memPages))
	writeSection(&out, secMemory, sec.Bytes())
	sec.Reset()

	// Export section.
	writeULEB(&sec, uint64(len(b.exports)))
	for _, ex := range b.exports {
		writeName(&sec, ex.name)
		sec.WriteByte(ex.kind)
		writeULEB(&sec, uint64(ex.idx))
	}
	writeSection(&out, secExport, sec.Bytes())
	sec.Reset()

	// Code section.
	writeULEB(&sec, uint64(len(b.codes)))
	for _, body := range b.codes {
		writeULEB(&sec, uint64(len(body)))
		sec.Write(body)
	}
	writeSection(&out, secCode, sec.Bytes())
	sec.Reset()

	// Data section.
	if len(b.data) > 0 {
		writeULEB(&sec, uint64(len(b.data)))
		for _, d := range b.data {
			sec.WriteByte(0x00) // active, memory 0
			sec.WriteByte(OpI32Const)
			writeSLEB(&sec, int64(d.offset))
			sec.WriteByte(OpEnd)
			writeULEB(&sec, uint64(len(d.bytes)))
			sec.Write(d.bytes)
		}
		writeSection(&out, secData, sec.Bytes())
		sec.Reset()
	}

	// Custom sections last, in insertion order.
	for _, c := range b.customs {
		writeName(&sec, c.name)
		sec.Write(c.bytes)
		writeSection(&out, secCustom, sec.Bytes())
		sec.Reset()
	}

	return out.Bytes(), nil
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	writeULEB(out, uint64(len(payload)))
	out.Write(payload)
}

func writeName(out *bytes.Buffer, s string) {
	writeULEB(out, uint64(len(s)))
	out.WriteString(s)
}

func writeULEB(out *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeSLEB(out *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out.WriteByte(b)
		if done {
			return
		}
	}
}

// codeWriter accumulates one function body's instruction stream. Offsets
// reported by pos are relative to the start of the stream, which is what the
// source map records.
type codeWriter struct {
	buf bytes.Buffer
}

func (w *codeWriter) pos() int { return w.buf.Len() }

func (w *codeWriter) op(b byte) { w.buf.WriteByte(b) }

func (w *codeWriter) i32Const(v int32) {
	w.buf.WriteByte(OpI32Const)
	writeSLEB(&w.buf, int64(v))
}

func (w *codeWriter) i64Const(v int64) {
	w.buf.WriteByte(OpI64Const)
	writeSLEB(&w.buf, v)
}

func (w *codeWriter) localGet(idx int) {
	w.buf.WriteByte(OpLocalGet)
	writeULEB(&w.buf, uint64(idx))
}

func (w *codeWriter) localSet(idx int) {
	w.buf.WriteByte(OpLocalSet)
	writeULEB(&w.buf, uint64(idx))
}

func (w *codeWriter) call(fn int) {
	w.buf.WriteByte(OpCall)
	writeULEB(&w.buf, uint64(fn))
}

func (w *codeWriter) blockVoid(op byte) {
	w.buf.WriteByte(op)
	w.buf.WriteByte(blockVoid)
}

func (w *codeWriter) br(depth int) {
	w.buf.WriteByte(OpBr)
	writeULEB(&w.buf, uint64(depth))
}

func (w *codeWriter) brIf(depth int) {
	w.buf.WriteByte(OpBrIf)
	writeULEB(&w.buf, uint64(depth))
}

// finish prepends the local declarations and returns the complete body.
// locals lists the value type of each local beyond the parameters, run
// length encoded per the format.
func (w *codeWriter) finish(locals []byte) []byte {
	var out bytes.Buffer
	type run struct {
		typ byte
		n   uint64
	}
	var runs []run
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].typ == t {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{typ: t, n: 1})
	}
	writeULEB(&out, uint64(len(runs)))
	for _, r := range runs {
		writeULEB(&out, r.n)
		out.WriteByte(r.typ)
	}
	out.Write(w.buf.Bytes())
	return out.Bytes()
}
