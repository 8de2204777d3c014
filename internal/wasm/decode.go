package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Function is one decoded function body.
type Function struct {
	ParamCount int
	LocalCount int // locals beyond the parameters, all i64 or i32
	Body       []byte
}

// Segment is one active data segment.
type Segment struct {
	Offset int32
	Bytes  []byte
}

// Module is the decoded form of an emitted binary, enough for the engine to
// instantiate it. Only the fixed shape the generator produces is accepted.
type Module struct {
	Imports  []string
	Funcs    []Function
	Exports  map[string]int // export name -> absolute function index
	MemPages uint32
	Data     []Segment
	ABI      *InterfaceDescriptor
	Map      *SourceMap
}

// NumImports returns how many function indices are imports.
func (m *Module) NumImports() int { return len(m.Imports) }

// Func returns the defined function at an absolute index.
func (m *Module) Func(abs int) (*Function, error) {
	i := abs - len(m.Imports)
	if i < 0 || i >= len(m.Funcs) {
		return nil, fmt.Errorf("function index %d out of range", abs)
	}
	return &m.Funcs[i], nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) eof() bool { return r.pos >= len(r.buf) }

func (r *reader) byte() (byte, error) {
	if r.eof() {
		return 0, fmt.Errorf("unexpected end of module")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of module")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) uleb() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("uleb128 overflow")
		}
	}
}

func (r *reader) sleb() (int64, error) {
	var v int64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, nil
		}
		if shift > 63 {
			return 0, fmt.Errorf("sleb128 overflow")
		}
	}
}

func (r *reader) name() (string, error) {
	n, err := r.uleb()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeModule parses an emitted binary back into its loadable form.
func DecodeModule(code []byte) (*Module, error) {
	if len(code) < 8 || !bytes.Equal(code[:4], []byte{0x00, 0x61, 0x73, 0x6D}) {
		return nil, fmt.Errorf("not a wasm module")
	}
	if binary.LittleEndian.Uint32(code[4:8]) != 1 {
		return nil, fmt.Errorf("unsupported wasm version")
	}

	m := &Module{Exports: make(map[string]int)}
	var types []int // param count per type index
	var fnTypes []int

	r := &reader{buf: code, pos: 8}
	for !r.eof() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.uleb()
		if err != nil {
			return nil, err
		}
		payload, err := r.take(int(size))
		if err != nil {
			return nil, err
		}
		s := &reader{buf: payload}

		switch id {
		case secType:
			types, err = decodeTypes(s)
		case secImport:
			err = decodeImports(s, m)
		case secFunction:
			fnTypes, err = decodeFuncDecls(s)
		case secMemory:
			err = decodeMemory(s, m)
		case secExport:
			err = decodeExports(s, m)
		case secCode:
			err = decodeCode(s, m, types, fnTypes)
		case secData:
			err = decodeData(s, m)
		case secCustom:
			err = decodeCustom(s, m)
		default:
			return nil, fmt.Errorf("unexpected section id %d", id)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}

	if m.ABI == nil {
		return nil, fmt.Errorf("module has no %s section", SectionABI)
	}
	if m.Map == nil {
		return nil, fmt.Errorf("module has no %s section", SectionMap)
	}
	return m, nil
}

func decodeTypes(r *reader) ([]int, error) {
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n)
	for i := uint64(0); i < n; i++ {
		form, err := r.byte()
		if err != nil {
			return nil, err
		}
		if form != 0x60 {
			return nil, fmt.Errorf("type %d: unexpected form 0x%x", i, form)
		}
		np, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if _, err := r.take(int(np)); err != nil {
			return nil, err
		}
		nr, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if _, err := r.take(int(nr)); err != nil {
			return nil, err
		}
		out = append(out, int(np))
	}
	return out, nil
}

func decodeImports(r *reader, m *Module) error {
	n, err := r.uleb()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		mod, err := r.name()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		if mod != "env" || kind != extFunc {
			return fmt.Errorf("import %s.%s: only env function imports are supported", mod, name)
		}
		if _, err := r.uleb(); err != nil {
			return err
		}
		m.Imports = append(m.Imports, name)
	}
	return nil
}

func decodeFuncDecls(r *reader) ([]int, error) {
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n)
	for i := uint64(0); i < n; i++ {
		t, err := r.uleb()
		if err != nil {
			return nil, err
		}
		out = append(out, int(t))
	}
	return out, nil
}

func decodeMemory(r *reader, m *Module) error {
	n, err := r.uleb()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected one memory, got %d", n)
	}
	flags, err := r.byte()
	if err != nil {
		return err
	}
	min, err := r.uleb()
	if err != nil {
		return err
	}
	if flags&0x01 != 0 {
		if _, err := r.uleb(); err != nil {
			return err
		}
	}
	m.MemPages = uint32(min)
	return nil
}

func decodeExports(r *reader, m *Module) error {
	n, err := r.uleb()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		idx, err := r.uleb()
		if err != nil {
			return err
		}
		if kind == extFunc {
			m.Exports[name] = int(idx)
		}
	}
	return nil
}

func decodeCode(r *reader, m *Module, types, fnTypes []int) error {
	n, err := r.uleb()
	if err != nil {
		return err
	}
	if int(n) != len(fnTypes) {
		return fmt.Errorf("%d bodies for %d declarations", n, len(fnTypes))
	}
	for i := uint64(0); i < n; i++ {
		size, err := r.uleb()
		if err != nil {
			return err
		}
		body, err := r.take(int(size))
		if err != nil {
			return err
		}
		br := &reader{buf: body}
		runs, err := br.uleb()
		if err != nil {
			return err
		}
		locals := 0
		for j := uint64(0); j < runs; j++ {
			count, err := br.uleb()
			if err != nil {
				return err
			}
			if _, err := br.byte(); err != nil {
				return err
			}
			locals += int(count)
		}
		t := fnTypes[i]
		if t >= len(types) {
			return fmt.Errorf("body %d: type index %d out of range", i, t)
		}
		m.Funcs = append(m.Funcs, Function{
			ParamCount: types[t],
			LocalCount: locals,
			Body:       body[br.pos:],
		})
	}
	return nil
}

func decodeData(r *reader, m *Module) error {
	n, err := r.uleb()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		mode, err := r.byte()
		if err != nil {
			return err
		}
		if mode != 0x00 {
			return fmt.Errorf("segment %d: only active segments are supported", i)
		}
		op, err := r.byte()
		if err != nil {
			return err
		}
		if op != OpI32Const {
			return fmt.Errorf("segment %d: unexpected offset expression", i)
		}
		off, err := r.sleb()
		if err != nil {
			return err
		}
		if end, err := r.byte(); err != nil || end != OpEnd {
			return fmt.Errorf("segment %d: unterminated offset expression", i)
		}
		size, err := r.uleb()
		if err != nil {
			return err
		}
		data, err := r.take(int(size))
		if err != nil {
			return err
		}
		m.Data = append(m.Data, Segment{Offset: int32(off), Bytes: data})
	}
	return nil
}

func decodeCustom(r *reader, m *Module) error {
	name, err := r.name()
	if err != nil {
		return err
	}
	rest := r.buf[r.pos:]
	switch name {
	case SectionABI:
		m.ABI, err = ParseABI(rest)
	case SectionMap:
		m.Map, err = ParseSourceMap(rest)
	}
	return err
}
