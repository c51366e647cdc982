package instrument

// Minimal structural access to the parts of the WASM binary format the
// tick-insertion pass needs to read or rewrite: section framing, the
// import/export/global/element vectors, and function bodies. Sections
// this package never touches (table, memory, data, custom, datacount)
// are kept as opaque byte slices and copied through unchanged.

const (
	secCustom    = 0
	secType      = 1
	secImport    = 2
	secFunction  = 3
	secTable     = 4
	secMemory    = 5
	secGlobal    = 6
	secExport    = 7
	secStart     = 8
	secElement   = 9
	secCode      = 10
	secData      = 11
	secDataCount = 12
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
var wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}

type section struct {
	id   byte
	data []byte
}

func parseModule(wasmBytes []byte) ([]section, error) {
	if len(wasmBytes) < 8 {
		return nil, errTruncatedData
	}
	if string(wasmBytes[:4]) != string(wasmMagic) {
		return nil, errBadMagic
	}
	if string(wasmBytes[4:8]) != string(wasmVersion) {
		return nil, errBadVersion
	}
	var sections []section
	rest := wasmBytes[8:]
	for len(rest) > 0 {
		id := rest[0]
		size, n, err := DecodeUint32(rest[1:])
		if err != nil {
			return nil, err
		}
		start := 1 + n
		end := start + int(size)
		if end > len(rest) {
			return nil, errTruncatedData
		}
		sections = append(sections, section{id: id, data: rest[start:end]})
		rest = rest[end:]
	}
	return sections, nil
}

func encodeModule(sections []section) []byte {
	out := append([]byte{}, wasmMagic...)
	out = append(out, wasmVersion...)
	for _, s := range sections {
		out = append(out, encodeSection(s.id, s.data)...)
	}
	return out
}

func encodeSection(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, EncodeUint32(uint32(len(payload)))...)
	out = append(out, payload...)
	return out
}

// --- import section ---

type importEntry struct {
	module, field string
	kind          byte
	// rest is the kind-specific payload: typeidx for funcs, tabletype
	// for tables, limits for memories, globaltype for globals.
	rest []byte
}

func decodeName(buf []byte) (string, int, error) {
	length, n, err := DecodeUint32(buf)
	if err != nil {
		return "", 0, err
	}
	start := n
	end := start + int(length)
	if end > len(buf) {
		return "", 0, errTruncatedData
	}
	return string(buf[start:end]), end, nil
}

func encodeName(s string) []byte {
	out := EncodeUint32(uint32(len(s)))
	return append(out, s...)
}

func parseImportSection(data []byte) ([]importEntry, error) {
	count, n, err := DecodeUint32(data)
	if err != nil {
		return nil, err
	}
	off := n
	entries := make([]importEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		mod, consumed, err := decodeName(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		field, consumed, err := decodeName(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		kind := data[off]
		off++
		restStart := off
		switch kind {
		case 0x00: // func: typeidx
			_, consumed, err := DecodeUint32(data[off:])
			if err != nil {
				return nil, err
			}
			off += consumed
		case 0x01: // table: reftype + limits
			off++ // reftype
			off, err = skipLimits(data, off)
			if err != nil {
				return nil, err
			}
		case 0x02: // memory: limits
			off, err = skipLimits(data, off)
			if err != nil {
				return nil, err
			}
		case 0x03: // global: valtype + mutability
			off += 2
		default:
			return nil, errUnsupportedOp
		}
		entries = append(entries, importEntry{module: mod, field: field, kind: kind, rest: data[restStart:off]})
	}
	return entries, nil
}

func skipLimits(data []byte, off int) (int, error) {
	flag := data[off]
	off++
	_, n, err := DecodeUint32(data[off:])
	if err != nil {
		return 0, err
	}
	off += n
	if flag == 0x01 {
		_, n, err := DecodeUint32(data[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

func encodeImportSection(entries []importEntry) []byte {
	out := EncodeUint32(uint32(len(entries)))
	for _, e := range entries {
		out = append(out, encodeName(e.module)...)
		out = append(out, encodeName(e.field)...)
		out = append(out, e.kind)
		out = append(out, e.rest...)
	}
	return out
}

func countFuncImports(entries []importEntry) uint32 {
	var n uint32
	for _, e := range entries {
		if e.kind == 0x00 {
			n++
		}
	}
	return n
}

// --- type section ---

func parseTypeSection(data []byte) ([][]byte, error) {
	count, n, err := DecodeUint32(data)
	if err != nil {
		return nil, err
	}
	off := n
	types := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		start := off
		if data[off] != 0x60 {
			return nil, errUnsupportedOp
		}
		off++
		for _, vecN := range []int{0, 1} {
			_ = vecN
			cnt, consumed, err := DecodeUint32(data[off:])
			if err != nil {
				return nil, err
			}
			off += consumed + int(cnt)
		}
		types = append(types, data[start:off])
	}
	return types, nil
}

func encodeTypeSection(types [][]byte) []byte {
	out := EncodeUint32(uint32(len(types)))
	for _, t := range types {
		out = append(out, t...)
	}
	return out
}

var emptyFuncType = []byte{0x60, 0x00, 0x00}

func findOrAppendEmptyFuncType(types [][]byte) (uint32, [][]byte) {
	for i, t := range types {
		if string(t) == string(emptyFuncType) {
			return uint32(i), types
		}
	}
	return uint32(len(types)), append(types, emptyFuncType)
}

// --- export section ---

type exportEntry struct {
	name  string
	kind  byte
	index uint32
}

func parseExportSection(data []byte) ([]exportEntry, error) {
	count, n, err := DecodeUint32(data)
	if err != nil {
		return nil, err
	}
	off := n
	out := make([]exportEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		name, consumed, err := decodeName(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		kind := data[off]
		off++
		idx, consumed, err := DecodeUint32(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		out = append(out, exportEntry{name: name, kind: kind, index: idx})
	}
	return out, nil
}

func encodeExportSection(exports []exportEntry) []byte {
	out := EncodeUint32(uint32(len(exports)))
	for _, e := range exports {
		out = append(out, encodeName(e.name)...)
		out = append(out, e.kind)
		out = append(out, EncodeUint32(e.index)...)
	}
	return out
}

// --- global section ---

func parseGlobalSection(data []byte) ([][]byte, error) {
	count, n, err := DecodeUint32(data)
	if err != nil {
		return nil, err
	}
	off := n
	globals := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		start := off
		off += 2 // valtype + mutability
		exprLen, err := scanExprLength(data[off:])
		if err != nil {
			return nil, err
		}
		off += exprLen
		globals = append(globals, data[start:off])
	}
	return globals, nil
}

func encodeGlobalSection(globals [][]byte) []byte {
	out := EncodeUint32(uint32(len(globals)))
	for _, g := range globals {
		out = append(out, g...)
	}
	return out
}

// newI32Global encodes a mutable i32 global initialized to 0.
var newI32Global = []byte{0x7f, 0x01, 0x41, 0x00, 0x0b}

// --- element section (flag 0: active, table 0, funcidx vector) ---

type elemEntry struct {
	flag    uint32
	raw     []byte // full raw encoding of a flag-0 segment; encodeElementSection does not read it
	offset  []byte // init expr bytes (flag 0 only)
	funcIdx []uint32
}

func parseElementSection(data []byte) ([]elemEntry, error) {
	count, n, err := DecodeUint32(data)
	if err != nil {
		return nil, err
	}
	off := n
	elems := make([]elemEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		start := off
		flag, consumed, err := DecodeUint32(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		if flag != 0 {
			// Not a shape we rewrite func indices in; Instrument
			// returns this error rather than copying the segment
			// through with unshifted indices.
			elems = append(elems, elemEntry{flag: flag, raw: nil})
			return elems, errUnsupportedOp
		}
		exprLen, err := scanExprLength(data[off:])
		if err != nil {
			return nil, err
		}
		offsetExpr := data[off : off+exprLen]
		off += exprLen
		fcount, consumed, err := DecodeUint32(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		idxs := make([]uint32, fcount)
		for j := uint32(0); j < fcount; j++ {
			v, consumed, err := DecodeUint32(data[off:])
			if err != nil {
				return nil, err
			}
			idxs[j] = v
			off += consumed
		}
		elems = append(elems, elemEntry{flag: flag, offset: offsetExpr, funcIdx: idxs, raw: data[start:off]})
	}
	return elems, nil
}

func encodeElementSection(elems []elemEntry) []byte {
	out := EncodeUint32(uint32(len(elems)))
	for _, e := range elems {
		out = append(out, EncodeUint32(e.flag)...)
		out = append(out, e.offset...)
		out = append(out, EncodeUint32(uint32(len(e.funcIdx)))...)
		for _, idx := range e.funcIdx {
			out = append(out, EncodeUint32(idx)...)
		}
	}
	return out
}

// scanExprLength returns the byte length of a constant expression
// (as used by global inits and element/data offsets), i.e. up to and
// including its terminating 0x0B "end" opcode. Only the handful of
// instructions legal in a constant expression can appear, so this does
// not need the full opcode skip table.
func scanExprLength(data []byte) (int, error) {
	off := 0
	for {
		if off >= len(data) {
			return 0, errTruncatedData
		}
		op := data[off]
		off++
		switch op {
		case 0x0b: // end
			return off, nil
		case 0x41: // i32.const
			n, err := skipSignedLEB(data[off:])
			if err != nil {
				return 0, err
			}
			off += n
		case 0x42: // i64.const
			n, err := skipSignedLEB(data[off:])
			if err != nil {
				return 0, err
			}
			off += n
		case 0x43: // f32.const
			off += 4
		case 0x44: // f64.const
			off += 8
		case 0x23: // global.get
			_, n, err := DecodeUint32(data[off:])
			if err != nil {
				return 0, err
			}
			off += n
		case 0xd0: // ref.null
			off++
		case 0xd2: // ref.func
			_, n, err := DecodeUint32(data[off:])
			if err != nil {
				return 0, err
			}
			off += n
		default:
			return 0, errUnsupportedOp
		}
	}
}
