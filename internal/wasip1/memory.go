package wasip1

import "github.com/tetratelabs/wazero/api"

// readBytes reads n bytes at ptr from mem, reporting ok=false on an
// out-of-bounds access (the WASI contract for returning ErrnoFault).
func readBytes(mem api.Memory, ptr, n uint32) ([]byte, bool) {
	return mem.Read(ptr, n)
}

func writeBytes(mem api.Memory, ptr uint32, data []byte) bool {
	return mem.Write(ptr, data)
}

func writeU32(mem api.Memory, ptr uint32, v uint32) bool {
	return mem.WriteUint32Le(ptr, v)
}

func readU32(mem api.Memory, ptr uint32) (uint32, bool) {
	return mem.ReadUint32Le(ptr)
}

func writeU64(mem api.Memory, ptr uint32, v uint64) bool {
	return mem.WriteUint64Le(ptr, v)
}

func readU64(mem api.Memory, ptr uint32) (uint64, bool) {
	return mem.ReadUint64Le(ptr)
}

// ioVec is a single WASI __wasi_iovec_t / __wasi_ciovec_t: {buf *u8,
// buf_len u32}, 8 bytes total on wasm32.
type ioVec struct {
	buf    uint32
	bufLen uint32
}

func readIoVecs(mem api.Memory, ptr, count uint32) ([]ioVec, bool) {
	out := make([]ioVec, count)
	for i := uint32(0); i < count; i++ {
		base := ptr + i*8
		buf, ok := readU32(mem, base)
		if !ok {
			return nil, false
		}
		bufLen, ok := readU32(mem, base+4)
		if !ok {
			return nil, false
		}
		out[i] = ioVec{buf: buf, bufLen: bufLen}
	}
	return out, true
}
