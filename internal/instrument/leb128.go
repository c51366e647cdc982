package instrument

// LEB128 varint helpers for the WASM binary format. Signed/unsigned
// encodings and the exact byte sequences they must produce are fixed by
// the conformance cases tetratelabs/wazero's own internal/leb128 test
// suite checks (_examples/tetratelabs-wazero/internal/leb128/leb128_test.go),
// which this file reproduces.

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

// DecodeUint32 decodes an unsigned LEB128 value from buf, returning the
// value and the number of bytes consumed.
func DecodeUint32(buf []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i, b := range buf {
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, errTooLong
		}
	}
	return 0, 0, errTruncated
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte {
	return encodeSigned(int64(v), 32)
}

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	return encodeSigned(v, 64)
}

func encodeSigned(v int64, bits int) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// DecodeInt32 decodes a signed LEB128 value from buf.
func DecodeInt32(buf []byte) (int32, int, error) {
	v, n, err := decodeSigned(buf, 32)
	return int32(v), n, err
}

// DecodeInt64 decodes a signed LEB128 value from buf.
func DecodeInt64(buf []byte) (int64, int, error) {
	return decodeSigned(buf, 64)
}

func decodeSigned(buf []byte, bits int) (int64, int, error) {
	var result int64
	var shift uint
	var i int
	for {
		if i >= len(buf) {
			return 0, 0, errTruncated
		}
		b := buf[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		i++
		if b&0x80 == 0 {
			if shift < uint(bits) && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i, nil
		}
		if shift >= 70 {
			return 0, 0, errTooLong
		}
	}
}

// skipSignedLEB returns the number of bytes a signed LEB128 value
// occupies at the start of buf, without caring about its decoded value;
// used to skip blocktype immediates (spec.md §4.4).
func skipSignedLEB(buf []byte) (int, error) {
	for i, b := range buf {
		if b&0x80 == 0 {
			return i + 1, nil
		}
		if i > 9 {
			return 0, errTooLong
		}
	}
	return 0, errTruncated
}

func skipUnsignedLEB(buf []byte) (int, error) {
	return skipSignedLEB(buf)
}
