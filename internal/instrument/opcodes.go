package instrument

// operandLength returns how many bytes of rest (the instruction stream
// immediately following the already-consumed opcode byte op) belong to
// that instruction's immediate operands. block/loop/if, call and
// ref.func are handled by the caller since they also need their
// operand values, not just lengths; everything else is covered here.
func operandLength(op byte, rest []byte) (int, error) {
	switch op {
	// No immediates.
	case 0x00, 0x01, 0x05, 0x0b, 0x0f, 0x1a, 0x1b,
		0x45, 0x46, 0x47, 0x48, 0x49, 0x4a, 0x4b, 0x4c, 0x4d, 0x4e, 0x4f,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5a,
		0x5b, 0x5c, 0x5d, 0x5e, 0x5f, 0x60, 0x61, 0x62, 0x63, 0x64, 0x65,
		0x66, 0x67, 0x68, 0x69, 0x6a, 0x6b, 0x6c, 0x6d, 0x6e, 0x6f, 0x70,
		0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79, 0x7a, 0x7b,
		0x7c, 0x7d, 0x7e, 0x7f, 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86,
		0x87, 0x88, 0x89, 0x8a, 0x8b, 0x8c, 0x8d, 0x8e, 0x8f, 0x90, 0x91,
		0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9a, 0x9b, 0x9c,
		0x9d, 0x9e, 0x9f, 0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
		0xa8, 0xa9, 0xaa, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xb0, 0xb1, 0xb2,
		0xb3, 0xb4, 0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xbb, 0xbc, 0xbd,
		0xbe, 0xbf, 0xc0, 0xc1, 0xc2, 0xc3, 0xc4, 0xd1:
		return 0, nil

	case 0x0c, 0x0d, // br, br_if
		0x20, 0x21, 0x22, // local.get/set/tee
		0x23, 0x24: // global.get/set
		_, n, err := DecodeUint32(rest)
		return n, err

	case 0x0e: // br_table: vec(labelidx) + labelidx
		count, n, err := DecodeUint32(rest)
		if err != nil {
			return 0, err
		}
		off := n
		for i := uint32(0); i <= count; i++ { // +1 for the default label
			_, consumed, err := DecodeUint32(rest[off:])
			if err != nil {
				return 0, err
			}
			off += consumed
		}
		return off, nil

	case 0x11: // call_indirect: typeidx, tableidx
		_, n1, err := DecodeUint32(rest)
		if err != nil {
			return 0, err
		}
		_, n2, err := DecodeUint32(rest[n1:])
		if err != nil {
			return 0, err
		}
		return n1 + n2, nil

	case 0x25, 0x26: // table.get, table.set
		_, n, err := DecodeUint32(rest)
		return n, err

	case 0x3f, 0x40: // memory.size, memory.grow (reserved byte)
		return 1, nil

	case 0x28, 0x29, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f, 0x30, 0x31, 0x32,
		0x33, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3a, 0x3b, 0x3c, 0x3d, 0x3e:
		return skipMemarg(rest)

	case 0x41: // i32.const
		return skipSignedLEB(rest)
	case 0x42: // i64.const
		return skipSignedLEB(rest)
	case 0x43: // f32.const
		return 4, nil
	case 0x44: // f64.const
		return 8, nil

	case 0xd0: // ref.null: reftype byte
		return 1, nil

	case 0xfc: // bulk-memory / saturating truncation prefix
		return operandLengthMisc(rest)
	case 0xfe: // threads/atomics prefix
		return operandLengthAtomic(rest)
	case 0xfd: // SIMD prefix (partial support)
		return operandLengthSIMD(rest)
	}
	return 0, errUnsupportedOp
}

func skipMemarg(rest []byte) (int, error) {
	_, n1, err := DecodeUint32(rest)
	if err != nil {
		return 0, err
	}
	_, n2, err := DecodeUint32(rest[n1:])
	if err != nil {
		return 0, err
	}
	return n1 + n2, nil
}

func operandLengthMisc(rest []byte) (int, error) {
	sub, n, err := DecodeUint32(rest)
	if err != nil {
		return 0, err
	}
	off := n
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // *.trunc_sat_* : no further immediates
		return off, nil
	case 8: // memory.init: dataidx, memidx(reserved byte)
		_, n2, err := DecodeUint32(rest[off:])
		if err != nil {
			return 0, err
		}
		return off + n2 + 1, nil
	case 9: // data.drop: dataidx
		_, n2, err := DecodeUint32(rest[off:])
		return off + n2, err
	case 10: // memory.copy: two reserved bytes
		return off + 2, nil
	case 11: // memory.fill: one reserved byte
		return off + 1, nil
	case 12: // table.init: elemidx, tableidx
		_, n2, err := DecodeUint32(rest[off:])
		if err != nil {
			return 0, err
		}
		_, n3, err := DecodeUint32(rest[off+n2:])
		return off + n2 + n3, err
	case 13: // elem.drop: elemidx
		_, n2, err := DecodeUint32(rest[off:])
		return off + n2, err
	case 14: // table.copy: tableidx, tableidx
		_, n2, err := DecodeUint32(rest[off:])
		if err != nil {
			return 0, err
		}
		_, n3, err := DecodeUint32(rest[off+n2:])
		return off + n2 + n3, err
	case 15, 16, 17: // table.grow/size/fill: tableidx
		_, n2, err := DecodeUint32(rest[off:])
		return off + n2, err
	}
	return 0, errUnsupportedOp
}

func operandLengthAtomic(rest []byte) (int, error) {
	sub, n, err := DecodeUint32(rest)
	if err != nil {
		return 0, err
	}
	off := n
	if sub == 0x03 { // atomic.fence: reserved byte
		return off + 1, nil
	}
	memN, err := skipMemarg(rest[off:])
	if err != nil {
		return 0, err
	}
	return off + memN, nil
}

// operandLengthSIMD covers the v128 load/store, const, shuffle and lane
// forms clang can emit under "-msimd128" by their immediates; every
// other SIMD subopcode is taken to have no immediates beyond the
// subopcode itself, without checking that the subopcode exists.
func operandLengthSIMD(rest []byte) (int, error) {
	sub, n, err := DecodeUint32(rest)
	if err != nil {
		return 0, err
	}
	off := n
	switch {
	case sub == 12: // v128.const: 16 raw bytes
		return off + 16, nil
	case sub == 13: // i8x16.shuffle: 16 lane-index bytes
		return off + 16, nil
	case sub <= 11: // v128.load*/store variants: memarg
		memN, err := skipMemarg(rest[off:])
		return off + memN, err
	case sub >= 84 && sub <= 91: // v128.load{8,16,32,64}_lane / store*_lane: memarg + laneidx
		memN, err := skipMemarg(rest[off:])
		if err != nil {
			return 0, err
		}
		return off + memN + 1, nil
	case sub == 92 || sub == 93: // v128.load32_zero / v128.load64_zero: memarg
		memN, err := skipMemarg(rest[off:])
		return off + memN, err
	case sub >= 21 && sub <= 34: // extract_lane/replace_lane family: laneidx
		return off + 1, nil
	default: // splats, arithmetic, comparisons: no immediates beyond the subopcode
		return off, nil
	}
}
