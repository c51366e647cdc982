package instrument

import "errors"

var (
	errTooLong       = errors.New("instrument: leb128 value too long")
	errTruncated     = errors.New("instrument: truncated leb128 value")
	errBadMagic      = errors.New("instrument: not a wasm module (bad magic)")
	errBadVersion    = errors.New("instrument: unsupported wasm version")
	errTruncatedData = errors.New("instrument: truncated module")
	errUnsupportedOp = errors.New("instrument: unsupported opcode in function body")
)
