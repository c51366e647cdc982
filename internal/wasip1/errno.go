// Package wasip1 implements the WASI preview1 syscall surface spec.md
// §4.6 calls for, wired against internal/vfs, internal/pipe and
// internal/procsup instead of a real operating system.
package wasip1

// Errno values, restricted to the subset original_source/worker/src/wasi.rs
// actually returns; this runtime never needs the rest of the WASI errno
// space since every failure mode it can hit maps to one of these.
type Errno = uint32

const (
	ErrnoSuccess Errno = 0
	ErrnoBadf    Errno = 8
	ErrnoFault   Errno = 21
	ErrnoInval   Errno = 28
	ErrnoIsdir   Errno = 31
	ErrnoNoent   Errno = 44
	ErrnoNotdir  Errno = 54
	ErrnoPerm    Errno = 63
)
