package wasip1

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/pipe"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/procsup"
)

// killExitCode mirrors internal/procsup.killExitCode: the out-of-band
// sys.ExitError code a syscall handler panics with to unwind a killed
// thread from inside a blocking or budget-checked host call, rather
// than waiting for the next instrumented tick.
const killExitCode = 255

func (h *handler) registerIo(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.fdRead).Export("fd_read")
	b.NewFunctionBuilder().WithFunc(h.fdWrite).Export("fd_write")
	b.NewFunctionBuilder().WithFunc(h.fdSeek).Export("fd_seek")
}

// scatterWrite copies data into iovs in order, WASI's "scatter" output
// contract for fd_read, and returns how many bytes were placed.
func scatterWrite(mem api.Memory, iovs []ioVec, data []byte) (int, bool) {
	off := 0
	for _, v := range iovs {
		if off >= len(data) {
			break
		}
		n := int(v.bufLen)
		if off+n > len(data) {
			n = len(data) - off
		}
		if n <= 0 {
			continue
		}
		if !writeBytes(mem, v.buf, data[off:off+n]) {
			return off, false
		}
		off += n
	}
	return off, true
}

// gatherRead concatenates every iovec's guest-memory contents in order,
// WASI's "gather" input contract for fd_write.
func gatherRead(mem api.Memory, iovs []ioVec) ([]byte, bool) {
	var out []byte
	for _, v := range iovs {
		b, ok := readBytes(mem, v.buf, v.bufLen)
		if !ok {
			return nil, false
		}
		out = append(out, b...)
	}
	return out, true
}

func (h *handler) checkShouldStop(mod api.Module) {
	memSize := uint64(0)
	if mem := mod.Memory(); mem != nil {
		memSize = uint64(mem.Size())
	}
	if reason := h.proc.CheckShouldStop(memSize); reason != "" {
		panic(sys.NewExitError(killExitCode))
	}
}

// fdRead services Data (stdin), File, and Pipe backings per spec.md
// §4.6's "Reads/writes", honoring iovec scatter semantics.
func (h *handler) fdRead(ctx context.Context, mod api.Module, fd, iovsPtr, iovsLen, resultPtr uint32) uint32 {
	mem := mod.Memory()
	iovs, ok := readIoVecs(mem, iovsPtr, iovsLen)
	if !ok {
		return ErrnoFault
	}
	total := 0
	for _, v := range iovs {
		total += int(v.bufLen)
	}
	buf := make([]byte, total)

	entry, ok := h.proc.Fd(fd)
	if !ok || entry.Kind == procsup.FdClosed {
		return ErrnoBadf
	}

	var n int
	switch entry.Kind {
	case procsup.FdStdin:
		n = h.proc.Stdin.Read(buf)
	case procsup.FdFile:
		data, err := h.proc.FS.GetFile(entry.Inode)
		if err != nil {
			return ErrnoBadf
		}
		if uint64(len(data)) > entry.Offset {
			n = copy(buf, data[entry.Offset:])
			h.proc.AdvanceOffset(fd, uint64(n))
		}
	case procsup.FdPipe:
		p, err := h.proc.FS.GetPipe(entry.Inode)
		if err != nil {
			return ErrnoBadf
		}
		n = p.Read(buf)
	default:
		return ErrnoBadf
	}

	written, ok := scatterWrite(mem, iovs, buf[:n])
	if !ok {
		return ErrnoFault
	}
	if !writeU32(mem, resultPtr, uint32(written)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdWrite services WriteFn (stdout/stderr streaming callbacks) and Pipe
// backings per spec.md §4.6; stdin and File Fds return Perm. Every stdoutFlushThresholdBytes
// (10,000) written, check_should_stop is invoked, per spec.md §4.6 and
// §5's suspension-point list.
func (h *handler) fdWrite(ctx context.Context, mod api.Module, fd, iovsPtr, iovsLen, resultPtr uint32) uint32 {
	mem := mod.Memory()
	iovs, ok := readIoVecs(mem, iovsPtr, iovsLen)
	if !ok {
		return ErrnoFault
	}
	data, ok := gatherRead(mem, iovs)
	if !ok {
		return ErrnoFault
	}

	entry, ok := h.proc.Fd(fd)
	if !ok || entry.Kind == procsup.FdClosed {
		return ErrnoBadf
	}

	switch entry.Kind {
	case procsup.FdStdout:
		h.writeStream(mod, h.proc.OnStdout, h.proc.Stdout, data)
	case procsup.FdStderr:
		h.writeStream(mod, h.proc.OnStderr, h.proc.Stderr, data)
	case procsup.FdPipe:
		p, err := h.proc.FS.GetPipe(entry.Inode)
		if err != nil {
			return ErrnoBadf
		}
		p.Write(data)
	default:
		// Directories and regular VFS files are read-only (spec.md §3:
		// "Files are content-addressed by reference"); there is no
		// writable regular-file backing to service.
		return ErrnoPerm
	}

	if !writeU32(mem, resultPtr, uint32(len(data))) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *handler) writeStream(mod api.Module, callback func([]byte), fallback *pipe.Pipe, data []byte) {
	if callback != nil {
		callback(data)
	} else {
		fallback.Write(data)
	}
	if h.proc.RecordWrite(len(data)) {
		h.checkShouldStop(mod)
	}
}

// WASI whence values.
const (
	whenceSet = 0
	whenceCur = 1
	whenceEnd = 2
)

// fdSeek supports File Fds with SET/CUR/END semantics, clamping a
// negative result to 0, per spec.md §8 property 5; stdin and every other
// Fd kind returns Badf.
func (h *handler) fdSeek(ctx context.Context, mod api.Module, fd uint32, offset int64, whence uint8, resultPtr uint32) uint32 {
	entry, ok := h.proc.Fd(fd)
	if !ok || entry.Kind != procsup.FdFile {
		return ErrnoBadf
	}

	var base int64
	switch whence {
	case whenceSet:
		base = 0
	case whenceCur:
		base = int64(entry.Offset)
	case whenceEnd:
		base = int64(h.proc.FS.Size(entry.Inode))
	default:
		return ErrnoInval
	}

	newOffset := base + offset
	if newOffset < 0 {
		newOffset = 0
	}
	h.proc.SetOffset(fd, uint64(newOffset))
	if !writeU64(mod.Memory(), resultPtr, uint64(newOffset)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
