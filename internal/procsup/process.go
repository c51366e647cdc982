// Package procsup is the Process Supervisor: it owns the state shared
// across every host worker thread running a single WASM execution — the
// WASI args/env, the open file descriptor table, stdout/stderr
// accumulation, and the cooperative-cancellation bookkeeping the
// Instrumenter's tick calls drive — per spec.md §4.5.
//
// The Rust original keeps this split across a `Process` (per-thread) and
// an `Arc<Mutex<SharedWasiCtx>>` (cross-thread) because Rust's borrow
// checker needs that seam to hand the shared half across a `wasm_bindgen`
// worker boundary. Go has no such constraint: every host worker here is
// already a goroutine in the same address space, so the two collapse
// into one mutex-guarded Process (DESIGN.md Open Question 1).
package procsup

import (
	"sync"
	"time"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/pipe"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
)

// FdKind identifies what a file descriptor table slot refers to.
type FdKind int

const (
	FdClosed FdKind = iota
	FdStdin
	FdStdout
	FdStderr
	FdDir
	FdFile
	FdPipe
)

// Fd is one entry of the process's file descriptor table.
type Fd struct {
	Kind   FdKind
	Inode  vfs.Inode
	Offset uint64
}

// Status reports how a run finished.
type Status struct {
	ExitCode int32
	Killed   bool
	Reason   string
}

// Process is the state every host worker thread for one execution
// shares. Exported methods take mu and are the only code touching the
// unexported fields; the exported fields (Args, Env, FS, the pipes, the
// callbacks) are read and set directly by callers without the lock.
type Process struct {
	mu sync.Mutex

	Args [][]byte // zero-terminated, argv-style
	Env  [][]byte // zero-terminated "KEY=value"

	FS *vfs.FS

	fdTable []Fd

	Stdin  *pipe.Pipe
	Stdout *pipe.Pipe
	Stderr *pipe.Pipe

	// OnStdout/OnStderr, when set, receive every fd_write to fd 1/2
	// directly instead of buffering into Stdout/Stderr, the "stream-vs-
	// buffer stdio policy" of spec.md §9: a scratch buffer is appended
	// to and flushed to the callback on every write, preserving iovec
	// atomicity while streaming incrementally to the client.
	OnStdout func([]byte)
	OnStderr func([]byte)

	returnCode  *int32
	killMessage string

	start time.Time

	ShouldStop func() bool
	Notify     func()

	totalBytesWritten int
	threadCount       int
}

// MaxThreads bounds how many WASI threads a single execution may spawn,
// mirroring the Rust original's wasi.rs guard of the same name.
const MaxThreads = 1 << 24

// maxMemoryBytes is the same 3.75GiB ceiling wasi.rs's check_should_stop
// enforces before a thread's memory is allowed to grow further.
const maxMemoryBytes = 30 * 1024 * 1024 * 1024 / 8

const stdoutFlushThresholdBytes = 10_000

// NewProcess builds a Process ready to back a single execution. args and
// env are plain strings; zero-termination and "KEY=value" joining happen
// here so callers never need to think about the WASI wire format.
func NewProcess(args []string, env map[string]string, fs *vfs.FS, stdin []byte) *Process {
	p := &Process{
		FS:     fs,
		Stdin:  pipe.New(),
		Stdout: pipe.New(),
		Stderr: pipe.New(),
		start:  time.Now(),
		fdTable: []Fd{
			{Kind: FdStdin},
			{Kind: FdStdout},
			{Kind: FdStderr},
			{Kind: FdDir, Inode: fs.RootInode()},
		},
	}
	for _, a := range args {
		p.Args = append(p.Args, zeroTerminate([]byte(a)))
	}
	for k, v := range env {
		p.Env = append(p.Env, zeroTerminate([]byte(k+"="+v)))
	}
	p.Stdin.Write(stdin)
	// A killed process's thread may be parked inside a blocking fd_read
	// on stdin rather than at a tick point, so cancellation alone can't
	// reach it; closing stdin on kill is the generalization of spec.md
	// §5's "Language-server stop additionally closes the LS stdin pipe"
	// note to the compile-and-run stdin pipe. Run/orchestrator may
	// replace Notify to also tear down its own bookkeeping, but should
	// keep closing Stdin if it does.
	p.Notify = p.Stdin.Close
	return p
}

// CloseStdin marks the process's stdin as EOF, for callers that know no
// further StdinChunk messages will arrive for this run.
func (p *Process) CloseStdin() {
	p.Stdin.Close()
}

func zeroTerminate(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

// Fd returns a copy of the file descriptor table entry at index fd, and
// whether it exists.
func (p *Process) Fd(fd uint32) (Fd, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(fd) >= len(p.fdTable) {
		return Fd{}, false
	}
	return p.fdTable[fd], true
}

// SetFd overwrites the table entry at index fd, growing the table if
// necessary.
func (p *Process) SetFd(fd uint32, entry Fd) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for uint32(len(p.fdTable)) <= fd {
		p.fdTable = append(p.fdTable, Fd{Kind: FdClosed})
	}
	p.fdTable[fd] = entry
}

// OpenFile allocates a new fd table slot for inode and returns its index.
func (p *Process) OpenFile(kind FdKind, inode vfs.Inode) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd := uint32(len(p.fdTable))
	p.fdTable = append(p.fdTable, Fd{Kind: kind, Inode: inode})
	return fd
}

// CloseFd marks fd closed; subsequent lookups return FdClosed.
func (p *Process) CloseFd(fd uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(fd) >= len(p.fdTable) {
		return false
	}
	p.fdTable[fd] = Fd{Kind: FdClosed}
	return true
}

// AdvanceOffset adds delta to fd's stored offset and returns the new
// value, for fd_write/fd_read/fd_seek bookkeeping.
func (p *Process) AdvanceOffset(fd uint32, delta uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(fd) >= len(p.fdTable) {
		return 0
	}
	p.fdTable[fd].Offset += delta
	return p.fdTable[fd].Offset
}

// SetOffset sets fd's stored offset directly, for fd_seek(SET).
func (p *Process) SetOffset(fd uint32, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(fd) < len(p.fdTable) {
		p.fdTable[fd].Offset = value
	}
}

// RecordExit records a clean proc_exit return code. Codes are clamped to
// [0,128] the way wasi.rs's proc_exit does (exitcode.min(128)).
func (p *Process) RecordExit(code uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code > 128 {
		code = 128
	}
	c := int32(code)
	if p.returnCode == nil {
		p.returnCode = &c
	}
}

// RecordSignal records proc_raise(sig), encoded as sig+128 per POSIX
// convention, matching wasi.rs's proc_raise.
func (p *Process) RecordSignal(sig uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := int32(sig) + 128
	if p.returnCode == nil {
		p.returnCode = &c
	}
}

// ReturnCode reports whether proc_exit/proc_raise has been observed yet.
func (p *Process) ReturnCode() (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.returnCode == nil {
		return 0, false
	}
	return *p.returnCode, true
}

// Kill marks the process as killed for reason, unless it already
// finished or was already killed — first writer wins, matching wasi.rs's
// check_should_stop which never overwrites an existing kill_message.
func (p *Process) Kill(reason string) {
	p.mu.Lock()
	if p.killMessage == "" && p.returnCode == nil {
		p.killMessage = reason
	}
	notify := p.Notify
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// CheckShouldStop is the tick-driven cancellation check every inserted
// tick call and every thread-spawn attempt runs, mirroring wasi.rs's
// check_should_stop. memSizeBytes is the calling thread's current linear
// memory size. It returns a non-empty reason once the process should
// unwind: exit already recorded, another thread already requested a
// kill, the memory ceiling was exceeded, or the host-supplied
// ShouldStop callback fired.
func (p *Process) CheckShouldStop(memSizeBytes uint64) string {
	if p.ShouldStop != nil && p.ShouldStop() {
		p.Kill("execution killed by user")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.returnCode != nil {
		return "exit was called"
	}
	if p.killMessage != "" {
		return p.killMessage
	}
	if memSizeBytes >= maxMemoryBytes {
		p.killMessage = "memory limit exceeded"
		return p.killMessage
	}
	return ""
}

// RecordWrite accounts n freshly written stdout/stderr bytes and reports
// whether the cooperative flush threshold was just crossed, the same
// 10,000-byte heuristic wasi.rs's fd_write uses to trigger an extra
// check_should_stop without waiting for the next tick.
func (p *Process) RecordWrite(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalBytesWritten += n
	if p.totalBytesWritten > stdoutFlushThresholdBytes {
		p.totalBytesWritten = 0
		return true
	}
	return false
}

// SpawnThread increments the thread count and returns the new thread id,
// or -1 once MaxThreads is reached, matching wasi_thread_spawn's guard.
func (p *Process) SpawnThread() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threadCount++
	if p.threadCount >= MaxThreads {
		return -1
	}
	return int32(p.threadCount)
}

// Elapsed is used for clock_time_get's realtime clock.
func (p *Process) Elapsed() time.Duration {
	return time.Since(p.start)
}

// CloseOutputs closes the stdout/stderr pipes once every thread has
// exited, so a final drain of buffered bytes observes EOF instead of
// blocking forever.
func (p *Process) CloseOutputs() {
	p.Stdout.Close()
	p.Stderr.Close()
}

// FinalStatus summarizes how the run ended, after every thread has
// finished, mirroring the tail of wasi.rs's Executable::run.
func (p *Process) FinalStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.returnCode != nil {
		return Status{ExitCode: *p.returnCode, Killed: *p.returnCode != 0 && p.killMessage != "", Reason: p.killMessage}
	}
	if p.killMessage != "" {
		return Status{ExitCode: -1, Killed: true, Reason: p.killMessage}
	}
	return Status{ExitCode: 0}
}
