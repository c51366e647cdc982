package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/procsup"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
)

// langServer tracks the currently-running language-server Process so
// Session can route LSMessage writes to its stdin and stop
// it when a new StartLS supersedes it, restoring main.rs's ls_stdin
// Option<Pipe> slot as its own small type instead of a field directly on
// Session.
type langServer struct {
	mu      sync.Mutex
	proc    *procsup.Process
	exited  chan struct{}
	stopped bool
}

func newLangServer() *langServer {
	return &langServer{exited: make(chan struct{})}
}

// feedStdin writes framed bytes to the server's stdin pipe, once a
// Process has been installed by runLanguageServer's configureProc
// callback. Writes that arrive before the first attempt's Process
// exists are simply dropped, the same race the original accepts (its
// ls_stdin slot is also only populated once the Pipe is constructed).
func (ls *langServer) feedStdin(b []byte) {
	ls.mu.Lock()
	p := ls.proc
	ls.mu.Unlock()
	if p != nil {
		p.Stdin.Write(b)
	}
}

// stop requests the server's current attempt to unwind and marks the
// session so runLanguageServer's restart loop does not retry afterward.
func (ls *langServer) stop() {
	ls.mu.Lock()
	ls.stopped = true
	p := ls.proc
	ls.mu.Unlock()
	if p != nil {
		p.Kill("language server stopped")
	}
}

// wait blocks until runLanguageServer has fully exited (after the
// current attempt finished and no retry follows), per spec.md §8
// property 7 ("starting an LS while one is running drains the previous
// one's exit before the new one is reported LSReady").
func (ls *langServer) wait() {
	<-ls.exited
}

// languageServerBinary returns the well-known binary name, its path in
// the toolchain FS, and its argv for language, restoring the
// Language-keyed dispatch of compiler.rs's start_language_server.
func languageServerBinary(language protocol.Language) (wellKnown, path string, args []string) {
	if language == protocol.Python {
		return "ruff", "bin/ruff", ruffArgs()
	}
	return "clangd", "bin/clangd", clangdArgs()
}

// runLanguageServer drives ls's restart loop to completion, restoring
// compiler.rs's start_language_server retry loop: each attempt's
// process is instrumented and run exactly like a compile-and-run
// program, with its stdout decoded as LSP frames and its stderr
// line-buffered into the log instead of streamed to the client (spec.md
// §4.7, SPEC_FULL §7). A clean return or an explicit stop() both end
// the loop without retrying; an error from procsup.Run itself, or a run
// that ended killed (a trap or a resource limit) without stop() having
// been called, triggers the exponential backoff, capped at 5s per
// DESIGN.md's Open Question decision.
func (s *Session) runLanguageServer(ctx context.Context, ls *langServer, fs *vfs.FS, language protocol.Language) {
	defer close(ls.exited)

	wellKnown, path, args := languageServerBinary(language)
	execFS := fs.Clone()
	switch language {
	case protocol.Python:
		execFS.AddFileWithPath("ruff.toml", []byte(ruffConfig))
	default:
		execFS.AddFileWithPath("compile_flags.txt", clangdCompileFlags(language))
	}

	wasmBytes, err := execFS.GetFileWithPath(path)
	if err != nil {
		s.log.Warn("loading language server binary failed", zap.String("binary", wellKnown), zap.Error(err))
		s.emitMsg(protocol.Error{Message: err.Error()})
		return
	}

	frameReader := &lspFrameReader{}
	stderrLines := &lineBuffer{}
	onStdout := func(b []byte) {
		for _, payload := range frameReader.feed(b) {
			s.emitMsg(protocol.LSMessageOut{Payload: payload})
		}
	}
	onStderr := func(b []byte) {
		for _, line := range stderrLines.feed(b) {
			s.log.Info("language server stderr", zap.String("binary", wellKnown), zap.String("line", line))
		}
	}

	const initialBackoff = 10 * time.Millisecond
	const maxBackoff = 5 * time.Second
	backoff := initialBackoff
	for {
		ls.mu.Lock()
		stopped := ls.stopped
		ls.mu.Unlock()
		if stopped {
			return
		}

		exe := procsup.Executable{Wasm: wasmBytes, WellKnownBinary: wellKnown, FS: execFS, Args: args}
		configureProc := func(p *procsup.Process) {
			ls.mu.Lock()
			ls.proc = p
			ls.mu.Unlock()
		}

		attemptDone := make(chan struct{})
		var status procsup.Status
		var runErr error
		var g errgroup.Group
		g.Go(func() error {
			defer close(attemptDone)
			status, runErr = runProgram(ctx, s.instr, exe, nil, onStdout, onStderr, configureProc, s.log)
			return nil
		})
		g.Go(func() error {
			select {
			case <-ctx.Done():
				ls.stop()
			case <-attemptDone:
			}
			return nil
		})
		_ = g.Wait()
		ls.mu.Lock()
		stopped = ls.stopped
		ls.mu.Unlock()
		if runErr == nil && status.Killed && !stopped {
			runErr = statusError("language server died", status)
		}
		if runErr == nil {
			return
		}

		s.log.Warn("language server crashed, restarting",
			zap.String("binary", wellKnown), zap.Error(runErr), zap.Duration("backoff", backoff))
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
