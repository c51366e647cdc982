// Package orchestrator chains the per-language compile/link/run
// pipelines and language-server sessions together behind the
// CompileAndRun/StdinChunk/Cancel/StartLS/LSMessage client protocol, per
// spec.md §4.7 and SPEC_FULL §7's stdin-routing and LS-restart
// supplements.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/archive"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/instrument"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/procsup"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
)

// Session is the single per-client worker state: it routes every
// protocol.ClientMessage to the right pipeline or language-server
// session and emits protocol.WorkerMessage responses as they become
// available, restoring original_source/worker/src/lib.rs's WorkerState
// (and main.rs's later split into stdin/ls_stdin) as one Go type.
type Session struct {
	archives *archive.Cache
	instr    *instrument.Cache
	log      *zap.Logger
	emit     func(protocol.WorkerMessage)

	mu      sync.Mutex
	runProc *procsup.Process
	ls      *langServer
}

// NewSession builds a Session that fetches toolchains through archives,
// caches instrumented binaries in instr (a fresh instrument.NewCache()
// if nil), logs through log, and delivers every outbound message to
// emit. emit may be called concurrently from multiple goroutines (a
// compile-and-run and a language-server session can be in flight at
// once) and must not block for long, the same "try_send to an unbounded
// channel" contract the original's send_msg has.
func NewSession(archives *archive.Cache, instr *instrument.Cache, log *zap.Logger, emit func(protocol.WorkerMessage)) *Session {
	if instr == nil {
		instr = instrument.NewCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{archives: archives, instr: instr, log: log, emit: emit}
}

func (s *Session) emitMsg(m protocol.WorkerMessage) {
	if s.emit != nil {
		s.emit(m)
	}
}

// Handle dispatches one client message. CompileAndRun and StartLS run
// asynchronously (a caller that wants to observe their terminal message
// should do so through emit, not Handle's return); Cancel, StdinChunk
// and LSMessage are synchronous, matching how cheap each is in the
// original (flag flips and pipe writes, never awaited).
func (s *Session) Handle(ctx context.Context, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.CompileAndRun:
		go s.handleCompileAndRun(ctx, m)
	case protocol.Cancel:
		s.handleCancel()
	case protocol.StartLS:
		go s.handleStartLS(ctx, m.Language)
	case protocol.LSMessage:
		s.handleLSMessage(m.Payload)
	case protocol.StdinChunk:
		s.handleStdinChunk(m.Data)
	default:
		s.log.Warn("unhandled client message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// handleCompileAndRun is the Go analogue of lib.rs's ClientMessage::Compile
// arm / main.rs's WorkerExecRequest::CompileAndRun arm: fetch the
// toolchain, compile+link (C/C++ only), then run, streaming every stage's
// output as it is produced and finishing with Done or Error per spec.md
// §7's propagation policy ("Exited(0) is success; anything else is
// Error").
func (s *Session) handleCompileAndRun(ctx context.Context, m protocol.CompileAndRun) {
	runID := uuid.NewString()
	log := s.log.With(zap.String("run_id", runID), zap.Stringer("language", m.Language))
	log.Info("compile and run requested")

	s.emitMsg(protocol.Started{})

	fs, err := s.archives.Get(ctx, m.Language.ArchiveTag())
	if err != nil {
		log.Warn("toolchain fetch failed", zap.Error(err))
		s.emitMsg(protocol.Error{Message: err.Error()})
		return
	}
	s.emitMsg(protocol.CompilerFetched{})

	onDiagnostic := func(b []byte) {
		s.emitMsg(protocol.CompilationMessageChunk{Data: append([]byte(nil), b...)})
	}

	var exe procsup.Executable
	if m.Language == protocol.Python {
		exe, err = preparePython(fs, m.Source)
		if err != nil {
			s.emitMsg(protocol.Error{Message: err.Error()})
			return
		}
	} else {
		linked, err := compileAndLink(ctx, s.instr, fs, m.Language, m.Source, onDiagnostic, log)
		if err != nil {
			log.Warn("compile/link failed", zap.Error(err))
			s.emitMsg(protocol.Error{Message: err.Error()})
			return
		}
		exe = procsup.Executable{
			Wasm:            linked,
			WellKnownBinary: "", // a freshly linked user binary is never cached by name
			FS:              fs.Clone(),
			Args:            []string{"a.out"},
		}
	}
	s.emitMsg(protocol.CompilationDone{})

	onStdout := func(b []byte) { s.emitMsg(protocol.StdoutChunk{Data: append([]byte(nil), b...)}) }
	onStderr := func(b []byte) { s.emitMsg(protocol.StderrChunk{Data: append([]byte(nil), b...)}) }
	configureProc := func(p *procsup.Process) {
		s.mu.Lock()
		s.runProc = p
		s.mu.Unlock()
	}

	status, err := runProgram(ctx, s.instr, exe, m.Input, onStdout, onStderr, configureProc, log)
	s.mu.Lock()
	s.runProc = nil
	s.mu.Unlock()
	if err != nil {
		log.Warn("run failed to start", zap.Error(err))
		s.emitMsg(protocol.Error{Message: err.Error()})
		return
	}
	if status.Killed {
		log.Info("run terminated", zap.String("reason", status.Reason))
		s.emitMsg(protocol.Error{Message: status.Reason})
		return
	}
	if status.ExitCode != 0 {
		s.emitMsg(protocol.Error{Message: fmt.Sprintf("process exited with code %d", status.ExitCode)})
		return
	}
	log.Debug("run finished successfully")
	s.emitMsg(protocol.Done{})
}

// handleCancel kills the in-flight CompileAndRun's Process, if any,
// mirroring main.rs's Cancel arm (send on the stop channel, then close
// stdin) — procsup.Process.Kill already closes Stdin via its Notify
// hook, so a single call covers both steps. A Cancel with nothing
// running is a silent no-op, same as the original logging a warning and
// moving on.
func (s *Session) handleCancel() {
	s.mu.Lock()
	proc := s.runProc
	s.mu.Unlock()
	if proc == nil {
		s.log.Debug("cancel requested but no execution is running")
		return
	}
	proc.Kill("execution killed by user")
}

// handleStdinChunk routes a StdinChunk to the in-flight run's stdin,
// per SPEC_FULL §7 ("stdin chunks for a compile-and-run session feed the
// run stage's stdin Pipe directly"). StdinChunk never targets a
// language server; LSMessage is the LS's own framed input channel, the
// same two-pipe split main.rs's separate stdin/ls_stdin fields encode.
func (s *Session) handleStdinChunk(data []byte) {
	s.mu.Lock()
	proc := s.runProc
	s.mu.Unlock()
	if proc == nil {
		s.log.Debug("stdin chunk received but no execution is running")
		return
	}
	proc.Stdin.Write(data)
}

// handleLSMessage frames payload with a Content-Length header and
// writes it to the active language server's stdin, per spec.md §4.7 and
// lib.rs's ClientMessage::LSMessage arm (minus the reassembly buffer —
// Go's Pipe already serializes writes in order, so there is no
// VecDeque to push onto here).
func (s *Session) handleLSMessage(payload string) {
	s.mu.Lock()
	ls := s.ls
	s.mu.Unlock()
	if ls == nil {
		s.log.Debug("LS message received but no language server is running")
		return
	}
	ls.feedStdin(frameLSMessage(payload))
}

// handleStartLS is the Go analogue of lib.rs's ClientMessage::StartLS
// arm: announce LSStopping, drain any previous session, fetch the
// toolchain, announce LSReady, then drive the new session's restart
// loop in the background. A C/C++ start also kicks off clangd's
// clang++ pre-instrumentation warm per SPEC_FULL §7.
func (s *Session) handleStartLS(ctx context.Context, language protocol.Language) {
	s.emitMsg(protocol.LSStopping{})

	s.mu.Lock()
	prev := s.ls
	s.mu.Unlock()
	if prev != nil {
		prev.stop()
		prev.wait()
	}

	fs, err := s.archives.Get(ctx, language.ArchiveTag())
	if err != nil {
		s.log.Warn("toolchain fetch failed for language server", zap.Error(err))
		s.emitMsg(protocol.Error{Message: err.Error()})
		return
	}

	if language != protocol.Python {
		if clangBin, err := fs.GetFileWithPath("bin/clang++"); err == nil {
			s.instr.Warm(clangBin)
		}
	}

	ls := newLangServer()
	s.mu.Lock()
	s.ls = ls
	s.mu.Unlock()

	s.emitMsg(protocol.LSReady{})
	go s.runLanguageServer(ctx, ls, fs, language)
}
