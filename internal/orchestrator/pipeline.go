package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/instrument"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/procsup"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/wasip1"
)

// capture is a concurrency-safe byte sink for a stage's stdout (the
// compiled object or the linked WASM binary), the Go analogue of cpp.rs's
// compile()/link() capturing stdout into an Rc<RefCell<Vec<u8>>> via a
// WriteFn instead of routing it through a Pipe.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
}

func (c *capture) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

// runExecutable instruments and runs exe once, streaming onStdout/
// onStderr per write instead of buffering into the Process's own pipes,
// and invokes configureProc (if set) before any thread starts. It is the
// single chokepoint every orchestrator stage funnels through.
func runExecutable(ctx context.Context, cache *instrument.Cache, exe procsup.Executable, input []byte, onStdout, onStderr func([]byte), configureProc func(*procsup.Process), log *zap.Logger) (*procsup.Outcome, error) {
	configure := func(p *procsup.Process) {
		if onStdout != nil {
			p.OnStdout = onStdout
		}
		if onStderr != nil {
			p.OnStderr = onStderr
		}
		if configureProc != nil {
			configureProc(p)
		}
	}
	return procsup.Run(ctx, exe, cache, wasip1.Register, log, input, configure)
}

func statusError(prefix string, status procsup.Status) error {
	if status.Killed {
		return fmt.Errorf("%s: %s", prefix, status.Reason)
	}
	return fmt.Errorf("%s: exit code %d", prefix, status.ExitCode)
}

// compileAndLink runs clang++ -cc1 then wasm-ld against source, streaming
// compiler/linker diagnostics to onDiagnostic as they arrive, per spec.md
// §4.7 and §7's compile/link error taxonomy. fs is the cached, unmodified
// toolchain filesystem; compileAndLink clones it (vfs.FS.Clone) before
// adding the compiled object so the shared cache entry is never mutated,
// per SPEC_FULL §6.2 and cpp.rs's link() getting its own Fs.
func compileAndLink(ctx context.Context, cache *instrument.Cache, fs *vfs.FS, lang protocol.Language, source string, onDiagnostic func([]byte), log *zap.Logger) ([]byte, error) {
	clangBin, err := fs.GetFileWithPath("bin/clang++")
	if err != nil {
		return nil, fmt.Errorf("loading clang++: %w", err)
	}
	obj := &capture{}
	compileExe := procsup.Executable{
		Wasm:            clangBin,
		WellKnownBinary: "clang++",
		FS:              fs,
		Args:            compileArgs(lang),
	}
	outcome, err := runExecutable(ctx, cache, compileExe, []byte(source), obj.write, onDiagnostic, nil, log)
	if err != nil {
		return nil, fmt.Errorf("running clang++: %w", err)
	}
	if outcome.Status.Killed || outcome.Status.ExitCode != 0 {
		return nil, statusError("failed to compile source", outcome.Status)
	}

	linkFS := fs.Clone()
	linkFS.AddFileWithPath(sourceObjectName, obj.bytes())
	ldBin, err := fs.GetFileWithPath("bin/wasm-ld")
	if err != nil {
		return nil, fmt.Errorf("loading wasm-ld: %w", err)
	}
	linked := &capture{}
	linkExe := procsup.Executable{
		Wasm:            ldBin,
		WellKnownBinary: "wasm-ld",
		FS:              linkFS,
		Args:            linkArgs(),
	}
	outcome, err = runExecutable(ctx, cache, linkExe, nil, linked.write, onDiagnostic, nil, log)
	if err != nil {
		return nil, fmt.Errorf("running wasm-ld: %w", err)
	}
	if outcome.Status.Killed || outcome.Status.ExitCode != 0 {
		return nil, statusError("failed to link source", outcome.Status)
	}
	return linked.bytes(), nil
}

// preparePython writes source at pythonSourcePath in a clone of the
// cached Python toolchain filesystem and returns the interpreter
// Executable, restoring compiler.rs's single-source compile() variant for
// Language::Python.
func preparePython(fs *vfs.FS, source string) (procsup.Executable, error) {
	interpreter, err := fs.GetFileWithPath(pythonInterpreterPath)
	if err != nil {
		return procsup.Executable{}, fmt.Errorf("loading python interpreter: %w", err)
	}
	runFS := fs.Clone()
	runFS.AddFileWithPath(pythonSourcePath, []byte(source))
	return procsup.Executable{
		Wasm:            interpreter,
		WellKnownBinary: "python3.13",
		FS:              runFS,
		Args:            pythonArgs(),
		Env:             map[string]string{"PYTHONHOME": "/"},
	}, nil
}

// runProgram runs exe with input attached to stdin, streaming stdout/
// stderr per write, and reports the live Process to configureProc (if
// set) so a caller can route StdinChunk/Cancel against it while the run
// is in flight, per SPEC_FULL §7's stdin-chunk-buffering supplement.
func runProgram(ctx context.Context, cache *instrument.Cache, exe procsup.Executable, input []byte, onStdout, onStderr func([]byte), configureProc func(*procsup.Process), log *zap.Logger) (procsup.Status, error) {
	outcome, err := runExecutable(ctx, cache, exe, input, onStdout, onStderr, configureProc, log)
	if err != nil {
		return procsup.Status{}, err
	}
	return outcome.Status, nil
}
