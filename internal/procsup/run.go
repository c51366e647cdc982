package procsup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/instrument"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/pipe"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
)

// Executable is everything procsup needs to run one compiled WASM
// program, the Go analogue of wasi.rs's Executable struct.
type Executable struct {
	Wasm            []byte
	WellKnownBinary string
	FS              *vfs.FS
	Args            []string
	Env             map[string]string
}

// Outcome is what a completed run produced.
type Outcome struct {
	Stdout []byte
	Stderr []byte
	Status Status
}

// killExitCode is an out-of-band sys.ExitError code used to unwind a
// thread that was killed (cooperative cancellation, resource limit, or a
// sibling thread's failure) rather than one that called proc_exit;
// RecordExit clamps proc_exit codes to [0,128] so this value never
// collides with one. proc_raise(127) also unwinds with 255, but its
// code is already recorded by RecordSignal before the thread unwinds.
const killExitCode = 255

// Register wires the WASI preview1 surface's host functions against
// proc into builder. Implemented by internal/wasip1.Register; accepted
// as a parameter here (rather than imported directly) so procsup does
// not depend on wasip1, which depends on procsup's exported types.
type Register func(builder wazero.HostModuleBuilder, proc *Process)

// Run instruments exe.Wasm, instantiates it once, and drives the
// goroutine-per-host-worker-thread model of spec.md §4.5 to completion:
// the main thread runs "_start"; each wasi "thread-spawn" call starts
// another goroutine calling "wasi_thread_start" against the same
// api.Module instance, which is how this port gets threads sharing one
// linear memory without the JS-worker plumbing the original needed.
// configure, if non-nil, is called with the freshly built Process before
// any thread starts, so a caller can install OnStdout/OnStderr streaming
// callbacks or stash the Process to drive StdinChunk/Cancel against it
// while the run is in flight (internal/orchestrator.Session does both).
func Run(ctx context.Context, exe Executable, cache *instrument.Cache, register Register, log *zap.Logger, stdin []byte, configure func(*Process)) (*Outcome, error) {
	if cache == nil {
		cache = instrument.NewCache()
	}
	instrumented, err := cache.Get(exe.Wasm)
	if err != nil {
		return nil, fmt.Errorf("instrumenting module: %w", err)
	}

	proc := NewProcess(exe.Args, exe.Env, exe.FS, stdin)
	if configure != nil {
		configure(proc)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, instrumented.Wasm)
	if err != nil {
		return nil, fmt.Errorf("compiling module: %w", err)
	}

	var wg sync.WaitGroup
	var mod api.Module // set once InstantiateModule below succeeds; read-only from then on

	runThread := func(fn string, args ...uint64) {
		defer wg.Done()
		runExport(ctx, mod, fn, args, proc, log)
	}

	tickBuilder := r.NewHostModuleBuilder(instrumented.ImportModule)
	tickBuilder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) {
		tickHandler(proc, mod, instrumented.CounterExport)
	}).Export(instrumented.ImportFunc)
	if _, err := tickBuilder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiating tick host module: %w", err)
	}

	wasiBuilder := r.NewHostModuleBuilder("wasi_snapshot_preview1")
	register(wasiBuilder, proc)
	if _, err := wasiBuilder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiating wasi host module: %w", err)
	}

	threadBuilder := r.NewHostModuleBuilder("wasi")
	threadBuilder.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, threadArg int32) int32 {
		memSize := uint64(0)
		if mem := mod.Memory(); mem != nil {
			memSize = uint64(mem.Size())
		}
		if reason := proc.CheckShouldStop(memSize); reason != "" {
			panic(sys.NewExitError(killExitCode))
		}
		tid := proc.SpawnThread()
		if tid < 0 {
			return -1
		}
		wg.Add(1)
		go runThread("wasi_thread_start", uint64(uint32(tid)), uint64(uint32(threadArg)))
		return tid
	}).Export("thread-spawn")
	if _, err := threadBuilder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiating thread-spawn host module: %w", err)
	}

	mod, err = r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("main"))
	if err != nil {
		return nil, fmt.Errorf("instantiating guest module: %w", err)
	}
	defer mod.Close(ctx)

	wg.Add(1)
	go runThread("_start")
	wg.Wait()

	proc.CloseOutputs()
	return &Outcome{
		Stdout: drain(proc.Stdout),
		Stderr: drain(proc.Stderr),
		Status: proc.FinalStatus(),
	}, nil
}

// runExport calls one host worker thread's entry export against the
// single shared api.Module instance every thread runs on top of, and
// translates a trap into process state (RecordExit for a clean
// proc_exit, Kill for anything else).
func runExport(ctx context.Context, mod api.Module, fn string, args []uint64, proc *Process, log *zap.Logger) {
	f := mod.ExportedFunction(fn)
	if f == nil {
		proc.Kill(fmt.Sprintf("missing export %q", fn))
		return
	}
	if _, err := f.Call(ctx, args...); err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if code := exitErr.ExitCode(); code != killExitCode {
				proc.RecordExit(code)
			}
			return
		}
		if log != nil {
			log.Warn("wasm execution trapped", zap.String("export", fn), zap.Error(err))
		}
		proc.Kill(fmt.Sprintf("runtime error: %v", err))
	}
}

func tickHandler(proc *Process, mod api.Module, counterExport string) {
	memSize := uint64(0)
	if mem := mod.Memory(); mem != nil {
		memSize = uint64(mem.Size())
	}
	if reason := proc.CheckShouldStop(memSize); reason != "" {
		panic(sys.NewExitError(killExitCode))
	}
	const tickInterval uint64 = 1_000_000
	if g, ok := mod.ExportedGlobal(counterExport).(api.MutableGlobal); ok {
		g.Set(tickInterval)
	}
}

func drain(r *pipe.Pipe) []byte {
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n := r.Read(buf)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}
