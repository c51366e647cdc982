package wasip1

import (
	"crypto/rand"
	"io"
	mrand "math/rand"

	"github.com/tetratelabs/wazero"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/procsup"
)

// handler closes over the single Process a WASI host module instance
// services, the same role wasi.rs's SharedWasiCtx plays against its
// Wasmer Function closures.
type handler struct {
	proc *procsup.Process
	rand io.Reader
}

// Option configures a Registerer built by NewRegisterer.
type Option func(*handler)

// WithRandomSource overrides the byte source random_get draws from.
// Default is crypto/rand, per spec.md §9's recommendation to prefer the
// host's cryptographic source; tests that need determinism should pass
// a seeded math/rand.Rand via this option instead (DESIGN.md Open
// Question 3).
func WithRandomSource(r io.Reader) Option {
	return func(h *handler) { h.rand = r }
}

// WithDeterministicRandomSeed is a convenience wrapper around
// WithRandomSource for tests, seeding a math/rand stream.
func WithDeterministicRandomSeed(seed int64) Option {
	return WithRandomSource(mrand.New(mrand.NewSource(seed)))
}

// NewRegisterer returns a procsup.Register closure configured by opts.
// Use this when a caller (tests, the orchestrator) needs non-default
// options; Register itself is NewRegisterer()'s zero-option form, the
// one internal/orchestrator passes to internal/procsup.Run.
func NewRegisterer(opts ...Option) procsup.Register {
	return func(builder wazero.HostModuleBuilder, proc *procsup.Process) {
		h := &handler{proc: proc, rand: rand.Reader}
		for _, o := range opts {
			o(h)
		}
		h.register(builder)
	}
}

// Register wires the full WASI preview1 surface of spec.md §4.6 against
// proc into builder, using crypto/rand for random_get. It matches
// internal/procsup.Register's signature; procsup.Run has no default and
// internal/orchestrator passes this function.
func Register(builder wazero.HostModuleBuilder, proc *procsup.Process) {
	NewRegisterer()(builder, proc)
}

func (h *handler) register(b wazero.HostModuleBuilder) {
	h.registerArgsEnv(b)
	h.registerClock(b)
	h.registerFd(b)
	h.registerIo(b)
	h.registerPath(b)
	h.registerRandom(b)
	h.registerProc(b)
	h.registerSchedSock(b)
}
