package wasip1

import (
	"context"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func (h *handler) registerRandom(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.randomGet).Export("random_get")
}

// randomGet fills the buffer from h.rand (crypto/rand by default, or a
// seeded math/rand stream under WithDeterministicRandomSeed), per
// spec.md §4.6 and §9's Open Question: prefer the host's cryptographic
// source unless a test has explicitly asked for determinism.
func (h *handler) randomGet(ctx context.Context, mod api.Module, bufPtr, bufLen uint32) uint32 {
	buf := make([]byte, bufLen)
	if _, err := io.ReadFull(h.rand, buf); err != nil {
		return ErrnoFault
	}
	if !writeBytes(mod.Memory(), bufPtr, buf) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
