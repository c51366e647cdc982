package wasip1

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Clock ids, per the WASI preview1 clockid_t enum.
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

func (h *handler) registerClock(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.clockTimeGet).Export("clock_time_get")
	b.NewFunctionBuilder().WithFunc(h.clockResGet).Export("clock_res_get")
}

// clockTimeGet returns nanoseconds since this Process started for
// Realtime, and nanoseconds since the UNIX epoch for Monotonic, per
// spec.md §4.6 ("Clock"). precision is accepted but ignored, matching
// wasi.rs's clock_time_get.
func (h *handler) clockTimeGet(ctx context.Context, mod api.Module, clockID uint32, precision uint64, resultPtr uint32) uint32 {
	var nanos uint64
	switch clockID {
	case clockRealtime:
		nanos = uint64(h.proc.Elapsed().Nanoseconds())
	case clockMonotonic:
		nanos = uint64(time.Now().UnixNano())
	default:
		return ErrnoInval
	}
	if !writeU64(mod.Memory(), resultPtr, nanos) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// clockResGet always reports a 1ns resolution, per spec.md §4.6.
func (h *handler) clockResGet(ctx context.Context, mod api.Module, clockID uint32, resultPtr uint32) uint32 {
	if !writeU64(mod.Memory(), resultPtr, 1) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
