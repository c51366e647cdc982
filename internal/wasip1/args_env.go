package wasip1

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func (h *handler) registerArgsEnv(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.argsGet).Export("args_get")
	b.NewFunctionBuilder().WithFunc(h.argsSizesGet).Export("args_sizes_get")
	b.NewFunctionBuilder().WithFunc(h.environGet).Export("environ_get")
	b.NewFunctionBuilder().WithFunc(h.environSizesGet).Export("environ_sizes_get")
}

// writeOffsetsAndValues writes each zero-terminated entry of values
// consecutively starting at bufPtr, and the guest address of each entry
// (bufPtr plus its running offset) as a little-endian u32 array starting
// at ptrsPtr, mirroring the args_get/environ_get wire format WASI defines
// (one pointer array plus one flat backing buffer).
func writeOffsetsAndValues(mem api.Memory, values [][]byte, ptrsPtr, bufPtr uint32) bool {
	offset := uint32(0)
	for i, v := range values {
		if !writeU32(mem, ptrsPtr+uint32(i)*4, bufPtr+offset) {
			return false
		}
		if !writeBytes(mem, bufPtr+offset, v) {
			return false
		}
		offset += uint32(len(v))
	}
	return true
}

func sizeOf(values [][]byte) uint32 {
	var n uint32
	for _, v := range values {
		n += uint32(len(v))
	}
	return n
}

func (h *handler) argsGet(ctx context.Context, mod api.Module, argv, argvBuf uint32) uint32 {
	if !writeOffsetsAndValues(mod.Memory(), h.proc.Args, argv, argvBuf) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *handler) argsSizesGet(ctx context.Context, mod api.Module, resultArgc, resultArgvLen uint32) uint32 {
	mem := mod.Memory()
	if !writeU32(mem, resultArgc, uint32(len(h.proc.Args))) {
		return ErrnoFault
	}
	if !writeU32(mem, resultArgvLen, sizeOf(h.proc.Args)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *handler) environGet(ctx context.Context, mod api.Module, environ, environBuf uint32) uint32 {
	if !writeOffsetsAndValues(mod.Memory(), h.proc.Env, environ, environBuf) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *handler) environSizesGet(ctx context.Context, mod api.Module, resultEnvironc, resultEnvironLen uint32) uint32 {
	mem := mod.Memory()
	if !writeU32(mem, resultEnvironc, uint32(len(h.proc.Env))) {
		return ErrnoFault
	}
	if !writeU32(mem, resultEnvironLen, sizeOf(h.proc.Env)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
