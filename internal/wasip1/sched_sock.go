package wasip1

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func (h *handler) registerSchedSock(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.schedYield).Export("sched_yield")
	b.NewFunctionBuilder().WithFunc(h.pollOneoff).Export("poll_oneoff")
	b.NewFunctionBuilder().WithFunc(h.sockAccept).Export("sock_accept")
	b.NewFunctionBuilder().WithFunc(h.sockRecv).Export("sock_recv")
	b.NewFunctionBuilder().WithFunc(h.sockSend).Export("sock_send")
	b.NewFunctionBuilder().WithFunc(h.sockShutdown).Export("sock_shutdown")
}

// schedYield is a no-op: every guest thread is already a Go goroutine
// scheduled preemptively by the host, per spec.md §4.6's "Sched"
// section.
func (h *handler) schedYield(ctx context.Context, mod api.Module) uint32 {
	return ErrnoSuccess
}

// pollOneoff is unsupported; the runtime has no event-polling guest use
// case (reads/writes already block), per spec.md §4.6.
func (h *handler) pollOneoff(ctx context.Context, mod api.Module, inPtr, outPtr, nsubscriptions, resultPtr uint32) uint32 {
	return ErrnoPerm
}

// All socket calls return Perm: this runtime has no network access, per
// spec.md §4.6's "Sockets" section.
func (h *handler) sockAccept(ctx context.Context, mod api.Module, fd, flags, resultPtr uint32) uint32 {
	return ErrnoPerm
}

func (h *handler) sockRecv(ctx context.Context, mod api.Module, fd, riDataPtr, riDataLen, riFlags, roDataLenPtr, roFlagsPtr uint32) uint32 {
	return ErrnoPerm
}

func (h *handler) sockSend(ctx context.Context, mod api.Module, fd, siDataPtr, siDataLen, siFlags, resultPtr uint32) uint32 {
	return ErrnoPerm
}

func (h *handler) sockShutdown(ctx context.Context, mod api.Module, fd, how uint32) uint32 {
	return ErrnoPerm
}
