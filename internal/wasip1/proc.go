package wasip1

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

func (h *handler) registerProc(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.procExit).Export("proc_exit")
	b.NewFunctionBuilder().WithFunc(h.procRaise).Export("proc_raise")
}

// procExit records the exit code (clamped to [0,128], per spec.md §4.6)
// and unwinds the calling thread immediately via the same out-of-band
// sys.ExitError mechanism the Instrumenter's tick and fd_write's budget
// check use; it never returns to the guest.
func (h *handler) procExit(ctx context.Context, mod api.Module, code uint32) {
	h.proc.RecordExit(code)
	exitCode, _ := h.proc.ReturnCode()
	panic(sys.NewExitError(uint32(exitCode)))
}

// procRaise records sig+128 as the exit code, per spec.md
// §4.6, and unwinds the calling thread the same way procExit does.
func (h *handler) procRaise(ctx context.Context, mod api.Module, sig uint32) uint32 {
	h.proc.RecordSignal(uint8(sig))
	exitCode, _ := h.proc.ReturnCode()
	panic(sys.NewExitError(uint32(exitCode)))
}
