package procsup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
)

func newTestProcess() *Process {
	return NewProcess([]string{"prog", "arg1"}, map[string]string{"FOO": "bar"}, vfs.New(), []byte("stdin-data"))
}

func TestNewProcessSeedsStdFds(t *testing.T) {
	p := newTestProcess()
	stdin, ok := p.Fd(0)
	require.True(t, ok)
	require.Equal(t, FdStdin, stdin.Kind)
	stdout, ok := p.Fd(1)
	require.True(t, ok)
	require.Equal(t, FdStdout, stdout.Kind)
	root, ok := p.Fd(3)
	require.True(t, ok)
	require.Equal(t, FdDir, root.Kind)
}

func TestArgsAndEnvAreZeroTerminated(t *testing.T) {
	p := newTestProcess()
	require.Equal(t, byte(0), p.Args[0][len(p.Args[0])-1])
	require.Equal(t, "prog\x00", string(p.Args[0]))
	require.Equal(t, "FOO=bar\x00", string(p.Env[0]))
}

func TestRecordExitClampsAndIsFirstWriteWins(t *testing.T) {
	p := newTestProcess()
	p.RecordExit(200)
	code, ok := p.ReturnCode()
	require.True(t, ok)
	require.Equal(t, int32(128), code)

	p.RecordExit(1) // should not overwrite
	code, _ = p.ReturnCode()
	require.Equal(t, int32(128), code)
}

func TestRecordSignalEncodesAsSigPlus128(t *testing.T) {
	p := newTestProcess()
	p.RecordSignal(6)
	code, ok := p.ReturnCode()
	require.True(t, ok)
	require.Equal(t, int32(134), code)
}

func TestCheckShouldStopReportsExit(t *testing.T) {
	p := newTestProcess()
	require.Empty(t, p.CheckShouldStop(0))

	p.RecordExit(0)
	require.Equal(t, "exit was called", p.CheckShouldStop(0))
}

func TestCheckShouldStopHonorsShouldStopCallback(t *testing.T) {
	p := newTestProcess()
	p.ShouldStop = func() bool { return true }
	reason := p.CheckShouldStop(0)
	require.Contains(t, reason, "killed by user")
}

func TestRecordWriteCrossesThreshold(t *testing.T) {
	p := newTestProcess()
	require.False(t, p.RecordWrite(9_999))
	require.True(t, p.RecordWrite(2))
	// counter resets after crossing
	require.False(t, p.RecordWrite(1))
}

func TestSpawnThreadIncrements(t *testing.T) {
	p := newTestProcess()
	first := p.SpawnThread()
	require.Equal(t, int32(1), first)
	second := p.SpawnThread()
	require.Equal(t, int32(2), second)
}

func TestFinalStatusReflectsKill(t *testing.T) {
	p := newTestProcess()
	p.Kill("execution killed by user")
	status := p.FinalStatus()
	require.True(t, status.Killed)
	require.Equal(t, "execution killed by user", status.Reason)
}

func TestFinalStatusReflectsCleanExit(t *testing.T) {
	p := newTestProcess()
	p.RecordExit(0)
	status := p.FinalStatus()
	require.False(t, status.Killed)
	require.Equal(t, int32(0), status.ExitCode)
}

func TestOpenFileAndCloseFd(t *testing.T) {
	p := newTestProcess()
	inode, err := p.FS.Get(p.FS.RootInode(), "")
	require.NoError(t, err)
	fd := p.OpenFile(FdDir, inode)
	entry, ok := p.Fd(fd)
	require.True(t, ok)
	require.Equal(t, FdDir, entry.Kind)

	require.True(t, p.CloseFd(fd))
	entry, ok = p.Fd(fd)
	require.True(t, ok)
	require.Equal(t, FdClosed, entry.Kind)
}

func TestReplySlotWaitNotify(t *testing.T) {
	s := newReplySlot()
	done := make(chan int32, 1)
	go func() {
		done <- s.Wait()
	}()
	s.Notify(42)
	require.Equal(t, int32(42), <-done)
}
