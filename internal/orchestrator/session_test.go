package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/archive"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/instrument"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/procsup"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
)

func makeTarBr(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, contents := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "./" + name,
			Mode: 0o755,
			Size: int64(len(contents)),
		}))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var brBuf bytes.Buffer
	bw := brotli.NewWriter(&brBuf)
	_, err := bw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return brBuf.Bytes()
}

// collector is a concurrency-safe protocol.WorkerMessage sink for tests.
type collector struct {
	mu       sync.Mutex
	messages []protocol.WorkerMessage
}

func (c *collector) emit(m protocol.WorkerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

func (c *collector) snapshot() []protocol.WorkerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.WorkerMessage(nil), c.messages...)
}

func newTestSession(t *testing.T, files map[string]string) (*Session, *collector) {
	t.Helper()
	archiveBytes := makeTarBr(t, files)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveBytes)
	}))
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	cache := archive.NewCache(archive.NewLoader(base, srv.Client(), nil))

	c := &collector{}
	s := NewSession(cache, instrument.NewCache(), zap.NewNop(), c.emit)
	return s, c
}

// TestCompileAndRunMissingCompilerSurfacesError exercises the
// Started -> CompilerFetched -> Error path without needing a real
// clang++/wasm-ld binary: the toolchain archive is fetched successfully
// but lacks bin/clang++, so compileAndLink fails fast.
func TestCompileAndRunMissingCompilerSurfacesError(t *testing.T) {
	s, c := newTestSession(t, map[string]string{"lib/libc.a": "stub"})

	s.handleCompileAndRun(context.Background(), protocol.CompileAndRun{
		Source:   "int main(){return 0;}",
		Language: protocol.CPP,
	})

	msgs := c.snapshot()
	require.Len(t, msgs, 3)
	require.IsType(t, protocol.Started{}, msgs[0])
	require.IsType(t, protocol.CompilerFetched{}, msgs[1])
	require.IsType(t, protocol.Error{}, msgs[2])
}

// TestCompileAndRunToolchainFetchFailureSurfacesError covers the case
// where the archive itself cannot be fetched at all.
func TestCompileAndRunToolchainFetchFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	cache := archive.NewCache(archive.NewLoader(base, srv.Client(), nil))

	c := &collector{}
	s := NewSession(cache, instrument.NewCache(), zap.NewNop(), c.emit)

	s.handleCompileAndRun(context.Background(), protocol.CompileAndRun{
		Source:   "print(1)",
		Language: protocol.Python,
	})

	msgs := c.snapshot()
	require.Len(t, msgs, 2)
	require.IsType(t, protocol.Started{}, msgs[0])
	require.IsType(t, protocol.Error{}, msgs[1])
}

// TestCancelWithNoRunningProcessIsNoop covers handleCancel's "nothing in
// flight" branch: it must not panic and must emit nothing.
func TestCancelWithNoRunningProcessIsNoop(t *testing.T) {
	s, c := newTestSession(t, nil)
	s.handleCancel()
	require.Empty(t, c.snapshot())
}

// TestCancelKillsRunningProcess covers handleCancel's routing to the
// in-flight Process, per SPEC_FULL §7.
func TestCancelKillsRunningProcess(t *testing.T) {
	s, _ := newTestSession(t, nil)
	proc := procsup.NewProcess(nil, nil, vfs.New(), nil)
	s.mu.Lock()
	s.runProc = proc
	s.mu.Unlock()

	s.handleCancel()

	status := proc.FinalStatus()
	require.True(t, status.Killed)
	require.Equal(t, "execution killed by user", status.Reason)
}

// TestStdinChunkRoutesToRunningProcess covers SPEC_FULL §7's stdin
// routing supplement for an in-flight compile-and-run session.
func TestStdinChunkRoutesToRunningProcess(t *testing.T) {
	s, _ := newTestSession(t, nil)
	proc := procsup.NewProcess(nil, nil, vfs.New(), nil)
	s.mu.Lock()
	s.runProc = proc
	s.mu.Unlock()

	s.handleStdinChunk([]byte("42\n"))

	buf := make([]byte, 8)
	n := proc.Stdin.Read(buf)
	require.Equal(t, "42\n", string(buf[:n]))
}

// TestStdinChunkWithNoRunningProcessIsNoop mirrors
// TestCancelWithNoRunningProcessIsNoop for StdinChunk.
func TestStdinChunkWithNoRunningProcessIsNoop(t *testing.T) {
	s, c := newTestSession(t, nil)
	s.handleStdinChunk([]byte("ignored"))
	require.Empty(t, c.snapshot())
}

// TestStartLSDrainsPreviousBeforeCompleting is spec.md §8 property 7:
// starting a new language server while one is running must drain the
// previous one's exit before the new StartLS call returns (and hence
// before LSReady for the new session is reported). The toolchain here
// deliberately carries an invalid clangd binary so the background
// restart loop keeps retrying (with backoff) instead of exiting
// immediately, giving the test a window in which "previous session
// still alive" is observable.
func TestStartLSDrainsPreviousBeforeCompleting(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{"bin/clangd": "not a real wasm module"})

	s.handleStartLS(context.Background(), protocol.CPP)

	// handleStartLS installs s.ls before it returns; this confirms the
	// session handle is in place (it does not wait for a restart attempt).
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.ls != nil
	}, time.Second, time.Millisecond)

	s.mu.Lock()
	first := s.ls
	s.mu.Unlock()
	require.NotNil(t, first)

	select {
	case <-first.exited:
		t.Fatal("first language server session exited before the test could supersede it")
	default:
	}

	done := make(chan struct{})
	go func() {
		s.handleStartLS(context.Background(), protocol.CPP)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second StartLS never completed")
	}

	select {
	case <-first.exited:
	default:
		t.Fatal("first language server session had not exited before the second StartLS completed")
	}
}

// TestLangServerWaitBlocksUntilExited is a focused unit test of the
// langServer type's stop/wait contract used above.
func TestLangServerWaitBlocksUntilExited(t *testing.T) {
	ls := newLangServer()
	done := make(chan struct{})
	go func() {
		ls.wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before exited was closed")
	case <-time.After(20 * time.Millisecond):
	}

	close(ls.exited)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after exited was closed")
	}
}
