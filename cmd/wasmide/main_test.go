package main

import (
	"archive/tar"
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
)

func TestParseLanguage(t *testing.T) {
	cases := map[string]protocol.Language{
		"c":      protocol.C,
		"cpp":    protocol.CPP,
		"c++":    protocol.CPP,
		"python": protocol.Python,
		"py":     protocol.Python,
	}
	for in, want := range cases {
		got, err := parseLanguage(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := parseLanguage("rust")
	require.Error(t, err)
}

func TestDoMainNoArgsPrintsUsage(t *testing.T) {
	var stderr bytes.Buffer
	code := doMain(nil, &bytes.Buffer{}, &stderr, strings.NewReader(""))
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "usage:")
}

func TestDoMainUnknownSubcommand(t *testing.T) {
	var stderr bytes.Buffer
	code := doMain([]string{"frobnicate"}, &bytes.Buffer{}, &stderr, strings.NewReader(""))
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unknown subcommand")
}

func TestReadLSPFrame(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 12\r\n\r\n{\"id\":\"ok\"}\n"))
	payload, err := readLSPFrame(r)
	require.NoError(t, err)
	require.Equal(t, "{\"id\":\"ok\"}\n", payload)
}

func TestReadLSPFrameMissingHeaderIsError(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\r\nhello"))
	_, err := readLSPFrame(r)
	require.Error(t, err)
}

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

// TestDoRunSurfacesMissingCompilerAsNonZeroExit exercises doRun end to end
// against a fake toolchain archive that lacks bin/clang++, so the CLI
// observes the same Started/CompilerFetched/Error sequence a browser
// client would, without needing a real clang++/wasm-ld binary.
func TestDoRunSurfacesMissingCompilerAsNonZeroExit(t *testing.T) {
	archiveBytes := makeTarBr(t, map[string]string{"lib/libc.a": "stub"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveBytes)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "main.cpp")
	require.NoError(t, os.WriteFile(sourcePath, []byte("int main(){return 0;}"), 0o644))

	var stdout, stderr bytes.Buffer
	code := doRun([]string{
		"-lang", "cpp",
		"-source", sourcePath,
		"-base-url", srv.URL + "/",
	}, &stdout, &stderr)

	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "error:")
}

func TestDoRunMissingSourceFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doRun([]string{"-lang", "c"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "-source is required")
}
