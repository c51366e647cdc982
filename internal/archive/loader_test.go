package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
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

func TestFetchAndDecode(t *testing.T) {
	archiveBytes := makeTarBr(t, map[string]string{
		"bin/clang++":     "binary-contents",
		"lib/libc.a":      "archive-contents",
		"include/stdio.h": "header",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/compilers/cpp.tar.br", r.URL.Path)
		w.Write(archiveBytes)
	}))
	defer srv.Close()

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	loader := NewLoader(base, srv.Client(), nil)

	fs, err := loader.Fetch(context.Background(), "cpp")
	require.NoError(t, err)

	data, err := fs.GetFileWithPath("bin/clang++")
	require.NoError(t, err)
	require.Equal(t, "binary-contents", string(data))

	data, err = fs.GetFileWithPath("include/stdio.h")
	require.NoError(t, err)
	require.Equal(t, "header", string(data))
}

func TestCachePopulatesOnce(t *testing.T) {
	archiveBytes := makeTarBr(t, map[string]string{"bin/python3.12.wasm": "py"})
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write(archiveBytes)
	}))
	defer srv.Close()

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	cache := NewCache(NewLoader(base, srv.Client(), nil))

	_, err = cache.Get(context.Background(), "python")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "python")
	require.NoError(t, err)
	require.Equal(t, 1, requests)
}

func TestCacheStaysUnpopulatedOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	cache := NewCache(NewLoader(base, srv.Client(), nil))

	_, err = cache.Get(context.Background(), "cpp")
	require.Error(t, err)
	require.Empty(t, cache.byTag)
}
