// Package archive implements the Archive Loader: it fetches Brotli-
// compressed tar archives containing a toolchain's files and decodes
// them into a vfs.FS, per spec.md §4.3.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/vfs"
)

// Loader fetches and decodes toolchain archives relative to BaseURL,
// exactly as original_source/worker/src/util.rs's fetch_tarbr resolves
// "./compilers/<tag>.tar.br" against the worker's own location.
type Loader struct {
	BaseURL *url.URL
	Client  *http.Client
	Log     *zap.Logger
}

// NewLoader returns a Loader using http.DefaultClient if client is nil.
func NewLoader(baseURL *url.URL, client *http.Client, log *zap.Logger) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{BaseURL: baseURL, Client: client, Log: log}
}

// Fetch retrieves and decodes the toolchain archive for tag ("cpp" or
// "python"), returning a fresh vfs.FS. It does not consult or populate
// any cache; callers needing the process-wide toolchain cache should use
// Cache.Get instead.
func (l *Loader) Fetch(ctx context.Context, tag string) (*vfs.FS, error) {
	body, err := l.fetchTarBr(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("fetching compiler archive for %s: %w", tag, err)
	}
	fs, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding compiler archive for %s: %w", tag, err)
	}
	return fs, nil
}

func (l *Loader) fetchTarBr(ctx context.Context, tag string) ([]byte, error) {
	ref, err := url.Parse(fmt.Sprintf("./compilers/%s.tar.br", tag))
	if err != nil {
		return nil, err
	}
	target := l.BaseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if l.Log != nil {
		l.Log.Info("fetching compiler archive", zap.String("url", target.String()))
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %s", target, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// decode Brotli-decompresses body and reads the resulting tar stream into
// a vfs.FS. Each tar entry's path must begin with "./"; the leading "."
// is stripped and the rest becomes the absolute VFS path, per spec.md
// §4.3.
func decode(body []byte) (*vfs.FS, error) {
	br := brotli.NewReader(bytes.NewReader(body))
	tr := tar.NewReader(br)

	out := vfs.New()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if !strings.HasPrefix(hdr.Name, "./") && hdr.Name != "." {
			return nil, fmt.Errorf("invalid tarball: entry %q does not begin with ./", hdr.Name)
		}
		vfsPath := strings.TrimPrefix(name, ".")
		vfsPath = strings.TrimPrefix(vfsPath, "/")
		if vfsPath == "" {
			continue
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading tar entry %q: %w", hdr.Name, err)
		}
		out.AddFileWithPath(vfsPath, contents)
	}
	return out, nil
}

// Cache is the process-wide mapping from language/toolchain tag to a
// decoded vfs.FS, populated lazily on first use, per spec.md §3's
// "Toolchain Cache".
type Cache struct {
	loader *Loader
	mu     sync.Mutex
	byTag  map[string]*vfs.FS
}

// NewCache returns an empty Cache backed by loader.
func NewCache(loader *Loader) *Cache {
	return &Cache{loader: loader, byTag: map[string]*vfs.FS{}}
}

// Get returns the cached vfs.FS for tag, fetching and populating it on
// first use. On fetch/decode failure the cache remains unpopulated so a
// retry is possible, per spec.md §4.3.
func (c *Cache) Get(ctx context.Context, tag string) (*vfs.FS, error) {
	c.mu.Lock()
	if fs, ok := c.byTag[tag]; ok {
		c.mu.Unlock()
		return fs, nil
	}
	c.mu.Unlock()

	fs, err := c.loader.Fetch(ctx, tag)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have populated it concurrently; keep
	// whichever landed first so cached VFS identity is stable.
	if existing, ok := c.byTag[tag]; ok {
		return existing, nil
	}
	c.byTag[tag] = fs
	return fs, nil
}
