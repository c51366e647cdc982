// Package vfs implements the in-memory inode filesystem WASI path
// resolution runs against, per spec.md §3 and §4.2.
package vfs

import (
	"errors"
	"strings"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/pipe"
)

// Inode is an opaque index into a FS's entry vector, monotonically
// assigned and never reused within one FS.
type Inode uint64

// Root is always inode 0.
const Root Inode = 0

// Errors returned by FS.Get / FS.GetFile, mirroring FsError in
// original_source/worker/src/os/fs.rs.
var (
	ErrNotDir      = errors.New("not a directory")
	ErrIsDir       = errors.New("is a directory")
	ErrDoesNotExist = errors.New("no such file or directory")
)

// entryKind tags which variant of FsEntry an entry is.
type entryKind int

const (
	kindDir entryKind = iota
	kindFile
	kindPipe
)

// entry is the tagged FsEntry sum type from spec.md §3: a directory
// (name -> Inode), a content-addressed file, or a reference to a Pipe.
type entry struct {
	kind     entryKind
	children map[string]Inode // kindDir
	data     []byte           // kindFile; shared, never mutated after creation
	pipe     *pipe.Pipe       // kindPipe
}

// FS is the vector of entries plus parent back-pointers described in
// spec.md §3. The zero value is not usable; use New.
type FS struct {
	entries []entry
	parents []Inode
}

// New returns an FS containing only the root directory.
func New() *FS {
	return &FS{
		entries: []entry{{kind: kindDir, children: map[string]Inode{}}},
		parents: []Inode{Root},
	}
}

// Clone returns a shallow copy: new entry/parent slices, but file and pipe
// payloads are shared by reference, matching the "cheap to clone" VFS
// invariant from spec.md §3.
func (f *FS) Clone() *FS {
	out := &FS{
		entries: make([]entry, len(f.entries)),
		parents: append([]Inode(nil), f.parents...),
	}
	for i, e := range f.entries {
		switch e.kind {
		case kindDir:
			children := make(map[string]Inode, len(e.children))
			for k, v := range e.children {
				children[k] = v
			}
			out.entries[i] = entry{kind: kindDir, children: children}
		default:
			out.entries[i] = e
		}
	}
	return out
}

// RootInode returns the root inode.
func (f *FS) RootInode() Inode { return Root }

func splitPath(path string) []string {
	return strings.Split(path, "/")
}

// Get resolves path relative to parent, following the algorithm in
// spec.md §4.2: a leading "/" is absorbed by splitting on "/"; "." and
// empty components are skipped; ".." follows the parent back-pointer;
// any other component does a directory lookup. The final component may
// resolve to any entry kind.
func (f *FS) Get(parent Inode, path string) (Inode, error) {
	if path == "" {
		return parent, nil
	}
	return f.get(parent, splitPath(path))
}

func (f *FS) get(parent Inode, components []string) (Inode, error) {
	if len(components) == 0 {
		return parent, nil
	}
	cur, rest := components[0], components[1:]
	switch cur {
	case "", ".":
		return f.get(parent, rest)
	case "..":
		return f.get(f.parents[parent], rest)
	default:
		e := &f.entries[parent]
		if e.kind != kindDir {
			return 0, ErrNotDir
		}
		child, ok := e.children[cur]
		if !ok {
			return 0, ErrDoesNotExist
		}
		return f.get(child, rest)
	}
}

// GetFile returns the byte contents of a File inode.
func (f *FS) GetFile(i Inode) ([]byte, error) {
	e := &f.entries[i]
	if e.kind == kindDir {
		return nil, ErrIsDir
	}
	if e.kind != kindFile {
		return nil, ErrNotDir
	}
	return e.data, nil
}

// GetPipe returns the Pipe backing a Pipe inode.
func (f *FS) GetPipe(i Inode) (*pipe.Pipe, error) {
	e := &f.entries[i]
	if e.kind != kindPipe {
		return nil, ErrNotDir
	}
	return e.pipe, nil
}

// IsDir reports whether i is a directory.
func (f *FS) IsDir(i Inode) bool {
	return f.entries[i].kind == kindDir
}

// ReadDir returns the directory's entries. Order is unspecified.
func (f *FS) ReadDir(i Inode) (map[string]Inode, error) {
	e := &f.entries[i]
	if e.kind != kindDir {
		return nil, ErrNotDir
	}
	return e.children, nil
}

// Size returns the byte length of a file, or 0 for directories/pipes.
func (f *FS) Size(i Inode) uint64 {
	if f.entries[i].kind == kindFile {
		return uint64(len(f.entries[i].data))
	}
	return 0
}

func (f *FS) addEntry(parent Inode, name string, e entry) Inode {
	newInode := Inode(len(f.entries))
	f.entries = append(f.entries, e)
	f.parents = append(f.parents, parent)
	f.entries[parent].children[name] = newInode
	return newInode
}

// AddFile creates a new file entry with the given name under parent,
// which must already be a directory.
func (f *FS) AddFile(parent Inode, name string, data []byte) Inode {
	return f.addEntry(parent, name, entry{kind: kindFile, data: data})
}

// AddPipe creates a new pipe entry with the given name under parent.
func (f *FS) AddPipe(parent Inode, name string, p *pipe.Pipe) Inode {
	return f.addEntry(parent, name, entry{kind: kindPipe, pipe: p})
}

func (f *FS) mkdirIfAbsent(parent Inode, name string) Inode {
	e := &f.entries[parent]
	if child, ok := e.children[name]; ok {
		return child
	}
	return f.addEntry(parent, name, entry{kind: kindDir, children: map[string]Inode{}})
}

// AddFileWithPath creates a file at path, creating any intermediate
// directories, per spec.md §4.2 ("Creation of directories is implicit
// only via add_file_with_path").
func (f *FS) AddFileWithPath(path string, data []byte) Inode {
	components := splitPath(path)
	cur := Root
	for _, c := range components[:len(components)-1] {
		if c == "" {
			continue
		}
		cur = f.mkdirIfAbsent(cur, c)
	}
	return f.AddFile(cur, components[len(components)-1], data)
}

// AddEntryWithPath creates a pipe node at path, creating intermediate
// directories as needed.
func (f *FS) AddEntryWithPath(path string, p *pipe.Pipe) Inode {
	components := splitPath(path)
	cur := Root
	for _, c := range components[:len(components)-1] {
		if c == "" {
			continue
		}
		cur = f.mkdirIfAbsent(cur, c)
	}
	return f.AddPipe(cur, components[len(components)-1], p)
}

// GetFileWithPath resolves path from root and returns its contents.
func (f *FS) GetFileWithPath(path string) ([]byte, error) {
	i, err := f.Get(Root, path)
	if err != nil {
		return nil, err
	}
	return f.GetFile(i)
}
