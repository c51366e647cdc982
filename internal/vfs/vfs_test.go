package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestResolutionMatchesComponentwise is spec.md §8 property 1.
func TestResolutionMatchesComponentwise(t *testing.T) {
	f := New()
	a := f.mkdirIfAbsent(Root, "a")
	f.AddFile(a, "b", []byte("data"))

	// get(v, "") == v
	i, err := f.Get(Root, "")
	require.NoError(t, err)
	require.Equal(t, Root, i)

	// get(v, "a/../b") == get(v, "b") when a exists and is a directory.
	f.AddFile(Root, "b", []byte("top"))
	viaDotDot, err := f.Get(Root, "a/../b")
	require.NoError(t, err)
	direct, err := f.Get(Root, "b")
	require.NoError(t, err)
	require.Equal(t, direct, viaDotDot)

	// resolving stepwise matches resolving the whole path at once.
	whole, err := f.Get(Root, "a/b")
	require.NoError(t, err)
	step1, err := f.Get(Root, "a")
	require.NoError(t, err)
	step2, err := f.Get(step1, "b")
	require.NoError(t, err)
	require.Equal(t, whole, step2)
}

func TestNotDirOnIntermediateFile(t *testing.T) {
	f := New()
	f.AddFile(Root, "a", []byte("x"))
	_, err := f.Get(Root, "a/b")
	require.ErrorIs(t, err, ErrNotDir)
}

func TestRootSelfParent(t *testing.T) {
	f := New()
	i, err := f.Get(Root, "..")
	require.NoError(t, err)
	require.Equal(t, Root, i)
}

func TestAddFileWithPathCreatesDirs(t *testing.T) {
	f := New()
	f.AddFileWithPath("bin/clang++", []byte("elf"))
	data, err := f.GetFileWithPath("bin/clang++")
	require.NoError(t, err)
	require.Equal(t, "elf", string(data))
}

func TestDoesNotExist(t *testing.T) {
	f := New()
	_, err := f.Get(Root, "nope")
	require.ErrorIs(t, err, ErrDoesNotExist)
}

func TestIsDirOnFile(t *testing.T) {
	f := New()
	f.AddFile(Root, "a", []byte("x"))
	i, err := f.Get(Root, "a")
	require.NoError(t, err)
	_, err = f.ReadDir(i)
	require.ErrorIs(t, err, ErrNotDir)
}

func TestCloneIsIndependent(t *testing.T) {
	f := New()
	f.AddFile(Root, "a", []byte("x"))
	clone := f.Clone()
	clone.AddFile(Root, "b", []byte("y"))

	_, err := f.Get(Root, "b")
	require.ErrorIs(t, err, ErrDoesNotExist)

	_, err = clone.Get(Root, "a")
	require.NoError(t, err)
}
