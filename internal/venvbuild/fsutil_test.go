package venvbuild

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeExecutable(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o640))

	require.NoError(t, makeExecutable(p))
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o751), info.Mode().Perm())

	assert.ErrorIs(t, makeExecutable(filepath.Join(t.TempDir(), "missing")), ErrFilesystem)
}

func TestEnsureSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ft2build.h")
	link := filepath.Join(dir, "freetype2", "ft2build.h")
	require.NoError(t, os.WriteFile(target, []byte("/* header */"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Dir(link), 0o755))

	require.NoError(t, ensureSymlink(target, link))
	dest, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, target, dest)

	// Second call leaves the existing link alone.
	require.NoError(t, ensureSymlink(target, link))

	err = ensureSymlink(filepath.Join(dir, "nope.h"), filepath.Join(dir, "other.h"))
	assert.ErrorIs(t, err, ErrFilesystem)
}

func TestSnapshotAndPruneNew(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"python", "pip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o755))
	}

	before, err := snapshotDir(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"python": true, "pip": true}, before)

	for _, name := range []string{"gfortran", "gfortran-4.2", "gcc-4.2", "cpp-4.2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o755))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "gcc-extra"), 0o755))

	removed, err := pruneNew(dir, before, "gfortran")
	require.NoError(t, err)
	assert.Equal(t, []string{"cpp-4.2", "gcc-4.2", "gcc-extra"}, removed)

	after, err := snapshotDir(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"python": true, "pip": true, "gfortran": true, "gfortran-4.2": true}, after)
}

func TestSnapshotMissingDir(t *testing.T) {
	_, err := snapshotDir(filepath.Join(t.TempDir(), "bin"))
	assert.ErrorIs(t, err, ErrFilesystem)
}

func TestRemoveTree(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "include", "gcc")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "darwin"), 0o755))

	require.NoError(t, removeTree(dir))
	assert.NoDirExists(t, dir)
	assert.ErrorIs(t, removeTree(dir), ErrFilesystem)
}

func TestTouch(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".mathjax-done")
	require.NoError(t, touch(p))
	assert.FileExists(t, p)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))
	require.NoError(t, touch(p))
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old))
}
