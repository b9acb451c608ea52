package walk_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/storyloom/sidecar/internal/walk"
)

func TestFS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"README.md":               {Data: []byte("# readme")},
		"src/main.go":             {Data: []byte("package main")},
		"src/node_modules/x/a.js": {Data: []byte("x")},
		".git/HEAD":               {Data: []byte("ref")},
		"target/debug/app":        {Data: []byte{0}},
		"docs/target":             {Data: []byte("file named target")},
		"docs/targets.md":         {Data: []byte("kept")},
	}

	var paths []string
	for entry, err := range walk.FS(t.Context(), fsys, "/work", walk.Skip("node_modules", ".git", "target")) {
		require.NoError(t, err)
		paths = append(paths, filepath.ToSlash(entry.Path()))
	}
	require.Equal(t, []string{
		"/work/README.md",
		"/work/docs/targets.md",
		"/work/src/main.go",
	}, paths)
}

func TestFS_Stop(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"a": {Data: []byte("a")},
		"b": {Data: []byte("b")},
		"c": {Data: []byte("c")},
	}
	var n int
	for range walk.FS(t.Context(), fsys, "mem") {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "notes.txt"), []byte("hello"), 0o644))

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	var entries []walk.Entry
	for entry, err := range walk.Root(t.Context(), root) {
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Join(dir, "sub", "notes.txt"), entries[0].Path())

	info, err := entries[0].Stat()
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Size())

	r, err := entries[0].Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
}
