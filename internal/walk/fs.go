package walk

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// Entry is a regular file found by a walk.
type Entry interface {
	// Path returns the path prefixed with the name of the walked root.
	Path() string
	Open() (io.ReadCloser, error)
	Stat() (fs.FileInfo, error)
}

type config struct {
	skip map[string]struct{}
}

// Option configures a walk.
type Option func(*config)

// Skip excludes every file or directory with one of the given names,
// directories are not descended into.
func Skip(names ...string) Option {
	return func(c *config) {
		if c.skip == nil {
			c.skip = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			c.skip[n] = struct{}{}
		}
	}
}

// Root is a convenience wrapper around FS for os.Root. See FS for details.
func Root(ctx context.Context, root *os.Root, opts ...Option) iter.Seq2[Entry, error] {
	return FS(ctx, root.FS(), root.Name(), opts...)
}

// FS recursively walks the filesystem rooted at root and return a handle for every regular file found.
// Or an error if file information retrieval fails.
// Each Entry's Path() is prefixed with name of a filesystem. It does not follow symlinks.
func FS(ctx context.Context, root fs.FS, name string, opts ...Option) iter.Seq2[Entry, error] {
	if root == nil {
		panic("root is nil")
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if d != nil && path != "." {
				if _, ok := cfg.skip[d.Name()]; ok {
					if d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
			}
			var entry = fsEntry{
				root:    root,
				abspath: filepath.Join(name, filepath.FromSlash(path)),
				path:    path,
			}
			var yieldErr error
			if err != nil {
				yieldErr = err
			} else {
				info, err := d.Info()
				if err != nil {
					entry.infoErr = err
					yieldErr = err
				} else {
					if !info.Mode().IsRegular() {
						return nil
					}
					entry.info = info
				}
			}

			if !yield(entry, yieldErr) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

// fsEntry implements Entry for a filesystem
// it uses root.Open to open the file
type fsEntry struct {
	root    fs.FS
	abspath string
	path    string
	info    fs.FileInfo
	infoErr error
}

func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Open() (io.ReadCloser, error) {
	if e.infoErr != nil {
		return nil, e.infoErr
	}
	return e.root.Open(e.path)
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
