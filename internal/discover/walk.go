package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/phobologic/impactscan/internal/cache"
)

// DirCache caches directory listings keyed by absolute directory path.
type DirCache = cache.Store[string, []os.DirEntry]

// NewDirCache creates a directory-listing cache holding at most size directories.
func NewDirCache(size int) (*DirCache, error) {
	return cache.New[string, []os.DirEntry](size)
}

// Walker lazily enumerates the files under a repository root, depth first.
type Walker struct {
	root   string
	ignore *IgnoreSet
	dirs   *DirCache
	logger *slog.Logger
}

// NewWalker creates a Walker over root. dirs may be nil to disable listing reuse.
func NewWalker(root string, ignoreSet *IgnoreSet, dirs *DirCache, logger *slog.Logger) *Walker {
	return &Walker{root: root, ignore: ignoreSet, dirs: dirs, logger: logger}
}

// Files yields absolute file paths as they are discovered. Ignored
// directories are never descended into. Unreadable directories are logged
// and skipped; only a failure to stat the root itself is yielded as an error.
// A missing root yields nothing. Each call performs a fresh walk.
func (w *Walker) Files() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, err := os.Stat(w.root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield("", fmt.Errorf("stat root: %w", err))
			return
		}
		if !info.IsDir() {
			yield("", fmt.Errorf("%s: not a directory", w.root))
			return
		}
		w.walk(w.root, yield)
	}
}

// walk visits dir and returns false once the consumer stops pulling.
func (w *Walker) walk(dir string, yield func(string, error) bool) bool {
	entries, ok := w.readDir(dir)
	if !ok {
		return true
	}

	for _, e := range entries {
		// Skip symlinks
		if e.Type()&os.ModeSymlink != 0 {
			continue
		}

		full := filepath.Join(dir, e.Name())
		rel, err := slashRel(w.root, full)
		if err != nil {
			continue
		}

		if e.IsDir() {
			if w.ignore != nil && w.ignore.Match(rel, true) {
				continue
			}
			if !w.walk(full, yield) {
				return false
			}
			continue
		}

		if !e.Type().IsRegular() {
			continue
		}
		if w.ignore != nil && w.ignore.Match(rel, false) {
			continue
		}
		if !yield(full, nil) {
			return false
		}
	}
	return true
}

// readDir lists dir, reusing the cached listing while the directory's
// modification time is unchanged.
func (w *Walker) readDir(dir string) ([]os.DirEntry, bool) {
	info, err := os.Stat(dir)
	if err != nil {
		w.logger.Warn("stat directory", "dir", dir, "error", err)
		return nil, false
	}

	if w.dirs != nil {
		if entries, ok := w.dirs.Get(dir, info.ModTime()); ok {
			return entries, true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("reading directory", "dir", dir, "error", err)
		return nil, false
	}
	if w.dirs != nil {
		w.dirs.Put(dir, info.ModTime(), entries)
	}
	return entries, true
}
