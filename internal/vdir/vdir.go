// Package vdir tracks directories that exist logically but have no backing
// objects yet.
//
// Flat object stores only know about keys, so an empty directory has no
// representation at all. The index remembers directories created through the
// file system until content appears beneath them, letting listings and
// existence checks behave like a real tree. Entries live for the lifetime of
// one index; nothing is persisted across restarts.
package vdir

import (
	"strings"
	"sync"

	"github.com/hupe1980/blobfs/internal/pathkey"
)

// Index is a concurrency-safe set of virtual directory paths.
//
// Invariant: for every entry, all of its ancestor paths are entries too.
// Entries are normalized (no leading or trailing separator) and are never
// removed.
type Index struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

// New creates an empty index.
func New() *Index {
	return &Index{paths: make(map[string]struct{})}
}

// Mark inserts the normalized path and every ancestor prefix. Marking an
// already-present path or the empty path is a no-op.
func (ix *Index) Mark(path string) {
	path = pathkey.Normalize(path)
	if path == "" {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for {
		if _, ok := ix.paths[path]; ok {
			return // ancestors are already present by the invariant
		}
		ix.paths[path] = struct{}{}
		parent, _ := pathkey.Split(path)
		if parent == "" {
			return
		}
		path = parent
	}
}

// Contains reports whether the path has been marked. The empty path (the
// root) always exists.
func (ix *Index) Contains(path string) bool {
	path = pathkey.Normalize(path)
	if path == "" {
		return true
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.paths[path]
	return ok
}

// ChildNames returns the deduplicated immediate child segment names under
// path. For the empty path it returns the first segment of every entry;
// otherwise the segment following "path/" for every entry beneath it.
func (ix *Index) ChildNames(path string) map[string]struct{} {
	path = pathkey.Normalize(path)
	prefix := ""
	if path != "" {
		prefix = path + pathkey.Separator
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	names := make(map[string]struct{})
	for entry := range ix.paths {
		if prefix != "" && !strings.HasPrefix(entry, prefix) {
			continue
		}
		rest := entry[len(prefix):]
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, pathkey.Separator); i >= 0 {
			rest = rest[:i]
		}
		names[rest] = struct{}{}
	}
	return names
}

// Len returns the number of marked directories.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.paths)
}
