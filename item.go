package blobfs

import (
	"io/fs"
	"time"
)

// Item describes one file or directory in the hierarchy. It implements
// io/fs.FileInfo and is immutable after construction.
//
// Directories carry only a name: flat object stores do not track sizes or
// modification times for prefixes, and virtual directories have no backing
// object at all.
type Item struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func newFileItem(name string, size int64, modTime time.Time) Item {
	return Item{name: name, size: size, modTime: modTime}
}

func newDirItem(name string) Item {
	return Item{name: name, dir: true}
}

// Name returns the item's base name without any path.
func (i Item) Name() string { return i.name }

// Size returns the object size in bytes, or 0 for directories.
func (i Item) Size() int64 { return i.size }

// Mode returns a synthetic file mode: 0o644 for files, fs.ModeDir|0o755 for
// directories.
func (i Item) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// ModTime returns the object's last modification time, or the zero time for
// directories.
func (i Item) ModTime() time.Time { return i.modTime }

// IsDir reports whether the item is a directory.
func (i Item) IsDir() bool { return i.dir }

// Sys implements io/fs.FileInfo and always returns nil.
func (i Item) Sys() any { return nil }

var _ fs.FileInfo = Item{}
