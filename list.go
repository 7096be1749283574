package blobfs

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/blobfs/internal/pathkey"
	"github.com/hupe1980/blobfs/objstore"
)

// List returns the contents of dir, sorted by name: one file Item per object
// directly in dir, one directory Item per populated sub-prefix, and one
// directory Item per marked virtual directory that has no real content yet.
// A name backed by real content is never duplicated by its virtual
// counterpart.
//
// Directories do not need to exist to be listed; a path with nothing beneath
// it yields an empty slice.
func (fs *FS) List(ctx context.Context, dir string) ([]Item, error) {
	start := time.Now()
	items, err := fs.list(ctx, dir)
	duration := time.Since(start)
	fs.metrics.RecordList(len(items), duration, err)
	fs.logger.LogList(ctx, dir, len(items), err)
	return items, err
}

func (fs *FS) list(ctx context.Context, dir string) ([]Item, error) {
	name := pathkey.Normalize(dir)
	prefix := fs.keys.DirPrefix(name)

	seen := make(map[string]Item)
	err := fs.store.List(ctx, objstore.ListOptions{Prefix: prefix, Delimiter: pathkey.Separator}, func(e objstore.Entry) error {
		base := strings.TrimPrefix(e.Key, prefix)
		if e.IsPrefix {
			base = strings.TrimSuffix(base, pathkey.Separator)
			seen[base] = newDirItem(base)
			return nil
		}
		if base == "" {
			// An object whose key equals the prefix itself is not a child.
			return nil
		}
		seen[base] = newFileItem(base, e.Size, e.ModTime)
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}

	// Virtual directories fill in what the store cannot see yet.
	for child := range fs.dirs.ChildNames(name) {
		if _, ok := seen[child]; !ok {
			seen[child] = newDirItem(child)
		}
	}

	names := make([]string, 0, len(seen))
	for base := range seen {
		names = append(names, base)
	}
	slices.Sort(names)
	items := make([]Item, 0, len(seen))
	for _, base := range names {
		items = append(items, seen[base])
	}
	return items, nil
}
