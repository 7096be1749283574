package objstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/blobfs/internal/mmap"
)

// Local stores objects as files under a root directory. Committed objects
// live under <root>/objects with keys mapped to relative paths; staged
// blocks live under <root>/staged/<key>/ until committed. Reads are served
// from memory-mapped pages.
//
// The object namespace is the filesystem namespace: a key cannot nest under
// another key that already names an object ("a" as an object blocks "a/b").
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates a Local store rooted at the given directory.
func NewLocal(root string) (*Local, error) {
	for _, dir := range []string{filepath.Join(root, "objects"), filepath.Join(root, "staged")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return &Local{root: root}, nil
}

func (s *Local) objectPath(key string) string {
	return filepath.Join(s.root, "objects", filepath.FromSlash(key))
}

func (s *Local) stagedDir(key string) string {
	return filepath.Join(s.root, "staged", filepath.FromSlash(key))
}

// Block IDs may contain characters the filesystem rejects, so staged files
// are named by the hex form of the ID.
func stagedBlockFile(blockID string) string {
	return hex.EncodeToString([]byte(blockID)) + ".blk"
}

// Exists reports whether the key holds a committed object.
func (s *Local) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(s.objectPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Stat returns the properties of a committed object.
func (s *Local) Stat(_ context.Context, key string) (Props, error) {
	info, err := os.Stat(s.objectPath(key))
	if os.IsNotExist(err) {
		return Props{}, ErrNotFound
	}
	if err != nil {
		return Props{}, err
	}
	if info.IsDir() {
		// Directories only exist as parents of keys.
		return Props{}, ErrNotFound
	}
	return Props{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// NewReader opens a read stream at offset, backed by a memory mapping.
func (s *Local) NewReader(_ context.Context, key string, offset int64) (io.ReadCloser, error) {
	info, err := os.Stat(s.objectPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	if offset < 0 || offset > info.Size() {
		return nil, fmt.Errorf("objstore: offset %d out of range for %q (size %d)", offset, key, info.Size())
	}

	m, err := mmap.Open(s.objectPath(key))
	if err != nil {
		return nil, err
	}
	_ = m.Advise(mmap.AccessSequential)

	return &localReader{
		m: m,
		r: io.NewSectionReader(m, offset, int64(m.Size())-offset),
	}, nil
}

type localReader struct {
	m *mmap.Mapping
	r *io.SectionReader
}

func (r *localReader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *localReader) Close() error {
	return r.m.Close()
}

// NewWriter opens a write stream. The object materializes atomically via
// rename when Close returns nil; until then readers see the old content.
func (s *Local) NewWriter(ctx context.Context, key string) (io.WriteCloser, error) {
	target := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "tmp-obj-*")
	if err != nil {
		return nil, err
	}
	return &localWriter{ctx: ctx, f: tmp, target: target}, nil
}

type localWriter struct {
	ctx    context.Context
	f      *os.File
	target string
	closed bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

func (w *localWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	name := w.f.Name()
	if err := w.ctx.Err(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(name)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, w.target); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

// StageBlock stores one block under the key's staging directory.
// Restaging an ID replaces its data.
func (s *Local) StageBlock(_ context.Context, key, blockID string, data []byte) error {
	dir := s.stagedDir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "tmp-blk-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, filepath.Join(dir, stagedBlockFile(blockID)))
}

// CommitBlockList concatenates the staged blocks in order into the object
// and clears the staging directory.
func (s *Local) CommitBlockList(_ context.Context, key string, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return ErrEmptyBlockList
	}

	dir := s.stagedDir(key)
	for _, id := range blockIDs {
		if _, err := os.Stat(filepath.Join(dir, stagedBlockFile(id))); err != nil {
			return fmt.Errorf("objstore: block %q not staged for %q", id, key)
		}
	}

	target := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "tmp-obj-*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	for _, id := range blockIDs {
		blk, err := os.Open(filepath.Join(dir, stagedBlockFile(id)))
		if err == nil {
			_, err = io.Copy(tmp, blk)
			_ = blk.Close()
		}
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(name)
			return err
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, target); err != nil {
		_ = os.Remove(name)
		return err
	}

	_ = os.RemoveAll(dir)
	s.pruneEmptyDirs(filepath.Dir(dir), filepath.Join(s.root, "staged"))
	return nil
}

// ListStagedBlocks returns the IDs staged for key.
func (s *Local) ListStagedBlocks(_ context.Context, key string) ([]string, error) {
	entries, err := os.ReadDir(s.stagedDir(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".blk")
		if !ok {
			continue
		}
		raw, err := hex.DecodeString(name)
		if err != nil {
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}

// List visits committed objects under opts.Prefix in key order.
func (s *Local) List(_ context.Context, opts ListOptions, fn WalkFunc) error {
	root := filepath.Join(s.root, "objects")

	var objects []Entry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, opts.Prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil // deleted mid-walk
			}
			return err
		}
		objects = append(objects, Entry{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}

	// Walk order follows the directory tree, not flat key order.
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	if opts.Delimiter == "" {
		for _, e := range objects {
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	}

	seenPrefixes := make(map[string]struct{})
	for _, e := range objects {
		rest := e.Key[len(opts.Prefix):]
		if i := strings.Index(rest, opts.Delimiter); i >= 0 {
			prefix := e.Key[:len(opts.Prefix)+i+len(opts.Delimiter)]
			if _, ok := seenPrefixes[prefix]; ok {
				continue
			}
			seenPrefixes[prefix] = struct{}{}
			if err := fn(Entry{Key: prefix, IsPrefix: true}); err != nil {
				return err
			}
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the object and any staged residue. Missing keys are fine.
func (s *Local) Delete(_ context.Context, key string) error {
	target := s.objectPath(key)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
			// A parent directory of other keys, not an object.
			return nil
		}
		return err
	}
	s.pruneEmptyDirs(filepath.Dir(target), filepath.Join(s.root, "objects"))

	_ = os.RemoveAll(s.stagedDir(key))
	s.pruneEmptyDirs(filepath.Dir(s.stagedDir(key)), filepath.Join(s.root, "staged"))
	return nil
}

// Copy duplicates srcKey to dstKey.
func (s *Local) Copy(_ context.Context, srcKey, dstKey string) error {
	src, err := os.Open(s.objectPath(srcKey))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer src.Close()

	if info, err := src.Stat(); err != nil {
		return err
	} else if info.IsDir() {
		return ErrNotFound
	}

	target := s.objectPath(dstKey)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "tmp-obj-*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, target)
}

// pruneEmptyDirs removes empty directories from dir up to (excluding) stop.
func (s *Local) pruneEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return // not empty, or already gone with a non-empty parent
		}
		dir = filepath.Dir(dir)
	}
}
