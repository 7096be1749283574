package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store implementation.
//
// It models the full backing-store contract including staged blocks and
// delimiter listings, which makes it the reference backend for tests. Safe
// for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	staged  map[string]map[string][]byte // key -> blockID -> data
}

type memObject struct {
	data    []byte
	modTime time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memObject),
		staged:  make(map[string]map[string][]byte),
	}
}

// Exists reports whether key holds a committed object.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Stat returns object properties.
func (m *Memory) Stat(_ context.Context, key string) (Props, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Props{}, ErrNotFound
	}
	return Props{Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

// NewReader opens a read stream at offset.
func (m *Memory) NewReader(_ context.Context, key string, offset int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	if offset < 0 || offset > int64(len(obj.data)) {
		return nil, fmt.Errorf("objstore: offset %d out of range for %q (size %d)", offset, key, len(obj.data))
	}
	// Copy so later writes to the key cannot mutate an open reader.
	data := make([]byte, int64(len(obj.data))-offset)
	copy(data, obj.data[offset:])
	return io.NopCloser(bytes.NewReader(data)), nil
}

// NewWriter opens a write stream that replaces the object on Close.
func (m *Memory) NewWriter(ctx context.Context, key string) (io.WriteCloser, error) {
	return &memWriter{ctx: ctx, store: m, key: key}, nil
}

// StageBlock records a block for key without materializing the object.
func (m *Memory) StageBlock(_ context.Context, key, blockID string, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	blocks, ok := m.staged[key]
	if !ok {
		blocks = make(map[string][]byte)
		m.staged[key] = blocks
	}
	blocks[blockID] = copied
	return nil
}

// CommitBlockList materializes key from staged blocks in the given order.
func (m *Memory) CommitBlockList(_ context.Context, key string, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return ErrEmptyBlockList
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blocks := m.staged[key]
	var buf bytes.Buffer
	for _, id := range blockIDs {
		data, ok := blocks[id]
		if !ok {
			return fmt.Errorf("objstore: block %q not staged for %q", id, key)
		}
		buf.Write(data)
	}
	m.objects[key] = memObject{data: buf.Bytes(), modTime: time.Now()}
	delete(m.staged, key)
	return nil
}

// ListStagedBlocks returns the uncommitted block IDs for key.
func (m *Memory) ListStagedBlocks(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blocks := m.staged[key]
	ids := make([]string, 0, len(blocks))
	for id := range blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// List visits committed objects under the prefix, grouping by the delimiter
// when one is given. Entries are visited in key order; each common prefix is
// visited once.
func (m *Memory) List(_ context.Context, opts ListOptions, fn WalkFunc) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
	}
	entries := make(map[string]Entry, len(keys))
	for _, key := range keys {
		obj := m.objects[key]
		entries[key] = Entry{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime}
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	seenPrefixes := make(map[string]struct{})
	for _, key := range keys {
		rest := key[len(opts.Prefix):]
		if opts.Delimiter != "" {
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				common := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if _, seen := seenPrefixes[common]; seen {
					continue
				}
				seenPrefixes[common] = struct{}{}
				if err := fn(Entry{Key: common, IsPrefix: true}); err != nil {
					return err
				}
				continue
			}
		}
		if err := fn(entries[key]); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the object and any staged residue. Missing keys are fine.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.staged, key)
	return nil
}

// Copy duplicates srcKey to dstKey.
func (m *Memory) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[srcKey]
	if !ok {
		return ErrNotFound
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	m.objects[dstKey] = memObject{data: data, modTime: time.Now()}
	return nil
}

// memWriter buffers writes and installs the object on Close.
type memWriter struct {
	ctx    context.Context
	store  *Memory
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.objects[w.key] = memObject{data: data, modTime: time.Now()}
	return nil
}
