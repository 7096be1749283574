package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DiskConfig holds configuration for the disk cache.
type DiskConfig struct {
	// RootDir is the directory where cache files are stored.
	RootDir string
	// MaxSizeBytes is the maximum size of the cache in bytes.
	MaxSizeBytes int64
	// MaxConcurrentWrites limits background disk writes to prevent unbounded goroutines.
	// Defaults to 16 if <= 0.
	MaxConcurrentWrites int64
	// Codec frames blocks before they hit disk.
	Codec Codec
}

// DiskCache implements BlockCache backed by the local filesystem.
// It maintains an in-memory LRU index of the files on disk. Writes happen
// in the background; a Set that loses the race with a concurrent Get is a
// miss, which only costs a backend read during warm-up.
type DiskCache struct {
	mu          sync.Mutex
	rootDir     string
	maxSize     int64
	currentSize int64
	codec       Codec

	// writeSem limits concurrent background writes.
	writeSem *semaphore.Weighted

	// Index
	items   map[Key]*lruEntry
	lruHead *lruEntry
	lruTail *lruEntry
	wg      sync.WaitGroup

	// Stats
	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry struct {
	key        Key
	size       int64
	filePath   string
	next, prev *lruEntry
}

// NewDiskCache creates a new disk-backed block cache.
// It scans the directory to rebuild the index on startup, so blocks cached
// by a previous process stay usable.
func NewDiskCache(config DiskConfig) (*DiskCache, error) {
	if err := os.MkdirAll(config.RootDir, 0755); err != nil {
		return nil, err
	}

	maxWrites := config.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 16
	}

	c := &DiskCache{
		rootDir:  config.RootDir,
		maxSize:  config.MaxSizeBytes,
		codec:    config.Codec,
		items:    make(map[Key]*lruEntry),
		writeSem: semaphore.NewWeighted(maxWrites),
	}

	c.scanExistingFiles()

	return c, nil
}

func (c *DiskCache) scanExistingFiles() {
	// Expect structure: root/<Path>/<Block>.blk
	_ = filepath.Walk(c.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // ignore walk errors to continue scanning
		}
		if info.IsDir() {
			return nil
		}

		key, ok := c.parsePathToKey(path)
		if !ok {
			return nil
		}

		c.addToLRU(key, path, info.Size())
		return nil
	})
}

// encodeKeyToRelPath creates a relative path string from a key.
// Format: <Path>/<Block>.blk; the <Path> part is preserved as directory
// structure so an invalidated object can be removed wholesale.
func (c *DiskCache) encodeKeyToRelPath(key Key) string {
	fileName := fmt.Sprintf("%d.blk", key.Block)
	if key.Path != "" {
		return filepath.Join(key.Path, fileName)
	}
	return filepath.Join("_misc", fileName)
}

func (c *DiskCache) parsePathToKey(absPath string) (Key, bool) {
	relPath, err := filepath.Rel(c.rootDir, absPath)
	if err != nil {
		return Key{}, false
	}

	dir, file := filepath.Split(relPath)

	var k Key

	n, err := fmt.Sscanf(file, "%d.blk", &k.Block)
	if err != nil || n != 1 {
		return Key{}, false
	}

	if dir != "" {
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		if dir == "_misc" {
			k.Path = ""
		} else {
			// Cache keys use forward slashes regardless of platform.
			k.Path = filepath.ToSlash(dir)
		}
	}

	return k, true
}

func (c *DiskCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	ent, ok := c.items[key]
	if ok {
		c.moveToFront(ent)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	frame, err := os.ReadFile(ent.filePath)
	if err == nil {
		var data []byte
		data, err = c.codec.Decode(frame)
		if err == nil {
			c.hits.Add(1)
			return data, true
		}
	}

	// File missing or corrupt: remove from index and disk. Re-check the
	// index so concurrent Gets don't remove the same entry twice.
	c.mu.Lock()
	if cur, ok := c.items[key]; ok && cur == ent {
		c.removeEntry(ent)
	}
	c.mu.Unlock()
	_ = os.Remove(ent.filePath)

	c.misses.Add(1)
	return nil, false
}

func (c *DiskCache) Set(ctx context.Context, key Key, b []byte) {
	// Encode up front: the frame is a fresh allocation, so the background
	// write never retains the caller's buffer.
	frame, err := c.codec.Encode(b)
	if err != nil {
		return
	}
	size := int64(len(frame))

	c.mu.Lock()

	if ent, ok := c.items[key]; ok {
		c.moveToFront(ent)
		c.mu.Unlock()
		// Blocks are immutable, no rewrite needed.
		return
	}

	relPath := c.encodeKeyToRelPath(key)
	absPath := filepath.Join(c.rootDir, relPath)

	// Evict to reserve space before the write starts.
	for c.currentSize+size > c.maxSize {
		if c.lruTail == nil {
			break
		}
		c.evictOne()
	}

	c.mu.Unlock()

	// Non-blocking acquire: if too many writes are in flight, skip caching
	// this block. It's a cache, not critical.
	if !c.writeSem.TryAcquire(1) {
		return
	}

	// The index is only updated once the write completes, so parallel Gets
	// miss and hit the backend again during warm-up.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)

		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return
		}

		tmpFile, err := os.CreateTemp(filepath.Dir(absPath), "tmp-blk-*")
		if err != nil {
			return
		}
		tmpName := tmpFile.Name()

		defer func() {
			if _, err := os.Stat(tmpName); err == nil {
				_ = os.Remove(tmpName)
			}
		}()

		if _, err := tmpFile.Write(frame); err != nil {
			_ = tmpFile.Close() // cleanup path
			return
		}
		if err := tmpFile.Close(); err != nil {
			return
		}

		if err := os.Rename(tmpName, absPath); err != nil {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		// Recheck capacity in case other writes landed first.
		for c.currentSize+size > c.maxSize {
			if c.lruTail == nil {
				break
			}
			c.evictOne()
		}

		c.addToLRU(key, absPath, size)
	}()
}

func (c *DiskCache) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*lruEntry
	for k, ent := range c.items {
		if predicate(k) {
			toRemove = append(toRemove, ent)
		}
	}

	for _, ent := range toRemove {
		_ = os.Remove(ent.filePath)
		c.removeEntry(ent)
	}
}

// Close waits for all background writes to complete.
func (c *DiskCache) Close() error {
	c.wg.Wait()
	return nil
}

func (c *DiskCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Internal LRU helpers (must hold lock)

func (c *DiskCache) addToLRU(key Key, path string, size int64) {
	ent := &lruEntry{
		key:      key,
		filePath: path,
		size:     size,
	}
	c.items[key] = ent
	c.currentSize += size

	if c.lruHead == nil {
		c.lruHead = ent
		c.lruTail = ent
	} else {
		ent.next = c.lruHead
		c.lruHead.prev = ent
		c.lruHead = ent
	}
}

func (c *DiskCache) moveToFront(ent *lruEntry) {
	if c.lruHead == ent {
		return
	}

	// Detach
	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if c.lruTail == ent {
		c.lruTail = ent.prev
	}

	// Attach front
	ent.next = c.lruHead
	ent.prev = nil
	if c.lruHead != nil {
		c.lruHead.prev = ent
	}
	c.lruHead = ent
	if c.lruTail == nil {
		c.lruTail = ent
	}
}

func (c *DiskCache) removeEntry(ent *lruEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.lruHead = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.lruTail = ent.prev
	}

	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

func (c *DiskCache) evictOne() {
	if c.lruTail == nil {
		return
	}
	_ = os.Remove(c.lruTail.filePath)
	c.removeEntry(c.lruTail)
}
