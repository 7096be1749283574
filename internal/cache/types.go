package cache

import "context"

// Key identifies one cached block of one stored object.
type Key struct {
	// Path is the backing-store key of the object.
	Path string
	// Block is the block index within the object (byte offset divided by
	// the reader's block size).
	Block int64
}

// BlockCache is a byte-oriented cache for immutable object blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. The cache never retains b; callers keep ownership.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Close releases any resources (e.g. background writers).
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
