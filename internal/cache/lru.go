package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// LRU implements a simple least-recently-used BlockCache. Blocks are
// stored in their encoded frame form; capacity accounts for the bytes
// actually held, so a compressing codec fits more blocks in the same
// budget.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	codec     Codec
	items     map[Key]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	frame []byte
}

// NewLRU creates a new LRU cache with the given capacity in bytes.
func NewLRU(capacity int64, codec Codec) *LRU {
	return &LRU{
		capacity:  capacity,
		codec:     codec,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a cached block.
func (c *LRU) Get(ctx context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()

	ent, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.evictList.MoveToFront(ent)
	frame := ent.Value.(*entry).frame
	c.mu.Unlock()

	b, err := c.codec.Decode(frame)
	if err != nil {
		// Corrupt frame: drop it and report a miss so the caller refills.
		c.Invalidate(func(k Key) bool { return k == key })
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return b, true
}

// Set caches a block. The cache never retains b.
func (c *LRU) Set(ctx context.Context, key Key, b []byte) {
	frame, err := c.codec.Encode(b)
	if err != nil {
		return
	}
	frameSize := int64(len(frame))

	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if already exists
	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		oldSize := int64(len(ent.Value.(*entry).frame))
		c.size += frameSize - oldSize
		ent.Value.(*entry).frame = frame
		c.evict()
		return
	}

	// If item is larger than capacity, don't cache
	if frameSize > c.capacity {
		return
	}

	for c.size+frameSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	element := c.evictList.PushFront(&entry{key, frame})
	c.items[key] = element
	c.size += frameSize
}

// Invalidate removes entries matching the predicate.
func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// removeElement modifies the list, so collect elements first.
	var toRemove []*list.Element

	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}

	for _, e := range toRemove {
		c.removeElement(e)
	}
}

func (c *LRU) evict() {
	for c.size > c.capacity {
		element := c.evictList.Back()
		if element == nil {
			break
		}
		c.removeElement(element)
	}
}

func (c *LRU) Close() error {
	return nil
}

func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.key)
	c.size -= int64(len(kv.frame))
}

// Size returns the current size of the cache in bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
