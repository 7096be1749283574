package cache

import (
	"context"
	"hash/maphash"
	"sync"
)

const numShards = 64

// ShardedLRU is a sharded LRU cache for high-concurrency workloads.
// It distributes entries across 64 shards to reduce lock contention.
type ShardedLRU struct {
	shards [numShards]*LRU
	seed   maphash.Seed
}

// NewShardedLRU creates a new sharded LRU cache.
// The capacity is divided evenly across all shards.
func NewShardedLRU(capacity int64, codec Codec) *ShardedLRU {
	shardCapacity := capacity / numShards
	if shardCapacity < 1 {
		shardCapacity = 1
	}

	s := &ShardedLRU{
		seed: maphash.MakeSeed(),
	}

	for i := 0; i < numShards; i++ {
		s.shards[i] = NewLRU(shardCapacity, codec)
	}

	return s
}

// shard returns the shard for a given key using a fast hash.
func (s *ShardedLRU) shard(key Key) *LRU {
	var h maphash.Hash
	h.SetSeed(s.seed)

	_, _ = h.WriteString(key.Path)

	var buf [8]byte
	buf[0] = byte(key.Block)
	buf[1] = byte(key.Block >> 8)
	buf[2] = byte(key.Block >> 16)
	buf[3] = byte(key.Block >> 24)
	buf[4] = byte(key.Block >> 32)
	buf[5] = byte(key.Block >> 40)
	buf[6] = byte(key.Block >> 48)
	buf[7] = byte(key.Block >> 56)

	_, _ = h.Write(buf[:])

	idx := h.Sum64() % numShards
	return s.shards[idx]
}

// Get returns a cached block.
func (s *ShardedLRU) Get(ctx context.Context, key Key) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a block.
func (s *ShardedLRU) Set(ctx context.Context, key Key, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes entries matching the predicate.
// This iterates all shards, which is expensive but rare.
func (s *ShardedLRU) Invalidate(predicate func(key Key) bool) {
	var wg sync.WaitGroup
	wg.Add(numShards)

	for i := 0; i < numShards; i++ {
		go func(shard *LRU) {
			defer wg.Done()
			shard.Invalidate(predicate)
		}(s.shards[i])
	}

	wg.Wait()
}

// Close closes all shards.
func (s *ShardedLRU) Close() error {
	for i := 0; i < numShards; i++ {
		if err := s.shards[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns aggregated hit/miss statistics.
func (s *ShardedLRU) Stats() (hits, misses int64) {
	for i := 0; i < numShards; i++ {
		h, m := s.shards[i].Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *ShardedLRU) Size() int64 {
	var total int64
	for i := 0; i < numShards; i++ {
		total += s.shards[i].Size()
	}
	return total
}
