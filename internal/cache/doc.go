// Package cache provides LRU caching for object read blocks.
//
// # Block Cache (RAM)
//
// [LRU] holds recently read blocks of remote objects; [ShardedLRU] spreads
// the same design over 64 shards for concurrent readers. Entries can be
// framed by a [Codec], trading a decompression per hit for a larger
// effective capacity.
//
// # Disk Cache (L2)
//
// For remote backends, [DiskCache] persists blocks under a local directory:
//   - Background writes keep the read path unblocked
//   - LRU eviction with a configurable size limit
//   - The index is rebuilt from disk on startup, so cached blocks survive
//     process restarts
package cache
