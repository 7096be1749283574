package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/blobfs/internal/cache"
	"golang.org/x/sync/errgroup"
)

// CachingStore wraps a Store and adds block-level read caching. Reads are
// served from fixed-size blocks held in a [cache.BlockCache]; mutations
// invalidate the affected key's blocks so readers never see stale data.
type CachingStore struct {
	inner     Store
	cache     cache.BlockCache
	blockSize int64
}

var _ Store = (*CachingStore)(nil)

// NewCachingStore creates a new CachingStore.
// blockSize defaults to 4KB if <= 0.
func NewCachingStore(inner Store, bc cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = 4096
	}
	return &CachingStore{
		inner:     inner,
		cache:     bc,
		blockSize: blockSize,
	}
}

// Exists reports whether the key holds a committed object.
func (s *CachingStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

// Stat returns the properties of a committed object.
func (s *CachingStore) Stat(ctx context.Context, key string) (Props, error) {
	return s.inner.Stat(ctx, key)
}

// NewReader opens a read stream served from cached blocks. The object size
// is pinned at open, so a reader keeps its view even if the key is
// overwritten mid-read.
func (s *CachingStore) NewReader(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	props, err := s.inner.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > props.Size {
		return nil, fmt.Errorf("objstore: offset %d out of range for %q (size %d)", offset, key, props.Size)
	}
	return &cachingReader{
		ctx:       ctx,
		inner:     s.inner,
		cache:     s.cache,
		key:       key,
		blockSize: s.blockSize,
		size:      props.Size,
		off:       offset,
	}, nil
}

// NewWriter opens a write stream on the inner store. The key's cached
// blocks are invalidated once the write becomes visible.
func (s *CachingStore) NewWriter(ctx context.Context, key string) (io.WriteCloser, error) {
	w, err := s.inner.NewWriter(ctx, key)
	if err != nil {
		return nil, err
	}
	return &invalidatingWriter{inner: w, cache: s.cache, key: key}, nil
}

// StageBlock passes through: staged blocks are invisible to readers, so
// nothing needs invalidating.
func (s *CachingStore) StageBlock(ctx context.Context, key, blockID string, data []byte) error {
	return s.inner.StageBlock(ctx, key, blockID, data)
}

// CommitBlockList materializes the object and invalidates its cached blocks.
func (s *CachingStore) CommitBlockList(ctx context.Context, key string, blockIDs []string) error {
	if err := s.inner.CommitBlockList(ctx, key, blockIDs); err != nil {
		return err
	}
	s.invalidateKey(key)
	return nil
}

// ListStagedBlocks passes through.
func (s *CachingStore) ListStagedBlocks(ctx context.Context, key string) ([]string, error) {
	return s.inner.ListStagedBlocks(ctx, key)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, opts ListOptions, fn WalkFunc) error {
	return s.inner.List(ctx, opts, fn)
}

// Delete invalidates the key's cached blocks and removes the object.
func (s *CachingStore) Delete(ctx context.Context, key string) error {
	s.invalidateKey(key)
	return s.inner.Delete(ctx, key)
}

// Copy duplicates srcKey to dstKey and invalidates the destination's
// cached blocks.
func (s *CachingStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := s.inner.Copy(ctx, srcKey, dstKey); err != nil {
		return err
	}
	s.invalidateKey(dstKey)
	return nil
}

func (s *CachingStore) invalidateKey(key string) {
	s.cache.Invalidate(func(k cache.Key) bool {
		return k.Path == key
	})
}

// invalidatingWriter defers invalidation until the write is durable.
type invalidatingWriter struct {
	inner io.WriteCloser
	cache cache.BlockCache
	key   string
}

func (w *invalidatingWriter) Write(p []byte) (int, error) {
	return w.inner.Write(p)
}

func (w *invalidatingWriter) Close() error {
	if err := w.inner.Close(); err != nil {
		return err
	}
	w.cache.Invalidate(func(k cache.Key) bool {
		return k.Path == w.key
	})
	return nil
}

// cachingReader streams an object block by block through the cache.
type cachingReader struct {
	ctx       context.Context
	inner     Store
	cache     cache.BlockCache
	key       string
	blockSize int64
	size      int64
	off       int64
}

func (r *cachingReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.off >= r.size {
		return 0, io.EOF
	}
	if remaining := r.size - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	off := r.off
	startBlock := off / r.blockSize
	endBlock := (off + int64(len(p)) - 1) / r.blockSize

	// Coalesce missing blocks into few backend reads before copying out.
	if err := r.fillCache(startBlock, endBlock); err != nil {
		return 0, err
	}

	totalRead := 0

	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * r.blockSize

		// Intersect [blkStart, blkStart+blockSize) with [off, off+len(p)).
		intersectStart := max(blkStart, off)
		intersectEnd := min(blkStart+r.blockSize, off+int64(len(p)))
		if intersectEnd <= intersectStart {
			continue
		}

		copySize := int(intersectEnd - intersectStart)
		dstOffset := intersectStart - off

		blockData, err := r.fetchBlock(blk)
		if err != nil {
			r.off += int64(totalRead)
			return totalRead, err
		}

		srcOffset := intersectStart - blkStart
		if srcOffset+int64(copySize) > int64(len(blockData)) {
			// Short final block.
			copySize = len(blockData) - int(srcOffset)
		}

		if copySize > 0 {
			n := copy(p[dstOffset:dstOffset+int64(copySize)], blockData[srcOffset:])
			totalRead += n
		}
	}

	r.off += int64(totalRead)
	if totalRead == 0 {
		return 0, io.EOF
	}
	return totalRead, nil
}

func (r *cachingReader) Close() error {
	return nil
}

// fillCache loads the blocks in [startBlock, endBlock] into the cache,
// fetching contiguous runs of missing blocks in single backend requests.
func (r *cachingReader) fillCache(startBlock, endBlock int64) error {
	var missingRuns []struct {
		start, count int64
	}

	runStart := int64(-1)
	runCount := int64(0)

	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := r.cache.Get(r.ctx, cache.Key{Path: r.key, Block: blk}); !ok {
			if runStart == -1 {
				runStart = blk
				runCount = 1
			} else {
				runCount++
			}
		} else if runStart != -1 {
			missingRuns = append(missingRuns, struct{ start, count int64 }{runStart, runCount})
			runStart = -1
			runCount = 0
		}
	}
	if runStart != -1 {
		missingRuns = append(missingRuns, struct{ start, count int64 }{runStart, runCount})
	}

	g, ctx := errgroup.WithContext(r.ctx)
	// Limit concurrency to avoid FD exhaustion or backend rate limits.
	g.SetLimit(16)

	for _, run := range missingRuns {
		run := run
		g.Go(func() error {
			byteStart := run.start * r.blockSize
			byteSize := run.count * r.blockSize

			if byteStart >= r.size {
				return nil
			}
			if byteStart+byteSize > r.size {
				byteSize = r.size - byteStart
			}

			data, err := r.readRange(ctx, byteStart, byteSize)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return nil
			}

			for i := int64(0); i < run.count; i++ {
				offsetInRun := i * r.blockSize
				if offsetInRun >= int64(len(data)) {
					break
				}
				endInRun := min(offsetInRun+r.blockSize, int64(len(data)))

				// Copy so the cache never pins the whole run buffer.
				blockCopy := make([]byte, endInRun-offsetInRun)
				copy(blockCopy, data[offsetInRun:endInRun])

				r.cache.Set(ctx, cache.Key{Path: r.key, Block: run.start + i}, blockCopy)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *cachingReader) fetchBlock(blk int64) ([]byte, error) {
	key := cache.Key{Path: r.key, Block: blk}

	if data, ok := r.cache.Get(r.ctx, key); ok {
		return data, nil
	}

	// Filled-then-evicted under memory pressure, or lost a race. Read the
	// single block directly.
	byteStart := blk * r.blockSize
	if byteStart >= r.size {
		return nil, nil
	}
	byteSize := min(r.blockSize, r.size-byteStart)

	data, err := r.readRange(r.ctx, byteStart, byteSize)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		r.cache.Set(r.ctx, key, data)
	}
	return data, nil
}

// readRange reads [off, off+length) from the inner store.
func (r *cachingReader) readRange(ctx context.Context, off, length int64) ([]byte, error) {
	rc, err := r.inner.NewReader(ctx, r.key, off)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, length)
	n, err := io.ReadFull(rc, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}
