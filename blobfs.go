package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/blobfs/checkpoint"
	"github.com/hupe1980/blobfs/internal/cache"
	"github.com/hupe1980/blobfs/internal/pathkey"
	"github.com/hupe1980/blobfs/internal/vdir"
	"github.com/hupe1980/blobfs/objstore"
)

// cacheBlockSize is the granularity of the read block cache. Reads are
// served from limit-aligned blocks of this size fetched through the cache.
const cacheBlockSize = 1 << 20 // 1 MiB

// FS is a hierarchical file system over a flat object store.
//
// Paths use "/" as separator; leading and trailing separators are ignored
// and runs collapse, so "a//b/" and "a/b" name the same file. All methods
// are safe for concurrent use.
type FS struct {
	store         objstore.Store
	keys          *pathkey.Builder
	dirs          *vdir.Index
	blockCache    cache.BlockCache // nil unless read caching is enabled
	checkpoint    checkpoint.Store // nil unless configured
	limiter       *rate.Limiter
	chunkLimit    int
	deleteWorkers int
	metrics       MetricsCollector
	logger        *Logger
}

// New creates a file system on top of store.
func New(store objstore.Store, optFns ...Option) (*FS, error) {
	o := applyOptions(optFns)

	fs := &FS{
		keys:          pathkey.NewBuilder(o.prefix),
		dirs:          vdir.New(),
		checkpoint:    o.checkpoint,
		limiter:       o.rateLimiter,
		chunkLimit:    o.chunkLimit,
		deleteWorkers: o.deleteWorkers,
		metrics:       o.metricsCollector,
		logger:        o.logger,
	}

	if o.cacheCapacity > 0 {
		var bc cache.BlockCache
		if o.cacheDir != "" {
			dc, err := cache.NewDiskCache(cache.DiskConfig{
				RootDir:      o.cacheDir,
				MaxSizeBytes: o.cacheCapacity,
				Codec:        cache.CodecZSTD,
			})
			if err != nil {
				return nil, fmt.Errorf("create disk cache: %w", err)
			}
			bc = dc
		} else {
			bc = cache.NewShardedLRU(o.cacheCapacity, cache.CodecLZ4)
		}
		fs.blockCache = bc
		store = objstore.NewCachingStore(store, bc, cacheBlockSize)
	}
	fs.store = store

	return fs, nil
}

// Open returns a reader over the file at path, from the beginning.
func (fs *FS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return fs.OpenAt(ctx, path, 0)
}

// OpenAt returns a reader over the file at path, starting at offset. The
// reader sees the object as it was at open time, even if the file is
// replaced while reading.
func (fs *FS) OpenAt(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	start := time.Now()
	r, err := fs.store.NewReader(ctx, fs.keys.Key(path), offset)
	duration := time.Since(start)
	err = translateError(err)
	fs.metrics.RecordOpen(duration, err)
	fs.logger.LogOpen(ctx, path, offset, err)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Create replaces the file at path through the store's streaming writer.
// Nothing is visible at path until the returned writer closes successfully.
// For very large or interruptible writes, use the upload lifecycle instead.
func (fs *FS) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if pathkey.Normalize(path) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	start := time.Now()
	w, err := fs.store.NewWriter(ctx, fs.keys.Key(path))
	if err != nil {
		err = translateError(err)
		fs.metrics.RecordCreate(time.Since(start), err)
		fs.logger.LogCreate(ctx, path, 0, err)
		return nil, err
	}
	return &createWriter{ctx: ctx, fs: fs, w: w, path: path, start: start}, nil
}

// createWriter defers the create metrics and log record to Close, the point
// where the file actually becomes visible.
type createWriter struct {
	ctx     context.Context
	fs      *FS
	w       io.WriteCloser
	path    string
	start   time.Time
	written int64
	closed  bool
}

var _ io.WriteCloser = (*createWriter)(nil)

func (cw *createWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.written += int64(n)
	return n, err
}

func (cw *createWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true

	err := translateError(cw.w.Close())
	cw.fs.metrics.RecordCreate(time.Since(cw.start), err)
	cw.fs.logger.LogCreate(cw.ctx, cw.path, cw.written, err)
	return err
}

// Copy copies the file at src to dst server-side. Without overwrite, the
// copy is refused with ErrAlreadyExists when dst is already taken.
func (fs *FS) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	start := time.Now()
	err := fs.copy(ctx, src, dst, overwrite)
	duration := time.Since(start)
	fs.metrics.RecordCopy(duration, err)
	fs.logger.LogCopy(ctx, src, dst, err)
	return err
}

func (fs *FS) copy(ctx context.Context, src, dst string, overwrite bool) error {
	if pathkey.Normalize(dst) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, dst)
	}

	srcKey := fs.keys.Key(src)
	ok, err := fs.store.Exists(ctx, srcKey)
	if err != nil {
		return translateError(err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, src)
	}

	dstKey := fs.keys.Key(dst)
	if !overwrite {
		taken, err := fs.store.Exists(ctx, dstKey)
		if err != nil {
			return translateError(err)
		}
		if taken {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, dst)
		}
	}

	return translateError(fs.store.Copy(ctx, srcKey, dstKey))
}

// Remove deletes the file at path.
func (fs *FS) Remove(ctx context.Context, path string) error {
	start := time.Now()
	err := fs.remove(ctx, path)
	duration := time.Since(start)
	fs.metrics.RecordRemove(duration, err)
	fs.logger.LogRemove(ctx, path, err)
	return err
}

func (fs *FS) remove(ctx context.Context, path string) error {
	key := fs.keys.Key(path)
	ok, err := fs.store.Exists(ctx, key)
	if err != nil {
		return translateError(err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	return translateError(fs.store.Delete(ctx, key))
}

// RemoveDir removes the directory at dir. With recursive set, every file
// beneath it is deleted with bounded concurrency; failures do not stop the
// sweep and are aggregated into the returned error. Without recursive, a
// directory that still contains files is refused with ErrNotEmpty, and
// removing an empty one is a no-op.
//
// Virtual directory entries are not un-marked: an emptied directory keeps
// existing until this FS instance goes away.
func (fs *FS) RemoveDir(ctx context.Context, dir string, recursive bool) error {
	start := time.Now()
	removed, err := fs.removeDir(ctx, dir, recursive)
	duration := time.Since(start)
	fs.metrics.RecordRemoveDir(removed, duration, err)
	fs.logger.LogRemoveDir(ctx, dir, removed, err)
	return err
}

func (fs *FS) removeDir(ctx context.Context, dir string, recursive bool) (int, error) {
	var keys []string
	err := fs.store.List(ctx, objstore.ListOptions{Prefix: fs.keys.DirPrefix(dir)}, func(e objstore.Entry) error {
		keys = append(keys, e.Key)
		return nil
	})
	if err != nil {
		return 0, translateError(err)
	}

	if !recursive {
		if len(keys) > 0 {
			return 0, fmt.Errorf("%w: %q", ErrNotEmpty, dir)
		}
		return 0, nil
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		merr    *multierror.Error
		removed int
	)
	g.SetLimit(fs.deleteWorkers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := fs.store.Delete(ctx, key); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("delete %q: %w", fs.keys.Logical(key), err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			removed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers only report through merr

	return removed, merr.ErrorOrNil()
}

// Mkdir records dir and all of its ancestors as directories. The record is
// held in memory for the lifetime of this FS instance; once files appear
// beneath dir, the store's own listing takes over.
func (fs *FS) Mkdir(ctx context.Context, dir string) error {
	fs.dirs.Mark(dir)
	fs.logger.LogMkdir(ctx, dir)
	return nil
}

// Stat describes the file or directory at path.
func (fs *FS) Stat(ctx context.Context, path string) (Item, error) {
	start := time.Now()
	item, err := fs.stat(ctx, path)
	duration := time.Since(start)
	fs.metrics.RecordStat(duration, err)
	fs.logger.LogStat(ctx, path, err)
	return item, err
}

func (fs *FS) stat(ctx context.Context, path string) (Item, error) {
	name := pathkey.Normalize(path)
	if name == "" {
		return newDirItem(""), nil // the root
	}

	props, err := fs.store.Stat(ctx, fs.keys.Key(name))
	switch {
	case err == nil:
		_, leaf := pathkey.Split(name)
		return newFileItem(leaf, props.Size, props.ModTime), nil
	case !errors.Is(err, objstore.ErrNotFound):
		return Item{}, translateError(err)
	}

	ok, err := fs.dirExists(ctx, name)
	if err != nil {
		return Item{}, err
	}
	if ok {
		_, leaf := pathkey.Split(name)
		return newDirItem(leaf), nil
	}

	return Item{}, fmt.Errorf("%w: %q", ErrNotFound, path)
}

// DirExists reports whether dir exists, either as a marked virtual
// directory or because at least one file lives beneath it. The root always
// exists.
func (fs *FS) DirExists(ctx context.Context, dir string) (bool, error) {
	start := time.Now()
	ok, err := fs.dirExists(ctx, pathkey.Normalize(dir))
	duration := time.Since(start)
	fs.metrics.RecordStat(duration, err)
	fs.logger.LogStat(ctx, dir, err)
	return ok, err
}

var errStopWalk = errors.New("stop walk")

func (fs *FS) dirExists(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return true, nil
	}
	if fs.dirs.Contains(name) {
		return true, nil
	}

	found := false
	err := fs.store.List(ctx, objstore.ListOptions{Prefix: fs.keys.DirPrefix(name)}, func(objstore.Entry) error {
		found = true
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return false, translateError(err)
	}
	return found, nil
}

// DirSize sums the sizes of the files directly in dir, or of every file
// beneath it when recursive is set.
func (fs *FS) DirSize(ctx context.Context, dir string, recursive bool) (int64, error) {
	start := time.Now()
	total, entries, err := fs.dirSize(ctx, dir, recursive)
	duration := time.Since(start)
	fs.metrics.RecordList(entries, duration, err)
	fs.logger.LogDirSize(ctx, dir, total, err)
	return total, err
}

func (fs *FS) dirSize(ctx context.Context, dir string, recursive bool) (int64, int, error) {
	opts := objstore.ListOptions{Prefix: fs.keys.DirPrefix(dir)}
	if !recursive {
		opts.Delimiter = pathkey.Separator
	}

	var total int64
	entries := 0
	err := fs.store.List(ctx, opts, func(e objstore.Entry) error {
		if e.IsPrefix {
			return nil
		}
		total += e.Size
		entries++
		return nil
	})
	if err != nil {
		return 0, entries, translateError(err)
	}
	return total, entries, nil
}

// CacheStats returns the read cache's cumulative hit and miss counters, or
// zeros when caching is disabled.
func (fs *FS) CacheStats() (hits, misses int64) {
	if fs.blockCache == nil {
		return 0, 0
	}
	return fs.blockCache.Stats()
}
