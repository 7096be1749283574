package blobfs

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hupe1980/blobfs/checkpoint"
)

// defaultDeleteConcurrency bounds the parallel object deletions of a
// recursive RemoveDir.
const defaultDeleteConcurrency = 16

type options struct {
	prefix           string
	chunkLimit       int
	rateLimiter      *rate.Limiter
	checkpoint       checkpoint.Store
	cacheCapacity    int64
	cacheDir         string
	deleteWorkers    int
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures FS constructor behavior.
type Option func(*options)

// WithPrefix roots the file system at a key prefix inside the store, so
// several independent file systems can share one bucket.
//
// "team-a", "/team-a/" and "team-a//" all behave identically.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithChunkLimit sets the maximum upload chunk size in bytes. Non-positive
// values fall back to uploader.DefaultChunkLimit.
//
// Keep the limit constant across all sessions of one upload: a resume token
// only maps to a well-defined source byte offset when every full chunk has
// the same size.
func WithChunkLimit(n int) Option {
	return func(o *options) {
		o.chunkLimit = n
	}
}

// WithRateLimit throttles upload staging throughput. The limiter is charged
// one token per byte.
//
// Example capping uploads at 8 MiB/s:
//
//	fsys, _ := blobfs.New(store, blobfs.WithRateLimit(rate.NewLimiter(8<<20, 1<<20)))
func WithRateLimit(l *rate.Limiter) Option {
	return func(o *options) {
		o.rateLimiter = l
	}
}

// WithCheckpoint persists upload progress tokens in cs after every durably
// staged chunk. ResumeUpload with a nil token then continues an interrupted
// upload, even from a different process.
func WithCheckpoint(cs checkpoint.Store) Option {
	return func(o *options) {
		o.checkpoint = cs
	}
}

// WithReadCache enables an in-memory block cache of the given byte capacity
// for reads. Cached blocks are lz4-compressed, so the effective capacity is
// usually larger. Close the FS to release the cache.
func WithReadCache(capacityBytes int64) Option {
	return func(o *options) {
		o.cacheCapacity = capacityBytes
		o.cacheDir = ""
	}
}

// WithDiskCache enables a disk-backed block cache under dir with the given
// byte capacity, for working sets too large for memory. Cached blocks are
// zstd-compressed. The cache persists across FS instances; close the FS to
// flush pending writes.
//
// WithReadCache and WithDiskCache are mutually exclusive; the last one wins.
func WithDiskCache(dir string, capacityBytes int64) Option {
	return func(o *options) {
		o.cacheCapacity = capacityBytes
		o.cacheDir = dir
	}
}

// WithDeleteConcurrency sets how many objects a recursive RemoveDir deletes
// in parallel. Non-positive values fall back to the default of 16.
func WithDeleteConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.deleteWorkers = n
		}
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &blobfs.BasicMetricsCollector{}
//	fsys, _ := blobfs.New(store, blobfs.WithMetricsCollector(metrics))
//	// ... use fsys ...
//	stats := metrics.GetStats()
//	fmt.Printf("Opens: %d, Avg latency: %dns\n", stats.OpenCount, stats.OpenAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := blobfs.NewJSONLogger(slog.LevelInfo)
//	fsys, _ := blobfs.New(store, blobfs.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		deleteWorkers:    defaultDeleteConcurrency,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
