package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hupe1980/blobfs/objstore"
)

// DefaultChunkLimit is the maximum chunk size used when no explicit limit
// is configured.
const DefaultChunkLimit = 50 * 1024 * 1024 // 50 MiB

// ErrClosed is returned by operations on a session that was already
// committed, closed or cancelled.
var ErrClosed = errors.New("uploader: session closed")

// Metrics receives chunk-level staging measurements. Collectors such as
// blobfs.BasicMetricsCollector satisfy it.
type Metrics interface {
	// RecordChunkStage is called after every chunk staging attempt.
	// size is the chunk size in bytes, err is nil on success.
	RecordChunkStage(size int, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordChunkStage(int, time.Duration, error) {}

// CheckpointStore persists upload progress as chunks become durable, so an
// interrupted upload can be located and resumed by a later process.
// checkpoint.Store satisfies it.
//
// Saves are best-effort from the session's point of view: a failed save is
// logged and does not fail the upload.
type CheckpointStore interface {
	Save(ctx context.Context, key string, token []byte) error
	Clear(ctx context.Context, key string) error
}

type options struct {
	chunkLimit int
	logger     *slog.Logger
	metrics    Metrics
	limiter    *rate.Limiter
	checkpoint CheckpointStore
}

// Option configures an upload session.
type Option func(*options)

// WithChunkLimit sets the maximum chunk size in bytes. Non-positive values
// fall back to DefaultChunkLimit.
//
// Keep the limit constant across all sessions of one upload: a resume token
// only maps to a well-defined source byte offset when every full chunk has
// the same size.
func WithChunkLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkLimit = n
		}
	}
}

// WithLogger configures structured logging for session operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics configures a collector for chunk staging measurements.
// Pass nil to disable collection.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m == nil {
			m = noopMetrics{}
		}
		o.metrics = m
	}
}

// WithRateLimit throttles staging throughput. The limiter is charged one
// token per byte before each chunk is staged; reservations larger than the
// limiter's burst are split.
func WithRateLimit(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithCheckpoint persists a progress token after every durably staged
// chunk.
func WithCheckpoint(cp CheckpointStore) Option {
	return func(o *options) {
		o.checkpoint = cp
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		chunkLimit: DefaultChunkLimit,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    noopMetrics{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Session is a resumable chunked upload to a single object key.
//
// A Session buffers caller writes into chunks of at most the configured
// limit. Each full chunk is handed to a background staging chain that
// uploads chunks strictly in order, at most one at a time, while the caller
// keeps writing; a Write therefore never waits on network I/O. Commit
// drains the chain, stages the trailing partial chunk and returns the
// resume token.
//
// A Session is single-writer: Write, WriteByte, Commit, Close and Cancel
// must not be called concurrently with each other. The progress accessors
// are safe from any goroutine.
type Session struct {
	store objstore.Store
	key   string
	id    string

	chunkLimit int
	logger     *slog.Logger
	metrics    Metrics
	limiter    *rate.Limiter
	checkpoint CheckpointStore

	// ctx governs the background staging calls; cancelling it aborts
	// in-flight chunk uploads.
	ctx context.Context

	written atomic.Int64
	staged  atomic.Int32

	mu     sync.Mutex
	buf    []byte
	next   int32      // index of the chunk currently being filled
	tail   chan error // carries the chain's cumulative error, received exactly once
	err    error      // first staging failure, surfaced by the next call
	closed bool
}

var (
	_ io.Writer     = (*Session)(nil)
	_ io.ByteWriter = (*Session)(nil)
	_ io.Closer     = (*Session)(nil)
)

// New begins an upload session for key. ctx governs the session's
// background staging calls and should stay alive until the session is
// committed, closed or cancelled.
func New(ctx context.Context, store objstore.Store, key string, optFns ...Option) *Session {
	return newSession(ctx, store, key, 0, optFns)
}

// Resume continues an upload from a resume token produced by an earlier
// session's Commit. Writing resumes at the next chunk boundary; only
// durably staged chunks survive the boundary, so any source bytes beyond
// them must be written again.
func Resume(ctx context.Context, store objstore.Store, key string, token []byte, optFns ...Option) *Session {
	return newSession(ctx, store, key, DecodeToken(token), optFns)
}

func newSession(ctx context.Context, store objstore.Store, key string, start int32, optFns []Option) *Session {
	o := applyOptions(optFns)

	// The chain is primed with a nil result so the first staging (or a
	// commit with nothing staged) has a predecessor to wait on.
	tail := make(chan error, 1)
	tail <- nil

	s := &Session{
		store:      store,
		key:        key,
		id:         uuid.NewString(),
		chunkLimit: o.chunkLimit,
		logger:     o.logger,
		metrics:    o.metrics,
		limiter:    o.limiter,
		checkpoint: o.checkpoint,
		ctx:        ctx,
		next:       start,
		tail:       tail,
	}
	s.staged.Store(start)

	s.logger.DebugContext(ctx, "upload session started",
		"key", key,
		"session", s.id,
		"start_chunk", start,
	)

	return s
}

// Write implements io.Writer. It copies p into the current chunk buffer,
// sealing and scheduling full chunks as it goes. Write fails with the first
// staging error of the background chain, or ErrClosed after the session
// ended. Writing zero bytes is a no-op.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := len(p)
	for len(p) > 0 {
		n := s.chunkLimit - len(s.buf)
		if n > len(p) {
			n = len(p)
		}
		s.buf = append(s.buf, p[:n]...)
		p = p[n:]
		if len(s.buf) >= s.chunkLimit {
			s.sealLocked()
		}
	}
	s.written.Add(int64(total))

	return total, nil
}

// WriteByte implements io.ByteWriter.
func (s *Session) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// Commit drains the background chain, stages any trailing partial chunk and
// seals the session. It returns the resume token encoding how many chunks
// of the whole upload are now durably staged.
//
// Commit stages, it does not materialize: pass the token to a finalize step
// (or back into Resume) afterwards. A failed or cancelled Commit leaves the
// staged chunks in place; use Cancel to discard them.
func (s *Session) Commit(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.closed = true
	tail := s.tail
	s.tail = nil
	final := s.buf
	s.buf = nil
	count := s.next
	s.mu.Unlock()

	// Drain outside the lock: in-flight chain links take it to record
	// their error.
	if err := <-tail; err != nil {
		return nil, err
	}

	if len(final) > 0 {
		if err := s.stageChunk(ctx, count, final); err != nil {
			return nil, err
		}
		count++
	}

	s.logger.DebugContext(ctx, "upload session committed",
		"key", s.key,
		"session", s.id,
		"chunks", count,
		"bytes", s.written.Load(),
	)

	return EncodeToken(count), nil
}

// Close implements io.Closer. Closing a session that was not committed
// still drains the chain and flushes buffered bytes, so accepted writes are
// never dropped; the resume token is discarded. Closing an ended session is
// a no-op.
func (s *Session) Close() error {
	_, err := s.Commit(context.Background())
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Cancel abandons the upload: it waits out any in-flight staging, deletes
// the target object together with its staged chunks and clears the
// checkpoint. Cancel also works on a session that already ended, so a
// failed Commit can still be cleaned up.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	tail := s.tail
	s.tail = nil
	s.buf = nil
	s.closed = true
	s.mu.Unlock()

	if tail != nil {
		<-tail // the chain's error no longer matters
	}

	if s.checkpoint != nil {
		if err := s.checkpoint.Clear(ctx, s.key); err != nil {
			s.logger.WarnContext(ctx, "checkpoint clear failed",
				"key", s.key,
				"session", s.id,
				"error", err,
			)
		}
	}

	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("cancel upload of %q: %w", s.key, err)
	}

	s.logger.DebugContext(ctx, "upload session cancelled",
		"key", s.key,
		"session", s.id,
	)

	return nil
}

// Key returns the object key this session uploads to.
func (s *Session) Key() string {
	return s.key
}

// ID returns the session's unique identifier, used to correlate log
// records.
func (s *Session) ID() string {
	return s.id
}

// BytesWritten returns the number of bytes accepted by this session so far.
// Resumed sessions count from zero, not from the resume offset.
func (s *Session) BytesWritten() int64 {
	return s.written.Load()
}

// StagedChunks returns the number of chunks of the whole upload known to be
// durably staged, including chunks staged by earlier sessions.
func (s *Session) StagedChunks() int32 {
	return s.staged.Load()
}

// sealLocked hands the filled buffer to the background chain and advances
// the chunk index. The new chain link waits for its predecessor, so chunk
// N's staging starts only after chunk N-1's finished, with at most one
// staging in flight. Callers must hold s.mu.
func (s *Session) sealLocked() {
	data := s.buf
	s.buf = nil
	index := s.next
	s.next++

	prev := s.tail
	done := make(chan error, 1)
	s.tail = done

	go func() {
		err := <-prev
		if err == nil {
			err = s.stageChunk(s.ctx, index, data)
		}
		if err != nil {
			s.setErr(err)
		}
		done <- err
	}()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// stageChunk uploads one sealed chunk. It runs either on the background
// chain (full chunks) or synchronously inside Commit (the trailing partial
// chunk); ordering is the caller's concern.
func (s *Session) stageChunk(ctx context.Context, index int32, data []byte) error {
	if s.limiter != nil {
		if err := waitQuota(ctx, s.limiter, len(data)); err != nil {
			return fmt.Errorf("stage chunk %d of %q: %w", index, s.key, err)
		}
	}

	start := time.Now()
	err := s.store.StageBlock(ctx, s.key, BlockID(index), data)
	s.metrics.RecordChunkStage(len(data), time.Since(start), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "chunk staging failed",
			"key", s.key,
			"session", s.id,
			"chunk", index,
			"error", err,
		)
		return fmt.Errorf("stage chunk %d of %q: %w", index, s.key, err)
	}

	durable := index + 1
	s.staged.Store(durable)

	if s.checkpoint != nil {
		if err := s.checkpoint.Save(ctx, s.key, EncodeToken(durable)); err != nil {
			s.logger.WarnContext(ctx, "checkpoint save failed",
				"key", s.key,
				"session", s.id,
				"chunk", index,
				"error", err,
			)
		}
	}

	s.logger.DebugContext(ctx, "chunk staged",
		"key", s.key,
		"session", s.id,
		"chunk", index,
		"size", len(data),
		"duration", time.Since(start),
	)

	return nil
}

// waitQuota reserves n bytes from the limiter, splitting the reservation
// when n exceeds the limiter's burst.
func waitQuota(ctx context.Context, l *rate.Limiter, n int) error {
	burst := l.Burst()
	if burst <= 0 {
		return fmt.Errorf("uploader: rate limiter burst must be positive, got %d", burst)
	}
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := l.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
