package blobfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/checkpoint"
	"github.com/hupe1980/blobfs/objstore"
	"github.com/hupe1980/blobfs/testutil"
	"github.com/hupe1980/blobfs/uploader"
)

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("EndToEnd", func(t *testing.T) {
		fsys := newTestFS(t)

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)

		_, err = up.Write([]byte("0123456789"))
		require.NoError(t, err)

		token, err := up.Commit(ctx)
		require.NoError(t, err)

		// Ten bytes fit in a single trailing chunk, and the token counts it.
		assert.Equal(t, int32(1), uploader.DecodeToken(token))

		// Nothing is visible until finalize.
		_, err = fsys.Stat(ctx, "f")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, fsys.CompleteUpload(ctx, "f", token))

		item, err := fsys.Stat(ctx, "f")
		require.NoError(t, err)
		assert.Equal(t, int64(10), item.Size())
		assert.Equal(t, "0123456789", readFile(t, fsys, "f"))
	})

	t.Run("MultiChunk", func(t *testing.T) {
		fsys := newTestFS(t, WithChunkLimit(4))

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)

		// Chunks never exceed the limit regardless of write sizes.
		_, err = up.Write([]byte("0123456"))
		require.NoError(t, err)
		_, err = up.Write([]byte("789"))
		require.NoError(t, err)

		require.NoError(t, up.Complete(ctx))

		assert.Equal(t, "0123456789", readFile(t, fsys, "f"))
	})

	t.Run("CommitThenResume", func(t *testing.T) {
		fsys := newTestFS(t, WithChunkLimit(4))

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)
		_, err = up.Write([]byte("abcdef"))
		require.NoError(t, err)

		token, err := up.Commit(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), uploader.DecodeToken(token), "one full chunk and one partial")

		// The session is sealed; only a resumed session can continue.
		_, err = up.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrSessionClosed)

		resumed, err := fsys.ResumeUpload(ctx, "f", token)
		require.NoError(t, err)
		assert.Equal(t, int32(2), resumed.StagedChunks())

		_, err = resumed.Write([]byte("ghijk"))
		require.NoError(t, err)
		require.NoError(t, resumed.Complete(ctx))

		assert.Equal(t, "abcdefghijk", readFile(t, fsys, "f"))
	})

	t.Run("PatternAssemblyAcrossResume", func(t *testing.T) {
		const limit = 1 << 10
		fsys := newTestFS(t, WithChunkLimit(limit))

		// First process: five full chunks and a bit, then commit.
		up, err := fsys.BeginUpload(ctx, "big.bin")
		require.NoError(t, err)
		_, err = up.Write(testutil.Pattern(5*limit + 100))
		require.NoError(t, err)

		token, err := up.Commit(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(6), uploader.DecodeToken(token))

		// Second process: all six chunks are durable, including the short
		// one Commit staged, so the source continues where it left off.
		resumed, err := fsys.ResumeUpload(ctx, "big.bin", token)
		require.NoError(t, err)
		_, err = resumed.Write(testutil.PatternAt(5*limit+100, 2*limit+17))
		require.NoError(t, err)
		require.NoError(t, resumed.Complete(ctx))

		got := []byte(readFile(t, fsys, "big.bin"))
		assert.Equal(t, 7*limit+117, len(got))
		assert.Equal(t, testutil.Pattern(7*limit+117), got, "chunks assemble gaplessly in index order")
	})

	t.Run("UnusableTokenStartsOver", func(t *testing.T) {
		fsys := newTestFS(t)

		up, err := fsys.ResumeUpload(ctx, "f", []byte{0x01})
		require.NoError(t, err)
		assert.Zero(t, up.StagedChunks())

		_, err = up.Write([]byte("fresh"))
		require.NoError(t, err)
		require.NoError(t, up.Complete(ctx))

		assert.Equal(t, "fresh", readFile(t, fsys, "f"))
	})

	t.Run("Checkpoint", func(t *testing.T) {
		cs := checkpoint.NewMemory()
		fsys := newTestFS(t, WithChunkLimit(4), WithCheckpoint(cs))

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)
		_, err = up.Write([]byte("abcdefghi"))
		require.NoError(t, err)

		// Commit stages the trailing chunk and leaves the token behind in
		// the checkpoint store.
		token, err := up.Commit(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(3), uploader.DecodeToken(token))

		// A later process resumes without carrying the token itself.
		resumed, err := fsys.ResumeUpload(ctx, "f", nil)
		require.NoError(t, err)
		assert.Equal(t, int32(3), resumed.StagedChunks())

		_, err = resumed.Write([]byte("jk"))
		require.NoError(t, err)
		require.NoError(t, resumed.Complete(ctx))

		assert.Equal(t, "abcdefghijk", readFile(t, fsys, "f"))

		// Finalize clears the checkpoint.
		_, err = cs.Load(ctx, "f")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("ZeroChunks", func(t *testing.T) {
		fsys := newTestFS(t)

		up, err := fsys.BeginUpload(ctx, "empty")
		require.NoError(t, err)
		require.NoError(t, up.Complete(ctx))

		item, err := fsys.Stat(ctx, "empty")
		require.NoError(t, err)
		assert.Zero(t, item.Size())

		// A nil token also finalizes to an empty file.
		require.NoError(t, fsys.CompleteUpload(ctx, "empty2", nil))
		assert.Equal(t, "", readFile(t, fsys, "empty2"))
	})

	t.Run("Cancel", func(t *testing.T) {
		store := objstore.NewMemory()
		fsys, err := New(store, WithChunkLimit(4))
		require.NoError(t, err)

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)

		// Cross one chunk boundary so at least one chunk is staged.
		_, err = up.Write([]byte("abcdef"))
		require.NoError(t, err)

		require.NoError(t, up.Cancel(ctx))

		_, err = fsys.Stat(ctx, "f")
		assert.ErrorIs(t, err, ErrNotFound)

		staged, err := store.ListStagedBlocks(ctx, "f")
		require.NoError(t, err)
		assert.Empty(t, staged, "cancel discards staged chunks")
	})

	t.Run("CancelUploadWithoutSession", func(t *testing.T) {
		cs := checkpoint.NewMemory()
		fsys := newTestFS(t, WithChunkLimit(4), WithCheckpoint(cs))

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)
		_, err = up.Write([]byte("abcdef"))
		require.NoError(t, err)
		_, err = up.Commit(ctx)
		require.NoError(t, err)

		require.NoError(t, fsys.CancelUpload(ctx, "f"))

		_, err = fsys.Stat(ctx, "f")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = cs.Load(ctx, "f")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("IncompleteUpload", func(t *testing.T) {
		fsys := newTestFS(t, WithChunkLimit(4))

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)
		_, err = up.Write([]byte("abcd"))
		require.NoError(t, err)
		token, err := up.Commit(ctx)
		require.NoError(t, err)
		require.Equal(t, int32(1), uploader.DecodeToken(token))

		// A token claiming more chunks than were staged must not commit.
		err = fsys.CompleteUpload(ctx, "f", uploader.EncodeToken(3))
		var incomplete *ErrIncompleteUpload
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, "f", incomplete.Path)
		assert.Equal(t, int32(3), incomplete.Chunks)

		_, statErr := fsys.Stat(ctx, "f")
		assert.ErrorIs(t, statErr, ErrNotFound)

		// The honest token still works.
		require.NoError(t, fsys.CompleteUpload(ctx, "f", token))
		assert.Equal(t, "abcd", readFile(t, fsys, "f"))
	})

	t.Run("InvalidPath", func(t *testing.T) {
		fsys := newTestFS(t)

		_, err := fsys.BeginUpload(ctx, "//")
		assert.ErrorIs(t, err, ErrInvalidPath)
		_, err = fsys.ResumeUpload(ctx, "", nil)
		assert.ErrorIs(t, err, ErrInvalidPath)
		err = fsys.CompleteUpload(ctx, "", nil)
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("PathAccessor", func(t *testing.T) {
		fsys := newTestFS(t, WithPrefix("tenant"))

		up, err := fsys.BeginUpload(ctx, "/backup/db.tar")
		require.NoError(t, err)
		t.Cleanup(func() { _ = up.Cancel(ctx) })

		assert.Equal(t, "/backup/db.tar", up.Path())
		assert.Equal(t, "tenant/backup/db.tar", up.Key())
	})

	t.Run("ChunkMetrics", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}
		fsys := newTestFS(t, WithChunkLimit(4), WithMetricsCollector(metrics))

		up, err := fsys.BeginUpload(ctx, "f")
		require.NoError(t, err)
		_, err = up.Write([]byte("0123456789"))
		require.NoError(t, err)
		require.NoError(t, up.Complete(ctx))

		stats := metrics.GetStats()
		assert.Equal(t, int64(3), stats.StageCount)
		assert.Equal(t, int64(10), stats.StageBytes)
		assert.Equal(t, int64(1), stats.UploadCount)
		assert.Equal(t, int64(3), stats.UploadChunks)
	})
}
