package blobfs

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/objstore"
)

func newTestFS(t *testing.T, optFns ...Option) *FS {
	t.Helper()

	fsys, err := New(objstore.NewMemory(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, fsys.Close()) })

	return fsys
}

func writeFile(t *testing.T, fsys *FS, path, data string) {
	t.Helper()

	w, err := fsys.Create(context.Background(), path)
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, fsys *FS, path string) string {
	t.Helper()

	r, err := fsys.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(data)
}

func TestFS(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateAndRead", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "docs/readme.txt", "hello world")
		assert.Equal(t, "hello world", readFile(t, fsys, "docs/readme.txt"))

		item, err := fsys.Stat(ctx, "docs/readme.txt")
		require.NoError(t, err)
		assert.Equal(t, "readme.txt", item.Name())
		assert.Equal(t, int64(11), item.Size())
		assert.False(t, item.IsDir())
		assert.False(t, item.ModTime().IsZero())
	})

	t.Run("OpenAt", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "f", "hello world")

		r, err := fsys.OpenAt(ctx, "f", 6)
		require.NoError(t, err)
		defer r.Close()

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "world", string(data))
	})

	t.Run("NotFound", func(t *testing.T) {
		fsys := newTestFS(t)

		_, err := fsys.Open(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = fsys.Stat(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = fsys.Remove(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PathNormalization", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "//a//b/c/", "data")
		assert.Equal(t, "data", readFile(t, fsys, "a/b/c"))

		item, err := fsys.Stat(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "c", item.Name())
	})

	t.Run("InvalidPath", func(t *testing.T) {
		fsys := newTestFS(t)

		_, err := fsys.Create(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidPath)

		_, err = fsys.Create(ctx, "///")
		assert.ErrorIs(t, err, ErrInvalidPath)

		err = fsys.Copy(ctx, "src", "", false)
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("Copy", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "src.txt", "payload")

		require.NoError(t, fsys.Copy(ctx, "src.txt", "dir/dst.txt", false))
		assert.Equal(t, "payload", readFile(t, fsys, "dir/dst.txt"))

		// Destination conflict without overwrite.
		err := fsys.Copy(ctx, "src.txt", "dir/dst.txt", false)
		assert.ErrorIs(t, err, ErrAlreadyExists)

		writeFile(t, fsys, "src.txt", "updated")
		require.NoError(t, fsys.Copy(ctx, "src.txt", "dir/dst.txt", true))
		assert.Equal(t, "updated", readFile(t, fsys, "dir/dst.txt"))

		err = fsys.Copy(ctx, "missing", "other", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "tmp/scratch", "x")
		require.NoError(t, fsys.Remove(ctx, "tmp/scratch"))

		_, err := fsys.Stat(ctx, "tmp/scratch")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RemoveDir", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "data/a", "1")
		writeFile(t, fsys, "data/sub/b", "22")
		writeFile(t, fsys, "data/sub/deep/c", "333")
		writeFile(t, fsys, "other/keep", "4")

		err := fsys.RemoveDir(ctx, "data", false)
		assert.ErrorIs(t, err, ErrNotEmpty)

		require.NoError(t, fsys.RemoveDir(ctx, "data", true))

		items, err := fsys.List(ctx, "data")
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, "4", readFile(t, fsys, "other/keep"))
	})

	t.Run("RemoveDirEmptyIsNoop", func(t *testing.T) {
		fsys := newTestFS(t)

		require.NoError(t, fsys.Mkdir(ctx, "staging"))
		require.NoError(t, fsys.RemoveDir(ctx, "staging", false))

		// The virtual entry is not un-marked; it lives for the FS lifetime.
		ok, err := fsys.DirExists(ctx, "staging")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("MkdirAndDirExists", func(t *testing.T) {
		fsys := newTestFS(t)

		ok, err := fsys.DirExists(ctx, "")
		require.NoError(t, err)
		assert.True(t, ok, "the root always exists")

		require.NoError(t, fsys.Mkdir(ctx, "a/b/c"))

		for _, dir := range []string{"a", "a/b", "a/b/c"} {
			ok, err := fsys.DirExists(ctx, dir)
			require.NoError(t, err)
			assert.True(t, ok, dir)
		}

		ok, err = fsys.DirExists(ctx, "a/b/c/d")
		require.NoError(t, err)
		assert.False(t, ok)

		item, err := fsys.Stat(ctx, "a/b")
		require.NoError(t, err)
		assert.True(t, item.IsDir())
		assert.Equal(t, "b", item.Name())
	})

	t.Run("DirExistsFromContent", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "x/y/z.bin", "data")

		// No Mkdir happened; the object alone makes the prefixes real.
		for _, dir := range []string{"x", "x/y"} {
			ok, err := fsys.DirExists(ctx, dir)
			require.NoError(t, err)
			assert.True(t, ok, dir)
		}
	})

	t.Run("StatRoot", func(t *testing.T) {
		fsys := newTestFS(t)

		item, err := fsys.Stat(ctx, "/")
		require.NoError(t, err)
		assert.True(t, item.IsDir())
	})

	t.Run("DirSize", func(t *testing.T) {
		fsys := newTestFS(t)

		writeFile(t, fsys, "logs/a", "12345")
		writeFile(t, fsys, "logs/b", "123")
		writeFile(t, fsys, "logs/old/c", "1234567890")

		total, err := fsys.DirSize(ctx, "logs", false)
		require.NoError(t, err)
		assert.Equal(t, int64(8), total)

		total, err = fsys.DirSize(ctx, "logs", true)
		require.NoError(t, err)
		assert.Equal(t, int64(18), total)

		total, err = fsys.DirSize(ctx, "missing", true)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("Prefix", func(t *testing.T) {
		store := objstore.NewMemory()

		teamA, err := New(store, WithPrefix("team-a"))
		require.NoError(t, err)
		teamB, err := New(store, WithPrefix("/team-b/"))
		require.NoError(t, err)

		writeFile(t, teamA, "report.txt", "A")
		writeFile(t, teamB, "report.txt", "B")

		assert.Equal(t, "A", readFile(t, teamA, "report.txt"))
		assert.Equal(t, "B", readFile(t, teamB, "report.txt"))

		_, err = teamA.Open(ctx, "team-b/report.txt")
		assert.ErrorIs(t, err, ErrNotFound)

		// The raw store sees both, under their prefixes.
		ok, err := store.Exists(ctx, "team-a/report.txt")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Exists(ctx, "team-b/report.txt")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Metrics", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}
		fsys := newTestFS(t, WithMetricsCollector(metrics))

		writeFile(t, fsys, "m/file", "data")
		_ = readFile(t, fsys, "m/file")
		_, err := fsys.Open(ctx, "m/missing")
		require.Error(t, err)

		_, err = fsys.List(ctx, "m")
		require.NoError(t, err)
		_, err = fsys.Stat(ctx, "m/file")
		require.NoError(t, err)
		require.NoError(t, fsys.Remove(ctx, "m/file"))

		stats := metrics.GetStats()
		assert.Equal(t, int64(1), stats.CreateCount)
		assert.Equal(t, int64(2), stats.OpenCount)
		assert.Equal(t, int64(1), stats.OpenErrors)
		assert.Equal(t, int64(1), stats.ListCount)
		assert.Equal(t, int64(1), stats.ListEntries)
		assert.Equal(t, int64(1), stats.StatCount)
		assert.Equal(t, int64(1), stats.RemoveCount)
	})

	t.Run("ReadCache", func(t *testing.T) {
		fsys := newTestFS(t, WithReadCache(1<<20))

		writeFile(t, fsys, "cached", "some cacheable content")

		assert.Equal(t, "some cacheable content", readFile(t, fsys, "cached"))
		assert.Equal(t, "some cacheable content", readFile(t, fsys, "cached"))

		hits, misses := fsys.CacheStats()
		assert.Positive(t, hits)
		assert.Positive(t, misses)
	})

	t.Run("DiskCache", func(t *testing.T) {
		fsys := newTestFS(t, WithDiskCache(t.TempDir(), 1<<20))

		writeFile(t, fsys, "cached", "disk cached content")
		assert.Equal(t, "disk cached content", readFile(t, fsys, "cached"))
	})

	t.Run("CloseIdempotent", func(t *testing.T) {
		fsys, err := New(objstore.NewMemory(), WithReadCache(1<<20))
		require.NoError(t, err)

		require.NoError(t, fsys.Close())
		require.NoError(t, fsys.Close())

		var nilFS *FS
		require.NoError(t, nilFS.Close())
	})
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	err := translateError(objstore.ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, objstore.ErrNotFound)

	sentinel := errors.New("untouched")
	assert.Same(t, sentinel, translateError(sentinel))
}
