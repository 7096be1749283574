package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/objstore"
)

func TestPartNumberRoundTrip(t *testing.T) {
	for _, index := range []int{0, 1, 41, maxParts - 1} {
		n, err := partNumber(blockIDForPart(index + 1))
		require.NoError(t, err)
		assert.Equal(t, index+1, n)
	}

	_, err := partNumber("not base64!!")
	assert.Error(t, err)

	_, err = partNumber("AAAA")
	assert.Error(t, err)
}

// TestStoreIntegration requires a running MinIO instance, selected through
// BLOBFS_MINIO_ENDPOINT (e.g. "localhost:9000"). Skipped otherwise.
func TestStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("BLOBFS_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("BLOBFS_MINIO_ENDPOINT not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "blobfs-test"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := New(client, bucket)

	t.Run("write and read", func(t *testing.T) {
		w, err := store.NewWriter(ctx, "it/file.txt")
		require.NoError(t, err)
		_, err = w.Write([]byte("hello minio"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := store.NewReader(ctx, "it/file.txt", 6)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		assert.Equal(t, "minio", string(data))

		require.NoError(t, store.Delete(ctx, "it/file.txt"))
	})

	t.Run("stage and commit", func(t *testing.T) {
		// Parts below the service's 5 MiB minimum are only legal as the
		// final part, so stage two full-size blocks plus a small one.
		big := make([]byte, 5*1024*1024)
		for i := range big {
			big[i] = byte(i)
		}

		require.NoError(t, store.StageBlock(ctx, "it/chunked", blockIDForPart(1), big))
		require.NoError(t, store.StageBlock(ctx, "it/chunked", blockIDForPart(2), big))
		require.NoError(t, store.StageBlock(ctx, "it/chunked", blockIDForPart(3), []byte("tail")))

		ids, err := store.ListStagedBlocks(ctx, "it/chunked")
		require.NoError(t, err)
		assert.Len(t, ids, 3)

		require.NoError(t, store.CommitBlockList(ctx, "it/chunked", []string{
			blockIDForPart(1), blockIDForPart(2), blockIDForPart(3),
		}))

		props, err := store.Stat(ctx, "it/chunked")
		require.NoError(t, err)
		assert.Equal(t, int64(2*len(big)+4), props.Size)

		require.NoError(t, store.Delete(ctx, "it/chunked"))
	})

	t.Run("delimiter listing", func(t *testing.T) {
		for _, key := range []string{"it/list/a/one", "it/list/b"} {
			w, err := store.NewWriter(ctx, key)
			require.NoError(t, err)
			_, err = w.Write([]byte("x"))
			require.NoError(t, err)
			require.NoError(t, w.Close())
		}

		var objects, prefixes []string
		err := store.List(ctx, objstore.ListOptions{Prefix: "it/list/", Delimiter: "/"}, func(e objstore.Entry) error {
			if e.IsPrefix {
				prefixes = append(prefixes, e.Key)
			} else {
				objects = append(objects, e.Key)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"it/list/b"}, objects)
		assert.Equal(t, []string{"it/list/a/"}, prefixes)

		require.NoError(t, store.Delete(ctx, "it/list/a/one"))
		require.NoError(t, store.Delete(ctx, "it/list/b"))
	})
}
