package uploader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/objstore"
)

func stageChunks(t *testing.T, store objstore.Store, key string, indices ...int32) {
	t.Helper()
	for _, index := range indices {
		require.NoError(t, store.StageBlock(context.Background(), key, BlockID(index), []byte("x")))
	}
}

func TestVerifyStaged_Complete(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	stageChunks(t, store, "data/f", 0, 1, 2)

	assert.NoError(t, VerifyStaged(ctx, store, "data/f", EncodeToken(3)))
}

func TestVerifyStaged_Gap(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	stageChunks(t, store, "data/f", 0, 2)

	err := VerifyStaged(ctx, store, "data/f", EncodeToken(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 1")
}

func TestVerifyStaged_ZeroCount(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	assert.NoError(t, VerifyStaged(ctx, store, "data/f", EncodeToken(0)))
	assert.NoError(t, VerifyStaged(ctx, store, "data/f", nil))
}

func TestVerifyStaged_IgnoresStrays(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	// Chunks beyond the count are leftovers from a further-along attempt;
	// they do not invalidate the token's view.
	stageChunks(t, store, "data/f", 0, 1, 2, 3, 7)

	assert.NoError(t, VerifyStaged(ctx, store, "data/f", EncodeToken(2)))
}

func TestVerifyStaged_IgnoresForeignBlockIDs(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	stageChunks(t, store, "data/f", 0, 1)
	require.NoError(t, store.StageBlock(ctx, "data/f", "someone-elses-id", []byte("x")))

	assert.NoError(t, VerifyStaged(ctx, store, "data/f", EncodeToken(2)))
}

type listFailStore struct {
	*objstore.Memory
	err error
}

func (s *listFailStore) ListStagedBlocks(context.Context, string) ([]string, error) {
	return nil, s.err
}

func TestVerifyStaged_ListError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	store := &listFailStore{Memory: objstore.NewMemory(), err: boom}

	err := VerifyStaged(ctx, store, "data/f", EncodeToken(1))
	assert.ErrorIs(t, err, boom)
}
