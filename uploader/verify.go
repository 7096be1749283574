package uploader

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/blobfs/objstore"
)

// VerifyStaged checks that every chunk a resume token counts is present in
// the backing store's staged-block set for key, so a lost block surfaces as
// a clear error before the final commit instead of failing it.
//
// Blocks staged beyond the token's count are ignored: they are either
// overwritten by a resumed session or discarded by the backing store once
// the block list commits.
func VerifyStaged(ctx context.Context, store objstore.Store, key string, token []byte) error {
	count := DecodeToken(token)
	if count == 0 {
		return nil
	}

	ids, err := store.ListStagedBlocks(ctx, key)
	if err != nil {
		return fmt.Errorf("list staged blocks of %q: %w", key, err)
	}

	staged := roaring.New()
	for _, id := range ids {
		index, err := ParseBlockID(id)
		if err != nil || index < 0 {
			// Foreign block IDs can show up when another writer used the
			// same key; they cannot satisfy any expected chunk.
			continue
		}
		staged.Add(uint32(index))
	}

	expected := roaring.New()
	expected.AddRange(0, uint64(count))

	missing := roaring.AndNot(expected, staged)
	if missing.IsEmpty() {
		return nil
	}

	return fmt.Errorf("uploader: %d of %d chunks missing from staged set of %q (first missing: chunk %d)",
		missing.GetCardinality(), count, key, missing.Minimum())
}
