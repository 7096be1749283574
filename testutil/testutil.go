package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/objstore"
)

// Pattern returns n deterministic, position-dependent bytes. Byte i only
// depends on i, so any slice of a pattern can be regenerated from its offset
// alone; shifted, truncated or reordered content never compares equal.
func Pattern(n int) []byte {
	return PatternAt(0, n)
}

// PatternAt returns n pattern bytes starting at byte offset. For any k,
// Pattern(n)[k:] equals PatternAt(k, n-k), which lets a test regenerate the
// expected tail of an upload resumed at offset k.
func PatternAt(offset, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		p := offset + i
		data[i] = byte(p ^ p>>8 ^ p>>16)
	}
	return data
}

// Seed writes the given objects into the store through its streaming writer.
func Seed(t *testing.T, store objstore.Store, objects map[string]string) {
	t.Helper()
	ctx := context.Background()

	for key, content := range objects {
		w, err := store.NewWriter(ctx, key)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
}

// ReadObject returns the full content of a committed object.
func ReadObject(t *testing.T, store objstore.Store, key string) []byte {
	t.Helper()

	r, err := store.NewReader(context.Background(), key, 0)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// Keys returns the keys of all committed objects under prefix, in listing
// order.
func Keys(t *testing.T, store objstore.Store, prefix string) []string {
	t.Helper()

	var keys []string
	err := store.List(context.Background(), objstore.ListOptions{Prefix: prefix}, func(e objstore.Entry) error {
		keys = append(keys, e.Key)
		return nil
	})
	require.NoError(t, err)
	return keys
}
