// Package testutil provides testing utilities for blobfs.
//
// This package is intended for use in tests and benchmarks only. It provides
// deterministic payload generation and object-store helpers, so tests can
// verify byte-exact chunk assembly across resumed uploads.
//
// # Deterministic Payloads
//
//	data := testutil.Pattern(3 * chunkLimit)
//	// Pattern(n)[k:] == PatternAt(k, n-k): slices line up across resume
//	// boundaries.
//
// # Store Helpers
//
//	store := objstore.NewMemory()
//	testutil.Seed(t, store, map[string]string{"a/b": "content"})
//	got := testutil.ReadObject(t, store, "a/b")
package testutil
