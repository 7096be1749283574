// Package objstore defines the backing object-store contract used by blobfs
// and provides built-in implementations.
//
// A Store is a flat namespace of keys. Besides plain whole-object reads and
// writes it exposes the two-phase block API that makes resumable uploads
// possible: blocks are staged independently under deterministic block IDs and
// the object only materializes when an ordered block list is committed.
// Uncommitted blocks are invisible to Exists, Stat and List.
//
// # Built-in Implementations
//
//   - [Memory]: map-backed store with full delimiter and block semantics,
//     the workhorse for tests
//   - [Local]: files under a root directory, staged blocks spilled to a
//     side area, reads served via mmap where available
//   - s3.Store: Amazon S3, blocks mapped onto multipart upload parts
//   - minio.Store: MinIO and other S3-compatible endpoints via the
//     minio-go Core API
//
// # Custom Implementations
//
// Implement the [Store] interface to plug in another backend. Contract
// points that matter to blobfs:
//
//   - CommitBlockList must reject an empty block list; zero-chunk uploads
//     are finalized through NewWriter instead
//   - Delete is delete-if-exists and also discards staged residue
//   - Copy blocks until the copy is durable; long-running server-side
//     copies are polled inside the adapter
//
// Implementations must be safe for concurrent use.
package objstore
