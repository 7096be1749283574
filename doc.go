// Package blobfs provides a hierarchical file system over flat object stores.
//
// Blobfs layers paths, directories and resumable uploads on top of any store
// that can stage bounded-size blocks and commit them as one object. Backends
// for S3, MinIO, the local disk and memory ship in the objstore packages.
//
// # Quick Start
//
//	ctx := context.Background()
//	fsys, _ := blobfs.New(objstore.NewMemory())
//
//	w, _ := fsys.Create(ctx, "reports/2026/q1.csv")
//	w.Write([]byte("id,total\n"))
//	w.Close()
//
//	items, _ := fsys.List(ctx, "reports")
//	for _, item := range items {
//	    fmt.Println(item.Name(), item.IsDir())
//	}
//
// Cloud mode:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.New(awss3.NewFromConfig(cfg), "my-bucket")
//	fsys, _ := blobfs.New(store, blobfs.WithPrefix("team-a/"), blobfs.WithReadCache(256<<20))
//
// # Resumable Uploads
//
// Large writes go through upload sessions. A session buffers caller writes
// into chunks and stages full chunks in the background, strictly in order and
// at most one at a time, so Write never waits on the network:
//
//	up, _ := fsys.BeginUpload(ctx, "backups/db.tar")
//	io.Copy(up, src)
//	up.Complete(ctx) // stage the tail, commit the block list
//
// Commit instead of Complete returns a small resume token; a later process
// (or the same one, after a crash) continues where the token says staging
// stopped:
//
//	token, _ := up.Commit(ctx)
//	// ... elsewhere, possibly much later ...
//	up, _ := fsys.ResumeUpload(ctx, "backups/db.tar", token)
//	io.Copy(up, rest)
//	up.Complete(ctx)
//
// With a checkpoint store configured the token is persisted automatically
// after every staged chunk, and ResumeUpload with a nil token picks it up.
//
// # Directories
//
// Object stores have no directories, only key prefixes. Blobfs synthesizes
// them: Mkdir records a directory in an in-process index, and List merges
// those entries with the prefixes the store reports, so empty directories
// behave like real ones until content appears beneath them. The index is not
// persisted; a new FS instance only sees directories that contain objects.
//
// # Key Features
//
//   - Streaming chunked uploads, pause/resume across process boundaries
//   - Strict FIFO background staging, writers never block on network I/O
//   - Virtual directories reconciled with native prefix listings
//   - Optional block read cache (in-memory or disk, lz4/zstd compressed)
//   - Pluggable backends: S3, MinIO, local disk, memory
package blobfs
