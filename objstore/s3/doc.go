// Package s3 provides an Amazon S3 implementation of the objstore.Store
// interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := awss3.NewFromConfig(cfg) // github.com/aws/aws-sdk-go-v2/service/s3
//	store := s3.New(client, "my-bucket")
//	fsys, err := blobfs.New(store, blobfs.WithPrefix("tenant-a"))
//
// # Block staging
//
// Staged blocks map onto S3 multipart uploads: each block becomes one part
// of a single in-progress multipart upload per key, and CommitBlockList
// completes it. Block IDs must carry a little-endian part index in base64
// form (the format produced by the uploader package); arbitrary IDs are
// rejected. In-progress uploads are rediscovered from the service, so a
// fresh process can keep staging blocks for a key it never saw.
//
// S3 requires every part except the last to be at least 5 MiB, so chunked
// uploads against this store need a chunk limit of 5 MiB or more.
//
// # Features
//
//   - Range reads for offset opens
//   - Streaming writes through the SDK upload manager
//   - Automatic pagination for listings and part inventories
//   - Transient-failure retries (throttling, 5xx) on staging and commit
package s3
