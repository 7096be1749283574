// Package minio provides a MinIO implementation of the objstore.Store
// interface, usable against any S3-compatible service.
//
// # Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4(accessKey, secretKey, ""),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := miniostore.New(client, "my-bucket")
//	fsys, err := blobfs.New(store)
//
// # Block staging
//
// Staged blocks map onto multipart uploads through the minio-go Core API:
// each block becomes one part, and CommitBlockList completes the upload.
// Block IDs must carry a little-endian part index in base64 form (the format
// produced by the uploader package). In-progress uploads are rediscovered
// from the service, so a fresh process can keep staging blocks for a key it
// never saw.
//
// Parts other than the last must be at least 5 MiB, so chunked uploads
// against this store need a chunk limit of 5 MiB or more. Server-side copies
// go through CopyObject and inherit its single-call size limit.
package minio
