package minio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/blobfs/objstore"
)

// Store implements objstore.Store on a MinIO (or S3-compatible) bucket.
type Store struct {
	core   *minio.Core
	bucket string

	mu      sync.Mutex
	uploads map[string]string // key -> in-flight multipart upload ID
}

var _ objstore.Store = (*Store)(nil)

// New creates a Store on the given bucket.
func New(client *minio.Client, bucket string) *Store {
	return &Store{
		core:    &minio.Core{Client: client},
		bucket:  bucket,
		uploads: make(map[string]string),
	}
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Exists reports whether the key holds a committed object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.core.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns the properties of a committed object.
func (s *Store) Stat(ctx context.Context, key string) (objstore.Props, error) {
	info, err := s.core.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return objstore.Props{}, objstore.ErrNotFound
		}
		return objstore.Props{}, err
	}
	return objstore.Props{Size: info.Size, ModTime: info.LastModified}, nil
}

// NewReader opens a read stream at offset using a range request.
func (s *Store) NewReader(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("objstore: offset %d out of range for %q", offset, key)
	}

	// GetObject is lazy; stat first so missing keys and out-of-range
	// offsets fail here instead of on the first Read.
	props, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if offset > props.Size {
		return nil, fmt.Errorf("objstore: offset %d out of range for %q (size %d)", offset, key, props.Size)
	}
	if offset == props.Size {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	opts := minio.GetObjectOptions{}
	if offset > 0 {
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, err
		}
	}

	obj, err := s.core.Client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// NewWriter opens a write stream; the object materializes only when Close
// returns nil.
func (s *Store) NewWriter(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()

	w := &minioWriter{
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		_, err := s.core.Client.PutObject(ctx, s.bucket, key, pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		w.done <- err
	}()

	return w, nil
}

// StageBlock uploads one block as a part of the key's multipart upload,
// creating the upload on first use.
func (s *Store) StageBlock(ctx context.Context, key, blockID string, data []byte) error {
	part, err := partNumber(blockID)
	if err != nil {
		return err
	}

	uploadID, err := s.uploadID(ctx, key, true)
	if err != nil {
		return fmt.Errorf("stage block for %q: %w", key, err)
	}

	_, err = s.core.PutObjectPart(ctx, s.bucket, key, uploadID, part,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return fmt.Errorf("stage block for %q: %w", key, err)
	}
	return nil
}

// CommitBlockList completes the key's multipart upload with the given blocks
// in the given order.
func (s *Store) CommitBlockList(ctx context.Context, key string, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return objstore.ErrEmptyBlockList
	}

	uploadID, err := s.uploadID(ctx, key, false)
	if err != nil {
		return fmt.Errorf("commit blocks of %q: %w", key, err)
	}
	if uploadID == "" {
		return fmt.Errorf("commit blocks of %q: no multipart upload in progress", key)
	}

	etags, err := s.partETags(ctx, key, uploadID)
	if err != nil {
		return fmt.Errorf("commit blocks of %q: %w", key, err)
	}

	parts := make([]minio.CompletePart, 0, len(blockIDs))
	for _, id := range blockIDs {
		part, err := partNumber(id)
		if err != nil {
			return err
		}
		etag, ok := etags[part]
		if !ok {
			return fmt.Errorf("commit blocks of %q: block %q was never staged", key, id)
		}
		parts = append(parts, minio.CompletePart{PartNumber: part, ETag: etag})
	}

	if _, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, parts, minio.PutObjectOptions{}); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.uploads, key)
	s.mu.Unlock()
	return nil
}

// ListStagedBlocks returns the block IDs of the key's in-progress multipart
// upload, or nothing when no upload exists.
func (s *Store) ListStagedBlocks(ctx context.Context, key string) ([]string, error) {
	uploadID, err := s.uploadID(ctx, key, false)
	if err != nil {
		return nil, err
	}
	if uploadID == "" {
		return nil, nil
	}

	etags, err := s.partETags(ctx, key, uploadID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(etags))
	for part := range etags {
		ids = append(ids, blockIDForPart(part))
	}
	return ids, nil
}

// List visits objects under opts.Prefix, emitting common prefixes when a
// delimiter is set. minio-go only supports "/" as delimiter.
func (s *Store) List(ctx context.Context, opts objstore.ListOptions, fn objstore.WalkFunc) error {
	if opts.Delimiter != "" && opts.Delimiter != "/" {
		return fmt.Errorf("objstore: minio only supports \"/\" as delimiter, got %q", opts.Delimiter)
	}

	for obj := range s.core.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Delimiter == "",
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		entry := objstore.Entry{Key: obj.Key}
		if opts.Delimiter != "" && len(obj.Key) > 0 && obj.Key[len(obj.Key)-1] == '/' {
			entry.IsPrefix = true
		} else {
			entry.Size = obj.Size
			entry.ModTime = obj.LastModified
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the object and aborts any in-progress multipart upload for
// the key. Missing keys are fine.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.core.Client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return err
	}
	return s.abortUpload(ctx, key)
}

// Copy duplicates srcKey to dstKey server-side.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		if isNotFound(err) {
			return objstore.ErrNotFound
		}
		return err
	}
	return nil
}

// uploadID returns the key's multipart upload ID, adopting an upload begun
// by an earlier process when the service knows one. With create set, a
// missing upload is started.
func (s *Store) uploadID(ctx context.Context, key string, create bool) (string, error) {
	s.mu.Lock()
	if id, ok := s.uploads[key]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var id string
	keyMarker, uploadIDMarker := "", ""
	for {
		result, err := s.core.ListMultipartUploads(ctx, s.bucket, key, keyMarker, uploadIDMarker, "", 1000)
		if err != nil {
			return "", err
		}
		for _, u := range result.Uploads {
			if u.Key == key {
				id = u.UploadID
			}
		}
		if id != "" || !result.IsTruncated {
			break
		}
		keyMarker = result.NextKeyMarker
		uploadIDMarker = result.NextUploadIDMarker
	}

	if id == "" {
		if !create {
			return "", nil
		}
		created, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{})
		if err != nil {
			return "", err
		}
		id = created
	}

	s.mu.Lock()
	s.uploads[key] = id
	s.mu.Unlock()
	return id, nil
}

// partETags inventories the upload's parts, paginating as needed.
func (s *Store) partETags(ctx context.Context, key, uploadID string) (map[int]string, error) {
	etags := make(map[int]string)
	marker := 0
	for {
		result, err := s.core.ListObjectParts(ctx, s.bucket, key, uploadID, marker, 1000)
		if err != nil {
			return nil, err
		}
		for _, p := range result.ObjectParts {
			etags[p.PartNumber] = p.ETag
		}
		if !result.IsTruncated {
			break
		}
		marker = result.NextPartNumberMarker
	}
	return etags, nil
}

// abortUpload discards the key's in-progress multipart upload, if any.
func (s *Store) abortUpload(ctx context.Context, key string) error {
	uploadID, err := s.uploadID(ctx, key, false)
	if err != nil {
		return err
	}
	if uploadID == "" {
		return nil
	}

	s.mu.Lock()
	delete(s.uploads, key)
	s.mu.Unlock()

	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil && minio.ToErrorResponse(err).Code != "NoSuchUpload" {
		return err
	}
	return nil
}

// maxParts is the service's multipart part-count limit.
const maxParts = 10000

// partNumber maps a block ID to its part number. Block IDs must carry the
// block index as 4 little-endian bytes in base64; parts are 1-based.
func partNumber(blockID string) (int, error) {
	buf, err := base64.StdEncoding.DecodeString(blockID)
	if err != nil || len(buf) != 4 {
		return 0, fmt.Errorf("minio: block ID %q does not carry a part index", blockID)
	}
	index := int32(binary.LittleEndian.Uint32(buf))
	if index < 0 || index >= maxParts {
		return 0, fmt.Errorf("minio: block index %d outside the part range [0,%d)", index, maxParts)
	}
	return int(index + 1), nil
}

func blockIDForPart(part int) string {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(part-1))
	return base64.StdEncoding.EncodeToString(buf)
}

// minioWriter feeds the background upload through a pipe.
type minioWriter struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *minioWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

func (w *minioWriter) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}
