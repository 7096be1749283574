package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/blobfs/objstore"
)

// Client is the subset of the S3 API the store uses. *s3.Client satisfies it;
// tests substitute a mock.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// Store implements objstore.Store on an S3 bucket.
type Store struct {
	client            Client
	bucket            string
	retryAttempts     uint
	uploadPartSize    int64
	uploadConcurrency int
	copyCutoff        int64

	mu      sync.Mutex
	uploads map[string]string // key -> in-flight multipart upload ID
}

var _ objstore.Store = (*Store)(nil)

type options struct {
	retryAttempts     uint
	uploadPartSize    int64
	uploadConcurrency int
	copyCutoff        int64
}

// Option configures a Store.
type Option func(*options)

// WithRetryAttempts sets how often transient staging and commit failures are
// retried before surfacing. Default: 3.
func WithRetryAttempts(n uint) Option {
	return func(o *options) {
		if n > 0 {
			o.retryAttempts = n
		}
	}
}

// WithUploadPartSize sets the part size for streaming writes through
// NewWriter. Default: 8 MiB.
func WithUploadPartSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.uploadPartSize = size
		}
	}
}

// WithUploadConcurrency sets the number of parallel part uploads for
// streaming writes through NewWriter. Default: 5.
func WithUploadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.uploadConcurrency = n
		}
	}
}

// WithCopyCutoff sets the object size above which Copy switches from a
// single CopyObject call to a multipart part-copy loop. Default: 5 GiB, the
// service's single-request copy ceiling.
func WithCopyCutoff(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.copyCutoff = size
		}
	}
}

// New creates a Store on the given bucket.
func New(client Client, bucket string, optFns ...Option) *Store {
	opts := options{
		retryAttempts:     3,
		uploadPartSize:    8 * 1024 * 1024,
		uploadConcurrency: 5,
		copyCutoff:        5 * 1024 * 1024 * 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		client:            client,
		bucket:            bucket,
		retryAttempts:     opts.retryAttempts,
		uploadPartSize:    opts.uploadPartSize,
		uploadConcurrency: opts.uploadConcurrency,
		copyCutoff:        opts.copyCutoff,
		uploads:           make(map[string]string),
	}
}

// Exists reports whether the key holds a committed object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
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
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return objstore.Props{}, objstore.ErrNotFound
		}
		return objstore.Props{}, err
	}
	return objstore.Props{
		Size:    aws.ToInt64(head.ContentLength),
		ModTime: aws.ToTime(head.LastModified),
	}, nil
}

// NewReader opens a read stream at offset using a range request.
func (s *Store) NewReader(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("objstore: offset %d out of range for %q", offset, key)
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, objstore.ErrNotFound
		}
		// A range starting exactly at the object size is a legal empty
		// read for the store contract, but S3 rejects it with 416.
		if isAPIError(err, "InvalidRange") {
			props, statErr := s.Stat(ctx, key)
			if statErr != nil {
				return nil, statErr
			}
			if offset == props.Size {
				return io.NopCloser(bytes.NewReader(nil)), nil
			}
			return nil, fmt.Errorf("objstore: offset %d out of range for %q (size %d)", offset, key, props.Size)
		}
		return nil, err
	}
	return resp.Body, nil
}

// NewWriter opens a write stream backed by the SDK upload manager. The
// object materializes only when Close returns nil.
func (s *Store) NewWriter(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()

	w := &s3Writer{
		pw:   pw,
		done: make(chan error, 1),
	}

	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = s.uploadPartSize
		u.Concurrency = s.uploadConcurrency
	})

	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		w.done <- err
	}()

	return w, nil
}

// List visits objects under opts.Prefix page by page, emitting common
// prefixes when a delimiter is set.
func (s *Store) List(ctx context.Context, opts objstore.ListOptions, fn objstore.WalkFunc) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(opts.Prefix),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			entry := objstore.Entry{
				Key:     aws.ToString(obj.Key),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		for _, cp := range page.CommonPrefixes {
			if err := fn(objstore.Entry{Key: aws.ToString(cp.Prefix), IsPrefix: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes the object and aborts any in-progress multipart upload for
// the key. Missing keys are fine.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return err
	}
	return s.abortUpload(ctx, key)
}

// Copy duplicates srcKey to dstKey server-side. Objects above the copy
// cutoff go through a multipart part-copy loop, since CopyObject caps out
// at 5 GiB per request.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	props, err := s.Stat(ctx, srcKey)
	if err != nil {
		return err
	}
	if props.Size > s.copyCutoff {
		return s.multipartCopy(ctx, srcKey, dstKey, props.Size)
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + srcKey)),
	})
	if err != nil {
		if isNotFound(err) {
			return objstore.ErrNotFound
		}
		return err
	}
	return nil
}

// multipartCopy streams srcKey to dstKey in cutoff-sized ranges via
// UploadPartCopy, so no object body ever transits the client.
func (s *Store) multipartCopy(ctx context.Context, srcKey, dstKey string, size int64) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dstKey),
	})
	if err != nil {
		return err
	}
	uploadID := aws.ToString(created.UploadId)
	source := url.PathEscape(s.bucket + "/" + srcKey)

	abort := func() {
		_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(dstKey),
			UploadId: aws.String(uploadID),
		})
	}

	var parts []types.CompletedPart
	part := int32(1)
	for off := int64(0); off < size; off += s.copyCutoff {
		end := min(off+s.copyCutoff, size) - 1

		var etag string
		if err := s.withRetry(ctx, func() error {
			out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
				Bucket:          aws.String(s.bucket),
				Key:             aws.String(dstKey),
				UploadId:        aws.String(uploadID),
				PartNumber:      aws.Int32(part),
				CopySource:      aws.String(source),
				CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
			})
			if err != nil {
				return err
			}
			etag = aws.ToString(out.CopyPartResult.ETag)
			return nil
		}); err != nil {
			abort()
			return err
		}

		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(part),
			ETag:       aws.String(etag),
		})
		part++
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(dstKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		abort()
		return err
	}
	return nil
}

// StageBlock uploads one block as a part of the key's multipart upload,
// creating the upload on first use. Transient failures are retried.
func (s *Store) StageBlock(ctx context.Context, key, blockID string, data []byte) error {
	part, err := partNumber(blockID)
	if err != nil {
		return err
	}

	uploadID, err := s.uploadID(ctx, key, true)
	if err != nil {
		return fmt.Errorf("stage block for %q: %w", key, err)
	}

	return s.withRetry(ctx, func() error {
		_, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(part),
			Body:       bytes.NewReader(data),
		})
		return err
	})
}

// CommitBlockList completes the key's multipart upload with the given blocks
// in the given order. Every listed block must have been staged.
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

	// CompleteMultipartUpload wants each part's ETag back.
	etags, err := s.partETags(ctx, key, uploadID)
	if err != nil {
		return fmt.Errorf("commit blocks of %q: %w", key, err)
	}

	parts := make([]types.CompletedPart, 0, len(blockIDs))
	for _, id := range blockIDs {
		part, err := partNumber(id)
		if err != nil {
			return err
		}
		etag, ok := etags[part]
		if !ok {
			return fmt.Errorf("commit blocks of %q: block %q was never staged", key, id)
		}
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(part),
			ETag:       aws.String(etag),
		})
	}

	if err := s.withRetry(ctx, func() error {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		return err
	}); err != nil {
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

// uploadID returns the key's multipart upload ID. A cached ID is used first;
// otherwise the service is asked, so an upload begun by an earlier process is
// adopted rather than shadowed. With create set, a missing upload is started.
func (s *Store) uploadID(ctx context.Context, key string, create bool) (string, error) {
	s.mu.Lock()
	if id, ok := s.uploads[key]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var id string
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	}
	for {
		out, err := s.client.ListMultipartUploads(ctx, input)
		if err != nil {
			return "", err
		}
		for _, u := range out.Uploads {
			if aws.ToString(u.Key) == key {
				id = aws.ToString(u.UploadId)
			}
		}
		if id != "" || !aws.ToBool(out.IsTruncated) {
			break
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}

	if id == "" {
		if !create {
			return "", nil
		}
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return "", err
		}
		id = aws.ToString(out.UploadId)
	}

	s.mu.Lock()
	s.uploads[key] = id
	s.mu.Unlock()
	return id, nil
}

// partETags inventories the upload's parts, paginating as needed.
func (s *Store) partETags(ctx context.Context, key, uploadID string) (map[int32]string, error) {
	etags := make(map[int32]string)
	input := &s3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}
	for {
		out, err := s.client.ListParts(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, p := range out.Parts {
			etags[aws.ToInt32(p.PartNumber)] = aws.ToString(p.ETag)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.PartNumberMarker = out.NextPartNumberMarker
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

	if _, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}); err != nil && !isAPIError(err, "NoSuchUpload") {
		return err
	}
	return nil
}

// maxParts is the service's multipart part-count limit.
const maxParts = 10000

// partNumber maps a block ID to its part number. Block IDs must carry the
// block index as 4 little-endian bytes in base64; parts are 1-based.
func partNumber(blockID string) (int32, error) {
	buf, err := base64.StdEncoding.DecodeString(blockID)
	if err != nil || len(buf) != 4 {
		return 0, fmt.Errorf("s3: block ID %q does not carry a part index", blockID)
	}
	index := int32(binary.LittleEndian.Uint32(buf))
	if index < 0 || index >= maxParts {
		return 0, fmt.Errorf("s3: block index %d outside the part range [0,%d)", index, maxParts)
	}
	return index + 1, nil
}

func blockIDForPart(part int32) string {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(part-1))
	return base64.StdEncoding.EncodeToString(buf)
}

// s3Writer feeds the background upload through a pipe.
type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
	closed atomic.Bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

// withRetry runs op, retrying transient S3 failures with backoff.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(s.retryAttempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
	)
}

// isTransient reports whether a failure is worth retrying: throttling and
// server-side errors. Client errors are terminal.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "ThrottlingException":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
