package blobfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/blobfs/checkpoint"
	"github.com/hupe1980/blobfs/internal/pathkey"
	"github.com/hupe1980/blobfs/uploader"
)

// Upload is a resumable chunked upload bound to a file system path.
//
// It embeds the underlying uploader.Session, so callers write through
// io.Writer and finish with either Complete (one-step finalize), or
// Commit + CompleteUpload when the upload spans processes.
type Upload struct {
	*uploader.Session

	fs   *FS
	path string
}

// Path returns the file system path this upload targets.
func (u *Upload) Path() string {
	return u.path
}

// Complete drains and stages the session's outstanding chunks, then
// finalizes the file in one step. After Complete the upload has ended.
func (u *Upload) Complete(ctx context.Context) error {
	token, err := u.Commit(ctx)
	if err != nil {
		return err
	}
	return u.fs.CompleteUpload(ctx, u.path, token)
}

// BeginUpload starts a chunked upload session for path. Writes to the
// returned Upload are buffered into chunks and staged in the background,
// strictly in order and at most one at a time; nothing is visible at path
// until the upload is completed.
func (fs *FS) BeginUpload(ctx context.Context, path string) (*Upload, error) {
	if pathkey.Normalize(path) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	s := uploader.New(ctx, fs.store, fs.keys.Key(path), fs.uploadOptions()...)
	fs.logger.LogUploadBegin(ctx, path, s.ID(), 0)
	return &Upload{Session: s, fs: fs, path: path}, nil
}

// ResumeUpload continues an interrupted upload for path from a resume token
// returned by Commit. A nil token consults the configured checkpoint store;
// an unusable token starts over at chunk zero. Writing resumes at the next
// chunk boundary, so source bytes beyond the last staged chunk must be
// written again.
func (fs *FS) ResumeUpload(ctx context.Context, path string, token []byte) (*Upload, error) {
	if pathkey.Normalize(path) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	key := fs.keys.Key(path)
	if token == nil && fs.checkpoint != nil {
		saved, err := fs.checkpoint.Load(ctx, key)
		if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("load checkpoint for %q: %w", path, err)
		}
		token = saved
	}

	s := uploader.Resume(ctx, fs.store, key, token, fs.uploadOptions()...)
	fs.logger.LogUploadBegin(ctx, path, s.ID(), s.StagedChunks())
	return &Upload{Session: s, fs: fs, path: path}, nil
}

func (fs *FS) uploadOptions() []uploader.Option {
	opts := []uploader.Option{
		uploader.WithLogger(fs.logger.Logger),
		uploader.WithMetrics(fs.metrics),
	}
	if fs.chunkLimit > 0 {
		opts = append(opts, uploader.WithChunkLimit(fs.chunkLimit))
	}
	if fs.limiter != nil {
		opts = append(opts, uploader.WithRateLimit(fs.limiter))
	}
	if fs.checkpoint != nil {
		opts = append(opts, uploader.WithCheckpoint(fs.checkpoint))
	}
	return opts
}

// CompleteUpload materializes the file at path from the chunks a resume
// token accounts for. A token counting zero chunks produces an empty file;
// otherwise the staged chunks are verified for gaps and committed in index
// order. The checkpoint for path, if any, is cleared.
//
// CompleteUpload does not require a live session: any process holding the
// token can finalize.
func (fs *FS) CompleteUpload(ctx context.Context, path string, token []byte) error {
	start := time.Now()
	chunks := uploader.DecodeToken(token)
	err := fs.completeUpload(ctx, path, chunks)
	duration := time.Since(start)
	fs.metrics.RecordUploadComplete(chunks, duration, err)
	fs.logger.LogUploadComplete(ctx, path, chunks, err)
	return err
}

func (fs *FS) completeUpload(ctx context.Context, path string, chunks int32) error {
	if pathkey.Normalize(path) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	key := fs.keys.Key(path)

	if chunks == 0 {
		// Nothing staged: the store rejects empty block lists, so an empty
		// upload becomes an empty object through the plain write path.
		w, err := fs.store.NewWriter(ctx, key)
		if err != nil {
			return translateError(err)
		}
		if err := w.Close(); err != nil {
			return translateError(err)
		}
	} else {
		if err := uploader.VerifyStaged(ctx, fs.store, key, uploader.EncodeToken(chunks)); err != nil {
			return &ErrIncompleteUpload{Path: path, Chunks: chunks, cause: err}
		}
		if err := fs.store.CommitBlockList(ctx, key, uploader.BlockIDs(chunks)); err != nil {
			return translateError(err)
		}
	}

	if fs.checkpoint != nil {
		if err := fs.checkpoint.Clear(ctx, key); err != nil {
			fs.logger.WarnContext(ctx, "checkpoint clear failed",
				"path", path,
				"error", err,
			)
		}
	}

	return nil
}

// CancelUpload discards an upload without a live session: the checkpoint is
// cleared and the target key is deleted together with its staged chunks.
// Note that this also removes any previously committed file at path.
func (fs *FS) CancelUpload(ctx context.Context, path string) error {
	key := fs.keys.Key(path)

	if fs.checkpoint != nil {
		if err := fs.checkpoint.Clear(ctx, key); err != nil {
			fs.logger.WarnContext(ctx, "checkpoint clear failed",
				"path", path,
				"error", err,
			)
		}
	}

	err := translateError(fs.store.Delete(ctx, key))
	fs.logger.LogUploadCancel(ctx, path, err)
	return err
}
