package blobfs

import (
	"errors"
	"fmt"

	"github.com/hupe1980/blobfs/objstore"
	"github.com/hupe1980/blobfs/uploader"
)

var (
	// ErrNotFound is returned when a file or directory does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a destination is already taken and
	// overwriting was not requested.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotEmpty is returned by a non-recursive RemoveDir on a directory
	// that still contains objects.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrInvalidPath is returned when a path normalizes to the root, where
	// no object can live.
	ErrInvalidPath = errors.New("invalid path")

	// ErrSessionClosed is returned by operations on an upload session that
	// was already committed, closed or cancelled.
	ErrSessionClosed = uploader.ErrClosed
)

// ErrIncompleteUpload indicates that finalizing an upload found the staged
// chunks inconsistent with the resume token, for example because a chunk is
// missing or the staging area expired.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrIncompleteUpload struct {
	Path   string
	Chunks int32
	cause  error
}

func (e *ErrIncompleteUpload) Error() string {
	return fmt.Sprintf("incomplete upload of %q: %d chunks expected", e.Path, e.Chunks)
}

func (e *ErrIncompleteUpload) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, objstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
