package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist.
//
// Implementations must return an error satisfying errors.Is(err, ErrNotFound)
// from Stat, NewReader and Copy (source side) for missing keys.
var ErrNotFound = errors.New("objstore: object not found")

// ErrEmptyBlockList is returned by CommitBlockList when no block IDs are
// given. Several backends reject zero-block commits outright, so the contract
// makes the rejection uniform; callers create empty objects through NewWriter.
var ErrEmptyBlockList = errors.New("objstore: cannot commit empty block list")

// Props describes a stored object.
type Props struct {
	Size    int64
	ModTime time.Time
}

// Entry is one result of a listing: either an object or, when listing with a
// delimiter, a common prefix covering keys one level deeper.
type Entry struct {
	// Key is the full object key, or the common prefix including its
	// trailing delimiter when IsPrefix is set.
	Key      string
	IsPrefix bool

	// Size and ModTime are only set for objects.
	Size    int64
	ModTime time.Time
}

// ListOptions selects what a List call visits.
type ListOptions struct {
	// Prefix restricts the listing to keys starting with this string.
	Prefix string

	// Delimiter, when non-empty, groups keys containing it beyond the
	// prefix into common-prefix entries (single-level listing). Empty
	// means a fully recursive listing of objects only.
	Delimiter string
}

// WalkFunc receives listing entries. Returning an error stops the listing
// and propagates the error to the List caller.
type WalkFunc func(Entry) error

// Store is the backing object-store contract.
type Store interface {
	// Exists reports whether the key holds a committed object.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns the properties of a committed object.
	Stat(ctx context.Context, key string) (Props, error)

	// NewReader opens a sequential read stream starting at offset.
	NewReader(ctx context.Context, key string, offset int64) (io.ReadCloser, error)

	// NewWriter opens a write stream that fully replaces the object when
	// closed. Nothing is visible until Close returns nil.
	NewWriter(ctx context.Context, key string) (io.WriteCloser, error)

	// StageBlock uploads one block of data under blockID, scoped to key.
	// Staged blocks do not materialize the object.
	StageBlock(ctx context.Context, key, blockID string, data []byte) error

	// CommitBlockList materializes the object as the concatenation of the
	// staged blocks in the given order. Rejects an empty list with
	// ErrEmptyBlockList.
	CommitBlockList(ctx context.Context, key string, blockIDs []string) error

	// ListStagedBlocks returns the IDs of blocks staged for key but not
	// yet committed, in unspecified order.
	ListStagedBlocks(ctx context.Context, key string) ([]string, error)

	// List visits entries under opts.Prefix. With a delimiter the listing
	// is single-level: direct objects plus common prefixes.
	List(ctx context.Context, opts ListOptions, fn WalkFunc) error

	// Delete removes the object if it exists, along with any staged
	// residue for the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Copy duplicates srcKey to dstKey server-side and returns once the
	// copy is durable. Adapters poll internally for long-running copies.
	Copy(ctx context.Context, srcKey, dstKey string) error
}
