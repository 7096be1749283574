// Package uploader implements resumable chunked uploads to an object store.
//
// The caller writes an unbounded byte stream into a [Session]; the session
// cuts the stream into bounded chunks and stages every full chunk in the
// background while the caller keeps writing. Staging is strictly ordered
// with at most one chunk in flight, because the final object is assembled
// from an ordered block list and backing stores give no ordering guarantee
// across concurrent staging calls.
//
// # Resume tokens
//
// [Session.Commit] seals the session and returns a resume token: the 4-byte
// little-endian count of durably staged chunks. The token is the only state
// that crosses a pause. Persist it verbatim and pass it to [Resume] to
// continue the upload in the same or a different process; chunk boundaries
// are the only valid resume points, so nothing short of a full chunk
// survives (Commit flushes the trailing partial bytes as a final chunk of
// their own).
//
// # Finalizing
//
// Committing a session stages chunks, it does not materialize the object.
// The caller finalizes by committing the ordered block IDs regenerated from
// the token via [BlockIDs], or, when the token counts zero chunks, by
// creating the object through a plain write, since stores reject empty
// block lists. The blobfs facade wraps this lifecycle; use it unless you
// are driving an objstore.Store directly.
//
// # Failure model
//
// A failed staging is never retried here. The first failure sticks to the
// session and surfaces from the next Write, Commit or Close call, wrapped
// around the original error. Retry policy belongs to the store adapter or
// the caller.
package uploader
