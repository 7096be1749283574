// Package checkpoint persists resumable-upload progress tokens so that an
// interrupted upload can be continued by a later process.
//
// A checkpoint maps an object key to the opaque resume token of its upload.
// Stores are advisory: losing a checkpoint costs re-uploaded chunks, never
// data, because the chunks themselves live in the backing object store.
package checkpoint

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no checkpoint exists for the key.
var ErrNotFound = errors.New("checkpoint: not found")

// Store persists upload progress tokens across process boundaries.
//
// Implementations must treat the token as opaque bytes and return it verbatim.
type Store interface {
	// Save records the progress token for key, replacing any previous one.
	Save(ctx context.Context, key string, token []byte) error

	// Load returns the most recently saved token for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Clear removes the checkpoint for key. Clearing a missing key is not
	// an error.
	Clear(ctx context.Context, key string) error
}

// Memory is an in-memory Store. Progress survives only as long as the
// process; use it for tests and single-process uploads.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string][]byte
}

// NewMemory creates an empty in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string][]byte)}
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, key string, token []byte) error {
	copied := make([]byte, len(token))
	copy(copied, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = copied
	return nil
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(token))
	copy(copied, token)
	return copied, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}
