package store

import (
	"context"
	"sync"
	"time"

	"github.com/hyperengineering/somnus/internal/types"
)

var _ BlobStore = (*MemoryBlobStore)(nil)

// MemoryBlobStore keeps blobs in process memory. Used in dev mode and tests.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string]types.Blob
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]types.Blob)}
}

func memoryKey(userID, name string) string {
	return userID + "\x00" + name
}

// GetBlob returns a copy of the stored blob or ErrNotFound.
func (m *MemoryBlobStore) GetBlob(ctx context.Context, userID, name string) (*types.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.blobs[memoryKey(userID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	blob.Data = append([]byte(nil), blob.Data...)
	return &blob, nil
}

// PutBlob writes the blob when its version matches the stored one.
func (m *MemoryBlobStore) PutBlob(ctx context.Context, blob types.Blob) (*types.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(blob.UserID, blob.Name)
	var current int64
	if existing, ok := m.blobs[key]; ok {
		current = existing.Version
	}
	if current != blob.Version {
		return nil, ErrVersionConflict
	}

	blob.Version = current + 1
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now().UTC()
	}
	blob.Data = append([]byte(nil), blob.Data...)
	m.blobs[key] = blob

	out := blob
	return &out, nil
}

// Close is a no-op.
func (m *MemoryBlobStore) Close() error {
	return nil
}
