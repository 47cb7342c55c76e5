package credential

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps hashes in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	hashes map[int64][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{hashes: make(map[int64][]byte)}
}

func (m *MemoryBackend) PutHash(_ context.Context, userID int64, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[userID] = slices.Clone(hash)
	return nil
}

func (m *MemoryBackend) GetHash(_ context.Context, userID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.hashes[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(hash), nil
}

func (m *MemoryBackend) DeleteHash(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, userID)
	return nil
}
