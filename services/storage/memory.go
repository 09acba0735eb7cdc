package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory BlobStore used in tests and local
// development without object-store credentials.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// SaveFile stores the blob in memory
func (m *MemoryStore) SaveFile(_ context.Context, category string, ownerID uint, filename string, content []byte, _ string) (*SavedFile, error) {
	name := secureName(filename)
	key := objectKey(category, ownerID, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	data := make([]byte, len(content))
	copy(data, content)
	m.blobs[key] = data

	return &SavedFile{
		SecureName: name,
		URL:        "memory://" + key,
	}, nil
}

// DeleteFile removes the blob from memory
func (m *MemoryStore) DeleteFile(_ context.Context, category string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.blobs {
		if len(key) >= len(name) && key[len(key)-len(name):] == name {
			delete(m.blobs, key)
			return nil
		}
	}
	return fmt.Errorf("file %s not found in category %s", name, category)
}

// Len reports how many blobs are stored
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
