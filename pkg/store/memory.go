package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store using in-memory maps. All data is lost when
// the process exits. It is the default backend for tests and for deployments
// that treat pool state as reconstructible.
//
// MemoryStore is thread-safe using a sync.RWMutex.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
	}
}

// Get retrieves the record for key in collection.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := records[key]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put creates or replaces the record for key in collection.
func (s *MemoryStore) Put(ctx context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string][]byte)
		s.collections[collection] = records
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	records[key] = stored
	return nil
}

// List returns all records in a collection.
func (s *MemoryStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte)
	for key, value := range s.collections[collection] {
		copied := make([]byte, len(value))
		copy(copied, value)
		out[key] = copied
	}
	return out, nil
}

// Delete removes the record for key in collection.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if records, ok := s.collections[collection]; ok {
		delete(records, key)
	}
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
