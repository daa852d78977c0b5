package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore implements Store on top of a directory tree: one subdirectory per
// collection, one JSON file per record. Writes go through a temp file and
// rename so a crash never leaves a half-written record behind.
//
// Keys are sanitized into file names; the original key is recoverable because
// the sanitization is a fixed escape, not a hash.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %q: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

// Get retrieves the record for key in collection.
func (s *FileStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.recordPath(collection, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s/%s: %w", collection, key, err)
	}
	return data, nil
}

// Put creates or replaces the record for key in collection.
func (s *FileStore) Put(ctx context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, sanitize(collection))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create collection directory %q: %w", collection, err)
	}

	path := s.recordPath(collection, key)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record %s/%s: %w", collection, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit record %s/%s: %w", collection, key, err)
	}
	return nil
}

// List returns all records in a collection.
func (s *FileStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, sanitize(collection))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %q: %w", collection, err)
	}

	out := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s/%s: %w", collection, name, err)
		}
		out[unsanitize(strings.TrimSuffix(name, ".json"))] = data
	}
	return out, nil
}

// Delete removes the record for key in collection.
func (s *FileStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.recordPath(collection, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) recordPath(collection, key string) string {
	return filepath.Join(s.root, sanitize(collection), sanitize(key)+".json")
}

// sanitize escapes path separators and dots so keys cannot traverse outside
// the collection directory.
func sanitize(name string) string {
	r := strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C", "..", "%2E%2E")
	return r.Replace(name)
}

func unsanitize(name string) string {
	r := strings.NewReplacer("%2F", "/", "%5C", "\\", "%2E%2E", "..", "%25", "%")
	return r.Replace(name)
}
