package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mouseww/grok2api-pro/pkg/config"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// Store is the persistence facade used by every stateful component. Records
// are opaque JSON documents addressed by (collection, key). Implementations
// must be thread-safe and preserve read-after-write consistency within a
// single process.
type Store interface {
	// Get retrieves the record for key in collection.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Put creates or replaces the record for key in collection.
	Put(ctx context.Context, collection, key string, value []byte) error

	// List returns all records in a collection keyed by record key.
	// Returns an empty map if the collection has no records.
	List(ctx context.Context, collection string) (map[string][]byte, error)

	// Delete removes the record for key in collection. No-op if the
	// record does not exist.
	Delete(ctx context.Context, collection, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Collections used by the gateway.
const (
	CollectionAccounts   = "accounts"
	CollectionProxies    = "proxies"
	CollectionBindings   = "bindings"
	CollectionCallLog    = "call_log"
	CollectionVideoTasks = "video_tasks"
)

// Open creates the store backend selected by the configuration.
func Open(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
