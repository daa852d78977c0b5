package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// schema holds the records table shared by every collection. The composite
// primary key makes Put an idempotent upsert.
const schema = `
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, key)
);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`

// SQLiteStore implements Store using a single SQLite database in WAL mode.
// Suitable for single-instance deployments where pool and task state must
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and initializes the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}

	// Single writer; WAL keeps readers unblocked during flushes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves the record for key in collection.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE collection = ? AND key = ?",
		collection, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", collection, key, err)
	}
	return value, nil
}

// Put creates or replaces the record for key in collection.
func (s *SQLiteStore) Put(ctx context.Context, collection, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records (collection, key, value, updated_at) VALUES (?, ?, ?, datetime('now'))
ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		collection, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", collection, key, err)
	}
	return nil
}

// List returns all records in a collection.
func (s *SQLiteStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM records WHERE collection = ?", collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %q: %w", collection, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collection %q: %w", collection, err)
	}
	return out, nil
}

// Delete removes the record for key in collection.
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND key = ?", collection, key); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
