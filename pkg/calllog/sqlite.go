package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps entries in a dedicated database with indexes that make
// stats and filtered queries cheap at higher volumes than the facade backend
// is meant for.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS call_log (
	id            TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	credential_id TEXT NOT NULL,
	model         TEXT NOT NULL,
	proxy_address TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL,
	status_code   INTEGER NOT NULL DEFAULT 0,
	latency_ns    INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	media_urls    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_call_log_timestamp ON call_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_call_log_credential ON call_log(credential_id);
CREATE INDEX IF NOT EXISTS idx_call_log_model ON call_log(model);
`

// NewSQLiteBackend opens or creates the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open call log database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply call log schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Append(ctx context.Context, e *Entry) error {
	media, err := json.Marshal(e.MediaURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal media urls: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO call_log
			(id, timestamp, credential_id, model, proxy_address, success, status_code, latency_ns, error, media_urls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.CredentialID, e.Model, e.ProxyAddress,
		boolToInt(e.Success), e.StatusCode, int64(e.Latency), e.Error, string(media),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call log entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	query := `SELECT id, timestamp, credential_id, model, proxy_address, success, status_code, latency_ns, error, media_urls
		FROM call_log WHERE 1=1`
	args := make([]any, 0, 6)

	if f.CredentialID != "" {
		query += " AND credential_id = ?"
		args = append(args, f.CredentialID)
	}
	if f.Model != "" {
		query += " AND model = ?"
		args = append(args, f.Model)
	}
	if f.Success != nil {
		query += " AND success = ?"
		args = append(args, boolToInt(*f.Success))
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.UnixNano())
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call log: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			success int
			latency int64
			media   string
		)
		if err := rows.Scan(&e.ID, &ts, &e.CredentialID, &e.Model, &e.ProxyAddress,
			&success, &e.StatusCode, &latency, &e.Error, &media); err != nil {
			return nil, fmt.Errorf("failed to scan call log row: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		e.Success = success != 0
		e.Latency = time.Duration(latency)
		if err := json.Unmarshal([]byte(media), &e.MediaURLs); err != nil {
			e.MediaURLs = nil
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (b *SQLiteBackend) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CallsByModel:   make(map[string]int),
		CallsByAccount: make(map[string]int),
	}

	var avgLatency sql.NullFloat64
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(latency_ns), 0)
		FROM call_log`).Scan(&stats.Total, &stats.Successes, &avgLatency)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate call log: %w", err)
	}
	stats.Failures = stats.Total - stats.Successes
	stats.AvgLatency = time.Duration(int64(avgLatency.Float64))

	if err := b.countBy(ctx, "model", stats.CallsByModel); err != nil {
		return nil, err
	}
	if err := b.countBy(ctx, "credential_id", stats.CallsByAccount); err != nil {
		return nil, err
	}
	return stats, nil
}

func (b *SQLiteBackend) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM call_log GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("failed to group call log by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan group row: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM call_log WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete call log entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Prune(ctx context.Context, maxEntries int) (int, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM call_log WHERE id NOT IN (
			SELECT id FROM call_log ORDER BY timestamp DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to prune call log: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
