// Package calllog records one immutable entry per terminal call outcome and
// serves query, stats, and retention over them.
package calllog

import (
	"context"
	"time"
)

// Entry is one terminal call outcome. Entries are never mutated after being
// recorded.
type Entry struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	CredentialID string        `json:"credential_id"`
	Model        string        `json:"model"`
	ProxyAddress string        `json:"proxy_address,omitempty"`
	Success      bool          `json:"success"`
	StatusCode   int           `json:"status_code,omitempty"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
	MediaURLs    []string      `json:"media_urls,omitempty"`
}

// Filter narrows a query. Zero values mean "no constraint".
type Filter struct {
	CredentialID string
	Model        string
	Success      *bool
	Since        time.Time
	Until        time.Time
	Limit        int
}

// Stats aggregates the retained entries.
type Stats struct {
	Total          int            `json:"total"`
	Successes      int            `json:"successes"`
	Failures       int            `json:"failures"`
	AvgLatency     time.Duration  `json:"avg_latency"`
	CallsByModel   map[string]int `json:"calls_by_model"`
	CallsByAccount map[string]int `json:"calls_by_account"`
}

// Backend stores entries. Implementations must keep Query results in reverse
// chronological order.
type Backend interface {
	Append(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter) ([]*Entry, error)
	Stats(ctx context.Context) (*Stats, error)
	Delete(ctx context.Context, id string) error
	Prune(ctx context.Context, maxEntries int) (int, error)
	Close() error
}

func (f Filter) matches(e *Entry) bool {
	if f.CredentialID != "" && e.CredentialID != f.CredentialID {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
