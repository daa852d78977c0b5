package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/store"
)

// StoreBackend keeps entries in the persistence facade. Keys are prefixed
// with the nanosecond timestamp so lexicographic key order is chronological.
type StoreBackend struct {
	store store.Store
}

// NewStoreBackend wraps the facade.
func NewStoreBackend(st store.Store) *StoreBackend {
	return &StoreBackend{store: st}
}

func (b *StoreBackend) key(e *Entry) string {
	return fmt.Sprintf("%020d_%s", e.Timestamp.UnixNano(), e.ID)
}

func (b *StoreBackend) Append(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal call log entry: %w", err)
	}
	return b.store.Put(ctx, store.CollectionCallLog, b.key(e), data)
}

func (b *StoreBackend) load(ctx context.Context) ([]*Entry, map[string]string, error) {
	records, err := b.store.List(ctx, store.CollectionCallLog)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list call log: %w", err)
	}

	entries := make([]*Entry, 0, len(records))
	keys := make(map[string]string, len(records))
	for key, data := range records {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, &e)
		keys[e.ID] = key
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, keys, nil
}

func (b *StoreBackend) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	entries, _, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0)
	for _, e := range entries {
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (b *StoreBackend) Stats(ctx context.Context) (*Stats, error) {
	entries, _, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate(entries), nil
}

func (b *StoreBackend) Delete(ctx context.Context, id string) error {
	_, keys, err := b.load(ctx)
	if err != nil {
		return err
	}
	key, ok := keys[id]
	if !ok {
		return nil
	}
	return b.store.Delete(ctx, store.CollectionCallLog, key)
}

func (b *StoreBackend) Prune(ctx context.Context, maxEntries int) (int, error) {
	entries, keys, err := b.load(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxEntries {
		return 0, nil
	}

	pruned := 0
	for _, e := range entries[maxEntries:] {
		if err := b.store.Delete(ctx, store.CollectionCallLog, keys[e.ID]); err != nil {
			return pruned, fmt.Errorf("failed to prune entry %s: %w", e.ID, err)
		}
		pruned++
	}
	return pruned, nil
}

func (b *StoreBackend) Close() error {
	return nil
}

func aggregate(entries []*Entry) *Stats {
	stats := &Stats{
		CallsByModel:   make(map[string]int),
		CallsByAccount: make(map[string]int),
	}
	var totalLatency int64
	for _, e := range entries {
		stats.Total++
		if e.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		stats.CallsByModel[e.Model]++
		stats.CallsByAccount[e.CredentialID]++
		totalLatency += int64(e.Latency)
	}
	if stats.Total > 0 {
		stats.AvgLatency = time.Duration(totalLatency / int64(stats.Total))
	}
	return stats
}
