package calllog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/store"
)

// Recorder accepts entries without blocking request paths and writes them
// through a single worker. A full buffer drops the entry with a warning
// rather than stalling a live call.
type Recorder struct {
	backend Backend
	cfg     config.CallLogConfig
	ch      chan *Entry
	wg      sync.WaitGroup
	cron    *cron.Cron
	logger  *slog.Logger

	closeOnce sync.Once
}

// NewRecorder builds the recorder over the configured backend and starts the
// write worker and the retention schedule.
func NewRecorder(cfg config.CallLogConfig, st store.Store) (*Recorder, error) {
	var backend Backend
	switch cfg.Backend {
	case "sqlite":
		b, err := NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = NewStoreBackend(st)
	}

	r := &Recorder{
		backend: backend,
		cfg:     cfg,
		ch:      make(chan *Entry, cfg.AsyncBuffer),
		cron:    cron.New(),
		logger:  slog.Default().With("component", "calllog"),
	}

	r.wg.Add(1)
	go r.worker()

	if _, err := r.cron.AddFunc(cfg.PruneSchedule, r.prune); err != nil {
		r.Close()
		return nil, err
	}
	r.cron.Start()

	return r, nil
}

// Record queues one terminal outcome. A missing id or timestamp is filled
// in. Safe to call from any goroutine.
func (r *Recorder) Record(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("call log buffer full, dropping entry", "entry", e.ID)
	}
}

// Query returns entries matching the filter, newest first.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	return r.backend.Query(ctx, f)
}

// Stats aggregates the retained entries.
func (r *Recorder) Stats(ctx context.Context) (*Stats, error) {
	return r.backend.Stats(ctx)
}

// Delete removes one entry by id.
func (r *Recorder) Delete(ctx context.Context, id string) error {
	return r.backend.Delete(ctx, id)
}

// Close stops the retention schedule, drains queued entries, and closes the
// backend.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.cron.Stop()
		close(r.ch)
		r.wg.Wait()
	})
	return r.backend.Close()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for e := range r.ch {
		if err := r.backend.Append(context.Background(), e); err != nil {
			r.logger.Error("failed to record call outcome", "entry", e.ID, "error", err)
		}
	}
}

func (r *Recorder) prune() {
	n, err := r.backend.Prune(context.Background(), r.cfg.MaxEntries)
	if err != nil {
		r.logger.Error("call log prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("call log pruned", "removed", n, "retained_max", r.cfg.MaxEntries)
	}
}
