// Package video manages long-running media generation tasks: submission,
// shared-tick polling of upstream job status, retention, and serving the
// finished artifact.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/store"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

// Caller-facing model names and their upstream counterparts.
const (
	ModelSora        = "sora-2"
	ModelSoraPro     = "sora-2-pro"
	ModelGrokImagine = "grok-imagine-0.9"
)

// UpstreamModel maps a caller-facing video model to the upstream one. The
// sora names are aliases for the same generator.
func UpstreamModel(model string) string {
	switch model {
	case "", "sora", ModelSora, ModelSoraPro:
		return ModelGrokImagine
	}
	return model
}

// Errors surfaced on the video API.
var (
	ErrNotFound     = errors.New("video task not found")
	ErrNotCompleted = errors.New("video task is not completed")
	ErrTaskLimit    = errors.New("video task limit reached")
)

// StartedJob identifies an upstream generation job and the pair serving it.
type StartedJob struct {
	JobID        string
	CredentialID string
	ProxyAddress string
}

// Starter opens an upstream generation job. Implemented by the server over
// the orchestrator and the chat stream. The input reference is a source
// image for image-to-video generation; it is ignored for remixes, which
// derive from the source job instead.
type Starter interface {
	StartJob(ctx context.Context, model, prompt, remixJobID, inputReference string) (*StartedJob, error)
}

// Poller queries upstream job status. Implemented over the orchestrator so
// polls get the same retry substrate as chat calls.
type Poller interface {
	PollJob(ctx context.Context, credentialID, proxyAddress, jobID string) (*upstream.JobStatus, error)
}

// Task is the manager's record of one generation job. The OpenAI-shaped
// view is derived from it.
type Task struct {
	ID             string    `json:"id"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	InputReference string    `json:"input_reference,omitempty"`
	Size           string    `json:"size,omitempty"`
	Seconds        string    `json:"seconds,omitempty"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RemixedFrom    string    `json:"remixed_from,omitempty"`

	JobID        string `json:"job_id"`
	CredentialID string `json:"credential_id"`
	ProxyAddress string `json:"proxy_address,omitempty"`

	// MediaKey is the cache key of the finished artifact.
	MediaKey string `json:"media_key,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

func (t *Task) terminal() bool {
	return t.Status == openai.VideoStatusCompleted || t.Status == openai.VideoStatusFailed
}

func (t *Task) clone() *Task {
	c := *t
	return &c
}

// ListQuery is cursor pagination over tasks.
type ListQuery struct {
	// After is the task id the page starts after.
	After string

	// Limit caps the page size; zero means the default of 20.
	Limit int

	// Order is "asc" or "desc" by creation time; default "desc".
	Order string
}

// Page is one page of tasks plus its cursors.
type Page struct {
	Tasks   []*Task
	FirstID string
	LastID  string
	HasMore bool
}

// Manager owns the task table.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	dirty map[string]bool

	cfg     config.VideoConfig
	store   store.Store
	starter Starter
	poller  Poller
	fetcher *media.Fetcher
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewManager builds the manager and restores persisted tasks.
func NewManager(ctx context.Context, cfg config.VideoConfig, st store.Store, starter Starter, poller Poller, fetcher *media.Fetcher) (*Manager, error) {
	m := &Manager{
		tasks:   make(map[string]*Task),
		dirty:   make(map[string]bool),
		cfg:     cfg,
		store:   st,
		starter: starter,
		poller:  poller,
		fetcher: fetcher,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "video"),
	}

	records, err := st.List(ctx, store.CollectionVideoTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to load video tasks: %w", err)
	}
	for key, data := range records {
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			m.logger.Warn("skipping corrupt video task record", "key", key, "error", err)
			continue
		}
		m.tasks[task.ID] = &task
	}

	if _, err := m.cron.AddFunc(cfg.PruneSchedule, func() { m.Prune(context.Background()) }); err != nil {
		return nil, err
	}

	m.logger.Info("video manager loaded", "tasks", len(m.tasks))
	return m, nil
}

// Run drives the shared poll tick and the retention schedule until ctx is
// cancelled, then flushes pending state.
func (m *Manager) Run(ctx context.Context) {
	m.cron.Start()
	defer m.cron.Stop()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flush(context.Background())
			return
		case <-ticker.C:
			m.pollPending(ctx)
			m.flush(ctx)
		}
	}
}

// newTaskID mirrors the id shape of the original video surface.
func newTaskID() string {
	return "video_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create starts a generation job and registers a task for it. An input
// reference makes it an image-to-video job.
func (m *Manager) Create(ctx context.Context, req *openai.CreateVideoRequest) (*Task, error) {
	return m.create(ctx, req.Model, req.Prompt, req.InputReference, req.Size, req.Seconds, "")
}

// Remix starts a new job derived from a completed task.
func (m *Manager) Remix(ctx context.Context, sourceID, prompt string) (*Task, error) {
	m.mu.RLock()
	source, ok := m.tasks[sourceID]
	if ok {
		source = source.clone()
	}
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if source.Status != openai.VideoStatusCompleted {
		return nil, ErrNotCompleted
	}
	// The derived task references the source's finished video.
	task, err := m.create(ctx, source.Model, prompt, source.VideoURL, source.Size, source.Seconds, source.ID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (m *Manager) create(ctx context.Context, model, prompt, inputReference, size, seconds, remixedFrom string) (*Task, error) {
	m.mu.RLock()
	count := len(m.tasks)
	m.mu.RUnlock()
	if m.cfg.MaxTasks > 0 && count >= m.cfg.MaxTasks {
		return nil, ErrTaskLimit
	}

	if model == "" {
		model = ModelSora
	}

	var remixJobID string
	if remixedFrom != "" {
		m.mu.RLock()
		if src, ok := m.tasks[remixedFrom]; ok {
			remixJobID = src.JobID
		}
		m.mu.RUnlock()
	}

	started, err := m.starter.StartJob(ctx, UpstreamModel(model), prompt, remixJobID, inputReference)
	if err != nil {
		return nil, err
	}

	// Progress starts at zero; the poll loop raises it.
	task := &Task{
		ID:             newTaskID(),
		Model:          model,
		Prompt:         prompt,
		InputReference: inputReference,
		Size:           size,
		Seconds:        seconds,
		Status:         openai.VideoStatusQueued,
		CreatedAt:      time.Now(),
		RemixedFrom:    remixedFrom,
		JobID:          started.JobID,
		CredentialID:   started.CredentialID,
		ProxyAddress:   started.ProxyAddress,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.dirty[task.ID] = true
	m.mu.Unlock()

	m.logger.Info("video task created",
		"task", task.ID,
		"model", model,
		"job", started.JobID,
		"remixed_from", remixedFrom,
	)
	return task.clone(), nil
}

// Get returns one task.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task.clone(), nil
}

// Delete removes a task. In-flight upstream jobs are abandoned; the upstream
// reaps them on its own schedule.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.tasks[id]
	delete(m.tasks, id)
	delete(m.dirty, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if err := m.store.Delete(ctx, store.CollectionVideoTasks, id); err != nil {
		return fmt.Errorf("failed to delete video task record: %w", err)
	}
	return nil
}

// List returns one page of tasks ordered by creation time.
func (m *Manager) List(q ListQuery) *Page {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	all := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		all = append(all, task.clone())
	}
	m.mu.RUnlock()

	asc := q.Order == "asc"
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			if asc {
				return all[i].ID < all[j].ID
			}
			return all[i].ID > all[j].ID
		}
		if asc {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := 0
	if q.After != "" {
		for i, task := range all {
			if task.ID == q.After {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := &Page{Tasks: all[start:end], HasMore: end < len(all)}
	if len(page.Tasks) > 0 {
		page.FirstID = page.Tasks[0].ID
		page.LastID = page.Tasks[len(page.Tasks)-1].ID
	}
	return page
}

// StatusCounts reports the number of tasks per status, used by metrics.
func (m *Manager) StatusCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, task := range m.tasks {
		counts[task.Status]++
	}
	return counts
}

// Content opens the finished artifact of a completed task.
func (m *Manager) Content(id string) (*media.Artifact, string, error) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	var key string
	if ok {
		key = task.MediaKey
	}
	completed := ok && task.Status == openai.VideoStatusCompleted
	m.mu.RUnlock()

	if !ok {
		return nil, "", ErrNotFound
	}
	if !completed || key == "" {
		return nil, "", ErrNotCompleted
	}
	art, found := m.fetcher.Cache().Stat(key)
	if !found {
		return nil, "", ErrNotFound
	}
	return art, key, nil
}

// pollPending queries upstream status for every non-terminal task on one
// shared tick. Terminal tasks are never re-polled.
func (m *Manager) pollPending(ctx context.Context) {
	m.mu.RLock()
	pending := make([]*Task, 0)
	for _, task := range m.tasks {
		if !task.terminal() {
			pending = append(pending, task.clone())
		}
	}
	m.mu.RUnlock()

	for _, task := range pending {
		if ctx.Err() != nil {
			return
		}
		status, err := m.poller.PollJob(ctx, task.CredentialID, task.ProxyAddress, task.JobID)
		if err != nil {
			m.logger.Warn("video poll failed", "task", task.ID, "error", err)
			var fatalErr *upstream.FatalError
			if errors.As(err, &fatalErr) {
				m.fail(task.ID, fatalErr.Message)
			}
			continue
		}
		m.apply(ctx, task.ID, status)
	}
}

// apply folds one upstream status into the task. Progress is monotonic.
func (m *Manager) apply(ctx context.Context, id string, status *upstream.JobStatus) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.terminal() {
		m.mu.Unlock()
		return
	}

	switch normalizeStatus(status.Status) {
	case openai.VideoStatusQueued:
		task.Progress = maxInt(task.Progress, 10)
	case openai.VideoStatusInProgress:
		task.Status = openai.VideoStatusInProgress
		task.Progress = maxInt(task.Progress, maxInt(30, status.Progress))
	case openai.VideoStatusFailed:
		task.Status = openai.VideoStatusFailed
		task.Progress = maxInt(task.Progress, 100)
		task.ErrorMessage = status.Error
		task.CompletedAt = time.Now()
	case openai.VideoStatusCompleted:
		task.Status = openai.VideoStatusCompleted
		task.Progress = 100
		task.CompletedAt = time.Now()
	}
	m.dirty[id] = true
	snapshot := task.clone()
	completed := task.Status == openai.VideoStatusCompleted && task.MediaKey == ""
	m.mu.Unlock()

	if completed && status.MediaURL != "" {
		m.fetchArtifact(ctx, snapshot, status.MediaURL)
	}
}

// fetchArtifact downloads the finished video into the cache through the
// task's own credential and proxy.
func (m *Manager) fetchArtifact(ctx context.Context, task *Task, ref string) {
	key, err := m.fetcher.Fetch(ctx, task.CredentialID, task.ProxyAddress, ref)
	if err != nil {
		m.logger.Error("failed to fetch video artifact", "task", task.ID, "error", err)
		return
	}

	m.mu.Lock()
	if live, ok := m.tasks[task.ID]; ok {
		live.MediaKey = key
		live.VideoURL = m.fetcher.Cache().PublicURL(key)
		m.dirty[task.ID] = true
	}
	m.mu.Unlock()
	m.logger.Info("video artifact cached", "task", task.ID, "key", key)
}

func (m *Manager) fail(id, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.terminal() {
		return
	}
	task.Status = openai.VideoStatusFailed
	task.ErrorMessage = message
	task.Progress = 100
	task.CompletedAt = time.Now()
	m.dirty[id] = true
}

// Prune drops tasks past the retention window, and the oldest tasks beyond
// the cap. Returns how many were removed.
func (m *Manager) Prune(ctx context.Context) int {
	cutoff := time.Now().Add(-m.cfg.Retention)

	m.mu.Lock()
	var victims []string
	for id, task := range m.tasks {
		if task.CreatedAt.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(m.tasks, id)
		delete(m.dirty, id)
	}

	if m.cfg.MaxTasks > 0 && len(m.tasks) > m.cfg.MaxTasks {
		rest := make([]*Task, 0, len(m.tasks))
		for _, task := range m.tasks {
			rest = append(rest, task)
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].CreatedAt.Before(rest[j].CreatedAt) })
		for _, task := range rest[:len(rest)-m.cfg.MaxTasks] {
			victims = append(victims, task.ID)
			delete(m.tasks, task.ID)
			delete(m.dirty, task.ID)
		}
	}
	m.mu.Unlock()

	for _, id := range victims {
		if err := m.store.Delete(ctx, store.CollectionVideoTasks, id); err != nil {
			m.logger.Error("failed to delete pruned video task", "task", id, "error", err)
		}
	}
	if len(victims) > 0 {
		m.logger.Info("video tasks pruned", "removed", len(victims))
	}
	return len(victims)
}

// flush persists dirty tasks.
func (m *Manager) flush(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*Task, 0, len(m.dirty))
	for id := range m.dirty {
		if task, ok := m.tasks[id]; ok {
			pending = append(pending, task.clone())
		}
	}
	m.dirty = make(map[string]bool)
	m.mu.Unlock()

	for _, task := range pending {
		data, err := json.Marshal(task)
		if err != nil {
			m.logger.Error("failed to marshal video task", "task", task.ID, "error", err)
			continue
		}
		if err := m.store.Put(ctx, store.CollectionVideoTasks, task.ID, data); err != nil {
			m.logger.Error("failed to persist video task", "task", task.ID, "error", err)
			m.mu.Lock()
			m.dirty[task.ID] = true
			m.mu.Unlock()
		}
	}
}

// View renders the OpenAI-shaped job.
func (m *Manager) View(task *Task) *openai.VideoJob {
	job := &openai.VideoJob{
		ID:                 task.ID,
		Object:             "video",
		Model:              task.Model,
		Status:             task.Status,
		Progress:           task.Progress,
		CreatedAt:          task.CreatedAt.Unix(),
		Prompt:             task.Prompt,
		InputReference:     task.InputReference,
		Size:               task.Size,
		Seconds:            task.Seconds,
		RemixedFromVideoID: task.RemixedFrom,
		VideoURL:           task.VideoURL,
	}
	if !task.CompletedAt.IsZero() {
		job.CompletedAt = task.CompletedAt.Unix()
	}
	if m.cfg.Retention > 0 {
		job.ExpiresAt = task.CreatedAt.Add(m.cfg.Retention).Unix()
	}
	if task.ErrorMessage != "" {
		job.Error = &openai.VideoError{Code: "generation_failed", Message: task.ErrorMessage}
	}
	return job
}

// normalizeStatus maps upstream job status strings onto the API statuses.
func normalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "queued", "pending":
		return openai.VideoStatusQueued
	case "completed", "succeeded", "done":
		return openai.VideoStatusCompleted
	case "failed", "error", "cancelled":
		return openai.VideoStatusFailed
	default:
		return openai.VideoStatusInProgress
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
