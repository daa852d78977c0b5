package video

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/store"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

type fakeStarter struct {
	nextJob    int
	models     []string
	remixOf    []string
	references []string
	err        error
}

func (f *fakeStarter) StartJob(ctx context.Context, model, prompt, remixJobID, inputReference string) (*StartedJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.nextJob++
	f.models = append(f.models, model)
	f.remixOf = append(f.remixOf, remixJobID)
	f.references = append(f.references, inputReference)
	return &StartedJob{
		JobID:        "job-" + strings.Repeat("x", f.nextJob),
		CredentialID: "cred-1",
		ProxyAddress: "http://p1:8080",
	}, nil
}

type fakePoller struct {
	status map[string]*upstream.JobStatus
	err    error
	polled []string
}

func (f *fakePoller) PollJob(ctx context.Context, credentialID, proxyAddress, jobID string) (*upstream.JobStatus, error) {
	f.polled = append(f.polled, jobID)
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.status[jobID]; ok {
		return s, nil
	}
	return &upstream.JobStatus{Status: "queued"}, nil
}

type videoDownloader struct{}

func (videoDownloader) Download(ctx context.Context, credential, proxyAddress, ref string) (io.ReadCloser, string, error) {
	return io.NopCloser(strings.NewReader("video-bytes")), "video/mp4", nil
}

func testVideoConfig() config.VideoConfig {
	return config.VideoConfig{
		Retention:     24 * time.Hour,
		PollInterval:  2 * time.Second,
		MaxTasks:      1000,
		PruneSchedule: "@every 1h",
	}
}

func newTestManager(t *testing.T, cfg config.VideoConfig, starter Starter, poller Poller) *Manager {
	t.Helper()
	cache, err := media.NewCache(config.MediaConfig{
		Dir:              t.TempDir(),
		MaxArtifactBytes: 1 << 20,
		PublicBase:       "/media",
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	fetcher := media.NewFetcher(cache, videoDownloader{}, time.Second)

	m, err := NewManager(context.Background(), cfg, store.NewMemoryStore(), starter, poller, fetcher)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateTask(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, testVideoConfig(), starter, &fakePoller{})

	task, err := m.Create(context.Background(), &openai.CreateVideoRequest{Prompt: "a cat surfing"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(task.ID, "video_") || len(task.ID) != len("video_")+12 {
		t.Fatalf("task id shape = %q", task.ID)
	}
	if task.Status != openai.VideoStatusQueued || task.Progress != 0 {
		t.Fatalf("task = %+v", task)
	}
	if task.Model != ModelSora {
		t.Fatalf("default model = %q", task.Model)
	}
	if starter.models[0] != ModelGrokImagine {
		t.Fatalf("upstream model = %q, want the alias target", starter.models[0])
	}
}

func TestFirstQueuedPollRaisesProgress(t *testing.T) {
	poller := &fakePoller{}
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, poller)
	ctx := context.Background()

	task, err := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Progress != 0 {
		t.Fatalf("progress on submission = %d, want 0", task.Progress)
	}

	m.pollPending(ctx)
	got, _ := m.Get(task.ID)
	if got.Status != openai.VideoStatusQueued || got.Progress != 10 {
		t.Fatalf("after first queued poll: %+v", got)
	}
}

func TestCreateWithInputReference(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, testVideoConfig(), starter, &fakePoller{})

	task, err := m.Create(context.Background(), &openai.CreateVideoRequest{
		Prompt:         "animate this",
		InputReference: "https://example.com/source.png",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if starter.references[0] != "https://example.com/source.png" {
		t.Fatalf("starter reference = %q", starter.references[0])
	}
	if task.InputReference != "https://example.com/source.png" {
		t.Fatalf("task reference = %q", task.InputReference)
	}
	if job := m.View(task); job.InputReference != task.InputReference {
		t.Fatalf("view reference = %q", job.InputReference)
	}
}

func TestPollLifecycle(t *testing.T) {
	poller := &fakePoller{status: map[string]*upstream.JobStatus{}}
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, poller)
	ctx := context.Background()

	task, err := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	poller.status[task.JobID] = &upstream.JobStatus{Status: "running", Progress: 45}
	m.pollPending(ctx)
	got, _ := m.Get(task.ID)
	if got.Status != openai.VideoStatusInProgress || got.Progress != 45 {
		t.Fatalf("after running poll: %+v", got)
	}

	// A lower upstream progress must not move the bar backwards.
	poller.status[task.JobID] = &upstream.JobStatus{Status: "running", Progress: 20}
	m.pollPending(ctx)
	got, _ = m.Get(task.ID)
	if got.Progress != 45 {
		t.Fatalf("progress went backwards: %d", got.Progress)
	}

	poller.status[task.JobID] = &upstream.JobStatus{Status: "completed", MediaURL: "/assets/out.mp4"}
	m.pollPending(ctx)
	got, _ = m.Get(task.ID)
	if got.Status != openai.VideoStatusCompleted || got.Progress != 100 {
		t.Fatalf("after completion: %+v", got)
	}
	if got.MediaKey == "" || !strings.HasPrefix(got.VideoURL, "/media/") {
		t.Fatalf("artifact not cached: %+v", got)
	}

	// Terminal tasks are never polled again.
	polls := len(poller.polled)
	m.pollPending(ctx)
	if len(poller.polled) != polls {
		t.Fatal("terminal task was re-polled")
	}
}

func TestPollFatalFailsTask(t *testing.T) {
	poller := &fakePoller{err: &upstream.FatalError{StatusCode: 404, Message: "job gone"}}
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, poller)
	ctx := context.Background()

	task, _ := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
	m.pollPending(ctx)

	got, _ := m.Get(task.ID)
	if got.Status != openai.VideoStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage != "job gone" {
		t.Fatalf("error = %q", got.ErrorMessage)
	}
}

func TestPollTransientErrorKeepsTaskPending(t *testing.T) {
	poller := &fakePoller{err: &upstream.TransportError{Op: "do", Cause: errors.New("dial refused")}}
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, poller)
	ctx := context.Background()

	task, _ := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
	m.pollPending(ctx)

	got, _ := m.Get(task.ID)
	if got.Status != openai.VideoStatusQueued {
		t.Fatalf("transient poll failure changed status to %s", got.Status)
	}
}

func TestRemixRequiresCompleted(t *testing.T) {
	starter := &fakeStarter{}
	poller := &fakePoller{status: map[string]*upstream.JobStatus{}}
	m := newTestManager(t, testVideoConfig(), starter, poller)
	ctx := context.Background()

	task, _ := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})

	if _, err := m.Remix(ctx, task.ID, "again"); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("remix of pending task: err = %v", err)
	}
	if _, err := m.Remix(ctx, "video_missing00000", "again"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remix of missing task: err = %v", err)
	}

	poller.status[task.JobID] = &upstream.JobStatus{Status: "completed", MediaURL: "/assets/out.mp4"}
	m.pollPending(ctx)

	remixed, err := m.Remix(ctx, task.ID, "again")
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}
	if remixed.RemixedFrom != task.ID {
		t.Fatalf("RemixedFrom = %q", remixed.RemixedFrom)
	}
	if starter.remixOf[len(starter.remixOf)-1] != task.JobID {
		t.Fatal("remix did not reference the source upstream job")
	}
	src, _ := m.Get(task.ID)
	if ref := starter.references[len(starter.references)-1]; ref != src.VideoURL {
		t.Fatalf("remix input reference = %q, want the source video %q", ref, src.VideoURL)
	}
}

func TestListPagination(t *testing.T) {
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, &fakePoller{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task, err := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		// Distinct creation times for a stable order.
		m.mu.Lock()
		m.tasks[task.ID].CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		m.mu.Unlock()
		ids = append(ids, task.ID)
	}

	page := m.List(ListQuery{Limit: 2})
	if len(page.Tasks) != 2 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}
	if page.Tasks[0].ID != ids[4] {
		t.Fatalf("default order is not newest first")
	}
	if page.FirstID != page.Tasks[0].ID || page.LastID != page.Tasks[1].ID {
		t.Fatalf("cursors = %q %q", page.FirstID, page.LastID)
	}

	next := m.List(ListQuery{Limit: 2, After: page.LastID})
	if len(next.Tasks) != 2 || next.Tasks[0].ID != ids[2] {
		t.Fatalf("after-cursor page wrong: %+v", next.Tasks)
	}

	ascPage := m.List(ListQuery{Limit: 10, Order: "asc"})
	if ascPage.Tasks[0].ID != ids[0] || ascPage.HasMore {
		t.Fatalf("asc page = %+v", ascPage)
	}
}

func TestPruneRetentionAndCap(t *testing.T) {
	cfg := testVideoConfig()
	cfg.MaxTasks = 3
	m := newTestManager(t, cfg, &fakeStarter{}, &fakePoller{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		task, _ := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
		ids = append(ids, task.ID)
	}

	// Age the first task past retention.
	m.mu.Lock()
	m.tasks[ids[0]].CreatedAt = time.Now().Add(-25 * time.Hour)
	m.mu.Unlock()

	if n := m.Prune(ctx); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, err := m.Get(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired task survived prune")
	}
	if _, err := m.Get(ids[1]); err != nil {
		t.Fatal("fresh task was pruned")
	}
}

func TestCreateAtTaskLimit(t *testing.T) {
	cfg := testVideoConfig()
	cfg.MaxTasks = 1
	m := newTestManager(t, cfg, &fakeStarter{}, &fakePoller{})
	ctx := context.Background()

	if _, err := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"}); !errors.Is(err, ErrTaskLimit) {
		t.Fatalf("err = %v, want ErrTaskLimit", err)
	}
}

func TestDelete(t *testing.T) {
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, &fakePoller{})
	ctx := context.Background()

	task, _ := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "p"})
	if err := m.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestTasksPersistAcrossRestart(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := testVideoConfig()
	ctx := context.Background()

	cache, err := media.NewCache(config.MediaConfig{Dir: t.TempDir(), MaxArtifactBytes: 1 << 20, PublicBase: "/media"})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	fetcher := media.NewFetcher(cache, videoDownloader{}, time.Second)

	m, err := NewManager(ctx, cfg, st, &fakeStarter{}, &fakePoller{}, fetcher)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	task, _ := m.Create(ctx, &openai.CreateVideoRequest{Prompt: "persist me"})
	m.flush(ctx)

	reloaded, err := NewManager(ctx, cfg, st, &fakeStarter{}, &fakePoller{}, fetcher)
	if err != nil {
		t.Fatalf("NewManager reload: %v", err)
	}
	got, err := reloaded.Get(task.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Prompt != "persist me" {
		t.Fatalf("reloaded task = %+v", got)
	}
}

func TestView(t *testing.T) {
	m := newTestManager(t, testVideoConfig(), &fakeStarter{}, &fakePoller{})
	task, _ := m.Create(context.Background(), &openai.CreateVideoRequest{Prompt: "p"})

	job := m.View(task)
	if job.Object != "video" || job.ID != task.ID {
		t.Fatalf("view = %+v", job)
	}
	if job.ExpiresAt != task.CreatedAt.Add(24*time.Hour).Unix() {
		t.Fatalf("ExpiresAt = %d", job.ExpiresAt)
	}
}
