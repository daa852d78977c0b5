package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		StallTimeout:     5 * time.Second,
		OverallTimeout:   10 * time.Second,
		ThinkingOpenTag:  "<think>",
		ThinkingCloseTag: "</think>",
	}
}

func eventLine(token string, thinking bool) string {
	return fmt.Sprintf(`{"result":{"response":{"token":%q,"isThinking":%v}}}`, token, thinking)
}

func readerFor(lines ...string) *upstream.EventReader {
	return upstream.NewEventReader(io.NopCloser(strings.NewReader(strings.Join(lines, "\n"))))
}

type collector struct {
	deltas []Delta
	err    error
}

func (c *collector) emit(d Delta) error {
	if c.err != nil {
		return c.err
	}
	c.deltas = append(c.deltas, d)
	return nil
}

func TestProcessSeparatesReasoningFromContent(t *testing.T) {
	p := NewProcessor(testStreamConfig(), nil)
	r := readerFor(
		eventLine("Let me think. ", true),
		eventLine("More thought.", true),
		eventLine("The answer ", false),
		eventLine("is 42.", false),
	)

	c := &collector{}
	result, err := p.Process(context.Background(), r, "sso-x", "", c.emit)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.State != StateCompleted {
		t.Fatalf("state = %s", result.State)
	}
	if result.Reasoning != "Let me think. More thought." {
		t.Fatalf("reasoning = %q", result.Reasoning)
	}
	if result.Content != "The answer is 42." {
		t.Fatalf("content = %q", result.Content)
	}

	var sawReasoning, sawContent bool
	for _, d := range c.deltas {
		if d.Reasoning != "" {
			sawReasoning = true
			if sawContent {
				t.Fatal("reasoning delta after content began")
			}
		}
		if d.Content != "" {
			sawContent = true
		}
	}
	if !sawReasoning || !sawContent {
		t.Fatalf("deltas = %+v", c.deltas)
	}
}

func TestProcessThinkingTagsToggle(t *testing.T) {
	p := NewProcessor(testStreamConfig(), nil)
	r := readerFor(
		eventLine("<think>working it out</think>done: ", false),
		eventLine("yes", false),
	)

	result, err := p.Process(context.Background(), r, "sso-x", "", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Reasoning != "working it out" {
		t.Fatalf("reasoning = %q", result.Reasoning)
	}
	if result.Content != "done: yes" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestProcessStallTimeout(t *testing.T) {
	cfg := testStreamConfig()
	cfg.StallTimeout = 50 * time.Millisecond
	p := NewProcessor(cfg, nil)

	pr, pw := io.Pipe()
	defer pw.Close()
	r := upstream.NewEventReader(pr)

	result, err := p.Process(context.Background(), r, "sso-x", "", nil)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if timeoutErr.Kind != TimeoutStall {
		t.Fatalf("kind = %v, want stall", timeoutErr.Kind)
	}
	if result.State != StateTimedOut {
		t.Fatalf("state = %s", result.State)
	}
}

func TestProcessOverallTimeout(t *testing.T) {
	cfg := testStreamConfig()
	cfg.StallTimeout = time.Second
	cfg.OverallTimeout = 50 * time.Millisecond
	p := NewProcessor(cfg, nil)

	pr, pw := io.Pipe()
	defer pw.Close()
	go func() {
		// Keep the stream active so only the overall limit can fire.
		for i := 0; ; i++ {
			if _, err := io.WriteString(pw, eventLine("tick ", false)+"\n"); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	_, err := p.Process(context.Background(), upstream.NewEventReader(pr), "sso-x", "", nil)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if timeoutErr.Kind != TimeoutOverall {
		t.Fatalf("kind = %v, want overall", timeoutErr.Kind)
	}
}

func TestProcessCancellation(t *testing.T) {
	p := NewProcessor(testStreamConfig(), nil)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := p.Process(ctx, upstream.NewEventReader(pr), "sso-x", "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.State != StateCancelled {
		t.Fatalf("state = %s", result.State)
	}
}

func newTestFetcher(t *testing.T, content map[string]string) *media.Fetcher {
	t.Helper()
	cache, err := media.NewCache(config.MediaConfig{
		Dir:              t.TempDir(),
		MaxArtifactBytes: 1 << 20,
		PublicBase:       "/media",
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return media.NewFetcher(cache, &stubDownloader{content: content}, 5*time.Second)
}

type stubDownloader struct {
	content map[string]string
}

func (d *stubDownloader) Download(ctx context.Context, credential, proxyAddress, ref string) (io.ReadCloser, string, error) {
	body, ok := d.content[ref]
	if !ok {
		return nil, "", errors.New("no such ref")
	}
	return io.NopCloser(strings.NewReader(body)), "image/png", nil
}

func TestProcessRewritesGeneratedMedia(t *testing.T) {
	fetcher := newTestFetcher(t, map[string]string{"/assets/gen1.png": "pixels"})
	p := NewProcessor(testStreamConfig(), fetcher)

	terminal := `{"result":{"response":{"modelResponse":{"message":"Here you go","generatedImageUrls":["/assets/gen1.png"]}}}}`
	r := readerFor(eventLine("Here you go", false), terminal)

	c := &collector{}
	result, err := p.Process(context.Background(), r, "sso-x", "", c.emit)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.MediaURLs) != 1 {
		t.Fatalf("media urls = %v", result.MediaURLs)
	}
	if !strings.HasPrefix(result.MediaURLs[0], "/media/") {
		t.Fatalf("media url not rewritten to the cache: %q", result.MediaURLs[0])
	}
	if !strings.Contains(result.Content, result.MediaURLs[0]) {
		t.Fatalf("content does not reference rewritten media: %q", result.Content)
	}
}

func TestProcessCapturesJobID(t *testing.T) {
	p := NewProcessor(testStreamConfig(), nil)
	terminal := `{"result":{"response":{"modelResponse":{"message":"","jobId":"job-123"}}}}`
	r := readerFor(terminal)

	result, err := p.Process(context.Background(), r, "sso-x", "", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.JobID != "job-123" {
		t.Fatalf("job id = %q", result.JobID)
	}
}

func TestExtractRefsSkipsRewrittenAndDataURLs(t *testing.T) {
	message := "![a](/assets/raw.png) ![b](/media/deadbeef) ![c](data:image/png;base64,AAAA)"
	refs := extractRefs(message, "/media")
	if len(refs) != 1 || refs[0] != "/assets/raw.png" {
		t.Fatalf("refs = %v", refs)
	}
}

func TestExtractRefsVideoTag(t *testing.T) {
	message := `<video controls src="/assets/clip.mp4"></video>`
	refs := extractRefs(message, "/media")
	if len(refs) != 1 || refs[0] != "/assets/clip.mp4" {
		t.Fatalf("refs = %v", refs)
	}
}

func TestEmitErrorAbortsSession(t *testing.T) {
	p := NewProcessor(testStreamConfig(), nil)
	r := readerFor(eventLine("a", false), eventLine("b", false))

	c := &collector{err: errors.New("client gone")}
	_, err := p.Process(context.Background(), r, "sso-x", "", c.emit)
	if err == nil || !strings.Contains(err.Error(), "client gone") {
		t.Fatalf("err = %v", err)
	}
}
