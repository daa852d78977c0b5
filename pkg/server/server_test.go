package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/calllog"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/proxypool"
	"github.com/Mouseww/grok2api-pro/pkg/store"
	"github.com/Mouseww/grok2api-pro/pkg/stream"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

const (
	testAPIKey     = "sk-test"
	testAdminToken = "admin-test"
	testAccount    = "sso-token-abcdef123456"
)

type transportFunc func(ctx context.Context, req *upstream.Request) (*upstream.Response, error)

func (f transportFunc) Do(ctx context.Context, req *upstream.Request) (*upstream.Response, error) {
	return f(ctx, req)
}

func textResponse(status int, contentType, body string) *upstream.Response {
	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	return &upstream.Response{
		StatusCode: status,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func eventStream(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func tokenEvent(token string) string {
	return `{"result":{"response":{"token":"` + token + `"}}}`
}

func newTestHandler(t *testing.T, transport upstream.Transport) (http.Handler, *Server) {
	return newTestHandlerWithConfig(t, transport, nil)
}

func newTestHandlerWithConfig(t *testing.T, transport upstream.Transport, tune func(*config.Config)) (http.Handler, *Server) {
	t.Helper()
	ctx := context.Background()

	cfg := config.NewDefaultConfig()
	cfg.Server.APIKey = testAPIKey
	cfg.Server.AdminToken = testAdminToken
	cfg.Media.Dir = t.TempDir()
	if tune != nil {
		tune(cfg)
	}

	st := store.NewMemoryStore()

	accounts, err := account.NewPool(ctx, cfg.Accounts, st)
	if err != nil {
		t.Fatalf("account pool: %v", err)
	}
	if err := accounts.Add(testAccount); err != nil {
		t.Fatalf("add account: %v", err)
	}

	proxies, err := proxypool.NewPool(ctx, cfg.Proxies, st, nil, nil)
	if err != nil {
		t.Fatalf("proxy pool: %v", err)
	}

	recorder, err := calllog.NewRecorder(cfg.CallLog, st)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	t.Cleanup(func() { recorder.Close() })

	client := upstream.NewClient(&cfg.Upstream, transport)
	orch := orchestrator.New(cfg.Upstream, accounts, proxies, recorder)

	cache, err := media.NewCache(cfg.Media)
	if err != nil {
		t.Fatalf("media cache: %v", err)
	}
	fetcher := media.NewFetcher(cache, client, cfg.Media.DownloadTimeout)
	processor := stream.NewProcessor(cfg.Stream, fetcher)

	gateway := NewVideoGateway(orch, client, processor)
	videos, err := video.NewManager(ctx, cfg.Video, st, gateway, gateway, fetcher)
	if err != nil {
		t.Fatalf("video manager: %v", err)
	}

	srv := NewServer(cfg.Server, Deps{
		Accounts:     accounts,
		Proxies:      proxies,
		Orchestrator: orch,
		Upstream:     client,
		Processor:    processor,
		Fetcher:      fetcher,
		Videos:       videos,
		CallLog:      recorder,
	})
	return srv.Handler(), srv
}

func authedRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
		if !strings.Contains(req.URL, "conversations/new") {
			t.Fatalf("unexpected upstream URL %q", req.URL)
		}
		return textResponse(http.StatusOK, "text/event-stream", eventStream(
			tokenEvent("Hello"),
			tokenEvent(" world"),
			`{"result":{"response":{"modelResponse":{"message":"Hello world"}}}}`,
		)), nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions",
		`{"model":"grok-3","messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if got := resp.Choices[0].Message.Content.Text; got != "Hello world" {
		t.Errorf("expected content %q, got %q", "Hello world", got)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason stop, got %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil {
		t.Error("expected usage to be set")
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return textResponse(http.StatusOK, "text/event-stream", eventStream(
			tokenEvent("a"),
			tokenEvent("b"),
		)), nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions",
		`{"model":"grok-3","stream":true,"messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	var chunks []openai.StreamChunk
	sawDone := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk openai.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", data, err)
		}
		chunks = append(chunks, chunk)
	}
	if !sawDone {
		t.Error("expected [DONE] sentinel")
	}
	if len(chunks) < 3 {
		t.Fatalf("expected role, content, and finish chunks, got %d", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Errorf("expected first chunk to carry the role, got %+v", chunks[0].Choices[0].Delta)
	}
	var content strings.Builder
	for _, chunk := range chunks {
		content.WriteString(chunk.Choices[0].Delta.Content)
	}
	if content.String() != "ab" {
		t.Errorf("expected streamed content %q, got %q", "ab", content.String())
	}
	last := chunks[len(chunks)-1]
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "stop" {
		t.Errorf("expected final chunk finish_reason stop, got %+v", last.Choices[0])
	}
}

func TestChatCompletions_Unauthorized(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		t.Fatal("upstream must not be called without auth")
		return nil, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"grok-3","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestChatCompletions_InvalidBody(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return nil, nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions", `{not json`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"grok-3","messages":[]}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d", rec.Code)
	}
}

func TestChatCompletions_UpstreamExhausted(t *testing.T) {
	calls := 0
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		calls++
		return textResponse(http.StatusTooManyRequests, "application/json", `{"error":"rate limited"}`), nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions",
		`{"model":"grok-3","messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls != 1 {
		// One credential in the pool, so the loop stops after it is
		// excluded.
		t.Errorf("expected exactly 1 upstream call, got %d", calls)
	}
}

func TestListModels(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return nil, nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/models", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var list openai.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ids := make(map[string]bool)
	for _, m := range list.Data {
		ids[m.ID] = true
	}
	for _, want := range []string{"grok-3", "grok-4", video.ModelSora, video.ModelGrokImagine} {
		if !ids[want] {
			t.Errorf("model listing missing %q", want)
		}
	}
}

func TestImageGenerations(t *testing.T) {
	imageBytes := "fake-jpeg-bytes"
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
		if strings.Contains(req.URL, "conversations/new") {
			return textResponse(http.StatusOK, "text/event-stream", eventStream(
				`{"result":{"response":{"modelResponse":{"message":"here","generatedImageUrls":["/generated/img1.jpg"]}}}}`,
			)), nil
		}
		if strings.Contains(req.URL, "/generated/img1.jpg") {
			return textResponse(http.StatusOK, "image/jpeg", imageBytes), nil
		}
		t.Fatalf("unexpected upstream URL %q", req.URL)
		return nil, nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/images/generations",
		`{"prompt":"a cat"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp openai.ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 image, got %d", len(resp.Data))
	}
	url := resp.Data[0].URL
	if !strings.HasPrefix(url, "/media/") {
		t.Fatalf("expected cached media URL, got %q", url)
	}

	// The rewritten URL must serve the artifact.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cached artifact, got %d", rec.Code)
	}
	if rec.Body.String() != imageBytes {
		t.Errorf("artifact content mismatch")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
}

func TestImageGenerations_B64JSON(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
		if strings.Contains(req.URL, "conversations/new") {
			return textResponse(http.StatusOK, "text/event-stream", eventStream(
				`{"result":{"response":{"modelResponse":{"message":"","generatedImageUrls":["/generated/img2.png"]}}}}`,
			)), nil
		}
		return textResponse(http.StatusOK, "image/png", "png-bytes"), nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/images/generations",
		`{"prompt":"a dog","response_format":"b64_json"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp openai.ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].B64JSON == "" {
		t.Fatalf("expected inline base64 image, got %+v", resp.Data)
	}
	if resp.Data[0].URL != "" {
		t.Errorf("expected no URL in b64_json mode, got %q", resp.Data[0].URL)
	}
}

func TestVideoCreateAndGet(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
		if strings.Contains(req.URL, "conversations/new") {
			return textResponse(http.StatusOK, "text/event-stream", eventStream(
				`{"result":{"response":{"modelResponse":{"message":"","jobId":"job-42"}}}}`,
			)), nil
		}
		t.Fatalf("unexpected upstream URL %q", req.URL)
		return nil, nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/videos",
		`{"prompt":"a sunrise","model":"sora-2"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var job openai.VideoJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(job.ID, "video_") {
		t.Errorf("expected video_ id prefix, got %q", job.ID)
	}
	if job.Status != openai.VideoStatusQueued {
		t.Errorf("expected queued, got %q", job.Status)
	}
	if job.Model != "sora-2" {
		t.Errorf("expected caller-facing model name, got %q", job.Model)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/videos/"+job.ID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/videos", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d", rec.Code)
	}
	var list openai.VideoList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Data) != 1 || list.FirstID != job.ID {
		t.Errorf("unexpected listing: %+v", list)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodDelete, "/v1/videos/"+job.ID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/videos/"+job.ID, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestVideoCreate_ImageToVideo(t *testing.T) {
	var uploaded bool
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
		body, _ := io.ReadAll(req.Body)
		switch {
		case strings.Contains(req.URL, "upload-file"):
			uploaded = true
			if !strings.Contains(string(body), base64.StdEncoding.EncodeToString([]byte("source-image"))) {
				t.Errorf("upload body missing reference bytes: %s", body)
			}
			return textResponse(http.StatusOK, "application/json", `{"fileMetadataId":"file-77"}`), nil
		case strings.Contains(req.URL, "conversations/new"):
			if !strings.Contains(string(body), `"file-77"`) {
				t.Errorf("start payload missing uploaded reference: %s", body)
			}
			return textResponse(http.StatusOK, "text/event-stream", eventStream(
				`{"result":{"response":{"modelResponse":{"message":"","jobId":"job-43"}}}}`,
			)), nil
		}
		t.Fatalf("unexpected upstream URL %q", req.URL)
		return nil, nil
	}))

	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("source-image"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/videos",
		`{"prompt":"animate this","input_reference":"`+ref+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !uploaded {
		t.Fatal("input reference was never uploaded")
	}

	var job openai.VideoJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.InputReference != ref {
		t.Errorf("job did not retain the input reference: %+v", job)
	}
}

func TestVideoContent_NotCompleted(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return textResponse(http.StatusOK, "text/event-stream", eventStream(
			`{"result":{"response":{"modelResponse":{"message":"","jobId":"job-7"}}}}`,
		)), nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/videos", `{"prompt":"x"}`))
	var job openai.VideoJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/videos/"+job.ID+"/content", ""))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for incomplete task, got %d", rec.Code)
	}
}

func TestMediaNotFound(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return nil, nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/deadbeef", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminAccounts(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return nil, nil
	}))

	// No admin token is a closed door.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Accounts []accountView `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(resp.Accounts))
	}
	if resp.Accounts[0].Token == testAccount {
		t.Error("expected the listed token to be redacted")
	}

	// Add then remove a second credential.
	req = httptest.NewRequest(http.MethodPost, "/admin/accounts", strings.NewReader(`{"token":"second-token-xyz"}`))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on add, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/admin/accounts/second-token-xyz", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	handler, _ := newTestHandler(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		return nil, nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChatCompletions_StreamingMidStreamFailure(t *testing.T) {
	body, bodyWriter := io.Pipe()
	t.Cleanup(func() { bodyWriter.Close() })

	handler, _ := newTestHandlerWithConfig(t, transportFunc(func(_ context.Context, _ *upstream.Request) (*upstream.Response, error) {
		headers := http.Header{}
		headers.Set("Content-Type", "text/event-stream")
		return &upstream.Response{StatusCode: http.StatusOK, Headers: headers, Body: body}, nil
	}), func(cfg *config.Config) {
		cfg.Stream.StallTimeout = 50 * time.Millisecond
	})

	go func() {
		// One token reaches the wire, then the upstream goes quiet until
		// the stall watchdog fires.
		bodyWriter.Write([]byte(tokenEvent("partial answer") + "\n"))
	}()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions",
		`{"model":"grok-3","stream":true,"messages":[{"role":"user","content":"hi"}]}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once streaming begins, got %d: %s", rec.Code, rec.Body.String())
	}

	var frames []string
	sawDone := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		frames = append(frames, data)
	}
	if !sawDone {
		t.Error("expected [DONE] sentinel after the error frame")
	}
	if len(frames) < 3 {
		t.Fatalf("expected role, content, and error frames, got %d: %v", len(frames), frames)
	}

	var partial openai.StreamChunk
	if err := json.Unmarshal([]byte(frames[1]), &partial); err != nil {
		t.Fatalf("decode content chunk %q: %v", frames[1], err)
	}
	if partial.Choices[0].Delta.Content != "partial answer" {
		t.Errorf("expected the partial content on the wire, got %+v", partial.Choices[0].Delta)
	}

	var terminal openai.ErrorResponse
	if err := json.Unmarshal([]byte(frames[len(frames)-1]), &terminal); err != nil {
		t.Fatalf("decode error frame %q: %v", frames[len(frames)-1], err)
	}
	if terminal.Error.Type != "server_error" || terminal.Error.Code != "upstream_timeout" {
		t.Errorf("expected a timeout error envelope, got %+v", terminal.Error)
	}
}
