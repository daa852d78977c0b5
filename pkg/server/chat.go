package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/stream"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

// streamAbortError hides its cause's type so the attempt loop treats a
// failure after output already reached the caller as terminal instead of
// retrying into a response that cannot be restarted.
type streamAbortError struct {
	cause error
}

func (e *streamAbortError) Error() string {
	return "stream aborted after partial output: " + e.cause.Error()
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest,
			openai.NewError("invalid_request_error", "missing_messages", "messages must not be empty"))
		return
	}

	prompt := flattenMessages(req.Messages)
	attachments := collectAttachments(req.Messages)
	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	start := time.Now()

	if req.Stream {
		s.streamChat(r.Context(), w, &req, prompt, attachments, completionID, created, start)
		return
	}

	var final *stream.Result
	result, err := s.deps.Orchestrator.Execute(r.Context(), &orchestrator.Request{
		Model:      req.Model,
		ModelClass: modelClass(req.Model),
		Attempt: func(ctx context.Context, credID, proxy string) ([]string, error) {
			res, err := s.runConversation(ctx, &req, prompt, attachments, credID, proxy, nil)
			if err != nil {
				return nil, err
			}
			final = res
			return res.MediaURLs, nil
		},
	})
	if err != nil {
		s.observeRequest(req.Model, "error", start)
		s.observeTimeout(err)
		apiError(w, err)
		return
	}

	usage := estimateUsage(prompt, final)
	writeJSON(w, http.StatusOK, &openai.ChatResponse{
		ID:      completionID,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []openai.ChatChoice{{
			Index: 0,
			Message: openai.Message{
				Role:             "assistant",
				Content:          openai.MessageContent{Text: final.Content},
				ReasoningContent: final.Reasoning,
			},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
	s.observeRequest(req.Model, "ok", start)
	s.logger.Debug("chat completion served",
		"model", req.Model,
		"attempts", result.Attempts,
		"stream", false,
	)
}

func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, req *openai.ChatRequest, prompt string, attachments []*upstream.Attachment, completionID string, created int64, start time.Time) {
	sse := newSSEWriter(w)
	var final *stream.Result

	sentRole := false
	emit := func(d stream.Delta) error {
		if !sentRole {
			sentRole = true
			if err := sse.Send(streamChunk(completionID, created, req.Model, openai.Delta{Role: "assistant"}, nil)); err != nil {
				return err
			}
		}
		return sse.Send(streamChunk(completionID, created, req.Model, openai.Delta{
			Content:          d.Content,
			ReasoningContent: d.Reasoning,
		}, nil))
	}

	_, err := s.deps.Orchestrator.Execute(ctx, &orchestrator.Request{
		Model:      req.Model,
		ModelClass: modelClass(req.Model),
		Attempt: func(ctx context.Context, credID, proxy string) ([]string, error) {
			res, err := s.runConversation(ctx, req, prompt, attachments, credID, proxy, emit)
			if err != nil {
				if sse.Started() {
					// The cause type is hidden from the retry loop, so
					// record the watchdog firing here.
					s.observeTimeout(err)
					return nil, &streamAbortError{cause: err}
				}
				return nil, err
			}
			final = res
			return res.MediaURLs, nil
		},
	})
	if err != nil {
		s.observeRequest(req.Model, "error", start)
		s.observeTimeout(err)
		if !sse.Started() {
			apiError(w, err)
			return
		}
		// Output is already on the wire, so the failure has to travel
		// in-band: one error frame, then the terminator.
		cause := err
		var abort *streamAbortError
		if errors.As(err, &abort) {
			cause = abort.cause
		}
		_, envelope := errorEnvelope(cause)
		_ = sse.Send(envelope)
		sse.Done()
		return
	}

	if !sentRole {
		// Empty completion. The role chunk still has to precede the
		// finish chunk.
		_ = sse.Send(streamChunk(completionID, created, req.Model, openai.Delta{Role: "assistant"}, nil))
	}
	finish := "stop"
	chunk := streamChunk(completionID, created, req.Model, openai.Delta{}, &finish)
	chunk.Usage = estimateUsage(prompt, final)
	_ = sse.Send(chunk)
	sse.Done()
	s.observeRequest(req.Model, "ok", start)
}

// runConversation performs one upstream conversation attempt through the
// given pair, uploading attachments first.
func (s *Server) runConversation(ctx context.Context, req *openai.ChatRequest, prompt string, attachments []*upstream.Attachment, credID, proxy string, emit stream.EmitFunc) (*stream.Result, error) {
	var fileIDs []string
	if len(attachments) > 0 {
		ids, err := s.deps.Orchestrator.UploadAll(ctx, s.deps.Upstream, credID, proxy, attachments)
		if err != nil {
			return nil, err
		}
		fileIDs = ids
	}

	body, err := s.deps.Upstream.StartConversation(ctx, credID, proxy, &upstream.ChatPayload{
		Temporary:       true,
		ModelName:       upstreamChatModel(req.Model),
		Message:         prompt,
		FileAttachments: fileIDs,
		ImageGeneration: isImageModel(req.Model),
	})
	if err != nil {
		return nil, err
	}

	return s.deps.Processor.Process(ctx, upstream.NewEventReader(body), credID, proxy, emit)
}

// flattenMessages renders the conversation as the single prompt string the
// upstream accepts. A lone user message goes through verbatim.
func flattenMessages(messages []openai.Message) string {
	if len(messages) == 1 && messages[0].Role == "user" {
		return messages[0].Content.PlainText()
	}
	var b strings.Builder
	for _, msg := range messages {
		text := msg.Content.PlainText()
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(text)
	}
	return b.String()
}

// collectAttachments decodes data-URI images embedded in multi-part content.
// Remote image URLs are left in the prompt for the upstream to resolve.
func collectAttachments(messages []openai.Message) []*upstream.Attachment {
	var attachments []*upstream.Attachment
	for _, msg := range messages {
		for _, ref := range msg.Content.ImageURLs() {
			att, ok := decodeDataURI(ref, len(attachments))
			if ok {
				attachments = append(attachments, att)
			}
		}
	}
	return attachments
}

func decodeDataURI(ref string, index int) (*upstream.Attachment, bool) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, false
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return &upstream.Attachment{
		Name:     fmt.Sprintf("image_%d%s", index, extensionForMime(mimeType)),
		MimeType: mimeType,
		Data:     data,
	}, true
}

func extensionForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func streamChunk(id string, created int64, model string, delta openai.Delta, finish *string) *openai.StreamChunk {
	return &openai.StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// estimateUsage approximates token counts from byte lengths. The upstream
// reports no usage, and clients expect the field.
func estimateUsage(prompt string, res *stream.Result) *openai.Usage {
	promptTokens := len(prompt) / 4
	completionTokens := (len(res.Content) + len(res.Reasoning)) / 4
	return &openai.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

func (s *Server) observeRequest(model, status string, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRequest(model, status, time.Since(start).Seconds())
	}
}

func (s *Server) observeTimeout(err error) {
	if s.deps.Metrics == nil {
		return
	}
	var timeoutErr *stream.TimeoutError
	if errors.As(err, &timeoutErr) {
		s.deps.Metrics.RecordStreamTimeout(timeoutErr.Kind.String())
	}
}
