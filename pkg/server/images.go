package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

// maxImagesPerRequest caps the n parameter. Each image is one upstream
// conversation, so large fans multiply quota spend.
const maxImagesPerRequest = 4

func (s *Server) handleImageGenerations(w http.ResponseWriter, r *http.Request) {
	var req openai.ImageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest,
			openai.NewError("invalid_request_error", "missing_prompt", "prompt must not be empty"))
		return
	}

	n := req.N
	if n < 1 {
		n = 1
	}
	if n > maxImagesPerRequest {
		n = maxImagesPerRequest
	}
	model := req.Model
	if model == "" {
		model = video.ModelGrokImagine
	}
	start := time.Now()

	var data []openai.ImageData
	for i := 0; i < n; i++ {
		urls, err := s.generateImage(r.Context(), model, req.Prompt)
		if err != nil {
			if len(data) == 0 {
				s.observeRequest(model, "error", start)
				apiError(w, err)
				return
			}
			// Partial results are still results.
			s.logger.Warn("image generation attempt failed mid-batch",
				"generated", len(data), "requested", n, "error", err)
			break
		}
		for _, url := range urls {
			data = append(data, s.imageData(url, req.ResponseFormat))
		}
	}

	if len(data) == 0 {
		s.observeRequest(model, "error", start)
		writeError(w, http.StatusBadGateway,
			openai.NewError("server_error", "no_images", "upstream returned no images"))
		return
	}

	s.observeRequest(model, "ok", start)
	writeJSON(w, http.StatusOK, &openai.ImageResponse{
		Created: time.Now().Unix(),
		Data:    data,
	})
}

// generateImage runs one orchestrated image-generation conversation and
// returns the cached media URLs.
func (s *Server) generateImage(ctx context.Context, model, prompt string) ([]string, error) {
	var urls []string
	_, err := s.deps.Orchestrator.Execute(ctx, &orchestrator.Request{
		Model:      model,
		ModelClass: "imagine",
		Attempt: func(ctx context.Context, credID, proxy string) ([]string, error) {
			body, err := s.deps.Upstream.StartConversation(ctx, credID, proxy, &upstream.ChatPayload{
				Temporary:       true,
				ModelName:       video.UpstreamModel(model),
				Message:         prompt,
				ImageGeneration: true,
			})
			if err != nil {
				return nil, err
			}
			res, err := s.deps.Processor.Process(ctx, upstream.NewEventReader(body), credID, proxy, nil)
			if err != nil {
				return nil, err
			}
			urls = res.MediaURLs
			return res.MediaURLs, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// imageData renders one generated image in the requested response format.
func (s *Server) imageData(url, format string) openai.ImageData {
	if format != "b64_json" {
		return openai.ImageData{URL: url}
	}
	if _, payload, ok := strings.Cut(url, ";base64,"); ok {
		// Inline mode already produced a data URL.
		return openai.ImageData{B64JSON: payload}
	}
	key := url[strings.LastIndex(url, "/")+1:]
	dataURL, err := s.deps.Fetcher.Cache().DataURL(key)
	if err != nil {
		s.logger.Warn("failed to inline image artifact", "key", key, "error", err)
		return openai.ImageData{URL: url}
	}
	_, payload, _ := strings.Cut(dataURL, ";base64,")
	return openai.ImageData{B64JSON: payload}
}
