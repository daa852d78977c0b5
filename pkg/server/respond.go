package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/stream"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body *openai.ErrorResponse) {
	writeJSON(w, status, body)
}

// apiError maps internal failures onto the OpenAI error envelope. Upstream
// detail stays in the message; the status reflects who is at fault.
func apiError(w http.ResponseWriter, err error) {
	status, envelope := errorEnvelope(err)
	writeError(w, status, envelope)
}

// errorEnvelope classifies an internal failure into an HTTP status and the
// OpenAI error body. Streaming handlers reuse the body as a terminal error
// frame.
func errorEnvelope(err error) (int, *openai.ErrorResponse) {
	var retryableErr *upstream.RetryableError
	var fatalErr *upstream.FatalError
	var timeoutErr *stream.TimeoutError
	var exhausted *orchestrator.ExhaustedError

	switch {
	case errors.Is(err, orchestrator.ErrNoCredential):
		return http.StatusServiceUnavailable,
			openai.NewError("server_error", "no_credentials", "no usable credentials available")

	case errors.Is(err, video.ErrNotFound):
		return http.StatusNotFound,
			openai.NewError("invalid_request_error", "not_found", "video task not found")

	case errors.Is(err, video.ErrNotCompleted):
		return http.StatusConflict,
			openai.NewError("invalid_request_error", "not_completed", "video task is not completed")

	case errors.Is(err, video.ErrTaskLimit):
		return http.StatusTooManyRequests,
			openai.NewError("rate_limit_error", "task_limit", "video task limit reached")

	case errors.As(err, &exhausted):
		return http.StatusBadGateway,
			openai.NewError("server_error", "upstream_exhausted", err.Error())

	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout,
			openai.NewError("server_error", "upstream_timeout", err.Error())

	case errors.As(err, &fatalErr):
		return http.StatusBadGateway,
			openai.NewError("server_error", "upstream_rejected", fatalErr.Message)

	case errors.As(err, &retryableErr):
		return http.StatusBadGateway,
			openai.NewError("server_error", "upstream_error", retryableErr.Message)

	default:
		return http.StatusInternalServerError,
			openai.NewError("server_error", "internal_error", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest,
			openai.NewError("invalid_request_error", "invalid_json", "request body is not valid JSON: "+err.Error()))
		return false
	}
	return true
}
