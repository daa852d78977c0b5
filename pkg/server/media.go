package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/openai"
)

// handleMedia serves cached artifacts. Keys are content hashes, so responses
// are immutable and cacheable forever.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, art, err := s.deps.Fetcher.Cache().Open(key)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				openai.NewError("invalid_request_error", "not_found", "media artifact not found"))
			return
		}
		apiError(w, err)
		return
	}
	defer body.Close()

	contentType := art.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = io.Copy(w, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
