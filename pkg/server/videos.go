package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	var req openai.CreateVideoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest,
			openai.NewError("invalid_request_error", "missing_prompt", "prompt must not be empty"))
		return
	}

	task, err := s.deps.Videos.Create(r.Context(), &req)
	if err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Videos.View(task))
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	q := video.ListQuery{
		After: r.URL.Query().Get("after"),
		Order: r.URL.Query().Get("order"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			writeError(w, http.StatusBadRequest,
				openai.NewError("invalid_request_error", "invalid_limit", "limit must be an integer between 1 and 100"))
			return
		}
		q.Limit = limit
	}

	page := s.deps.Videos.List(q)
	list := openai.VideoList{
		Object:  "list",
		Data:    make([]openai.VideoJob, 0, len(page.Tasks)),
		FirstID: page.FirstID,
		LastID:  page.LastID,
		HasMore: page.HasMore,
	}
	for _, task := range page.Tasks {
		list.Data = append(list.Data, *s.deps.Videos.View(task))
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Videos.Get(r.PathValue("id"))
	if err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Videos.View(task))
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Videos.Delete(r.Context(), id); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, openai.VideoDeleted{ID: id, Object: "video.deleted", Deleted: true})
}

func (s *Server) handleRemixVideo(w http.ResponseWriter, r *http.Request) {
	var req openai.RemixVideoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest,
			openai.NewError("invalid_request_error", "missing_prompt", "prompt must not be empty"))
		return
	}

	task, err := s.deps.Videos.Remix(r.Context(), r.PathValue("id"), req.Prompt)
	if err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Videos.View(task))
}

func (s *Server) handleVideoContent(w http.ResponseWriter, r *http.Request) {
	art, key, err := s.deps.Videos.Content(r.PathValue("id"))
	if err != nil {
		apiError(w, err)
		return
	}

	body, _, err := s.deps.Fetcher.Cache().Open(key)
	if err != nil {
		apiError(w, err)
		return
	}
	defer body.Close()

	contentType := art.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	_, _ = io.Copy(w, body)
}
