package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/openai"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic while handling request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec)
				writeError(w, http.StatusInternalServerError,
					openai.NewError("server_error", "internal_error", "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey enforces the client bearer token when one is configured.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && bearerToken(r) != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized,
				openai.NewError("invalid_request_error", "invalid_api_key", "invalid API key"))
			return
		}
		next(w, r)
	}
}

// requireAdmin enforces the admin token. With no token configured the
// admin surface is closed.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" || bearerToken(r) != s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized,
				openai.NewError("invalid_request_error", "invalid_admin_token", "invalid admin token"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}
