package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/calllog"
	"github.com/Mouseww/grok2api-pro/pkg/openai"
)

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/accounts", s.requireAdmin(s.handleAdminListAccounts))
	mux.HandleFunc("POST /admin/accounts", s.requireAdmin(s.handleAdminAddAccount))
	mux.HandleFunc("DELETE /admin/accounts/{id}", s.requireAdmin(s.handleAdminDeleteAccount))
	mux.HandleFunc("POST /admin/accounts/{id}/enable", s.requireAdmin(s.handleAdminEnableAccount))

	mux.HandleFunc("GET /admin/proxies", s.requireAdmin(s.handleAdminListProxies))
	mux.HandleFunc("POST /admin/proxies/assign", s.requireAdmin(s.handleAdminAssignProxy))
	mux.HandleFunc("POST /admin/proxies/unassign", s.requireAdmin(s.handleAdminUnassignProxy))
	mux.HandleFunc("POST /admin/proxies/test", s.requireAdmin(s.handleAdminTestProxy))
	mux.HandleFunc("POST /admin/proxies/reset", s.requireAdmin(s.handleAdminResetProxy))
	mux.HandleFunc("POST /admin/proxies/refresh", s.requireAdmin(s.handleAdminRefreshProxies))

	mux.HandleFunc("GET /admin/calllog", s.requireAdmin(s.handleAdminQueryCallLog))
	mux.HandleFunc("GET /admin/calllog/stats", s.requireAdmin(s.handleAdminCallLogStats))
	mux.HandleFunc("DELETE /admin/calllog/{id}", s.requireAdmin(s.handleAdminDeleteCallLog))
}

// accountView is the admin listing shape. The token is redacted; the full
// token is the resource id for mutations.
type accountView struct {
	ID            string `json:"id"`
	Token         string `json:"token"`
	Status        string `json:"status"`
	Failures      int    `json:"consecutive_failures"`
	ProxyAddress  string `json:"proxy_address,omitempty"`
	LastUsed      string `json:"last_used,omitempty"`
	CooldownUntil string `json:"cooldown_until,omitempty"`
	TotalCalls    int64  `json:"total_calls"`
	TotalFailures int64  `json:"total_failures"`
}

func (s *Server) handleAdminListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.deps.Accounts.List()
	views := make([]accountView, 0, len(accounts))
	for _, acct := range accounts {
		view := accountView{
			ID:            acct.ID,
			Token:         account.Redact(acct.ID),
			Status:        string(acct.Status),
			Failures:      acct.ConsecutiveFailures,
			TotalCalls:    acct.TotalCalls,
			TotalFailures: acct.TotalFailures,
		}
		if proxy, ok := s.deps.Proxies.BoundProxy(acct.ID); ok {
			view.ProxyAddress = proxy
		}
		if !acct.LastUsed.IsZero() {
			view.LastUsed = acct.LastUsed.Format(time.RFC3339)
		}
		if !acct.CooldownUntil.IsZero() {
			view.CooldownUntil = acct.CooldownUntil.Format(time.RFC3339)
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (s *Server) handleAdminAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest,
			openai.NewError("invalid_request_error", "missing_token", "token must not be empty"))
		return
	}
	if err := s.deps.Accounts.Add(req.Token); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleAdminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.Remove(r.Context(), r.PathValue("id")); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleAdminEnableAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.Enable(r.PathValue("id")); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleAdminListProxies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"proxies": s.deps.Proxies.List()})
}

func (s *Server) handleAdminAssignProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID string `json:"credential_id"`
		ProxyAddress string `json:"proxy_address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Proxies.Bind(r.Context(), req.CredentialID, req.ProxyAddress); err != nil {
		apiError(w, err)
		return
	}
	s.deps.Accounts.SetProxyID(req.CredentialID, req.ProxyAddress)
	writeJSON(w, http.StatusOK, map[string]string{"status": "bound"})
}

func (s *Server) handleAdminUnassignProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID string `json:"credential_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Proxies.Unbind(r.Context(), req.CredentialID); err != nil {
		apiError(w, err)
		return
	}
	s.deps.Accounts.SetProxyID(req.CredentialID, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbound"})
}

func (s *Server) handleAdminTestProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProxyAddress string `json:"proxy_address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.deps.Proxies.HealthCheck(r.Context(), req.ProxyAddress)
	if err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminResetProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProxyAddress string `json:"proxy_address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Proxies.ResetHealth(r.Context(), req.ProxyAddress); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAdminRefreshProxies(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Proxies.RefreshFromSource(r.Context()); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed", "proxies": len(s.deps.Proxies.List())})
}

func (s *Server) handleAdminQueryCallLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := calllog.Filter{
		CredentialID: q.Get("credential_id"),
		Model:        q.Get("model"),
	}
	if raw := q.Get("success"); raw != "" {
		success := raw == "true"
		filter.Success = &success
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest,
				openai.NewError("invalid_request_error", "invalid_limit", "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := s.deps.CallLog.Query(r.Context(), filter)
	if err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAdminCallLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.CallLog.Stats(r.Context())
	if err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminDeleteCallLog(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.CallLog.Delete(r.Context(), r.PathValue("id")); err != nil {
		apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
