package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/StricklySoft/tenantauth/pkg/auth"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/service"
)

// tokenRequest is the optional body of POST /auth/token.
type tokenRequest struct {
	Scopes []string `json:"scopes"`
}

// authorizationResponse echoes a verified caller.
type authorizationResponse struct {
	Authenticated bool         `json:"authenticated"`
	Message       string       `json:"message,omitempty"`
	Context       auth.Summary `json:"context"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		auth.WriteError(w, sserr.Wrap(err, sserr.CodeValidationFormat, "request body must be a JSON object"))
		return
	}

	tok, err := s.backend.IssueServiceToken(r.Context(), r.Header.Get(HeaderAppKey), req.Scopes)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustAuthorizationFromContext(r.Context())
	writeJSON(w, http.StatusOK, authorizationResponse{Authenticated: true, Context: ac.Summary()})
}

func (s *Server) handleAdminTest(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustAuthorizationFromContext(r.Context())
	writeJSON(w, http.StatusOK, authorizationResponse{
		Authenticated: true,
		Message:       "backend admin access granted",
		Context:       ac.Summary(),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := s.backend.InvalidateTenant(r.Context(), tenantID); err != nil {
		auth.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccessSummary(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := auth.RequireTenantAccess(r.Context(), tenantID); err != nil {
		auth.WriteError(w, err)
		return
	}
	summary, err := s.backend.AccessSummary(r.Context(), tenantID)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	if summary == nil {
		auth.WriteError(w, sserr.Newf(sserr.CodeNotFoundTenant, "no access recorded for tenant %q", tenantID))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.Health(r.Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
		report.Status = service.StatusUnavailable
	}
	writeJSON(w, status, report)
}
