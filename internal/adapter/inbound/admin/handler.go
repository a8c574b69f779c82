// Package admin provides the human review surface: listing and resolving
// escalations, inspecting sessions, and reading the audit trail.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/auth"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/service"
)

// Handler serves the admin API under /admin/api/v1/.
type Handler struct {
	escalations *service.EscalationService
	sessions    *service.SessionAdminService
	authService *auth.Service
	logger      *slog.Logger

	// configExport, when non-nil, is marshalled to YAML by the config
	// export endpoint. Secrets must already be redacted.
	configExport any
}

// Option configures the Handler.
type Option func(*Handler)

// WithConfigExport enables GET /admin/api/v1/config with the given
// (redacted) configuration value.
func WithConfigExport(cfg any) Option {
	return func(h *Handler) { h.configExport = cfg }
}

// NewHandler creates the admin API handler. authService may be nil, which
// restricts the surface to localhost (no key required).
func NewHandler(escalations *service.EscalationService, sessions *service.SessionAdminService, authService *auth.Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		escalations: escalations,
		sessions:    sessions,
		authService: authService,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin routes mounted.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/api/v1/escalations",
		h.requireRole(auth.RoleAuditor, h.handleListEscalations))
	mux.HandleFunc("GET /admin/api/v1/escalations/{id}",
		h.requireRole(auth.RoleAuditor, h.handleGetEscalation))
	mux.HandleFunc("POST /admin/api/v1/escalations/{id}/resolve",
		h.requireRole(auth.RoleReviewer, h.handleResolveEscalation))

	mux.HandleFunc("GET /admin/api/v1/sessions",
		h.requireRole(auth.RoleAuditor, h.handleListSessions))
	mux.HandleFunc("GET /admin/api/v1/sessions/{id}/evaluations",
		h.requireRole(auth.RoleAuditor, h.handleSessionEvaluations))
	mux.HandleFunc("DELETE /admin/api/v1/sessions/{id}",
		h.requireRole(auth.RoleAdmin, h.handleRevokeSession))

	if h.configExport != nil {
		mux.HandleFunc("GET /admin/api/v1/config",
			h.requireRole(auth.RoleAdmin, h.handleConfigExport))
	}

	return mux
}

// handleListEscalations returns all pending escalations, oldest first.
// GET /admin/api/v1/escalations
func (h *Handler) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.escalations.ListPending(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list escalations")
		return
	}
	if pending == nil {
		pending = []*risk.HumanEscalation{}
	}
	h.respondJSON(w, http.StatusOK, pending)
}

// handleGetEscalation returns one escalation by ID.
// GET /admin/api/v1/escalations/{id}
func (h *Handler) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	esc, err := h.escalations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, risk.ErrEscalationNotFound) {
			h.respondError(w, http.StatusNotFound, "escalation not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "escalation lookup failed")
		return
	}
	h.respondJSON(w, http.StatusOK, esc)
}

// resolveRequest is the JSON body for resolving an escalation.
type resolveRequest struct {
	Decision   risk.EscalationDecision `json:"decision"`
	Conditions []string                `json:"conditions,omitempty"`
	Notes      string                  `json:"notes,omitempty"`
}

// handleResolveEscalation applies a reviewer decision.
// POST /admin/api/v1/escalations/{id}/resolve
func (h *Handler) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reviewer := reviewerFromContext(r.Context())
	reviewerID := "local-admin"
	if reviewer != nil {
		reviewerID = reviewer.ID
	}

	esc, err := h.escalations.Resolve(r.Context(), service.Resolution{
		EscalationID: r.PathValue("id"),
		ReviewerID:   reviewerID,
		Decision:     req.Decision,
		Conditions:   req.Conditions,
		Notes:        req.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrEscalationNotFound):
			h.respondError(w, http.StatusNotFound, "escalation not found")
		case errors.Is(err, risk.ErrEscalationResolved):
			h.respondError(w, http.StatusConflict, "escalation already resolved")
		case errors.Is(err, breaker.ErrUnknownDecision):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, breaker.ErrInvalidTransition):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("escalation resolution failed",
				"escalation_id", r.PathValue("id"), "error", err)
			h.respondError(w, http.StatusInternalServerError, "resolution failed")
		}
		return
	}
	h.respondJSON(w, http.StatusOK, esc)
}

// handleListSessions returns all sessions, most recent first.
// GET /admin/api/v1/sessions
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	h.respondJSON(w, http.StatusOK, sessions)
}

// handleSessionEvaluations returns a session's audit trail.
// GET /admin/api/v1/sessions/{id}/evaluations
func (h *Handler) handleSessionEvaluations(w http.ResponseWriter, r *http.Request) {
	evaluations, err := h.sessions.Evaluations(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	if evaluations == nil {
		evaluations = []*risk.Evaluation{}
	}
	h.respondJSON(w, http.StatusOK, evaluations)
}

// handleRevokeSession revokes a session from the admin surface.
// DELETE /admin/api/v1/sessions/{id}
func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     string(session.StatusRevoked),
	})
}

// handleConfigExport returns the redacted running configuration as YAML.
// GET /admin/api/v1/config
func (h *Handler) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	data, err := yaml.Marshal(h.configExport)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "config export failed")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
