package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/service"
)

// GovernanceHandler exposes the governance and session surfaces.
type GovernanceHandler struct {
	governance *service.GovernanceService
	admin      *service.SessionAdminService
	metrics    *Metrics
}

// NewGovernanceHandler creates the handler. metrics may be nil in tests.
func NewGovernanceHandler(governance *service.GovernanceService, admin *service.SessionAdminService, metrics *Metrics) *GovernanceHandler {
	return &GovernanceHandler{
		governance: governance,
		admin:      admin,
		metrics:    metrics,
	}
}

// Register attaches the governance routes to the mux.
func (h *GovernanceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/governance/evaluate", h.handleEvaluate)
	mux.HandleFunc("POST /v1/governance/preview", h.handlePreview)
	mux.HandleFunc("POST /v1/sessions", h.handleIssueSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.handleRevokeSession)
}

// handleEvaluate runs one governance decision.
// POST /v1/governance/evaluate
func (h *GovernanceHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req service.GovernanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	resp, err := h.governance.Evaluate(r.Context(), req)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		LoggerFromContext(r.Context()).Error("evaluation failed",
			"session_id", req.SessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	if h.metrics != nil {
		h.metrics.EvaluationsTotal.WithLabelValues(string(resp.Decision), string(resp.State)).Inc()
		if resp.EscalationID != "" && resp.Decision == breaker.Block {
			h.metrics.EscalationsTotal.Inc()
			h.metrics.EscalationsPending.Inc()
		}
		if resp.ReasonCode == service.ReasonCodeNonceReplay {
			h.metrics.NonceReplaysTotal.Inc()
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handlePreview evaluates the spending rules without side effects.
// POST /v1/governance/preview
func (h *GovernanceHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req service.GovernanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	results, err := h.governance.Preview(r.Context(), req)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "preview failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// handleIssueSession issues a new delegation session.
// POST /v1/sessions
func (h *GovernanceHandler) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	var req service.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := h.admin.Issue(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoIntents), errors.Is(err, session.ErrTTLTooLong):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			LoggerFromContext(r.Context()).Error("session issuance failed", "error", err)
			respondError(w, http.StatusInternalServerError, "session issuance failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, sess)
}

// handleGetSession returns a session by ID.
// GET /v1/sessions/{id}
func (h *GovernanceHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.admin.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleRevokeSession revokes a session. The user's kill switch.
// DELETE /v1/sessions/{id}
func (h *GovernanceHandler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.admin.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     string(session.StatusRevoked),
	})
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
