package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
)

// IssueRequest is a request to issue a new delegation session.
type IssueRequest struct {
	UserWallet string           `json:"user_wallet"`
	AgentID    string           `json:"agent_id"`
	Intents    []session.Intent `json:"intents"`
	Rules      []rule.Rule      `json:"rules,omitempty"`
	// TTL defaults to the session manager's configured default.
	TTL time.Duration `json:"ttl,omitempty"`
}

// SessionAdminService issues and revokes sessions and serves the audit
// trail. Revocation is the user's kill switch: it takes effect on the
// breaker immediately, not on the next evaluation.
type SessionAdminService struct {
	sessions *session.Manager
	breakers *breaker.Registry
	trail    risk.EvaluationStore
	logger   *slog.Logger
	clock    func() time.Time
}

// NewSessionAdminService creates the session administration service.
func NewSessionAdminService(sessions *session.Manager, breakers *breaker.Registry, trail risk.EvaluationStore, logger *slog.Logger) *SessionAdminService {
	return &SessionAdminService{
		sessions: sessions,
		breakers: breakers,
		trail:    trail,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a new ACTIVE session carrying the given intents and rules.
func (s *SessionAdminService) Issue(ctx context.Context, req IssueRequest) (*session.Session, error) {
	set := rule.Set{Rules: req.Rules, CreatedAt: s.clock()}
	sess, err := s.sessions.Issue(ctx, req.UserWallet, req.AgentID, req.Intents, set, req.TTL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session issued",
		"session_id", sess.ID,
		"agent_id", sess.AgentID,
		"user_wallet", sess.UserWallet,
		"intents", len(sess.Intents),
		"rules", len(req.Rules),
		"rules_fingerprint", fmt.Sprintf("%016x", set.Fingerprint()),
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// Revoke revokes the session and immediately terminates its breaker.
// Idempotent: revoking an already-revoked or expired session succeeds
// without effect.
func (s *SessionAdminService) Revoke(ctx context.Context, id string) error {
	if err := s.sessions.Revoke(ctx, id); err != nil {
		return err
	}
	if b, ok := s.breakers.Lookup(id); ok {
		b.ForceTerminate()
	}
	s.logger.Info("session revoked", "session_id", id)
	return nil
}

// SetClock overrides the service's time source. Test hook.
func (s *SessionAdminService) SetClock(clock func() time.Time) { s.clock = clock }

// Get returns a session by ID.
func (s *SessionAdminService) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Get(ctx, id)
}

// CountActive returns how many sessions are ACTIVE and not past expiry.
// Sessions expire passively, so the count is computed from store state
// rather than maintained incrementally.
func (s *SessionAdminService) CountActive(ctx context.Context) (int, error) {
	all, err := s.sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock()
	n := 0
	for _, sess := range all {
		if sess.Status == session.StatusActive && !sess.ExpiredAt(now) {
			n++
		}
	}
	return n, nil
}

// List returns all stored sessions, most recent first.
func (s *SessionAdminService) List(ctx context.Context) ([]*session.Session, error) {
	return s.sessions.List(ctx)
}

// Evaluations returns the session's audit trail in insertion order.
func (s *SessionAdminService) Evaluations(ctx context.Context, sessionID string) ([]*risk.Evaluation, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.trail.BySession(ctx, sessionID)
}
