package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/outbound/memory"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
)

type adminFixture struct {
	svc      *SessionAdminService
	sessions *session.Manager
	breakers *breaker.Registry
	trail    *memory.EvaluationStore
}

func newAdminFixture() *adminFixture {
	f := &adminFixture{
		sessions: session.NewManager(memory.NewSessionStore(), session.Config{}),
		breakers: breaker.NewRegistry(breaker.Config{}),
		trail:    memory.NewEvaluationStore(),
	}
	f.svc = NewSessionAdminService(f.sessions, f.breakers, f.trail, testLogger())
	return f
}

func issueRequest() IssueRequest {
	return IssueRequest{
		UserWallet: "wallet-1",
		AgentID:    "agent-1",
		Intents: []session.Intent{{
			ID:        "i1",
			Action:    "purchase",
			MaxAmount: money.New(500, "USD"),
			Merchants: []string{"acme"},
		}},
		Rules: []rule.Rule{{
			ID:     "r1",
			Kind:   rule.KindAmount,
			Amount: &rule.AmountConstraint{Limit: money.New(200, "USD")},
		}},
	}
}

func TestSessionAdminService_Issue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAdminFixture()

	sess, err := f.svc.Issue(ctx, issueRequest())
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if sess.Status != session.StatusActive || sess.Nonce != 0 {
		t.Errorf("session = %+v", sess)
	}
	if len(sess.Rules.Rules) != 1 {
		t.Errorf("rules = %+v, want the attached spending rule", sess.Rules.Rules)
	}

	got, err := f.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.AgentID != "agent-1" {
		t.Errorf("agent = %s", got.AgentID)
	}
}

func TestSessionAdminService_IssueRequiresIntents(t *testing.T) {
	t.Parallel()

	f := newAdminFixture()
	req := issueRequest()
	req.Intents = nil
	if _, err := f.svc.Issue(context.Background(), req); !errors.Is(err, session.ErrNoIntents) {
		t.Errorf("Issue() error = %v, want ErrNoIntents", err)
	}
}

func TestSessionAdminService_RevokeIsImmediateKillSwitch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAdminFixture()

	sess, err := f.svc.Issue(ctx, issueRequest())
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	// A breaker already exists for the session, as if evaluations ran.
	b := f.breakers.Get(sess.ID)
	if b.State() != risk.StateClosed {
		t.Fatalf("precondition: breaker state = %s", b.State())
	}

	if err := f.svc.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	// Revocation lands on the breaker immediately, not on the next
	// evaluation.
	if b.State() != risk.StateTerminated {
		t.Errorf("breaker state = %s, want TERMINATED", b.State())
	}
	got, _ := f.svc.Get(ctx, sess.ID)
	if got.Status != session.StatusRevoked {
		t.Errorf("session status = %s, want revoked", got.Status)
	}

	// Idempotent.
	if err := f.svc.Revoke(ctx, sess.ID); err != nil {
		t.Errorf("second Revoke() error: %v", err)
	}
}

func TestSessionAdminService_RevokeUnknownSession(t *testing.T) {
	t.Parallel()

	f := newAdminFixture()
	if err := f.svc.Revoke(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Revoke() error = %v, want ErrNotFound", err)
	}
}

func TestSessionAdminService_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAdminFixture()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Issue(ctx, issueRequest()); err != nil {
			t.Fatalf("Issue() error: %v", err)
		}
	}
	got, err := f.svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d sessions, want 3", len(got))
	}
}

func TestSessionAdminService_CountActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAdminFixture()

	first, err := f.svc.Issue(ctx, issueRequest())
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := f.svc.Issue(ctx, issueRequest()); err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if n, _ := f.svc.CountActive(ctx); n != 2 {
		t.Fatalf("CountActive() = %d, want 2", n)
	}

	// Revocation is idempotent; a repeated revoke must not count twice.
	if err := f.svc.Revoke(ctx, first.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if err := f.svc.Revoke(ctx, first.ID); err != nil {
		t.Fatalf("second Revoke() error: %v", err)
	}
	if n, _ := f.svc.CountActive(ctx); n != 1 {
		t.Errorf("CountActive() after double revoke = %d, want 1", n)
	}

	// Sessions past expiry stop counting even though no request has
	// flipped their stored status yet.
	f.svc.SetClock(func() time.Time { return time.Now().UTC().Add(30 * 24 * time.Hour) })
	if n, _ := f.svc.CountActive(ctx); n != 0 {
		t.Errorf("CountActive() past expiry = %d, want 0", n)
	}
}

func TestSessionAdminService_Evaluations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAdminFixture()

	sess, err := f.svc.Issue(ctx, issueRequest())
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	ev := &risk.Evaluation{
		ID:          "e1",
		SessionID:   sess.ID,
		State:       risk.StateClosed,
		EvaluatedAt: time.Now().UTC(),
	}
	if err := f.trail.Append(ctx, ev); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, err := f.svc.Evaluations(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Evaluations() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("trail = %+v", got)
	}

	// The session must exist; an unknown ID is not an empty trail.
	if _, err := f.svc.Evaluations(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Evaluations() error = %v, want ErrNotFound", err)
	}
}
