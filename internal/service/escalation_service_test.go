package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/outbound/memory"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
)

type escFixture struct {
	svc      *EscalationService
	store    *memory.EscalationStore
	breakers *breaker.Registry
}

func newEscFixture(interval time.Duration) *escFixture {
	store := memory.NewEscalationStore()
	breakers := breaker.NewRegistry(breaker.Config{})
	return &escFixture{
		svc:      NewEscalationService(store, breakers, testLogger(), interval),
		store:    store,
		breakers: breakers,
	}
}

// trip opens the session's breaker and persists the resulting escalation,
// as the governance service would.
func (f *escFixture) trip(t *testing.T, sessionID string) *risk.HumanEscalation {
	t.Helper()

	b := f.breakers.Get(sessionID)
	_, _, esc := b.Evaluate(breaker.Input{
		RuleResults: []risk.ConditionResult{{
			Type:    risk.ConditionAmount,
			Status:  risk.StatusFail,
			Message: "daily limit exceeded",
		}},
	})
	if esc == nil {
		t.Fatal("breaker did not trip")
	}
	if err := f.store.Create(context.Background(), esc); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return esc
}

func TestEscalationService_ResolveApprove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	resolved, err := f.svc.Resolve(ctx, Resolution{
		EscalationID: esc.ID,
		ReviewerID:   "alice",
		Decision:     risk.DecisionApprove,
		Notes:        "reviewed the merchant, fine",
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !resolved.Resolved() || *resolved.Decision != risk.DecisionApprove {
		t.Errorf("resolution = %+v", resolved)
	}
	if resolved.ReviewerID != "alice" || resolved.Notes != "reviewed the merchant, fine" {
		t.Errorf("reviewer = %s notes = %q", resolved.ReviewerID, resolved.Notes)
	}

	b, _ := f.breakers.Lookup("s1")
	if b.State() != risk.StateClosed {
		t.Errorf("breaker state = %s, want CLOSED", b.State())
	}

	stored, _ := f.store.Get(ctx, esc.ID)
	if !stored.Resolved() {
		t.Error("resolution was not persisted")
	}
}

func TestEscalationService_ResolveWithConditions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	conditions := []string{`amount < 100.0`, `merchant == "acme"`}
	resolved, err := f.svc.Resolve(ctx, Resolution{
		EscalationID: esc.ID,
		ReviewerID:   "alice",
		Decision:     risk.DecisionApproveWithConditions,
		Conditions:   conditions,
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if len(resolved.Conditions) != 2 {
		t.Errorf("conditions = %v", resolved.Conditions)
	}

	b, _ := f.breakers.Lookup("s1")
	if b.State() != risk.StateHalfOpen {
		t.Errorf("breaker state = %s, want HALF_OPEN", b.State())
	}
}

func TestEscalationService_ResolveReject(t *testing.T) {
	t.Parallel()

	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	if _, err := f.svc.Resolve(context.Background(), Resolution{
		EscalationID: esc.ID,
		ReviewerID:   "alice",
		Decision:     risk.DecisionReject,
	}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	b, _ := f.breakers.Lookup("s1")
	if b.State() != risk.StateTerminated {
		t.Errorf("breaker state = %s, want TERMINATED", b.State())
	}
}

func TestEscalationService_ResolveExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	if _, err := f.svc.Resolve(ctx, Resolution{EscalationID: esc.ID, ReviewerID: "alice", Decision: risk.DecisionApprove}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	// A second ruling, whatever it says, is rejected.
	_, err := f.svc.Resolve(ctx, Resolution{EscalationID: esc.ID, ReviewerID: "bob", Decision: risk.DecisionReject})
	if !errors.Is(err, risk.ErrEscalationResolved) {
		t.Errorf("second Resolve() error = %v, want ErrEscalationResolved", err)
	}

	b, _ := f.breakers.Lookup("s1")
	if b.State() != risk.StateClosed {
		t.Errorf("breaker state = %s, the second ruling must not apply", b.State())
	}
}

func TestEscalationService_ResolveRejectsUnknownDecision(t *testing.T) {
	t.Parallel()

	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	_, err := f.svc.Resolve(context.Background(), Resolution{
		EscalationID: esc.ID,
		ReviewerID:   "alice",
		Decision:     risk.EscalationDecision("SHRUG"),
	})
	if !errors.Is(err, breaker.ErrUnknownDecision) {
		t.Errorf("Resolve() error = %v, want ErrUnknownDecision", err)
	}
}

func TestEscalationService_ResolveUnknownEscalation(t *testing.T) {
	t.Parallel()

	f := newEscFixture(0)
	_, err := f.svc.Resolve(context.Background(), Resolution{
		EscalationID: "missing",
		ReviewerID:   "alice",
		Decision:     risk.DecisionApprove,
	})
	if !errors.Is(err, risk.ErrEscalationNotFound) {
		t.Errorf("Resolve() error = %v, want ErrEscalationNotFound", err)
	}
}

func TestEscalationService_EscalateFurtherForwards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	forwarded, err := f.svc.Resolve(ctx, Resolution{
		EscalationID: esc.ID,
		ReviewerID:   "alice",
		Decision:     risk.DecisionEscalateFurther,
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if forwarded.ID == esc.ID {
		t.Fatal("forwarded escalation should be a new record")
	}
	if forwarded.Resolved() {
		t.Error("forwarded escalation should be pending")
	}
	if len(forwarded.FailedConditions) != len(esc.FailedConditions) {
		t.Error("forwarded escalation should carry the original failed conditions")
	}

	// The original is closed out; the breaker stays OPEN pending the
	// forwarded one.
	original, _ := f.store.Get(ctx, esc.ID)
	if !original.Resolved() || *original.Decision != risk.DecisionEscalateFurther {
		t.Errorf("original = %+v", original)
	}
	b, _ := f.breakers.Lookup("s1")
	if b.State() != risk.StateOpen {
		t.Errorf("breaker state = %s, want OPEN", b.State())
	}
	if b.PendingEscalationID() != forwarded.ID {
		t.Errorf("pending = %s, want %s", b.PendingEscalationID(), forwarded.ID)
	}

	// The higher authority resolves the forwarded escalation normally.
	if _, err := f.svc.Resolve(ctx, Resolution{EscalationID: forwarded.ID, ReviewerID: "carol", Decision: risk.DecisionApprove}); err != nil {
		t.Fatalf("Resolve(forwarded) error: %v", err)
	}
	if b.State() != risk.StateClosed {
		t.Errorf("breaker state = %s, want CLOSED", b.State())
	}
}

func TestEscalationService_TimeoutAppliesDefaultAction(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newEscFixture(10 * time.Millisecond)

	// Trip with a backdated clock so the escalation's deadline is already
	// in the past when the sweeper first runs.
	b := f.breakers.Get("s1")
	b.SetClock(func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) })
	esc := f.trip(t, "s1")
	if esc.TimeoutAt == nil || !esc.TimeoutAt.Before(time.Now().UTC()) {
		t.Fatalf("deadline = %v, want already elapsed", esc.TimeoutAt)
	}

	f.svc.Start(ctx)
	deadline := time.After(2 * time.Second)
	for {
		stored, err := f.store.Get(ctx, esc.ID)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if stored.Resolved() {
			if *stored.Decision != risk.DecisionReject {
				t.Errorf("timeout decision = %s, want REJECT", *stored.Decision)
			}
			if stored.ReviewerID != "system:timeout" {
				t.Errorf("reviewer = %q, want system:timeout", stored.ReviewerID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never resolved the timed-out escalation")
		case <-time.After(20 * time.Millisecond):
		}
	}
	f.svc.Stop()

	if b.State() != risk.StateTerminated {
		t.Errorf("breaker state = %s, want TERMINATED after default REJECT", b.State())
	}
}

func TestEscalationService_TimeoutLosesToHumanResolution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)

	b := f.breakers.Get("s1")
	b.SetClock(func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) })
	esc := f.trip(t, "s1")

	// The sweeper works from a snapshot; a reviewer ruling can land between
	// that snapshot and the default action being applied.
	stale := *esc

	if _, err := f.svc.Resolve(ctx, Resolution{
		EscalationID: esc.ID,
		ReviewerID:   "alice",
		Decision:     risk.DecisionApprove,
	}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	f.svc.applyTimeout(ctx, &stale, time.Now().UTC())

	stored, err := f.store.Get(ctx, esc.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.ReviewerID != "alice" {
		t.Errorf("reviewer = %q, the timeout default must not overwrite a human ruling", stored.ReviewerID)
	}
	if *stored.Decision != risk.DecisionApprove {
		t.Errorf("decision = %s, want APPROVE", *stored.Decision)
	}
	if b.State() != risk.StateClosed {
		t.Errorf("breaker state = %s, want CLOSED", b.State())
	}
}

func TestEscalationService_ConcurrentResolveIsExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)
	esc := f.trip(t, "s1")

	// Two reviewers race to forward the same escalation. Exactly one may
	// win; the loser gets ErrEscalationResolved and no second forwarded
	// escalation is created.
	errs := make(chan error, 2)
	for _, reviewer := range []string{"alice", "bob"} {
		go func(reviewer string) {
			_, err := f.svc.Resolve(ctx, Resolution{
				EscalationID: esc.ID,
				ReviewerID:   reviewer,
				Decision:     risk.DecisionEscalateFurther,
			})
			errs <- err
		}(reviewer)
	}

	var resolved, duplicates int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			resolved++
		case errors.Is(err, risk.ErrEscalationResolved):
			duplicates++
		default:
			t.Fatalf("Resolve() error: %v", err)
		}
	}
	if resolved != 1 || duplicates != 1 {
		t.Fatalf("resolved = %d duplicates = %d, want exactly one of each", resolved, duplicates)
	}

	pending, err := f.svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d pending escalations, want only the single forwarded one", len(pending))
	}
}

func TestEscalationService_SweepSkipsUnexpired(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newEscFixture(10 * time.Millisecond)
	esc := f.trip(t, "s1")

	f.svc.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	f.svc.Stop()

	stored, _ := f.store.Get(ctx, esc.ID)
	if stored.Resolved() {
		t.Error("escalation with a future deadline was resolved by the sweeper")
	}
}

func TestEscalationService_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newEscFixture(time.Minute)
	f.svc.Start(context.Background())
	f.svc.Stop()
	f.svc.Stop()
}

func TestEscalationService_NotifySurfacesPendingReview(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc := NewEscalationService(memory.NewEscalationStore(), breaker.NewRegistry(breaker.Config{}), logger, 0)

	deadline := time.Now().UTC().Add(time.Hour)
	svc.Notify(&risk.HumanEscalation{
		ID:            "esc-1",
		SessionID:     "s1",
		DefaultAction: risk.DecisionReject,
		TimeoutAt:     &deadline,
	})

	out := buf.String()
	if !strings.Contains(out, "esc-1") || !strings.Contains(out, "awaiting human review") {
		t.Errorf("log output = %q, want the pending escalation surfaced", out)
	}
}

func TestEscalationService_ListPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEscFixture(0)
	f.trip(t, "s1")
	f.trip(t, "s2")

	pending, err := f.svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("got %d pending, want 2", len(pending))
	}
}
