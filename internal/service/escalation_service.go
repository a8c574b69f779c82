package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
)

// DefaultSweepInterval is how often the timeout sweeper checks pending
// escalations against their deadlines.
const DefaultSweepInterval = 30 * time.Second

// timeoutReviewer marks resolutions applied by the timeout default action
// rather than a human.
const timeoutReviewer = "system:timeout"

// Resolution is a reviewer's ruling submitted against one escalation.
type Resolution struct {
	EscalationID string
	ReviewerID   string
	Decision     risk.EscalationDecision
	// Conditions accompany APPROVE_WITH_CONDITIONS; ignored otherwise.
	Conditions []string
	// Notes are free-form reviewer remarks, recorded verbatim.
	Notes string
}

// EscalationService coordinates the human review loop: listing pending
// escalations, applying resolutions to the breaker, forwarding to a higher
// authority, and enforcing timeout default actions.
//
// The timeout sweeper runs independently of request traffic, so an
// abandoned escalation resolves on schedule even if no caller ever polls.
type EscalationService struct {
	store    risk.EscalationStore
	breakers *breaker.Registry
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time

	// locks holds one mutex per escalation ID. Reviewer resolutions and
	// the timeout sweeper race on the same read-check-update sequence;
	// serializing per escalation keeps resolution exactly-once.
	locks sync.Map

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewEscalationService creates an escalation coordinator. interval <= 0
// selects DefaultSweepInterval.
func NewEscalationService(store risk.EscalationStore, breakers *breaker.Registry, logger *slog.Logger, interval time.Duration) *EscalationService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &EscalationService{
		store:    store,
		breakers: breakers,
		logger:   logger,
		interval: interval,
		clock:    func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}
}

// SetClock overrides the service's time source. Test hook.
func (s *EscalationService) SetClock(clock func() time.Time) { s.clock = clock }

// Notify records a newly created escalation awaiting review. Wired as the
// governance service's escalation hook so every pending review surfaces in
// the coordinator's log stream with its deadline and default action.
func (s *EscalationService) Notify(esc *risk.HumanEscalation) {
	s.logger.Warn("escalation awaiting human review",
		"escalation_id", esc.ID,
		"session_id", esc.SessionID,
		"default_action", esc.DefaultAction,
		"timeout_at", esc.TimeoutAt,
	)
}

// ListPending returns all unresolved escalations, oldest first.
func (s *EscalationService) ListPending(ctx context.Context) ([]*risk.HumanEscalation, error) {
	return s.store.ListPending(ctx)
}

// Get returns an escalation by ID.
func (s *EscalationService) Get(ctx context.Context, id string) (*risk.HumanEscalation, error) {
	return s.store.Get(ctx, id)
}

// Resolve applies a reviewer's decision. Resolution happens exactly once:
// a second resolution of the same escalation returns
// risk.ErrEscalationResolved regardless of the decision submitted.
//
// ESCALATE_FURTHER resolves the current escalation and opens a forwarded
// one carrying the same failed conditions; the breaker stays OPEN pending
// the forwarded escalation.
func (s *EscalationService) Resolve(ctx context.Context, res Resolution) (*risk.HumanEscalation, error) {
	unlock := s.lock(res.EscalationID)
	defer unlock()

	esc, err := s.store.Get(ctx, res.EscalationID)
	if err != nil {
		return nil, err
	}
	if esc.Resolved() {
		return nil, risk.ErrEscalationResolved
	}
	if !res.Decision.Valid() {
		return nil, fmt.Errorf("%w: %q", breaker.ErrUnknownDecision, res.Decision)
	}

	b, ok := s.breakers.Lookup(esc.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: no breaker for session %s", breaker.ErrInvalidTransition, esc.SessionID)
	}

	from, to, err := b.Resolve(esc.ID, res.Decision, res.Conditions)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	decision := res.Decision
	esc.Decision = &decision
	esc.DecidedAt = &now
	esc.ReviewerID = res.ReviewerID
	esc.Notes = res.Notes
	if decision == risk.DecisionApproveWithConditions {
		esc.Conditions = append([]string(nil), res.Conditions...)
	}
	if err := s.store.Update(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to persist resolution: %w", err)
	}

	s.logger.Info("escalation resolved",
		"escalation_id", esc.ID,
		"session_id", esc.SessionID,
		"reviewer_id", res.ReviewerID,
		"decision", decision,
		"state_from", from,
		"state_to", to,
	)

	if decision == risk.DecisionEscalateFurther {
		forwarded, err := s.forward(ctx, esc, b, now)
		if err != nil {
			return nil, err
		}
		return forwarded, nil
	}
	return esc, nil
}

// forward opens the follow-up escalation after ESCALATE_FURTHER and
// re-arms the breaker with its ID.
func (s *EscalationService) forward(ctx context.Context, prev *risk.HumanEscalation, b *breaker.Breaker, now time.Time) (*risk.HumanEscalation, error) {
	timeout := prev.DefaultAction
	var timeoutAt *time.Time
	if prev.TimeoutAt != nil {
		t := now.Add(prev.TimeoutAt.Sub(prev.TriggeredAt))
		timeoutAt = &t
	}
	forwarded := &risk.HumanEscalation{
		ID:               uuid.New().String(),
		SessionID:        prev.SessionID,
		TriggeredAt:      now,
		TimeoutAt:        timeoutAt,
		DefaultAction:    timeout,
		FailedConditions: prev.FailedConditions,
		Notes:            fmt.Sprintf("forwarded from escalation %s", prev.ID),
	}
	if err := s.store.Create(ctx, forwarded); err != nil {
		return nil, fmt.Errorf("failed to persist forwarded escalation: %w", err)
	}
	if err := b.Rearm(forwarded.ID); err != nil {
		return nil, err
	}
	s.logger.Info("escalation forwarded",
		"escalation_id", prev.ID,
		"forwarded_id", forwarded.ID,
		"session_id", prev.SessionID,
	)
	return forwarded, nil
}

// Start launches the timeout sweeper. Call Stop to shut it down.
func (s *EscalationService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop stops the sweeper and waits for it to exit. Safe to call multiple
// times.
func (s *EscalationService) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// lock acquires the per-escalation mutex and returns its release func.
func (s *EscalationService) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// sweep applies the default action to every pending escalation whose
// deadline has passed.
func (s *EscalationService) sweep(ctx context.Context) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		s.logger.Error("timeout sweep failed to list escalations", "error", err)
		return
	}
	now := s.clock()
	for _, esc := range pending {
		if esc.TimeoutAt == nil || now.Before(*esc.TimeoutAt) {
			continue
		}
		s.applyTimeout(ctx, esc, now)
	}
}

// applyTimeout resolves one timed-out escalation with its default action.
// The snapshot from sweep may be stale, so the escalation is re-read under
// the per-escalation lock; a human resolution that landed in between wins.
func (s *EscalationService) applyTimeout(ctx context.Context, stale *risk.HumanEscalation, now time.Time) {
	unlock := s.lock(stale.ID)
	defer unlock()

	esc, err := s.store.Get(ctx, stale.ID)
	if err != nil {
		s.logger.Error("timeout sweep failed to reload escalation",
			"escalation_id", stale.ID, "error", err)
		return
	}
	if esc.Resolved() {
		return
	}

	action := esc.DefaultAction
	if action == "" {
		action = risk.DecisionReject
	}

	if b, ok := s.breakers.Lookup(esc.SessionID); ok {
		if _, _, err := b.Resolve(esc.ID, action, nil); err != nil {
			// The breaker may have moved on (e.g. revocation forced
			// TERMINATED); the escalation record is still closed out.
			s.logger.Warn("timeout action skipped breaker transition",
				"escalation_id", esc.ID, "error", err)
		}
	}

	esc.Decision = &action
	esc.DecidedAt = &now
	esc.ReviewerID = timeoutReviewer
	if err := s.store.Update(ctx, esc); err != nil {
		s.logger.Error("failed to persist timeout resolution",
			"escalation_id", esc.ID, "error", err)
		return
	}
	s.logger.Warn("escalation timed out",
		"escalation_id", esc.ID,
		"session_id", esc.SessionID,
		"default_action", action,
	)
}
