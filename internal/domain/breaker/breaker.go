// Package breaker implements the Fiduciary Circuit Breaker: the per-session
// state machine that aggregates trip-condition results into an allow/block
// decision and drives human escalation.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
)

// Decision is the governance outcome for one request.
type Decision string

const (
	// Allow permits the agent to execute the transaction autonomously.
	Allow Decision = "ALLOW"
	// Block halts the transaction; if an escalation was created, it is
	// pending human review.
	Block Decision = "BLOCK"
)

// DefaultEscalationTimeout bounds how long an escalation may stay
// unresolved before its default action applies.
const DefaultEscalationTimeout = 1 * time.Hour

// DefaultCloseAfter is the number of consecutive clean HALF_OPEN
// evaluations required to return to CLOSED.
const DefaultCloseAfter = 3

// ErrInvalidTransition is returned when a resolution is applied in a state
// that does not accept it, e.g. resolving an escalation while CLOSED.
// Callers should log it as a protocol violation.
var ErrInvalidTransition = errors.New("invalid breaker state transition")

// ErrUnknownDecision is returned for an unrecognized escalation decision.
var ErrUnknownDecision = errors.New("unknown escalation decision")

// Config holds breaker tuning.
type Config struct {
	// EscalationTimeout is the deadline for human resolution.
	EscalationTimeout time.Duration
	// TimeoutAction applies when the deadline elapses unresolved.
	// Defaults to REJECT: unattended escalations fail closed.
	TimeoutAction risk.EscalationDecision
	// CloseAfter is the consecutive clean HALF_OPEN evaluations needed
	// to close the breaker.
	CloseAfter int
}

func (c Config) withDefaults() Config {
	if c.EscalationTimeout == 0 {
		c.EscalationTimeout = DefaultEscalationTimeout
	}
	if c.TimeoutAction == "" {
		c.TimeoutAction = risk.DecisionReject
	}
	if c.CloseAfter == 0 {
		c.CloseAfter = DefaultCloseAfter
	}
	return c
}

// Input is everything one evaluation consumes: the spending-rule results,
// any caller-supplied runtime signals, and whether the session has been
// revoked since the last evaluation.
type Input struct {
	// RuleResults are the spending-rule evaluator's results.
	RuleResults []risk.ConditionResult
	// Signals are ad-hoc runtime trip conditions supplied with the
	// request (velocity, anomaly, vendor-trust, ...).
	Signals []risk.ConditionResult
	// SessionRevoked forces TERMINATED from any state.
	SessionRevoked bool
	// CheckConditions evaluates the escalation conditions attached by a
	// conditional approval. Only invoked while HALF_OPEN. May be nil
	// when no conditions are attached.
	CheckConditions func(conditions []string) []risk.ConditionResult
}

// Breaker is the state machine for one session. All methods serialize on
// an internal mutex: exactly one governance decision is in flight per
// session at a time, because transitions are not commutative and two
// concurrent failures must not race to create two escalations.
type Breaker struct {
	mu sync.Mutex

	sessionID string
	cfg       Config
	clock     func() time.Time

	state               risk.State
	pendingEscalationID string
	attachedConditions  []string
	cleanStreak         int
}

// New creates a CLOSED breaker for the session.
func New(sessionID string, cfg Config) *Breaker {
	return &Breaker{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		clock:     func() time.Time { return time.Now().UTC() },
		state:     risk.StateClosed,
	}
}

// SetClock overrides the breaker's time source. Test hook.
func (b *Breaker) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// State returns the current breaker state.
func (b *Breaker) State() risk.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PendingEscalationID returns the unresolved escalation's ID, if any.
func (b *Breaker) PendingEscalationID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingEscalationID
}

// Evaluate runs one governance decision. It returns the immutable
// evaluation record, the decision, and the escalation created if the
// breaker tripped (nil otherwise).
func (b *Breaker) Evaluate(in Input) (*risk.Evaluation, Decision, *risk.HumanEscalation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.state
	now := b.clock()

	if in.SessionRevoked && b.state != risk.StateTerminated {
		// A revoked session permanently halts the agent, whatever state
		// the breaker was in.
		b.terminateLocked()
		return b.record(prev, now, nil, ""), Block, nil
	}

	switch b.state {
	case risk.StateTerminated:
		return b.record(prev, now, nil, ""), Block, nil

	case risk.StateOpen:
		// Blocked pending review; no trip evaluation while open.
		return b.record(prev, now, nil, b.pendingEscalationID), Block, nil
	}

	// CLOSED or HALF_OPEN: run all trip conditions.
	results := make([]risk.ConditionResult, 0, len(in.RuleResults)+len(in.Signals))
	results = append(results, in.RuleResults...)
	results = append(results, in.Signals...)

	if b.state == risk.StateHalfOpen && len(b.attachedConditions) > 0 && in.CheckConditions != nil {
		results = append(results, in.CheckConditions(b.attachedConditions)...)
	}

	failed := failing(results)
	if len(failed) > 0 {
		esc := b.tripLocked(now, failed)
		return b.record(prev, now, results, esc.ID), Block, esc
	}

	if b.state == risk.StateHalfOpen {
		b.cleanStreak++
		if b.cleanStreak >= b.cfg.CloseAfter {
			b.state = risk.StateClosed
			b.attachedConditions = nil
			b.cleanStreak = 0
		}
	}
	return b.record(prev, now, results, ""), Allow, nil
}

// Resolve applies a human decision to the pending escalation and performs
// the corresponding transition. It mutates only breaker state; the caller
// owns the escalation record itself.
//
// Legal only while OPEN with a pending escalation matching escalationID.
// Returns the state transition that occurred.
func (b *Breaker) Resolve(escalationID string, decision risk.EscalationDecision, conditions []string) (from, to risk.State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !decision.Valid() {
		return b.state, b.state, fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}
	if b.state != risk.StateOpen {
		return b.state, b.state, fmt.Errorf("%w: cannot resolve escalation in state %s", ErrInvalidTransition, b.state)
	}
	if b.pendingEscalationID != escalationID {
		return b.state, b.state, fmt.Errorf("%w: escalation %s is not pending on this breaker", ErrInvalidTransition, escalationID)
	}

	from = b.state
	switch decision {
	case risk.DecisionApprove, risk.DecisionModifyAndApprove:
		// MODIFY_AND_APPROVE: the caller applies the modification and
		// re-submits; the breaker only accepts the resulting state.
		b.state = risk.StateClosed
		b.pendingEscalationID = ""
		b.attachedConditions = nil
		b.cleanStreak = 0
	case risk.DecisionApproveWithConditions:
		b.state = risk.StateHalfOpen
		b.pendingEscalationID = ""
		b.attachedConditions = append([]string(nil), conditions...)
		b.cleanStreak = 0
	case risk.DecisionReject:
		b.terminateLocked()
	case risk.DecisionEscalateFurther:
		// Stays OPEN; the coordinator forwards a fresh escalation and
		// re-arms the breaker with its ID via Rearm.
	}
	return from, b.state, nil
}

// Rearm replaces the pending escalation ID after ESCALATE_FURTHER
// forwarded the original to a higher authority.
func (b *Breaker) Rearm(escalationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != risk.StateOpen {
		return fmt.Errorf("%w: cannot re-arm escalation in state %s", ErrInvalidTransition, b.state)
	}
	b.pendingEscalationID = escalationID
	return nil
}

// ForceTerminate moves the breaker to TERMINATED from any state. Used for
// session revocation observed out-of-band and for escalation timeouts
// whose default action is REJECT.
func (b *Breaker) ForceTerminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminateLocked()
}

func (b *Breaker) terminateLocked() {
	b.state = risk.StateTerminated
	b.pendingEscalationID = ""
	b.attachedConditions = nil
	b.cleanStreak = 0
}

// tripLocked transitions to OPEN and creates the aggregate escalation.
// One escalation per tripping evaluation, carrying every failed condition.
func (b *Breaker) tripLocked(now time.Time, failed []risk.ConditionResult) *risk.HumanEscalation {
	b.state = risk.StateOpen
	b.cleanStreak = 0

	timeoutAt := now.Add(b.cfg.EscalationTimeout)
	esc := &risk.HumanEscalation{
		ID:               uuid.New().String(),
		SessionID:        b.sessionID,
		TriggeredAt:      now,
		TimeoutAt:        &timeoutAt,
		DefaultAction:    b.cfg.TimeoutAction,
		FailedConditions: failed,
	}
	b.pendingEscalationID = esc.ID
	return esc
}

// record builds the immutable evaluation for the audit trail.
// Caller holds b.mu.
func (b *Breaker) record(prev risk.State, now time.Time, results []risk.ConditionResult, escalationID string) *risk.Evaluation {
	ev := &risk.Evaluation{
		ID:           uuid.New().String(),
		SessionID:    b.sessionID,
		State:        b.state,
		Results:      results,
		Evaluated:    len(results),
		Triggered:    triggered(results),
		RiskScore:    risk.Score(results),
		EscalationID: escalationID,
		EvaluatedAt:  now,
	}
	if prev != b.state {
		ev.PreviousState = prev
	}
	return ev
}

func failing(results []risk.ConditionResult) []risk.ConditionResult {
	var failed []risk.ConditionResult
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

func triggered(results []risk.ConditionResult) int {
	n := 0
	for _, r := range results {
		if r.Status == risk.StatusFail || r.Status == risk.StatusWarning {
			n++
		}
	}
	return n
}
