// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/breaker"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/counter"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// tracerName identifies this instrumentation scope.
const tracerName = "fiduciarygate/governance"

// payloadWindow is the rolling window surfaced in the risk payload's
// transaction count, and the window condition expressions read from.
const payloadWindow = 24 * time.Hour

// ConditionChecker evaluates approval-condition expressions against a
// transaction and a counters snapshot.
type ConditionChecker interface {
	Check(conditions []string, t txn.Transaction, snap counter.Snapshot) []risk.ConditionResult
}

// GovernanceRequest is one proposed transaction submitted for evaluation.
type GovernanceRequest struct {
	SessionID string `json:"session_id"`
	// Nonce must be exactly one greater than the session's stored nonce.
	Nonce uint64 `json:"nonce"`

	Amount     money.Amount `json:"amount"`
	MerchantID string       `json:"merchant_id"`
	Categories []string     `json:"categories,omitempty"`
	// Timestamp defaults to the server clock when zero.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Modality records whether the user is in-session.
	Modality risk.AgentModality `json:"agent_modality,omitempty"`
	// Signals are runtime trip-condition results supplied by external
	// monitors (velocity, anomaly, vendor trust).
	Signals []risk.ConditionResult `json:"signals,omitempty"`
}

// Machine-readable block codes. Reason text is free to be reworded;
// clients dispatch on the code.
const (
	ReasonCodeNonceReplay       = "NONCE_REPLAY"
	ReasonCodeSessionExpired    = "SESSION_EXPIRED"
	ReasonCodeSessionRevoked    = "SESSION_REVOKED"
	ReasonCodeBreakerTripped    = "BREAKER_TRIPPED"
	ReasonCodeBreakerOpen       = "BREAKER_OPEN"
	ReasonCodeBreakerTerminated = "BREAKER_TERMINATED"
)

// GovernanceResponse is the governance outcome returned to the caller.
type GovernanceResponse struct {
	Decision     breaker.Decision `json:"decision"`
	State        risk.State       `json:"fcb_state"`
	Reason       string           `json:"reason,omitempty"`
	ReasonCode   string           `json:"reason_code,omitempty"`
	EvaluationID string           `json:"evaluation_id,omitempty"`
	EscalationID string           `json:"escalation_id,omitempty"`
	RiskPayload  *risk.Payload    `json:"risk_payload,omitempty"`
	LatencyMs    int64            `json:"latency_ms"`
}

// GovernanceService runs the full governance pipeline for one request:
// session validation, authority-scope check, spending rules over live
// counters, and the circuit breaker decision, then persists the outcome.
type GovernanceService struct {
	sessions    *session.Manager
	breakers    *breaker.Registry
	counters    counter.Store
	evaluator   *rule.Evaluator
	conditions  ConditionChecker
	escalations risk.EscalationStore
	trail       risk.EvaluationStore
	onEscalate  func(*risk.HumanEscalation)
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       func() time.Time
}

// NewGovernanceService wires the governance pipeline. onEscalate, when
// non-nil, is invoked after a new escalation is persisted, letting the
// escalation coordinator arm its timeout.
func NewGovernanceService(
	sessions *session.Manager,
	breakers *breaker.Registry,
	counters counter.Store,
	evaluator *rule.Evaluator,
	conditions ConditionChecker,
	escalations risk.EscalationStore,
	trail risk.EvaluationStore,
	onEscalate func(*risk.HumanEscalation),
	logger *slog.Logger,
) *GovernanceService {
	return &GovernanceService{
		sessions:    sessions,
		breakers:    breakers,
		counters:    counters,
		evaluator:   evaluator,
		conditions:  conditions,
		escalations: escalations,
		trail:       trail,
		onEscalate:  onEscalate,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service's time source. Test hook.
func (s *GovernanceService) SetClock(clock func() time.Time) { s.clock = clock }

// Evaluate runs one governance decision.
//
// Session failures short-circuit: an invalid, expired, or replayed request
// never reaches the rule evaluator and never advances counters. A revoked
// session additionally forces the breaker to TERMINATED so the permanent
// halt lands in the audit trail.
func (s *GovernanceService) Evaluate(ctx context.Context, req GovernanceRequest) (*GovernanceResponse, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "governance.evaluate",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("merchant.id", req.MerchantID),
			attribute.Float64("amount.value", req.Amount.Value),
		))
	defer span.End()

	sess, err := s.sessions.Validate(ctx, req.SessionID, req.Nonce)
	if err != nil {
		resp := s.sessionFailure(ctx, req, err)
		if resp == nil {
			return nil, err
		}
		resp.LatencyMs = time.Since(start).Milliseconds()
		span.SetAttributes(attribute.String("governance.decision", string(resp.Decision)))
		return resp, nil
	}

	t := s.transaction(req)
	b := s.breakers.Get(sess.ID)

	var (
		evaluation *risk.Evaluation
		decision   breaker.Decision
		escalation *risk.HumanEscalation
		snap       counter.Snapshot
	)

	windows := append(sess.Rules.Windows(), payloadWindow)
	snap, err = s.counters.Apply(ctx, sess.ID, t, windows, func(current counter.Snapshot) bool {
		in := breaker.Input{
			RuleResults: s.ruleResults(sess, t, current),
			Signals:     req.Signals,
		}
		if s.conditions != nil {
			in.CheckConditions = func(conditions []string) []risk.ConditionResult {
				return s.conditions.Check(conditions, t, current)
			}
		}
		evaluation, decision, escalation = b.Evaluate(in)
		// Counters advance only for transactions the agent may execute.
		return decision == breaker.Allow
	})
	if err != nil {
		return nil, fmt.Errorf("counter update failed: %w", err)
	}

	if err := s.persist(ctx, evaluation, escalation); err != nil {
		return nil, err
	}

	s.logger.Info("governance decision",
		"session_id", sess.ID,
		"evaluation_id", evaluation.ID,
		"decision", decision,
		"state", evaluation.State,
		"trips_triggered", evaluation.Triggered,
		"risk_score", evaluation.RiskScore,
	)
	span.SetAttributes(
		attribute.String("governance.decision", string(decision)),
		attribute.String("governance.state", string(evaluation.State)),
	)

	resp := &GovernanceResponse{
		Decision:     decision,
		State:        evaluation.State,
		EvaluationID: evaluation.ID,
		RiskPayload:  s.payload(req, sess, evaluation, snap, decision),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if escalation != nil {
		resp.EscalationID = escalation.ID
		resp.Reason = "breaker tripped; pending human review"
		resp.ReasonCode = ReasonCodeBreakerTripped
	} else if decision == breaker.Block {
		resp.Reason, resp.ReasonCode = blockReason(evaluation.State)
	}
	return resp, nil
}

// Preview evaluates the spending rules against current counters without
// consuming a nonce, advancing counters, or touching breaker state. Agents
// use it to test a prospective transaction before committing to it.
func (s *GovernanceService) Preview(ctx context.Context, req GovernanceRequest) ([]risk.ConditionResult, error) {
	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	t := s.transaction(req)
	windows := append(sess.Rules.Windows(), payloadWindow)
	snap, err := s.counters.Peek(ctx, sess.ID, windows)
	if err != nil {
		return nil, fmt.Errorf("counter read failed: %w", err)
	}
	return s.ruleResults(sess, t, snap), nil
}

// sessionFailure maps a session validation error to a blocked response.
// Revocation is the only failure that changes breaker state.
func (s *GovernanceService) sessionFailure(ctx context.Context, req GovernanceRequest, err error) *GovernanceResponse {
	switch {
	case errors.Is(err, session.ErrRevoked):
		b := s.breakers.Get(req.SessionID)
		evaluation, _, _ := b.Evaluate(breaker.Input{SessionRevoked: true})
		if persistErr := s.trail.Append(ctx, evaluation); persistErr != nil {
			s.logger.Error("failed to persist revocation evaluation",
				"session_id", req.SessionID, "error", persistErr)
		}
		return &GovernanceResponse{
			Decision:     breaker.Block,
			State:        risk.StateTerminated,
			Reason:       "session revoked",
			ReasonCode:   ReasonCodeSessionRevoked,
			EvaluationID: evaluation.ID,
		}
	case errors.Is(err, session.ErrExpired):
		return &GovernanceResponse{Decision: breaker.Block, Reason: "session expired", ReasonCode: ReasonCodeSessionExpired}
	case errors.Is(err, session.ErrNonceReplay):
		s.logger.Warn("nonce replay rejected", "session_id", req.SessionID, "nonce", req.Nonce)
		return &GovernanceResponse{Decision: breaker.Block, Reason: "nonce replay detected", ReasonCode: ReasonCodeNonceReplay}
	case errors.Is(err, session.ErrNotFound):
		return nil
	}
	return nil
}

// ruleResults runs the authority-scope check and the spending rules.
func (s *GovernanceService) ruleResults(sess *session.Session, t txn.Transaction, snap counter.Snapshot) []risk.ConditionResult {
	results := make([]risk.ConditionResult, 0, len(sess.Rules.Rules)+1)
	results = append(results, authorityScope(sess, t))
	results = append(results, s.evaluator.Evaluate(sess.Rules, t, snap)...)
	return results
}

func (s *GovernanceService) transaction(req GovernanceRequest) txn.Transaction {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock()
	}
	return txn.Transaction{
		Amount:     req.Amount,
		MerchantID: req.MerchantID,
		Categories: req.Categories,
		Timestamp:  ts.UTC(),
	}
}

func (s *GovernanceService) persist(ctx context.Context, evaluation *risk.Evaluation, escalation *risk.HumanEscalation) error {
	if escalation != nil {
		if err := s.escalations.Create(ctx, escalation); err != nil {
			return fmt.Errorf("failed to persist escalation: %w", err)
		}
		if s.onEscalate != nil {
			s.onEscalate(escalation)
		}
	}
	if err := s.trail.Append(ctx, evaluation); err != nil {
		return fmt.Errorf("failed to persist evaluation: %w", err)
	}
	return nil
}

// payload assembles the risk signals attached to the response.
func (s *GovernanceService) payload(req GovernanceRequest, sess *session.Session, evaluation *risk.Evaluation, snap counter.Snapshot, decision breaker.Decision) *risk.Payload {
	modality := req.Modality
	if modality == "" {
		modality = risk.ModalityHumanNotPresent
	}
	cumulative := snap.SpendIn(payloadWindow)
	count := snap.CountIn(payloadWindow)
	if decision == breaker.Allow {
		// The snapshot predates the commit; fold this transaction in.
		cumulative += req.Amount.Value
		count++
	}
	return &risk.Payload{
		Evaluation:             evaluation,
		Modality:               modality,
		AgentID:                sess.AgentID,
		SessionID:              sess.ID,
		CumulativeSessionValue: cumulative,
		TransactionCountToday:  count,
	}
}

// authorityScope checks the transaction against the session's delegated
// intents.
func authorityScope(sess *session.Session, t txn.Transaction) risk.ConditionResult {
	if sess.CoveredByIntent(t) {
		return risk.ConditionResult{
			Type:   risk.ConditionAuthorityScope,
			Status: risk.StatusPass,
		}
	}
	return risk.ConditionResult{
		Type:       risk.ConditionAuthorityScope,
		Status:     risk.StatusFail,
		Message:    fmt.Sprintf("transaction at %q is outside the session's delegated intents", t.MerchantID),
		Suggestion: "request a new session covering this action",
	}
}

func blockReason(state risk.State) (reason, code string) {
	switch state {
	case risk.StateOpen:
		return "breaker open; pending human review", ReasonCodeBreakerOpen
	case risk.StateTerminated:
		return "breaker terminated; delegation permanently halted", ReasonCodeBreakerTerminated
	}
	return "", ""
}
