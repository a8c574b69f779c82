// Package risk contains the domain types for Fiduciary Circuit Breaker
// evaluations: trip conditions, breaker states, escalations, and the risk
// payload surfaced to networks and issuers.
package risk

import "time"

// ConditionType categorizes a single runtime risk check.
//
// The first five mirror the spending-rule taxonomy; the rest are runtime
// signals that arrive from outside the rule evaluator (velocity monitors,
// anomaly models, counterparty trust services). The set is closed: every
// switch over ConditionType must handle all of them.
type ConditionType string

const (
	// ConditionAmount is a single-transaction or windowed amount limit.
	ConditionAmount ConditionType = "AMOUNT_CONSTRAINT"
	// ConditionTime restricts hour-of-day / day-of-week.
	ConditionTime ConditionType = "TIME_CONSTRAINT"
	// ConditionMerchant restricts counterparty identifiers.
	ConditionMerchant ConditionType = "MERCHANT_CONSTRAINT"
	// ConditionCategory restricts product categories.
	ConditionCategory ConditionType = "CATEGORY_CONSTRAINT"
	// ConditionFrequency caps transaction counts in a rolling window.
	ConditionFrequency ConditionType = "FREQUENCY_CONSTRAINT"

	// ConditionCumulative fires when running totals across transactions
	// exceed a threshold.
	ConditionCumulative ConditionType = "CUMULATIVE_THRESHOLD"
	// ConditionVelocity fires on too many actions in a short window.
	ConditionVelocity ConditionType = "VELOCITY"
	// ConditionAuthorityScope fires when an action falls outside the
	// session's delegated intents.
	ConditionAuthorityScope ConditionType = "AUTHORITY_SCOPE"
	// ConditionAnomaly carries an external anomaly-detection signal.
	ConditionAnomaly ConditionType = "ANOMALY"
	// ConditionVendorTrust carries a counterparty trust signal.
	ConditionVendorTrust ConditionType = "VENDOR_TRUST"
	// ConditionCustom is an implementation-specific check, including
	// conditions attached to a conditional approval.
	ConditionCustom ConditionType = "CUSTOM"
)

// ConditionStatus is the outcome of evaluating one trip condition.
type ConditionStatus string

const (
	// StatusPass means the condition is satisfied.
	StatusPass ConditionStatus = "PASS"
	// StatusFail means the condition is violated and the breaker must trip.
	StatusFail ConditionStatus = "FAIL"
	// StatusWarning means the observed value is approaching the threshold.
	// Warnings are recorded but never trip the breaker.
	StatusWarning ConditionStatus = "WARNING"
)

// State is the Fiduciary Circuit Breaker state.
type State string

const (
	// StateClosed is normal operation: the agent acts autonomously.
	StateClosed State = "CLOSED"
	// StateOpen blocks all consequential actions pending human review.
	StateOpen State = "OPEN"
	// StateHalfOpen permits operation under the extra conditions attached
	// by a conditional approval.
	StateHalfOpen State = "HALF_OPEN"
	// StateTerminated is a permanent halt. No transition leaves it.
	StateTerminated State = "TERMINATED"
)

// AgentModality indicates whether the user was in-session when the
// transaction was proposed.
type AgentModality string

const (
	// ModalityHumanPresent means the user is in-session.
	ModalityHumanPresent AgentModality = "HUMAN_PRESENT"
	// ModalityHumanNotPresent means the user delegated and left.
	ModalityHumanNotPresent AgentModality = "HUMAN_NOT_PRESENT"
)

// EscalationDecision is a human reviewer's ruling on a tripped breaker.
type EscalationDecision string

const (
	// DecisionApprove returns the breaker to CLOSED.
	DecisionApprove EscalationDecision = "APPROVE"
	// DecisionApproveWithConditions moves the breaker to HALF_OPEN with
	// the supplied conditions enforced on every subsequent evaluation.
	DecisionApproveWithConditions EscalationDecision = "APPROVE_WITH_CONDITIONS"
	// DecisionReject moves the breaker to TERMINATED.
	DecisionReject EscalationDecision = "REJECT"
	// DecisionEscalateFurther keeps the breaker OPEN and forwards the
	// escalation to a higher authority.
	DecisionEscalateFurther EscalationDecision = "ESCALATE_FURTHER"
	// DecisionModifyAndApprove returns the breaker to CLOSED; the caller
	// is expected to re-submit the modified transaction.
	DecisionModifyAndApprove EscalationDecision = "MODIFY_AND_APPROVE"
)

// Valid reports whether d is a known escalation decision.
func (d EscalationDecision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionApproveWithConditions, DecisionReject,
		DecisionEscalateFurther, DecisionModifyAndApprove:
		return true
	}
	return false
}

// ConditionResult is the immutable outcome of one trip-condition check.
// Threshold and Observed are pointers because not every condition has a
// meaningful numeric reading (e.g., merchant allow-lists).
type ConditionResult struct {
	// Type identifies which check produced this result.
	Type ConditionType `json:"condition_type"`
	// Status is PASS, FAIL, or WARNING.
	Status ConditionStatus `json:"status"`
	// RuleID references the spending rule that produced this result, if any.
	RuleID string `json:"rule_id,omitempty"`
	// Threshold is the limit the check compared against.
	Threshold *float64 `json:"threshold,omitempty"`
	// Observed is the value actually seen.
	Observed *float64 `json:"observed,omitempty"`
	// Message is a human-readable explanation for reviewers.
	Message string `json:"message,omitempty"`
	// Suggestion proposes a resolution (e.g., "raise the daily limit").
	Suggestion string `json:"suggestion,omitempty"`
}

// Failed reports whether the condition tripped.
func (r ConditionResult) Failed() bool { return r.Status == StatusFail }

// HumanEscalation is a pending or resolved request for human adjudication
// of a tripped breaker. Created unresolved by the breaker; resolved exactly
// once by a reviewer decision or by the timeout default action.
type HumanEscalation struct {
	// ID is the unique escalation identifier.
	ID string `json:"escalation_id"`
	// SessionID correlates the escalation to its session.
	SessionID string `json:"session_id"`
	// TriggeredAt is when the breaker tripped (UTC).
	TriggeredAt time.Time `json:"triggered_at"`
	// ReviewerID identifies the human who resolved the escalation.
	ReviewerID string `json:"reviewer_id,omitempty"`
	// Decision is nil while the escalation is unresolved.
	Decision *EscalationDecision `json:"decision,omitempty"`
	// DecidedAt is when the decision was applied (UTC).
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	// Conditions are free-form constraints attached to a conditional
	// approval, enforced as CUSTOM trip conditions while HALF_OPEN.
	Conditions []string `json:"conditions,omitempty"`
	// Notes are free-form reviewer remarks.
	Notes string `json:"notes,omitempty"`
	// TimeoutAt is the deadline after which DefaultAction applies.
	TimeoutAt *time.Time `json:"timeout_at,omitempty"`
	// DefaultAction applies if the deadline elapses unresolved.
	// Defaults to REJECT: unattended escalations fail closed.
	DefaultAction EscalationDecision `json:"default_action_on_timeout"`
	// FailedConditions carries the condition results that tripped the
	// breaker, so the reviewer sees every violation, not just the first.
	FailedConditions []ConditionResult `json:"failed_conditions,omitempty"`
}

// Resolved reports whether a decision has been applied.
func (e *HumanEscalation) Resolved() bool { return e.Decision != nil }

// Evaluation is one point-in-time governance decision. It is immutable
// after creation: each request appends a new Evaluation referencing the
// state the previous one left behind.
type Evaluation struct {
	// ID is the unique evaluation identifier.
	ID string `json:"evaluation_id"`
	// SessionID correlates the evaluation to its session.
	SessionID string `json:"session_id"`
	// State is the breaker state after this evaluation.
	State State `json:"fcb_state"`
	// PreviousState is the state before this evaluation, when it changed.
	PreviousState State `json:"previous_state,omitempty"`
	// Results holds every condition result, in evaluation order.
	Results []ConditionResult `json:"trip_results"`
	// Evaluated is the number of conditions checked.
	Evaluated int `json:"trips_evaluated"`
	// Triggered is the number of FAIL or WARNING results.
	Triggered int `json:"trips_triggered"`
	// RiskScore is the advisory aggregate in [0.0, 1.0]. It never drives
	// state transitions; only FAIL results do.
	RiskScore float64 `json:"risk_score"`
	// EscalationID references the escalation created by this evaluation,
	// if it tripped.
	EscalationID string `json:"escalation_id,omitempty"`
	// EvaluatedAt is when the evaluation occurred (UTC).
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// HasTripped reports whether at least one condition result is FAIL.
func (e *Evaluation) HasTripped() bool {
	for _, r := range e.Results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// Payload is the container for risk signals attached to governance
// responses, giving merchants, networks, and issuers visibility into the
// runtime governance state of the agent transaction.
type Payload struct {
	// Evaluation is the circuit-breaker evaluation for this request.
	Evaluation *Evaluation `json:"fcb_evaluation,omitempty"`
	// Modality records whether the user was present.
	Modality AgentModality `json:"agent_modality"`
	// AgentID identifies the initiating agent.
	AgentID string `json:"agent_id,omitempty"`
	// SessionID correlates across messages.
	SessionID string `json:"session_id,omitempty"`
	// CumulativeSessionValue is total transaction value this session.
	CumulativeSessionValue float64 `json:"cumulative_session_value,omitempty"`
	// TransactionCountToday is this agent's transaction count today.
	TransactionCountToday int `json:"transaction_count_today,omitempty"`
	// CustomSignals carries implementation-specific signals.
	CustomSignals map[string]any `json:"custom_signals,omitempty"`
}
