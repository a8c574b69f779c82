// Package fiduciarygate provides a Go SDK for the Fiduciary Gate governance
// API.
//
// Fiduciary Gate is a risk governance engine for agent-mediated commerce:
// agents submit proposed transactions for evaluation against the user's
// delegated mandate before executing them. This SDK handles session nonce
// sequencing automatically, so callers never construct replay-protection
// state by hand. It uses only the Go standard library (net/http) with zero
// external dependencies.
//
// Quick start:
//
//	// Set FIDUCIARY_GATE_SERVER_ADDR, then:
//	client := fiduciarygate.NewClient()
//
//	sess, err := client.IssueSession(ctx, fiduciarygate.IssueSessionRequest{
//	    UserWallet: "wallet-1",
//	    AgentID:    "agent-1",
//	    Intents: []fiduciarygate.Intent{{
//	        ID:     "groceries",
//	        Action: "purchase",
//	    }},
//	})
//
//	resp, err := client.Evaluate(ctx, fiduciarygate.EvaluateRequest{
//	    SessionID:  sess.ID,
//	    Amount:     fiduciarygate.Amount{Value: 42.50, Currency: "USD"},
//	    MerchantID: "acme",
//	})
//	if err != nil {
//	    var blocked *fiduciarygate.TransactionBlockedError
//	    if errors.As(err, &blocked) {
//	        fmt.Printf("Blocked (%s): %s\n", blocked.State, blocked.Reason)
//	    }
//	}
package fiduciarygate

import "time"

// Decision represents the outcome of a governance evaluation.
type Decision string

const (
	// DecisionAllow indicates the agent may execute the transaction.
	DecisionAllow Decision = "ALLOW"

	// DecisionBlock indicates the transaction is halted; if an escalation
	// was created it is pending human review.
	DecisionBlock Decision = "BLOCK"
)

// State represents the Fiduciary Circuit Breaker state attached to a
// response.
type State string

const (
	// StateClosed is normal operation.
	StateClosed State = "CLOSED"

	// StateOpen blocks all transactions pending human review.
	StateOpen State = "OPEN"

	// StateHalfOpen permits operation under reviewer-attached conditions.
	StateHalfOpen State = "HALF_OPEN"

	// StateTerminated is a permanent halt.
	StateTerminated State = "TERMINATED"
)

// Modality indicates whether the user was in-session when the transaction
// was proposed.
type Modality string

const (
	// ModalityHumanPresent means the user is in-session.
	ModalityHumanPresent Modality = "HUMAN_PRESENT"

	// ModalityHumanNotPresent means the user delegated and left.
	ModalityHumanNotPresent Modality = "HUMAN_NOT_PRESENT"
)

// Machine-readable block codes attached to BLOCK responses. Dispatch on
// these rather than the free-text Reason, which may be reworded.
const (
	ReasonCodeNonceReplay       = "NONCE_REPLAY"
	ReasonCodeSessionExpired    = "SESSION_EXPIRED"
	ReasonCodeSessionRevoked    = "SESSION_REVOKED"
	ReasonCodeBreakerTripped    = "BREAKER_TRIPPED"
	ReasonCodeBreakerOpen       = "BREAKER_OPEN"
	ReasonCodeBreakerTerminated = "BREAKER_TERMINATED"
)

// Amount is a currency-tagged transaction value.
type Amount struct {
	// Value is the numeric amount.
	Value float64 `json:"value"`

	// Currency is the ISO 4217 currency code (e.g., "USD").
	Currency string `json:"currency"`
}

// Intent is one authorized action scope requested at session issuance.
type Intent struct {
	// ID uniquely identifies the intent within the session.
	ID string `json:"intent_id"`

	// Action names the authorized action, e.g. "purchase".
	Action string `json:"action"`

	// MaxAmount caps a single transaction under this intent. Zero value
	// means uncapped.
	MaxAmount Amount `json:"max_amount,omitempty"`

	// Merchants limits the counterparties. Empty means any merchant.
	Merchants []string `json:"merchant_restrictions,omitempty"`

	// Categories limits the product categories. Empty means any category.
	Categories []string `json:"category_restrictions,omitempty"`
}

// IssueSessionRequest creates a new delegation session.
type IssueSessionRequest struct {
	// UserWallet identifies the authorizing user.
	UserWallet string `json:"user_wallet"`

	// AgentID identifies the delegated agent.
	AgentID string `json:"agent_id"`

	// Intents are the authorized action scopes. At least one is required.
	Intents []Intent `json:"intents"`

	// Rules are spending rules following the server's rule schema, e.g.
	//
	//	{"rule_id": "daily", "rule_type": "amount_constraint",
	//	 "amount_constraint": {"limit": {"value": 500, "currency": "USD"},
	//	                       "window": 86400000000000}}
	Rules []map[string]any `json:"rules,omitempty"`

	// TTL is the requested session lifetime in nanoseconds (a Go
	// time.Duration). Zero selects the server default.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Session represents an issued delegation session.
type Session struct {
	// ID is the session identifier presented on every evaluation.
	ID string `json:"session_id"`

	// AgentID identifies the delegated agent.
	AgentID string `json:"agent_id"`

	// UserWallet identifies the authorizing user.
	UserWallet string `json:"user_wallet"`

	// Status is the lifecycle state: "active", "expired", or "revoked".
	Status string `json:"status"`

	// Nonce is the server's replay-protection counter at read time.
	Nonce uint64 `json:"nonce"`

	// CreatedAt is when the session was issued (UTC).
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the absolute expiry (UTC).
	ExpiresAt time.Time `json:"expires_at"`
}

// EvaluateRequest is one proposed transaction submitted for evaluation.
type EvaluateRequest struct {
	// SessionID identifies the delegation session.
	SessionID string `json:"session_id"`

	// Nonce overrides the client's automatic nonce sequencing when
	// non-zero. Leave zero to let the client track it.
	Nonce uint64 `json:"nonce"`

	// Amount is the transaction value.
	Amount Amount `json:"amount"`

	// MerchantID is the counterparty identifier.
	MerchantID string `json:"merchant_id"`

	// Categories are the product category tags.
	Categories []string `json:"categories,omitempty"`

	// Modality records whether the user is in-session. Defaults to the
	// client's configured modality.
	Modality Modality `json:"agent_modality,omitempty"`

	// Signals are runtime risk signals from external monitors, following
	// the server's condition-result schema.
	Signals []ConditionResult `json:"signals,omitempty"`
}

// ConditionResult is the outcome of one governance check.
type ConditionResult struct {
	// Type identifies which check produced this result.
	Type string `json:"condition_type"`

	// Status is "PASS", "FAIL", or "WARNING".
	Status string `json:"status"`

	// RuleID references the spending rule that produced the result, if any.
	RuleID string `json:"rule_id,omitempty"`

	// Threshold is the limit the check compared against.
	Threshold *float64 `json:"threshold,omitempty"`

	// Observed is the value actually seen.
	Observed *float64 `json:"observed,omitempty"`

	// Message is a human-readable explanation.
	Message string `json:"message,omitempty"`

	// Suggestion proposes a resolution.
	Suggestion string `json:"suggestion,omitempty"`
}

// RiskPayload carries the risk signals attached to a governance response.
type RiskPayload struct {
	// Modality records whether the user was present.
	Modality Modality `json:"agent_modality"`

	// AgentID identifies the initiating agent.
	AgentID string `json:"agent_id,omitempty"`

	// SessionID correlates across messages.
	SessionID string `json:"session_id,omitempty"`

	// CumulativeSessionValue is the rolling 24h transaction value.
	CumulativeSessionValue float64 `json:"cumulative_session_value,omitempty"`

	// TransactionCountToday is the rolling 24h transaction count.
	TransactionCountToday int `json:"transaction_count_today,omitempty"`
}

// EvaluateResponse is the governance outcome returned by the server.
type EvaluateResponse struct {
	// Decision is "ALLOW" or "BLOCK".
	Decision Decision `json:"decision"`

	// State is the circuit-breaker state after this evaluation.
	State State `json:"fcb_state"`

	// Reason explains a BLOCK decision in prose.
	Reason string `json:"reason,omitempty"`

	// ReasonCode is the machine-readable companion to Reason, one of the
	// ReasonCode constants.
	ReasonCode string `json:"reason_code,omitempty"`

	// EvaluationID is the audit-trail identifier for this evaluation.
	EvaluationID string `json:"evaluation_id,omitempty"`

	// EscalationID references the pending human review, if the breaker
	// tripped.
	EscalationID string `json:"escalation_id,omitempty"`

	// RiskPayload carries the risk signals for networks and issuers.
	RiskPayload *RiskPayload `json:"risk_payload,omitempty"`

	// LatencyMs is the server-side evaluation latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`
}

// PreviewResponse is the result of a side-effect-free rule preview.
type PreviewResponse struct {
	// Results holds every condition result the rules produced.
	Results []ConditionResult `json:"results"`
}
