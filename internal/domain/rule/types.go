// Package rule implements the programmable spending-rule evaluator.
//
// The rule taxonomy is a closed set of tagged variants. Every site that
// consumes a Rule switches exhaustively on Kind, so adding a constraint
// type is a single-point, compile-visible change rather than a scattered
// set of conditionals.
package rule

import (
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
)

// Kind tags the rule variants.
type Kind string

const (
	// KindAmount limits single-transaction or rolling-window amounts.
	KindAmount Kind = "amount_constraint"
	// KindTime restricts allowed hours and weekdays.
	KindTime Kind = "time_constraint"
	// KindMerchant allows or denies counterparty identifiers.
	KindMerchant Kind = "merchant_constraint"
	// KindCategory allows or denies product categories.
	KindCategory Kind = "category_constraint"
	// KindFrequency caps transaction counts in a rolling window.
	KindFrequency Kind = "frequency_constraint"
)

// Operator compares an observed value against a limit.
type Operator string

const (
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
)

// ListMode selects allow-list or deny-list semantics.
type ListMode string

const (
	// ModeAllow fails unless the transaction matches the list.
	ModeAllow ListMode = "allow"
	// ModeDeny fails iff the transaction matches the list.
	ModeDeny ListMode = "deny"
)

// MatchMode selects how merchant identifiers are compared.
type MatchMode string

const (
	// MatchExact requires identifier equality.
	MatchExact MatchMode = "exact"
	// MatchPrefix matches on identifier prefix.
	MatchPrefix MatchMode = "prefix"
)

// AmountConstraint limits transaction value. With Window set, the limit
// applies to the rolling sum over that window including this transaction;
// otherwise it applies per transaction.
type AmountConstraint struct {
	// Limit is the amount compared against.
	Limit money.Amount `json:"limit"`
	// Operator defaults to lte: transaction value must be <= limit.
	Operator Operator `json:"operator,omitempty"`
	// Window, when non-zero, makes this a rolling-sum constraint.
	Window time.Duration `json:"window,omitempty"`
}

// TimeConstraint restricts when transactions may occur. Nil slices mean
// unrestricted. Hours are 0-23 UTC.
type TimeConstraint struct {
	AllowedHours    []int          `json:"allowed_hours,omitempty"`
	AllowedWeekdays []time.Weekday `json:"allowed_weekdays,omitempty"`
}

// MerchantConstraint allows or denies merchant identifiers.
type MerchantConstraint struct {
	Merchants []string  `json:"merchants"`
	Mode      ListMode  `json:"mode"`
	Match     MatchMode `json:"match,omitempty"`
}

// CategoryConstraint allows or denies product categories.
type CategoryConstraint struct {
	Categories []string `json:"categories"`
	Mode       ListMode `json:"mode"`
}

// FrequencyConstraint caps the number of transactions in a rolling window,
// optionally scoped to the proposing transaction's merchant.
type FrequencyConstraint struct {
	MaxTransactions int           `json:"max_transactions"`
	Window          time.Duration `json:"window"`
	PerMerchant     bool          `json:"per_merchant,omitempty"`
}

// Rule is one spending constraint. Exactly one variant field matching Kind
// must be set; anything else is a malformed rule and evaluates FAIL-safe
// (conservatively blocking) rather than being skipped.
type Rule struct {
	// ID uniquely identifies the rule within its set.
	ID string `json:"rule_id"`
	// Kind selects the populated variant.
	Kind Kind `json:"rule_type"`
	// Description is shown to human reviewers alongside results.
	Description string `json:"description,omitempty"`

	Amount    *AmountConstraint    `json:"amount_constraint,omitempty"`
	Time      *TimeConstraint      `json:"time_constraint,omitempty"`
	Merchant  *MerchantConstraint  `json:"merchant_constraint,omitempty"`
	Category  *CategoryConstraint  `json:"category_constraint,omitempty"`
	Frequency *FrequencyConstraint `json:"frequency_constraint,omitempty"`
}

// Set is an unordered collection of rules. A Set is immutable once attached
// to a session: changing rules requires issuing a new session, which keeps
// the audit trail unambiguous.
type Set struct {
	// Rules are evaluated independently; all results are reported.
	Rules []Rule `json:"rules"`
	// CreatedAt is when the set was assembled (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Windows returns the distinct rolling windows the set's cumulative and
// frequency rules reference. Counter stores materialize snapshots for
// exactly these windows.
func (s Set) Windows() []time.Duration {
	seen := make(map[time.Duration]bool)
	var out []time.Duration
	add := func(w time.Duration) {
		if w > 0 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, r := range s.Rules {
		if r.Amount != nil {
			add(r.Amount.Window)
		}
		if r.Frequency != nil {
			add(r.Frequency.Window)
		}
	}
	return out
}

// Fingerprint returns a stable xxhash of the rule set's JSON encoding,
// recorded in audit output so reviewers can tell which rules were in force.
func (s Set) Fingerprint() uint64 {
	b, err := json.Marshal(s.Rules)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
