package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/counter"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// DefaultWarnFraction is the share of a cumulative or frequency limit at
// which a passing check is reported as WARNING instead of PASS.
const DefaultWarnFraction = 0.8

// Evaluator evaluates a rule set against a proposed transaction and a
// counters snapshot. Evaluation is pure: identical inputs always produce
// identical results, and no state is touched.
type Evaluator struct {
	// WarnFraction is the approaching-threshold fraction for cumulative
	// and frequency checks. Per-transaction amount checks stay binary:
	// money thresholds either hold or they don't.
	WarnFraction float64
}

// NewEvaluator returns an Evaluator with the default warning fraction.
func NewEvaluator() *Evaluator {
	return &Evaluator{WarnFraction: DefaultWarnFraction}
}

// Evaluate runs every rule in the set independently and reports every
// result. There is no short-circuit: aggregate policy belongs to the
// circuit breaker, and a reviewer handling an escalation needs to see all
// violated and passed rules, not just the first failure.
func (e *Evaluator) Evaluate(set Set, t txn.Transaction, c counter.Snapshot) []risk.ConditionResult {
	results := make([]risk.ConditionResult, 0, len(set.Rules))
	for _, r := range set.Rules {
		results = append(results, e.evaluateRule(r, t, c))
	}
	return results
}

// evaluateRule dispatches on the rule's kind. A malformed definition is a
// configuration error: it is reported as FAIL (conservatively blocking),
// never skipped.
func (e *Evaluator) evaluateRule(r Rule, t txn.Transaction, c counter.Snapshot) risk.ConditionResult {
	if err := validate(r); err != nil {
		return malformed(r, err)
	}
	switch r.Kind {
	case KindAmount:
		return e.evaluateAmount(r, t, c)
	case KindTime:
		return evaluateTime(r, t)
	case KindMerchant:
		return evaluateMerchant(r, t)
	case KindCategory:
		return evaluateCategory(r, t)
	case KindFrequency:
		return e.evaluateFrequency(r, t, c)
	}
	// validate rejects unknown kinds; unreachable.
	return malformed(r, fmt.Errorf("unknown rule kind %q", r.Kind))
}

func (e *Evaluator) evaluateAmount(r Rule, t txn.Transaction, c counter.Snapshot) risk.ConditionResult {
	ac := r.Amount

	if !t.Amount.SameCurrency(ac.Limit) {
		// Currency conversion is out of scope; a mismatch fails closed.
		return risk.ConditionResult{
			Type:    risk.ConditionAmount,
			Status:  risk.StatusFail,
			RuleID:  r.ID,
			Message: fmt.Sprintf("transaction currency %s does not match limit currency %s", t.Amount.Currency, ac.Limit.Currency),
		}
	}

	op := ac.Operator
	if op == "" {
		op = OpLessOrEqual
	}

	if ac.Window == 0 {
		// Per-transaction limit: binary, no warning tier.
		res := risk.ConditionResult{
			Type:      risk.ConditionAmount,
			RuleID:    r.ID,
			Threshold: f64(ac.Limit.Value),
			Observed:  f64(t.Amount.Value),
		}
		if compare(t.Amount.Value, op, ac.Limit.Value) {
			res.Status = risk.StatusPass
			return res
		}
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("transaction amount %s violates limit %s (%s)", t.Amount, ac.Limit, op)
		res.Suggestion = "reduce the transaction amount or request a higher limit"
		return res
	}

	// Rolling-sum limit over the window, including this transaction.
	observed := c.SpendIn(ac.Window) + t.Amount.Value
	res := risk.ConditionResult{
		Type:      risk.ConditionCumulative,
		RuleID:    r.ID,
		Threshold: f64(ac.Limit.Value),
		Observed:  f64(observed),
	}
	if !compare(observed, op, ac.Limit.Value) {
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("rolling spend %.2f %s over %s violates limit %s (%s)", observed, ac.Limit.Currency, ac.Window, ac.Limit, op)
		res.Suggestion = "wait for the window to roll over or request a higher cumulative limit"
		return res
	}
	if upperBound(op) && observed >= e.warnFraction()*ac.Limit.Value {
		res.Status = risk.StatusWarning
		res.Message = fmt.Sprintf("rolling spend %.2f %s is approaching the %s limit", observed, ac.Limit.Currency, ac.Limit)
		return res
	}
	res.Status = risk.StatusPass
	return res
}

func evaluateTime(r Rule, t txn.Transaction) risk.ConditionResult {
	tc := r.Time
	ts := t.Timestamp.UTC()
	res := risk.ConditionResult{Type: risk.ConditionTime, RuleID: r.ID}

	if tc.AllowedHours != nil && !containsInt(tc.AllowedHours, ts.Hour()) {
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("hour %02d UTC is outside the allowed hours", ts.Hour())
		res.Suggestion = "retry during an allowed hour"
		return res
	}
	if tc.AllowedWeekdays != nil && !containsWeekday(tc.AllowedWeekdays, ts.Weekday()) {
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("%s is outside the allowed weekdays", ts.Weekday())
		res.Suggestion = "retry on an allowed weekday"
		return res
	}
	res.Status = risk.StatusPass
	return res
}

func evaluateMerchant(r Rule, t txn.Transaction) risk.ConditionResult {
	mc := r.Merchant
	match := mc.Match
	if match == "" {
		match = MatchExact
	}

	matched := false
	for _, m := range mc.Merchants {
		if match == MatchPrefix && strings.HasPrefix(t.MerchantID, m) {
			matched = true
			break
		}
		if match == MatchExact && t.MerchantID == m {
			matched = true
			break
		}
	}

	res := risk.ConditionResult{Type: risk.ConditionMerchant, RuleID: r.ID}
	violated := (mc.Mode == ModeAllow && !matched) || (mc.Mode == ModeDeny && matched)
	if violated {
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("merchant %q is not permitted by %s-list rule", t.MerchantID, mc.Mode)
		res.Suggestion = "use an authorized merchant or ask the user to extend the list"
		return res
	}
	res.Status = risk.StatusPass
	return res
}

func evaluateCategory(r Rule, t txn.Transaction) risk.ConditionResult {
	cc := r.Category
	res := risk.ConditionResult{Type: risk.ConditionCategory, RuleID: r.ID}

	matched := false
	for _, c := range t.Categories {
		if containsString(cc.Categories, c) {
			matched = true
			break
		}
	}

	var violated bool
	switch cc.Mode {
	case ModeAllow:
		// An uncategorized transaction cannot prove it is allowed.
		violated = !matched
	case ModeDeny:
		violated = matched
	}
	if violated {
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("categories %v are not permitted by %s-list rule", t.Categories, cc.Mode)
		res.Suggestion = "restrict the cart to authorized categories"
		return res
	}
	res.Status = risk.StatusPass
	return res
}

func (e *Evaluator) evaluateFrequency(r Rule, t txn.Transaction, c counter.Snapshot) risk.ConditionResult {
	fc := r.Frequency

	var prior int
	if fc.PerMerchant {
		prior = c.MerchantCountIn(t.MerchantID, fc.Window)
	} else {
		prior = c.CountIn(fc.Window)
	}
	observed := prior + 1 // including this transaction

	res := risk.ConditionResult{
		Type:      risk.ConditionFrequency,
		RuleID:    r.ID,
		Threshold: f64(float64(fc.MaxTransactions)),
		Observed:  f64(float64(observed)),
	}
	if observed > fc.MaxTransactions {
		res.Status = risk.StatusFail
		res.Message = fmt.Sprintf("transaction %d of max %d in %s window", observed, fc.MaxTransactions, fc.Window)
		res.Suggestion = "wait for the window to roll over"
		return res
	}
	if float64(observed) >= e.warnFraction()*float64(fc.MaxTransactions) {
		res.Status = risk.StatusWarning
		res.Message = fmt.Sprintf("transaction count %d is approaching the limit of %d in %s window", observed, fc.MaxTransactions, fc.Window)
		return res
	}
	res.Status = risk.StatusPass
	return res
}

// validate checks that the rule's variant matches its kind and that the
// variant's fields are well-formed.
func validate(r Rule) error {
	variants := 0
	for _, set := range []bool{r.Amount != nil, r.Time != nil, r.Merchant != nil, r.Category != nil, r.Frequency != nil} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return fmt.Errorf("rule must carry exactly one constraint variant, has %d", variants)
	}

	switch r.Kind {
	case KindAmount:
		if r.Amount == nil {
			return fmt.Errorf("kind %q without amount constraint", r.Kind)
		}
		if r.Amount.Limit.Currency == "" {
			return fmt.Errorf("amount limit missing currency")
		}
		if r.Amount.Window < 0 {
			return fmt.Errorf("negative window %s", r.Amount.Window)
		}
		if op := r.Amount.Operator; op != "" {
			switch op {
			case OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterOrEqual, OpEqual, OpNotEqual:
			default:
				return fmt.Errorf("unknown operator %q", op)
			}
		}
	case KindTime:
		if r.Time == nil {
			return fmt.Errorf("kind %q without time constraint", r.Kind)
		}
		for _, h := range r.Time.AllowedHours {
			if h < 0 || h > 23 {
				return fmt.Errorf("hour %d out of range", h)
			}
		}
		for _, d := range r.Time.AllowedWeekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekday %d out of range", d)
			}
		}
	case KindMerchant:
		if r.Merchant == nil {
			return fmt.Errorf("kind %q without merchant constraint", r.Kind)
		}
		if len(r.Merchant.Merchants) == 0 {
			return fmt.Errorf("merchant constraint with empty list")
		}
		if err := validListMode(r.Merchant.Mode); err != nil {
			return err
		}
		if m := r.Merchant.Match; m != "" && m != MatchExact && m != MatchPrefix {
			return fmt.Errorf("unknown match mode %q", m)
		}
	case KindCategory:
		if r.Category == nil {
			return fmt.Errorf("kind %q without category constraint", r.Kind)
		}
		if len(r.Category.Categories) == 0 {
			return fmt.Errorf("category constraint with empty list")
		}
		if err := validListMode(r.Category.Mode); err != nil {
			return err
		}
	case KindFrequency:
		if r.Frequency == nil {
			return fmt.Errorf("kind %q without frequency constraint", r.Kind)
		}
		if r.Frequency.MaxTransactions < 1 {
			return fmt.Errorf("max_transactions %d must be at least 1", r.Frequency.MaxTransactions)
		}
		if r.Frequency.Window <= 0 {
			return fmt.Errorf("frequency window %s must be positive", r.Frequency.Window)
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

func validListMode(m ListMode) error {
	if m != ModeAllow && m != ModeDeny {
		return fmt.Errorf("unknown list mode %q", m)
	}
	return nil
}

// malformed reports a configuration error as a FAIL-safe result.
func malformed(r Rule, err error) risk.ConditionResult {
	return risk.ConditionResult{
		Type:       conditionTypeFor(r.Kind),
		Status:     risk.StatusFail,
		RuleID:     r.ID,
		Message:    fmt.Sprintf("malformed rule definition: %v", err),
		Suggestion: "fix the rule definition and issue a new session",
	}
}

// conditionTypeFor maps a rule kind to its trip-condition type.
func conditionTypeFor(k Kind) risk.ConditionType {
	switch k {
	case KindAmount:
		return risk.ConditionAmount
	case KindTime:
		return risk.ConditionTime
	case KindMerchant:
		return risk.ConditionMerchant
	case KindCategory:
		return risk.ConditionCategory
	case KindFrequency:
		return risk.ConditionFrequency
	}
	return risk.ConditionCustom
}

// compare applies op as "observed op limit".
func compare(observed float64, op Operator, limit float64) bool {
	switch op {
	case OpLessThan:
		return observed < limit
	case OpLessOrEqual:
		return observed <= limit
	case OpGreaterThan:
		return observed > limit
	case OpGreaterOrEqual:
		return observed >= limit
	case OpEqual:
		return withinEpsilon(observed, limit)
	case OpNotEqual:
		return !withinEpsilon(observed, limit)
	}
	return false
}

// upperBound reports whether op expresses a ceiling, which is when the
// approaching-threshold warning tier makes sense.
func upperBound(op Operator) bool {
	return op == OpLessThan || op == OpLessOrEqual
}

func withinEpsilon(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < money.Epsilon
}

func (e *Evaluator) warnFraction() float64 {
	if e.WarnFraction <= 0 || e.WarnFraction > 1 {
		return DefaultWarnFraction
	}
	return e.WarnFraction
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsWeekday(xs []time.Weekday, x time.Weekday) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func f64(v float64) *float64 { return &v }
