// Package cel provides a CEL-based evaluator for the runtime conditions a
// reviewer attaches to a conditional approval, and for CUSTOM trip
// conditions configured per deployment.
package cel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/counter"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// maxExpressionLength bounds condition expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, guarding against
// cost-exhaustion on reviewer-supplied expressions.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting.
const maxNestingDepth = 50

// ConditionEvaluator compiles and evaluates approval-condition
// expressions. Compiled programs are cached per expression text, since the
// same conditions are re-checked on every HALF_OPEN evaluation.
type ConditionEvaluator struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]cel.Program
}

// NewConditionEvaluator creates an evaluator with the governance
// environment: transaction fields and rolling counters are available as
// top-level variables.
//
//	amount            double   transaction value
//	currency          string   transaction currency code
//	merchant          string   merchant identifier
//	categories        list     product category tags
//	hour              int      transaction hour-of-day, UTC
//	weekday           int      transaction day-of-week, 0 = Sunday
//	txn_count_24h     int      rolling 24h transaction count
//	spend_24h         double   rolling 24h spend
//	merchant_count_24h int     rolling 24h count at this merchant
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("categories", cel.ListType(cel.StringType)),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("txn_count_24h", cel.IntType),
		cel.Variable("spend_24h", cel.DoubleType),
		cel.Variable("merchant_count_24h", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}
	return &ConditionEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Check evaluates every condition against the transaction and counters.
// Each condition yields one CUSTOM result. A condition that does not
// compile, does not produce a boolean, or errors at runtime is reported as
// FAIL: a condition the engine cannot understand must block, not be
// skipped.
func (e *ConditionEvaluator) Check(conditions []string, t txn.Transaction, snap counter.Snapshot) []risk.ConditionResult {
	results := make([]risk.ConditionResult, 0, len(conditions))
	for _, cond := range conditions {
		results = append(results, e.checkOne(cond, t, snap))
	}
	return results
}

func (e *ConditionEvaluator) checkOne(cond string, t txn.Transaction, snap counter.Snapshot) risk.ConditionResult {
	prg, err := e.program(cond)
	if err != nil {
		return risk.ConditionResult{
			Type:       risk.ConditionCustom,
			Status:     risk.StatusFail,
			Message:    fmt.Sprintf("condition %q is not evaluable: %v", cond, err),
			Suggestion: "re-resolve the escalation with a valid condition expression",
		}
	}

	day := 24 * time.Hour
	out, _, err := prg.Eval(map[string]any{
		"amount":             t.Amount.Value,
		"currency":           t.Amount.Currency,
		"merchant":           t.MerchantID,
		"categories":         t.Categories,
		"hour":               t.Timestamp.UTC().Hour(),
		"weekday":            int(t.Timestamp.UTC().Weekday()),
		"txn_count_24h":      snap.CountIn(day),
		"spend_24h":          snap.SpendIn(day),
		"merchant_count_24h": snap.MerchantCountIn(t.MerchantID, day),
	})
	if err != nil {
		return risk.ConditionResult{
			Type:    risk.ConditionCustom,
			Status:  risk.StatusFail,
			Message: fmt.Sprintf("condition %q failed to evaluate: %v", cond, err),
		}
	}

	ok, isBool := out.Value().(bool)
	if !isBool {
		return risk.ConditionResult{
			Type:    risk.ConditionCustom,
			Status:  risk.StatusFail,
			Message: fmt.Sprintf("condition %q did not produce a boolean", cond),
		}
	}
	if !ok {
		return risk.ConditionResult{
			Type:       risk.ConditionCustom,
			Status:     risk.StatusFail,
			Message:    fmt.Sprintf("approval condition violated: %s", cond),
			Suggestion: "await a fresh review of the new escalation",
		}
	}
	return risk.ConditionResult{
		Type:    risk.ConditionCustom,
		Status:  risk.StatusPass,
		Message: fmt.Sprintf("approval condition satisfied: %s", cond),
	}
}

// program returns the cached compiled program for the expression,
// compiling and validating it on first use.
func (e *ConditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expr]; ok {
		return prg, nil
	}

	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression exceeds %d characters", maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	e.cache[expr] = prg
	return prg, nil
}

// validateNesting bounds parenthesis/bracket/brace nesting depth.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
