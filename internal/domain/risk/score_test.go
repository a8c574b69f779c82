package risk

import (
	"math"
	"testing"
)

func TestScore_Empty(t *testing.T) {
	t.Parallel()

	if got := Score(nil); got != 0 {
		t.Errorf("Score(nil) = %v, want 0", got)
	}
}

func TestScore_AllPass(t *testing.T) {
	t.Parallel()

	results := []ConditionResult{
		{Type: ConditionAmount, Status: StatusPass},
		{Type: ConditionMerchant, Status: StatusPass},
	}
	if got := Score(results); got != 0 {
		t.Errorf("Score() = %v, want 0", got)
	}
}

func TestScore_AllFail(t *testing.T) {
	t.Parallel()

	results := []ConditionResult{
		{Type: ConditionAmount, Status: StatusFail},
		{Type: ConditionTime, Status: StatusFail},
	}
	if got := Score(results); got != 1 {
		t.Errorf("Score() = %v, want 1", got)
	}
}

func TestScore_SeverityWeighting(t *testing.T) {
	t.Parallel()

	// An amount failure (weight 1.0) against a passing time check
	// (weight 0.4) scores 1.0/1.4.
	results := []ConditionResult{
		{Type: ConditionAmount, Status: StatusFail},
		{Type: ConditionTime, Status: StatusPass},
	}
	want := 1.0 / 1.4
	if got := Score(results); math.Abs(got-want) > 1e-9 {
		t.Errorf("Score() = %v, want %v", got, want)
	}
}

func TestScore_WarningDiscounted(t *testing.T) {
	t.Parallel()

	fail := Score([]ConditionResult{{Type: ConditionCumulative, Status: StatusFail}})
	warn := Score([]ConditionResult{{Type: ConditionCumulative, Status: StatusWarning}})
	if warn >= fail {
		t.Errorf("warning score %v should be below fail score %v", warn, fail)
	}
	if warn != 0.5 {
		t.Errorf("single warning score = %v, want 0.5", warn)
	}
}

func TestScore_UnknownTypeUsesCustomWeight(t *testing.T) {
	t.Parallel()

	unknown := Score([]ConditionResult{{Type: ConditionType("NOVEL"), Status: StatusFail}})
	custom := Score([]ConditionResult{{Type: ConditionCustom, Status: StatusFail}})
	if unknown != custom {
		t.Errorf("unknown type score = %v, custom = %v, want equal", unknown, custom)
	}
}

func TestEscalationDecision_Valid(t *testing.T) {
	t.Parallel()

	valid := []EscalationDecision{
		DecisionApprove, DecisionApproveWithConditions, DecisionReject,
		DecisionEscalateFurther, DecisionModifyAndApprove,
	}
	for _, d := range valid {
		if !d.Valid() {
			t.Errorf("%s should be valid", d)
		}
	}
	if EscalationDecision("MAYBE").Valid() {
		t.Error("MAYBE should not be valid")
	}
	if EscalationDecision("").Valid() {
		t.Error("empty decision should not be valid")
	}
}

func TestEvaluation_HasTripped(t *testing.T) {
	t.Parallel()

	ev := &Evaluation{Results: []ConditionResult{
		{Status: StatusPass},
		{Status: StatusWarning},
	}}
	if ev.HasTripped() {
		t.Error("warnings alone should not count as tripped")
	}
	ev.Results = append(ev.Results, ConditionResult{Status: StatusFail})
	if !ev.HasTripped() {
		t.Error("a FAIL result should count as tripped")
	}
}
