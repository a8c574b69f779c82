package risk

// conditionSeverity weights each condition type for the advisory risk score.
// Monetary and scope violations weigh more than temporal ones; external
// signals sit in between. The weights are advisory only: state transitions
// are driven solely by FAIL results, never by the score.
var conditionSeverity = map[ConditionType]float64{
	ConditionAmount:         1.0,
	ConditionCumulative:     1.0,
	ConditionAuthorityScope: 1.0,
	ConditionMerchant:       0.9,
	ConditionVendorTrust:    0.9,
	ConditionAnomaly:        0.8,
	ConditionFrequency:      0.7,
	ConditionVelocity:       0.7,
	ConditionCategory:       0.6,
	ConditionCustom:         0.6,
	ConditionTime:           0.4,
}

// warningFactor discounts WARNING results relative to FAIL.
const warningFactor = 0.5

// Score computes the aggregate risk score in [0.0, 1.0] for a set of
// condition results: the severity-weighted share of triggered conditions.
// An empty result set scores 0.
func Score(results []ConditionResult) float64 {
	var total, triggered float64
	for _, r := range results {
		w, ok := conditionSeverity[r.Type]
		if !ok {
			w = conditionSeverity[ConditionCustom]
		}
		total += w
		switch r.Status {
		case StatusFail:
			triggered += w
		case StatusWarning:
			triggered += w * warningFactor
		}
	}
	if total == 0 {
		return 0
	}
	score := triggered / total
	if score > 1 {
		score = 1
	}
	return score
}
