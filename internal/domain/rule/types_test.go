package rule

import (
	"testing"
	"time"
)

func TestSet_Windows(t *testing.T) {
	t.Parallel()

	set := Set{Rules: []Rule{
		{Kind: KindAmount, Amount: &AmountConstraint{Limit: usd(100)}}, // per-txn, no window
		{Kind: KindAmount, Amount: &AmountConstraint{Limit: usd(1000), Window: 24 * time.Hour}},
		{Kind: KindFrequency, Frequency: &FrequencyConstraint{MaxTransactions: 5, Window: time.Hour}},
		{Kind: KindFrequency, Frequency: &FrequencyConstraint{MaxTransactions: 50, Window: 24 * time.Hour}}, // duplicate window
	}}

	windows := set.Windows()
	if len(windows) != 2 {
		t.Fatalf("got %d windows %v, want 2", len(windows), windows)
	}
	seen := map[time.Duration]bool{}
	for _, w := range windows {
		seen[w] = true
	}
	if !seen[24*time.Hour] || !seen[time.Hour] {
		t.Errorf("windows = %v, want 24h and 1h", windows)
	}
}

func TestSet_WindowsEmpty(t *testing.T) {
	t.Parallel()

	set := Set{Rules: []Rule{
		{Kind: KindMerchant, Merchant: &MerchantConstraint{Merchants: []string{"a"}, Mode: ModeAllow}},
	}}
	if got := set.Windows(); len(got) != 0 {
		t.Errorf("Windows() = %v, want empty", got)
	}
}

func TestSet_Fingerprint(t *testing.T) {
	t.Parallel()

	a := Set{Rules: []Rule{{ID: "r1", Kind: KindAmount, Amount: &AmountConstraint{Limit: usd(100)}}}}
	b := Set{Rules: []Rule{{ID: "r1", Kind: KindAmount, Amount: &AmountConstraint{Limit: usd(100)}}}}
	c := Set{Rules: []Rule{{ID: "r1", Kind: KindAmount, Amount: &AmountConstraint{Limit: usd(200)}}}}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical rule sets should fingerprint identically")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different limits should fingerprint differently")
	}

	// CreatedAt is not part of the fingerprint; only the rules are.
	b.CreatedAt = time.Now()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("CreatedAt should not affect the fingerprint")
	}
}
