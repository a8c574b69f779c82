// Package counter defines cumulative spend and frequency counters.
//
// Counters are deliberately owned outside the rule evaluator: the evaluator
// is a pure function over a Snapshot, and the store enforces the atomic
// "read counters, decide, conditionally increment" sequence that prevents
// two concurrent transactions from both passing a limit check against a
// stale total.
package counter

import (
	"context"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// MerchantWindow keys per-merchant transaction counts.
type MerchantWindow struct {
	MerchantID string
	Window     time.Duration
}

// Snapshot is a point-in-time view of a session's cumulative counters.
// All windows are rolling (e.g., "last 24h"), not calendar-aligned.
type Snapshot struct {
	// Spend is the rolling transaction-value sum per window.
	Spend map[time.Duration]float64 `json:"spend_by_window,omitempty"`
	// Count is the rolling transaction count per window.
	Count map[time.Duration]int `json:"count_by_window,omitempty"`
	// MerchantCount is the rolling per-merchant transaction count.
	MerchantCount map[MerchantWindow]int `json:"-"`
}

// SpendIn returns the rolling spend for the given window.
func (s Snapshot) SpendIn(window time.Duration) float64 {
	return s.Spend[window]
}

// CountIn returns the rolling transaction count for the given window.
func (s Snapshot) CountIn(window time.Duration) int {
	return s.Count[window]
}

// MerchantCountIn returns the rolling per-merchant count for the window.
func (s Snapshot) MerchantCountIn(merchantID string, window time.Duration) int {
	return s.MerchantCount[MerchantWindow{MerchantID: merchantID, Window: window}]
}

// Store owns durable per-session counters with compare-and-swap update
// semantics. Implementations must guarantee that the decide callback and
// the conditional commit happen atomically with respect to other callers
// of the same session.
//
// Callers name the rolling windows they need; rules carry arbitrary
// windows, so the store cannot know them in advance.
type Store interface {
	// Apply snapshots the session's counters over the given windows,
	// invokes decide with the snapshot, and commits the transaction into
	// the counters iff decide returns true. The snapshot passed to decide
	// must not change between the read and the commit.
	Apply(ctx context.Context, sessionID string, t txn.Transaction, windows []time.Duration, decide func(Snapshot) bool) (Snapshot, error)

	// Peek returns the current counters over the given windows without
	// modifying them.
	Peek(ctx context.Context, sessionID string, windows []time.Duration) (Snapshot, error)
}
