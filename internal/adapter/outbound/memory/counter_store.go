package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/counter"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// DefaultCounterRetention bounds how far back committed transactions are
// kept. It must be at least as long as the longest rule window in use;
// 7 days matches the maximum session TTL.
const DefaultCounterRetention = 7 * 24 * time.Hour

// committed is one transaction folded into a session's counters.
type committed struct {
	at       time.Time
	value    float64
	merchant string
}

// sessionCounters holds one session's committed transactions. The mutex
// serializes Apply's read-decide-commit sequence: two concurrent
// transactions must not both pass a limit check against the same stale
// total.
type sessionCounters struct {
	mu     sync.Mutex
	events []committed
}

// CounterStore implements counter.Store with per-session event logs.
// Rolling-window sums and counts are recomputed from the log on each
// snapshot, so any window a rule names is supported without pre-declared
// buckets.
type CounterStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionCounters

	retention time.Duration
	clock     func() time.Time
}

// NewCounterStore creates a counter store with default retention.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		sessions:  make(map[string]*sessionCounters),
		retention: DefaultCounterRetention,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *CounterStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Apply snapshots the session's counters, invokes decide, and commits the
// transaction iff decide returns true. The per-session mutex is held
// across the whole sequence.
func (s *CounterStore) Apply(ctx context.Context, sessionID string, t txn.Transaction, windows []time.Duration, decide func(counter.Snapshot) bool) (counter.Snapshot, error) {
	sc := s.forSession(sessionID)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := s.now()
	sc.prune(now, s.retention)

	snap := sc.snapshot(now, windows)
	if decide(snap) {
		sc.events = append(sc.events, committed{
			at:       now,
			value:    t.Amount.Value,
			merchant: t.MerchantID,
		})
	}
	return snap, nil
}

// Peek returns the current counters without modifying them.
func (s *CounterStore) Peek(ctx context.Context, sessionID string, windows []time.Duration) (counter.Snapshot, error) {
	sc := s.forSession(sessionID)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.snapshot(s.now(), windows), nil
}

// Drop removes a session's counters, e.g. after session garbage
// collection.
func (s *CounterStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *CounterStore) forSession(sessionID string) *sessionCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sessions[sessionID]
	if !ok {
		sc = &sessionCounters{}
		s.sessions[sessionID] = sc
	}
	return sc
}

func (s *CounterStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock()
}

// prune drops events older than the retention horizon.
// Caller holds sc.mu.
func (sc *sessionCounters) prune(now time.Time, retention time.Duration) {
	horizon := now.Add(-retention)
	keep := sc.events[:0]
	for _, e := range sc.events {
		if e.at.After(horizon) {
			keep = append(keep, e)
		}
	}
	sc.events = keep
}

// snapshot materializes rolling sums and counts for the requested windows.
// Caller holds sc.mu.
func (sc *sessionCounters) snapshot(now time.Time, windows []time.Duration) counter.Snapshot {
	snap := counter.Snapshot{
		Spend:         make(map[time.Duration]float64, len(windows)),
		Count:         make(map[time.Duration]int, len(windows)),
		MerchantCount: make(map[counter.MerchantWindow]int),
	}
	for _, w := range windows {
		cutoff := now.Add(-w)
		var spend float64
		var count int
		for _, e := range sc.events {
			if e.at.After(cutoff) {
				spend += e.value
				count++
				snap.MerchantCount[counter.MerchantWindow{MerchantID: e.merchant, Window: w}]++
			}
		}
		snap.Spend[w] = spend
		snap.Count[w] = count
	}
	return snap
}

// Compile-time interface verification.
var _ counter.Store = (*CounterStore)(nil)
