package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

// mapStore is an in-memory Store for manager tests.
type mapStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMapStore() *mapStore {
	return &mapStore{sessions: make(map[string]*Session)}
}

func (s *mapStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *mapStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *mapStore) Update(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *mapStore) List(ctx context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

func testIntents() []Intent {
	return []Intent{{
		ID:        "i1",
		Action:    "purchase",
		MaxAmount: money.New(500, "USD"),
	}}
}

func newTestManager(t *testing.T) (*Manager, *mapStore) {
	t.Helper()
	store := newMapStore()
	return NewManager(store, Config{}), store
}

func TestManager_IssueDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	sess, err := m.Issue(ctx, "wallet-1", "agent-1", testIntents(), rule.Set{}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if sess.Status != StatusActive {
		t.Errorf("status = %s, want active", sess.Status)
	}
	if sess.Nonce != 0 {
		t.Errorf("nonce = %d, want 0", sess.Nonce)
	}
	if !sess.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Errorf("expires_at = %v, want %v", sess.ExpiresAt, now.Add(DefaultTTL))
	}
}

func TestManager_IssueRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)

	if _, err := m.Issue(ctx, "w", "a", nil, rule.Set{}, 0); !errors.Is(err, ErrNoIntents) {
		t.Errorf("Issue() with no intents error = %v, want ErrNoIntents", err)
	}
	if _, err := m.Issue(ctx, "w", "a", testIntents(), rule.Set{}, 8*24*time.Hour); !errors.Is(err, ErrTTLTooLong) {
		t.Errorf("Issue() with long TTL error = %v, want ErrTTLTooLong", err)
	}
}

func TestManager_ValidateNonceSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)
	sess, err := m.Issue(ctx, "w", "a", testIntents(), rule.Set{}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	// First request presents nonce 1.
	got, err := m.Validate(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("Validate(1) error: %v", err)
	}
	if got.Nonce != 1 {
		t.Errorf("stored nonce = %d, want 1", got.Nonce)
	}

	// Replaying nonce 1 must fail; the increment already happened.
	if _, err := m.Validate(ctx, sess.ID, 1); !errors.Is(err, ErrNonceReplay) {
		t.Errorf("replay error = %v, want ErrNonceReplay", err)
	}

	// Skipping ahead is also a replay-protection failure.
	if _, err := m.Validate(ctx, sess.ID, 5); !errors.Is(err, ErrNonceReplay) {
		t.Errorf("skip-ahead error = %v, want ErrNonceReplay", err)
	}

	// The correct next nonce still works.
	if _, err := m.Validate(ctx, sess.ID, 2); err != nil {
		t.Errorf("Validate(2) error: %v", err)
	}
}

func TestManager_ValidateConcurrentSameNonce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)
	sess, err := m.Issue(ctx, "w", "a", testIntents(), rule.Set{}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Validate(ctx, sess.ID, 1); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	var n int
	for range successes {
		n++
	}
	if n != 1 {
		t.Errorf("%d concurrent validations of the same nonce succeeded, want exactly 1", n)
	}
}

func TestManager_ValidateExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMapStore()
	m := NewManager(store, Config{})

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	sess, err := m.Issue(ctx, "w", "a", testIntents(), rule.Set{}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := m.Validate(ctx, sess.ID, 1); !errors.Is(err, ErrExpired) {
		t.Fatalf("Validate() after expiry error = %v, want ErrExpired", err)
	}

	// The expiry transition is persisted, not just observed.
	stored, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != StatusExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}
}

func TestManager_Revoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)
	sess, err := m.Issue(ctx, "w", "a", testIntents(), rule.Set{}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := m.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if _, err := m.Validate(ctx, sess.ID, 1); !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate() after revoke error = %v, want ErrRevoked", err)
	}

	// Idempotent.
	if err := m.Revoke(ctx, sess.ID); err != nil {
		t.Errorf("second Revoke() error: %v", err)
	}

	if err := m.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrNotFound", err)
	}
}

func TestIntent_Covers(t *testing.T) {
	t.Parallel()

	at := time.Now().UTC()
	tests := []struct {
		name   string
		intent Intent
		txn    txn.Transaction
		want   bool
	}{
		{
			name:   "unrestricted intent covers anything",
			intent: Intent{ID: "i", Action: "purchase"},
			txn:    txn.Transaction{Amount: money.New(9999, "USD"), MerchantID: "any", Timestamp: at},
			want:   true,
		},
		{
			name:   "merchant restriction hit",
			intent: Intent{Merchants: []string{"acme"}},
			txn:    txn.Transaction{Amount: money.New(10, "USD"), MerchantID: "acme", Timestamp: at},
			want:   true,
		},
		{
			name:   "merchant restriction miss",
			intent: Intent{Merchants: []string{"acme"}},
			txn:    txn.Transaction{Amount: money.New(10, "USD"), MerchantID: "globex", Timestamp: at},
			want:   false,
		},
		{
			name:   "category restriction miss",
			intent: Intent{Categories: []string{"groceries"}},
			txn:    txn.Transaction{Amount: money.New(10, "USD"), MerchantID: "m", Categories: []string{"electronics"}, Timestamp: at},
			want:   false,
		},
		{
			name:   "amount cap enforced",
			intent: Intent{MaxAmount: money.New(100, "USD")},
			txn:    txn.Transaction{Amount: money.New(150, "USD"), MerchantID: "m", Timestamp: at},
			want:   false,
		},
		{
			name:   "currency mismatch fails closed",
			intent: Intent{MaxAmount: money.New(100, "USD")},
			txn:    txn.Transaction{Amount: money.New(1, "EUR"), MerchantID: "m", Timestamp: at},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.intent.Covers(tt.txn); got != tt.want {
				t.Errorf("Covers() = %v, want %v", got, tt.want)
			}
		})
	}
}
