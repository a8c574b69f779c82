package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/rule"
)

// DefaultTTL is the session lifetime applied when Issue is called with a
// zero ttl.
const DefaultTTL = 24 * time.Hour

// DefaultMaxTTL is the longest session lifetime that may be requested.
const DefaultMaxTTL = 7 * 24 * time.Hour

// Config holds session manager configuration.
type Config struct {
	// DefaultTTL applies when Issue receives a zero ttl.
	DefaultTTL time.Duration
	// MaxTTL caps the ttl a caller may request.
	MaxTTL time.Duration
}

// Manager issues, validates, and revokes delegation sessions.
//
// Validation and revocation for one session are serialized: nonce
// check-and-increment and status transitions are read-modify-write
// sequences, and two requests presenting the same nonce must not both
// succeed.
type Manager struct {
	store      Store
	defaultTTL time.Duration
	maxTTL     time.Duration
	clock      func() time.Time

	// locks holds one mutex per session ID.
	locks sync.Map
}

// NewManager creates a session Manager backed by the given store.
func NewManager(store Store, cfg Config) *Manager {
	defaultTTL := cfg.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	maxTTL := cfg.MaxTTL
	if maxTTL == 0 {
		maxTTL = DefaultMaxTTL
	}
	return &Manager{
		store:      store,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager's time source. Test hook.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// Issue creates an ACTIVE session with nonce 0 for the given delegation.
// The rule set is attached once and never mutated afterwards.
func (m *Manager) Issue(ctx context.Context, userWallet, agentID string, intents []Intent, rules rule.Set, ttl time.Duration) (*Session, error) {
	if len(intents) == 0 {
		return nil, ErrNoIntents
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl > m.maxTTL {
		return nil, fmt.Errorf("%w: requested %s, maximum %s", ErrTTLTooLong, ttl, m.maxTTL)
	}

	now := m.clock()
	s := &Session{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		UserWallet: userWallet,
		Intents:    intents,
		Rules:      rules,
		Status:     StatusActive,
		Nonce:      0,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// Validate checks that the session is live and that the presented nonce is
// exactly one greater than the stored nonce. On success the stored nonce
// is incremented; on expiry the status transition to EXPIRED is persisted
// as a side effect.
func (m *Manager) Validate(ctx context.Context, id string, nonce uint64) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case StatusRevoked:
		return nil, ErrRevoked
	case StatusExpired:
		return nil, ErrExpired
	}

	now := m.clock()
	if s.ExpiredAt(now) {
		s.Status = StatusExpired
		if err := m.store.Update(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to persist expiry: %w", err)
		}
		return nil, ErrExpired
	}

	if nonce != s.Nonce+1 {
		return nil, fmt.Errorf("%w: presented %d, expected %d", ErrNonceReplay, nonce, s.Nonce+1)
	}

	s.Nonce++
	s.LastUsed = now
	if err := m.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to persist nonce: %w", err)
	}

	copy := *s
	return &copy, nil
}

// Revoke transitions the session to REVOKED. Idempotent: revoking a
// REVOKED session is a no-op, and an EXPIRED session is left as-is since
// it is already unusable. Any breaker tied to the session observes the
// revocation on its next evaluation and forces TERMINATED.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == StatusRevoked || s.Status == StatusExpired {
		return nil
	}
	s.Status = StatusRevoked
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("failed to persist revocation: %w", err)
	}
	return nil
}

// Get returns the session without side effects.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// List returns all stored sessions, most recent first.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	return m.store.List(ctx)
}

// lock acquires the per-session mutex and returns its release func.
func (m *Manager) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
