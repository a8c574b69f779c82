// Package memory provides in-memory implementations of the domain stores.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
)

// DefaultCleanupInterval is how often expired sessions are garbage
// collected.
const DefaultCleanupInterval = 1 * time.Minute

// DefaultRetention is how long a terminal (expired or revoked) session is
// kept before garbage collection. Terminal sessions stay queryable for a
// while so audit lookups and late revocation calls do not hit ErrNotFound.
const DefaultRetention = 24 * time.Hour

// SessionStore implements session.Store with an in-memory map.
// Thread-safe. A background goroutine garbage-collects sessions whose
// expiry plus retention window has passed.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	retention time.Duration
	interval  time.Duration
	clock     func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once // prevents double-close panic on Stop
}

// NewSessionStore creates a session store with default retention and
// cleanup interval.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithConfig(DefaultRetention, DefaultCleanupInterval)
}

// NewSessionStoreWithConfig creates a session store with custom retention
// and cleanup interval.
func NewSessionStoreWithConfig(retention, interval time.Duration) *SessionStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &SessionStore{
		sessions:  make(map[string]*session.Session),
		retention: retention,
		interval:  interval,
		clock:     func() time.Time { return time.Now().UTC() },
		stopChan:  make(chan struct{}),
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *SessionStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// StartCleanup starts the background garbage-collection goroutine.
// Call Stop to shut it down gracefully.
func (s *SessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes sessions past expiry plus the retention window.
// Revoked sessions are retained from their expiry too: revocation does not
// shorten how long the record stays visible.
func (s *SessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cleaned := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt.Add(s.retention)) {
			delete(s.sessions, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("garbage-collected sessions", "count", cleaned)
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *SessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation.
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Get retrieves a session by ID. Expired sessions are still returned until
// garbage collection removes them; status interpretation belongs to the
// session manager.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return copySession(sess), nil
}

// Update saves changes to an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrNotFound
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// List returns all stored sessions, most recent first.
func (s *SessionStore) List(ctx context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Size returns the number of sessions currently stored.
// Useful for testing cleanup behavior.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copySession creates a deep copy of a session.
func copySession(sess *session.Session) *session.Session {
	out := *sess
	out.Intents = append([]session.Intent(nil), sess.Intents...)
	for i, in := range sess.Intents {
		out.Intents[i].Merchants = append([]string(nil), in.Merchants...)
		out.Intents[i].Categories = append([]string(nil), in.Categories...)
	}
	// Rule sets are immutable once attached, so sharing the backing
	// slice is safe.
	return &out
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
