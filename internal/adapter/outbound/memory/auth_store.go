package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/auth"
)

// AuthStore implements auth.Store with in-memory maps, seeded from
// configuration at startup. Thread-safe.
type AuthStore struct {
	mu        sync.RWMutex
	keys      []*auth.APIKey
	reviewers map[string]*auth.Reviewer
}

// NewAuthStore creates an empty auth store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		reviewers: make(map[string]*auth.Reviewer),
	}
}

// AddReviewer registers a reviewer.
func (s *AuthStore) AddReviewer(r *auth.Reviewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviewers[r.ID] = r
}

// AddAPIKey registers a key hash for a reviewer.
func (s *AuthStore) AddAPIKey(k *auth.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, k)
}

// ListAPIKeys returns all stored keys.
func (s *AuthStore) ListAPIKeys(ctx context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.APIKey, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

// GetReviewer returns a reviewer by ID.
func (s *AuthStore) GetReviewer(ctx context.Context, id string) (*auth.Reviewer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviewers[id]
	if !ok {
		return nil, fmt.Errorf("%w: reviewer %s not found", auth.ErrInvalidKey, id)
	}
	return r, nil
}

// Compile-time interface verification.
var _ auth.Store = (*AuthStore)(nil)
