// Package auth authenticates reviewers and administrators on the
// escalation review surface.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
)

// Role scopes what an authenticated caller may do.
type Role string

const (
	// RoleAdmin may revoke sessions and resolve escalations.
	RoleAdmin Role = "admin"
	// RoleReviewer may resolve escalations and read audit trails.
	RoleReviewer Role = "reviewer"
	// RoleAuditor has read-only access to evaluations and escalations.
	RoleAuditor Role = "auditor"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReviewer, RoleAuditor:
		return true
	}
	return false
}

// Reviewer is an authenticated human on the review surface.
type Reviewer struct {
	// ID uniquely identifies the reviewer.
	ID string
	// Name is the display name.
	Name string
	// Roles are the reviewer's granted roles.
	Roles []Role
}

// HasRole reports whether the reviewer holds the role.
func (r *Reviewer) HasRole(role Role) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// APIKey is a stored reviewer credential. Only the Argon2id hash is kept.
type APIKey struct {
	// Hash is the Argon2id PHC-format hash of the raw key.
	Hash string
	// ReviewerID maps the key to a Reviewer.
	ReviewerID string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// Revoked marks the key unusable.
	Revoked bool
}

// Store provides reviewer and key persistence.
type Store interface {
	// ListAPIKeys returns all stored keys.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	// GetReviewer returns a reviewer by ID.
	GetReviewer(ctx context.Context, id string) (*Reviewer, error)
}

// ErrInvalidKey is returned when an API key does not authenticate.
var ErrInvalidKey = errors.New("invalid api key")

// argon2idParams uses OWASP minimum parameters.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns the Argon2id PHC-format hash of a raw key.
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// VerifyKey verifies a raw key against a stored Argon2id hash.
// The underlying library panics on malformed hash parameters; the panic is
// converted to an error so verification never takes the process down.
func VerifyKey(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// Service validates API keys against the store.
type Service struct {
	store Store
}

// NewService creates a key-validation service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Validate checks a raw key and returns the reviewer it belongs to.
// Returns ErrInvalidKey for unknown, revoked, or non-matching keys.
func (s *Service) Validate(ctx context.Context, rawKey string) (*Reviewer, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, k := range keys {
		if k.Revoked {
			continue
		}
		match, verifyErr := VerifyKey(rawKey, k.Hash)
		if verifyErr != nil || !match {
			continue
		}
		return s.store.GetReviewer(ctx, k.ReviewerID)
	}
	return nil, ErrInvalidKey
}
