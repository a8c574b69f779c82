package session

import (
	"context"
	"errors"
)

// Store provides session persistence.
// The interface lives in the domain package so adapters depend on the
// domain, not the other way around.
// Implementations: in-memory (OSS), external KV (hosted).
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Update saves changes to an existing session.
	Update(ctx context.Context, s *Session) error

	// List returns all stored sessions, most recent first.
	List(ctx context.Context) ([]*Session, error)
}

// ErrNotFound is returned when a session doesn't exist or has been
// garbage-collected past its retention window.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned by Validate when the session's expiry has passed.
var ErrExpired = errors.New("session expired")

// ErrRevoked is returned by Validate when the session has been revoked.
var ErrRevoked = errors.New("session revoked")

// ErrNonceReplay is returned by Validate when the presented nonce is not
// exactly one greater than the stored nonce.
var ErrNonceReplay = errors.New("nonce replay detected")

// ErrNoIntents is returned by Issue when no intents are requested.
var ErrNoIntents = errors.New("session requires at least one intent")

// ErrTTLTooLong is returned by Issue when the requested TTL exceeds the
// configured maximum.
var ErrTTLTooLong = errors.New("session ttl exceeds configured maximum")
