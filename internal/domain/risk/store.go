package risk

import (
	"context"
	"errors"
)

// ErrEscalationNotFound is returned when no escalation has the given ID.
var ErrEscalationNotFound = errors.New("escalation not found")

// ErrEscalationResolved is returned when resolving an escalation that has
// already been resolved. Resolution happens exactly once; a duplicate is
// an error, never a silent overwrite.
var ErrEscalationResolved = errors.New("escalation already resolved")

// EscalationStore persists escalations.
// Interface in the domain package; implementations in adapters.
type EscalationStore interface {
	// Create stores a new, unresolved escalation.
	Create(ctx context.Context, e *HumanEscalation) error

	// Get retrieves an escalation by ID.
	// Returns ErrEscalationNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*HumanEscalation, error)

	// Update saves changes to an existing escalation.
	Update(ctx context.Context, e *HumanEscalation) error

	// ListPending returns all unresolved escalations, oldest first.
	ListPending(ctx context.Context) ([]*HumanEscalation, error)
}

// EvaluationStore persists the append-only evaluation audit trail.
type EvaluationStore interface {
	// Append stores an evaluation. Evaluations are immutable; there is
	// no update operation.
	Append(ctx context.Context, e *Evaluation) error

	// BySession returns a session's evaluations in insertion order.
	BySession(ctx context.Context, sessionID string) ([]*Evaluation, error)
}
