package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
)

// EscalationStore implements risk.EscalationStore with an in-memory map.
// Thread-safe.
type EscalationStore struct {
	mu          sync.RWMutex
	escalations map[string]*risk.HumanEscalation
}

// NewEscalationStore creates an empty escalation store.
func NewEscalationStore() *EscalationStore {
	return &EscalationStore{
		escalations: make(map[string]*risk.HumanEscalation),
	}
}

// Create stores a new, unresolved escalation.
func (s *EscalationStore) Create(ctx context.Context, e *risk.HumanEscalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[e.ID] = copyEscalation(e)
	return nil
}

// Get retrieves an escalation by ID.
func (s *EscalationStore) Get(ctx context.Context, id string) (*risk.HumanEscalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escalations[id]
	if !ok {
		return nil, risk.ErrEscalationNotFound
	}
	return copyEscalation(e), nil
}

// Update saves changes to an existing escalation.
func (s *EscalationStore) Update(ctx context.Context, e *risk.HumanEscalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; !ok {
		return risk.ErrEscalationNotFound
	}
	s.escalations[e.ID] = copyEscalation(e)
	return nil
}

// ListPending returns all unresolved escalations, oldest first.
func (s *EscalationStore) ListPending(ctx context.Context) ([]*risk.HumanEscalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*risk.HumanEscalation
	for _, e := range s.escalations {
		if !e.Resolved() {
			out = append(out, copyEscalation(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out, nil
}

// copyEscalation creates a deep copy of an escalation.
func copyEscalation(e *risk.HumanEscalation) *risk.HumanEscalation {
	out := *e
	out.Conditions = append([]string(nil), e.Conditions...)
	out.FailedConditions = append([]risk.ConditionResult(nil), e.FailedConditions...)
	if e.Decision != nil {
		d := *e.Decision
		out.Decision = &d
	}
	if e.DecidedAt != nil {
		t := *e.DecidedAt
		out.DecidedAt = &t
	}
	if e.TimeoutAt != nil {
		t := *e.TimeoutAt
		out.TimeoutAt = &t
	}
	return &out
}

// Compile-time interface verification.
var _ risk.EscalationStore = (*EscalationStore)(nil)
