package memory

import (
	"context"
	"sync"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/risk"
)

// defaultEvaluationCap bounds how many evaluations are retained per
// session. The trail is append-only; once the cap is reached the oldest
// records are dropped.
const defaultEvaluationCap = 10_000

// EvaluationStore implements risk.EvaluationStore with per-session
// bounded slices. Thread-safe.
type EvaluationStore struct {
	mu        sync.RWMutex
	bySession map[string][]*risk.Evaluation
	cap       int
}

// NewEvaluationStore creates an evaluation store with the default
// per-session cap. An optional capacity parameter overrides it.
func NewEvaluationStore(capacity ...int) *EvaluationStore {
	c := defaultEvaluationCap
	if len(capacity) > 0 && capacity[0] > 0 {
		c = capacity[0]
	}
	return &EvaluationStore{
		bySession: make(map[string][]*risk.Evaluation),
		cap:       c,
	}
}

// Append stores an evaluation, dropping the oldest record if the
// session's cap is reached.
func (s *EvaluationStore) Append(ctx context.Context, e *risk.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evs := s.bySession[e.SessionID]
	if len(evs) >= s.cap {
		copy(evs, evs[1:])
		evs[len(evs)-1] = copyEvaluation(e)
	} else {
		evs = append(evs, copyEvaluation(e))
	}
	s.bySession[e.SessionID] = evs
	return nil
}

// BySession returns a session's evaluations in insertion order.
func (s *EvaluationStore) BySession(ctx context.Context, sessionID string) ([]*risk.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.bySession[sessionID]
	out := make([]*risk.Evaluation, len(evs))
	for i, e := range evs {
		out[i] = copyEvaluation(e)
	}
	return out, nil
}

// copyEvaluation creates a deep copy of an evaluation.
func copyEvaluation(e *risk.Evaluation) *risk.Evaluation {
	out := *e
	out.Results = append([]risk.ConditionResult(nil), e.Results...)
	return &out
}

// Compile-time interface verification.
var _ risk.EvaluationStore = (*EvaluationStore)(nil)
