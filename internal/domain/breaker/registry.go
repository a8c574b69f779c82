package breaker

import "sync"

// Registry holds exactly one breaker per session. Breakers for different
// sessions are independent and evaluate in parallel; the per-breaker mutex
// serializes decisions within a session.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry applying cfg to new breakers.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the session's breaker, creating a CLOSED one on first use.
func (r *Registry) Get(sessionID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[sessionID]
	if !ok {
		b = New(sessionID, r.cfg)
		r.breakers[sessionID] = b
	}
	return b
}

// Lookup returns the session's breaker without creating one.
func (r *Registry) Lookup(sessionID string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[sessionID]
	return b, ok
}

// Remove drops the session's breaker, e.g. after session garbage
// collection. TERMINATED breakers for retained sessions are kept so the
// permanent halt stays observable.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, sessionID)
}
