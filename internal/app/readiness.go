package app

import (
	"sync"
	"time"
)

// ComponentState readiness of one wired component
type ComponentState struct {
	Ready   bool      `json:"ready"`
	Error   string    `json:"error,omitempty"`
	Since   time.Time `json:"since"`
	Message string    `json:"message,omitempty"`
}

// ReadinessRegistry tracks per-component readiness for the /ready
// endpoint. Components report in during wiring and whenever their
// connection state changes.
type ReadinessRegistry struct {
	mu     sync.RWMutex
	states map[string]ComponentState
}

// NewReadinessRegistry creates an empty registry
func NewReadinessRegistry() *ReadinessRegistry {
	return &ReadinessRegistry{states: make(map[string]ComponentState)}
}

// SetReady marks a component ready
func (r *ReadinessRegistry) SetReady(name, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[name] = ComponentState{Ready: true, Since: time.Now(), Message: message}
}

// SetError marks a component not ready with a cause
func (r *ReadinessRegistry) SetError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[name] = ComponentState{Ready: false, Since: time.Now(), Error: err.Error()}
}

// Snapshot returns the overall readiness and a copy of every state
func (r *ReadinessRegistry) Snapshot() (bool, map[string]ComponentState) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ready := true
	out := make(map[string]ComponentState, len(r.states))
	for name, state := range r.states {
		out[name] = state
		if !state.Ready {
			ready = false
		}
	}
	return ready, out
}
