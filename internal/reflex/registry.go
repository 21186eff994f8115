// Package reflex implements the fast cognitive path: a registry of
// cheap non-LLM handlers, a datalog pattern index over trigger tags,
// intuition scoring, an uncertainty quantifier, and the decision gate
// that arbitrates between firing a reflex and running the deliberate
// evolution pipeline.
package reflex

import (
	"context"
	"fmt"
	"sync"

	"ain/internal/types"
)

// Kind labels where a reflex came from.
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindLearned Kind = "learned"
)

// Handler runs the fast path for a matched context. A true second
// result consumes the tick; a non-empty reply is forwarded to the
// operator channel by the caller.
type Handler func(ctx context.Context, in Input) (string, bool, error)

// Input carries what the gate knows at the moment a reflex fires.
type Input struct {
	Key         string
	Confidence  float64
	ExecutionID string
}

// Action is a registered fast-path handler. Name is unique within a
// registry; MinConfidence is the match confidence below which the
// action refuses to run.
type Action struct {
	Name          string
	Kind          Kind
	MinConfidence float64
	Handler       Handler
}

// CanExecute reports whether the action accepts a match of the given
// confidence.
func (a Action) CanExecute(confidence float64) bool {
	return confidence >= a.MinConfidence
}

// Registry holds reflex actions keyed by unique name.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action. Duplicate names and nil handlers are
// rejected.
func (r *Registry) Register(a Action) error {
	if a.Name == "" {
		return fmt.Errorf("reflex action needs a name")
	}
	if a.Handler == nil {
		return fmt.Errorf("reflex %s: nil handler", a.Name)
	}
	a.MinConfidence = types.Clamp01(a.MinConfidence)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name]; exists {
		return fmt.Errorf("reflex %s already registered", a.Name)
	}
	r.actions[a.Name] = a
	r.order = append(r.order, a.Name)
	return nil
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names lists registered actions in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
