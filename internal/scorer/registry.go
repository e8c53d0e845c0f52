package scorer

import (
	"sync"

	"github.com/hazyhaar/redline/internal/fault"
)

// Registry stores scorer factories and enumerates them deterministically
// in insertion order. It executes nothing and reads no environment;
// scorers are instantiated only by Active, from an explicit
// configuration list, and by GetMetadata.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register stores a factory under id. A duplicate id is a conflict.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fault.New(fault.Validation, "scorer id is required")
	}
	if factory == nil {
		return fault.New(fault.Validation, "scorer factory is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fault.New(fault.Conflict, "scorer %q already registered", id)
	}
	r.factories[id] = factory
	r.order = append(r.order, id)
	return nil
}

// Unregister removes a factory; unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; !ok {
		return
	}
	delete(r.factories, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// ListRegistered returns ids in insertion order.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) GetFactory(id string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	if !ok {
		return nil, fault.New(fault.Validation, "unknown scorer %q", id)
	}
	return f, nil
}

// GetMetadata instantiates the scorer once to report its name and version.
func (r *Registry) GetMetadata(id string) (*Metadata, error) {
	f, err := r.GetFactory(id)
	if err != nil {
		return nil, err
	}
	s := f()
	return &Metadata{Name: s.ID(), Version: s.Version()}, nil
}

// Active instantiates the scorers named by enabled, in that order. Every
// unknown id fails with validation; a nil or empty list yields no scorers
// (no hidden defaults).
func (r *Registry) Active(enabled []string) ([]Scorer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scorers := make([]Scorer, 0, len(enabled))
	for _, id := range enabled {
		f, ok := r.factories[id]
		if !ok {
			return nil, fault.New(fault.Validation, "unknown scorer %q in configuration", id)
		}
		scorers = append(scorers, f())
	}
	return scorers, nil
}
