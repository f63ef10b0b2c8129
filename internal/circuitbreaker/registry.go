package circuitbreaker

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownBreaker is returned when a name was never registered.
var ErrUnknownBreaker = errors.New("unknown circuit breaker")

// Registry tracks the breakers of a process by name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Add registers b, replacing any breaker with the same name.
func (r *Registry) Add(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
}

func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Stats returns every breaker's stats sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the named breaker.
func (r *Registry) Reset(name string) error {
	b, ok := r.Get(name)
	if !ok {
		return ErrUnknownBreaker
	}
	b.Reset()
	return nil
}
