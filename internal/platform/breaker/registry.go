package breaker

import (
	"sort"
	"sync"
)

// Registry owns one Breaker per dependency name. Breakers are created on
// first use and live as long as the registry.
type Registry struct {
	opts []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns a registry whose breakers are all built with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.opts...)
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns the bookkeeping of every registered breaker keyed by name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Snapshot, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.Snapshot()
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
