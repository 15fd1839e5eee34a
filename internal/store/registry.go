package store

import (
	"sort"
	"sync"

	"github.com/kvthrong/throng/internal/types"
)

// Registry creates one processor per registered store and forwards
// lifecycle calls to all of them in deterministic order. Stores must
// be registered before Start is called.
type Registry struct {
	mu         sync.Mutex
	processors map[string]*Processor
	started    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]*Processor)}
}

// Register adds p under its own name. Registering a duplicate name or
// registering after Start panics, since both indicate a programming
// error in the embedder rather than a runtime condition.
func (r *Registry) Register(p *Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic("throng/store: cannot register a store after the registry has started")
	}
	if _, exists := r.processors[p.Name()]; exists {
		panic("throng/store: duplicate store name " + p.Name())
	}
	r.processors[p.Name()] = p
}

// Get returns the processor registered under name.
func (r *Registry) Get(name string) (*Processor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processors[name]
	if !ok {
		return nil, &types.UnknownStoreError{Name: name}
	}
	return p, nil
}

// names returns every registered store name, sorted, giving Start and
// Stop a deterministic order to iterate in.
func (r *Registry) names() []string {
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts every registered processor in deterministic order.
func (r *Registry) Start() {
	r.mu.Lock()
	r.started = true
	names := r.names()
	r.mu.Unlock()

	for _, name := range names {
		r.processors[name].Start()
	}
}

// Stop stops every registered processor in deterministic order.
func (r *Registry) Stop() {
	r.mu.Lock()
	names := r.names()
	r.mu.Unlock()

	for _, name := range names {
		r.processors[name].Stop()
	}
}
