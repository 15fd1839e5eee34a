package storage

import (
	"sync"

	"github.com/kvthrong/throng/internal/types"
)

// InMemoryEngine is a mutex-protected map from key to antichain; put
// semantics match the processor's antichain rule.
type InMemoryEngine struct {
	mu   sync.Mutex
	data map[string][]types.RawVersioned
}

// NewInMemoryEngine returns a ready-to-use in-memory engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{data: make(map[string][]types.RawVersioned)}
}

// Name implements Engine.
func (e *InMemoryEngine) Name() string { return "memory" }

// Get implements Engine.
func (e *InMemoryEngine) Get(key []byte) ([]types.RawVersioned, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]types.RawVersioned, len(existing))
	copy(out, existing)
	return out, nil
}

// Put implements Engine.
func (e *InMemoryEngine) Put(key []byte, candidate types.RawVersioned) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := string(key)
	merged, changed := types.ReconcileRaw(e.data[k], candidate)
	if changed {
		e.data[k] = merged
	}
	return changed, nil
}

// Delete implements Engine.
func (e *InMemoryEngine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.data, string(key))
	return nil
}

// Visit implements Engine.
func (e *InMemoryEngine) Visit(fn func(key []byte, versions []types.RawVersioned) error) error {
	e.mu.Lock()
	snapshot := make(map[string][]types.RawVersioned, len(e.data))
	for k, v := range e.data {
		cp := make([]types.RawVersioned, len(v))
		copy(cp, v)
		snapshot[k] = cp
	}
	e.mu.Unlock()

	for k, v := range snapshot {
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Engine. The in-memory engine holds no resources.
func (e *InMemoryEngine) Close() error { return nil }
