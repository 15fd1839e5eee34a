package throng

// Versioned is a value in the store tagged with its vector clock. A
// tombstone is a Versioned whose Value is nil.
type Versioned[V any] struct {
	Value *V
	Clock VectorClock
}

// NewVersioned wraps value with clock.
func NewVersioned[V any](value V, clock VectorClock) Versioned[V] {
	v := value
	return Versioned[V]{Value: &v, Clock: clock}
}

// Tombstone returns a versioned absent-value marker at clock.
func Tombstone[V any](clock VectorClock) Versioned[V] {
	return Versioned[V]{Clock: clock}
}

// HasValue reports whether this versioned carries a live payload as
// opposed to a tombstone.
func (v Versioned[V]) HasValue() bool { return v.Value != nil }

// ValueOr returns the payload, or def if this versioned is a
// tombstone.
func (v Versioned[V]) ValueOr(def V) V {
	if v.Value == nil {
		return def
	}
	return *v.Value
}

// ReconcileAntichain applies the store's antichain-maintenance rule to
// a candidate write against the existing set of versions for a key.
// It returns the updated set and whether the candidate was accepted:
//
//   - candidate Before or Equal any existing entry: rejected, the
//     existing set is returned unchanged.
//   - candidate After an existing entry: that entry is dropped.
//   - candidate Concurrent with an existing entry: both are kept.
//
// The returned slice is always an antichain: no two elements are
// causally ordered.
func ReconcileAntichain[V any](existing []Versioned[V], candidate Versioned[V]) ([]Versioned[V], bool) {
	kept := make([]Versioned[V], 0, len(existing)+1)
	for _, e := range existing {
		switch candidate.Clock.Compare(e.Clock) {
		case Before, Equal:
			return existing, false
		case After:
			continue
		default: // Concurrent
			kept = append(kept, e)
		}
	}
	kept = append(kept, candidate)
	return kept, true
}
