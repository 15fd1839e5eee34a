package throng

import "time"

// Resolver reduces an antichain of concurrent versions for a key down
// to a single value. It must return exactly one result whenever the
// input is non-empty; returning a different count is treated by the
// caller as InconsistentDataError. Resolvers are expected to be
// deterministic for a given input.
type Resolver[V any] func(versions []Versioned[V]) ([]Versioned[V], error)

// LastWriterWins is the default resolver: it selects the element with
// the maximum wall-clock timestamp (ties broken by first occurrence
// in input order), and returns it tagged with every input clock
// merged into one, dated now.
func LastWriterWins[V any](versions []Versioned[V]) ([]Versioned[V], error) {
	if len(versions) == 0 {
		return nil, nil
	}
	best := versions[0]
	merged := versions[0].Clock
	for _, v := range versions[1:] {
		if v.Clock.Timestamp().After(best.Clock.Timestamp()) {
			best = v
		}
		merged = merged.Merge(v.Clock, time.Now())
	}
	return []Versioned[V]{{Value: best.Value, Clock: merged}}, nil
}

// UnionResolver builds a CRDT-style set-union resolver for values that
// can be merged with union: instead of picking a winner, it folds
// every live value together with union and tags the result with the
// merge of every input clock.
func UnionResolver[V any](union func(a, b V) V) Resolver[V] {
	return func(versions []Versioned[V]) ([]Versioned[V], error) {
		if len(versions) == 0 {
			return nil, nil
		}
		var merged *V
		mergedClock := versions[0].Clock
		for i, v := range versions {
			if i > 0 {
				mergedClock = mergedClock.Merge(v.Clock, time.Now())
			}
			if v.Value == nil {
				continue
			}
			if merged == nil {
				val := *v.Value
				merged = &val
				continue
			}
			*merged = union(*merged, *v.Value)
		}
		return []Versioned[V]{{Value: merged, Clock: mergedClock}}, nil
	}
}
