package throng

import (
	"github.com/kvthrong/throng/internal/store"
	"github.com/kvthrong/throng/internal/types"
)

// StoreClient adapts a raw byte-level processor to user types K, V via
// injected Serializers, and to a single resolved value via an injected
// Resolver. Construct one per registered store with NewStoreClient.
type StoreClient[K any, V any] struct {
	name        string
	processor   *store.Processor
	keyCodec    Serializer[K]
	valueCodec  Serializer[V]
	resolver    Resolver[V]
	localNodeID NodeID
}

// NewStoreClient builds a typed client over processor. resolver
// defaults to LastWriterWins if nil.
func NewStoreClient[K any, V any](processor *store.Processor, keyCodec Serializer[K], valueCodec Serializer[V], resolver Resolver[V], localNodeID NodeID) *StoreClient[K, V] {
	if resolver == nil {
		resolver = LastWriterWins[V]
	}
	c := &StoreClient[K, V]{
		name:        processor.Name(),
		processor:   processor,
		keyCodec:    keyCodec,
		valueCodec:  valueCodec,
		resolver:    resolver,
		localNodeID: localNodeID,
	}
	// The processor's periodic tick re-resolves conflicting records
	// with this client's resolver, collapsing antichains in the
	// background instead of only at read time.
	processor.SetResolver(c.rawResolver)
	return c
}

// rawResolver adapts the client's typed resolver to the byte-level
// form the processor's resolution pass works on.
func (c *StoreClient[K, V]) rawResolver(raw []types.RawVersioned) ([]types.RawVersioned, error) {
	decoded, err := c.decode(raw)
	if err != nil {
		return nil, err
	}
	resolved, err := c.resolver(decoded)
	if err != nil {
		return nil, err
	}
	out := make([]types.RawVersioned, len(resolved))
	for i, v := range resolved {
		if !v.HasValue() {
			out[i] = types.RawVersioned{Clock: v.Clock}
			continue
		}
		data, err := c.valueCodec.Serialize(*v.Value)
		if err != nil {
			return nil, &SerializationError{Message: "encode resolved value for store " + c.name, Cause: err}
		}
		out[i] = types.RawVersioned{Value: data, Clock: v.Clock}
	}
	return out, nil
}

// decode turns a raw byte-keyed antichain into its typed form.
func (c *StoreClient[K, V]) decode(raw []types.RawVersioned) ([]Versioned[V], error) {
	out := make([]Versioned[V], len(raw))
	for i, r := range raw {
		if !r.HasValue() {
			out[i] = Versioned[V]{Clock: r.Clock}
			continue
		}
		v, err := c.valueCodec.Deserialize(r.Value)
		if err != nil {
			return nil, &SerializationError{Message: "decode value for store " + c.name, Cause: err}
		}
		out[i] = NewVersioned(v, r.Clock)
	}
	return out, nil
}

func (c *StoreClient[K, V]) resolve(raw []types.RawVersioned) (Versioned[V], bool, error) {
	if len(raw) == 0 {
		return Versioned[V]{}, false, nil
	}
	decoded, err := c.decode(raw)
	if err != nil {
		return Versioned[V]{}, false, err
	}
	resolved, err := c.resolver(decoded)
	if err != nil {
		return Versioned[V]{}, false, err
	}
	if len(resolved) != 1 {
		return Versioned[V]{}, false, &InconsistentDataError{Store: c.name, Remaining: len(resolved)}
	}
	return resolved[0], true, nil
}

// Get returns the current resolved value for key, and false if the
// key has never been written.
func (c *StoreClient[K, V]) Get(key K) (Versioned[V], bool, error) {
	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return Versioned[V]{}, false, &SerializationError{Message: "encode key for store " + c.name, Cause: err}
	}
	raw := c.processor.Get(rawKey)
	return c.resolve(raw)
}

// Update writes newValue as a successor of old, incrementing old's
// clock at the local node. If the write is rejected as obsolete (a
// concurrent writer already advanced the key past old), it returns
// ErrObsoleteVersion.
func (c *StoreClient[K, V]) Update(key K, old Versioned[V], newValue V) (Versioned[V], error) {
	newClock := old.Clock.IncrementNow(c.localNodeID)

	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return Versioned[V]{}, &SerializationError{Message: "encode key for store " + c.name, Cause: err}
	}
	rawValue, err := c.valueCodec.Serialize(newValue)
	if err != nil {
		return Versioned[V]{}, &SerializationError{Message: "encode value for store " + c.name, Cause: err}
	}

	changed, err := c.processor.Put(rawKey, types.RawVersioned{Value: rawValue, Clock: newClock}, true)
	if err != nil {
		return Versioned[V]{}, err
	}
	if !changed {
		return Versioned[V]{}, ErrObsoleteVersion
	}
	return NewVersioned(newValue, newClock), nil
}

// DeleteKey writes a tombstone as a successor of clock.
func (c *StoreClient[K, V]) DeleteKey(key K, clock VectorClock) error {
	newClock := clock.IncrementNow(c.localNodeID)

	rawKey, err := c.keyCodec.Serialize(key)
	if err != nil {
		return &SerializationError{Message: "encode key for store " + c.name, Cause: err}
	}

	changed, err := c.processor.Put(rawKey, types.RawVersioned{Clock: newClock}, true)
	if err != nil {
		return err
	}
	if !changed {
		return ErrObsoleteVersion
	}
	return nil
}

// Visit calls fn once per record, with its decoded key and resolved
// value. Decode or resolution failures are reported to fn via err
// rather than aborting the whole visit.
func (c *StoreClient[K, V]) Visit(fn func(key K, value Versioned[V], err error)) {
	c.processor.Visit(func(rawKey []byte, raw []types.RawVersioned) {
		key, err := c.keyCodec.Deserialize(rawKey)
		if err != nil {
			var zero K
			fn(zero, Versioned[V]{}, &SerializationError{Message: "decode key for store " + c.name, Cause: err})
			return
		}
		resolved, _, err := c.resolve(raw)
		fn(key, resolved, err)
	})
}

// AddListener subscribes fn to every accepted write on the underlying
// store, decoding the raw key and resolving the raw antichain before
// delivery.
func (c *StoreClient[K, V]) AddListener(fn func(key K, value Versioned[V], local bool, err error)) {
	c.processor.AddListener(func(rawKey []byte, raw []types.RawVersioned, local bool) {
		key, err := c.keyCodec.Deserialize(rawKey)
		if err != nil {
			var zero K
			fn(zero, Versioned[V]{}, local, &SerializationError{Message: "decode key for store " + c.name, Cause: err})
			return
		}
		resolved, _, err := c.resolve(raw)
		fn(key, resolved, local, err)
	})
}
