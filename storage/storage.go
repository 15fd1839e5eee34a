// Package storage defines the pluggable persistence interface and
// ships two reference implementations: an in-memory engine and a
// disk-backed engine built on go.etcd.io/bbolt. Embedders may supply
// their own Engine instead.
package storage

import "github.com/kvthrong/throng/internal/types"

// Engine is the storage contract a registered store writes through.
// Implementations need not understand serialization or conflict
// resolution; they persist and retrieve raw byte-keyed antichains of
// versioned byte values exactly as the processor hands them over.
type Engine interface {
	// Name identifies the engine for logging and metrics.
	Name() string

	// Get returns the current antichain of versions held for key. A
	// missing key returns a nil, non-error result.
	Get(key []byte) ([]types.RawVersioned, error)

	// Put merges candidate into the antichain held for key following
	// the rule in types.ReconcileRaw, persists the result, and
	// reports whether the antichain actually changed.
	Put(key []byte, candidate types.RawVersioned) (bool, error)

	// Delete removes every version held for key outright, bypassing
	// the tombstone lifecycle. Used for local GC of expired
	// tombstones, not for ordinary deletes (which go through Put with
	// a tombstone Versioned).
	Delete(key []byte) error

	// Visit calls fn once per stored key with its current antichain,
	// in unspecified order. Visit stops and returns fn's error, if
	// any, without visiting further keys.
	Visit(fn func(key []byte, versions []types.RawVersioned) error) error

	// Close releases any resources held by the engine.
	Close() error
}
