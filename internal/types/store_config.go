package types

import "time"

// StoreConfig configures a registered store.
type StoreConfig struct {
	// Persistent enables write-through to a durable storage engine,
	// when one is available for the store.
	Persistent bool

	// ReplicationFactor is the number of nodes within scope that
	// should hold a copy of each key. Defaults to 3.
	ReplicationFactor uint8

	// Scope governs how far a key is propagated through the cluster
	// topology. Defaults to 1.
	Scope uint8

	// ObjectTimeout is how long a value may go un-refreshed before
	// it is eligible for expiry. Zero means infinite.
	ObjectTimeout time.Duration

	// TombstoneTimeout is how long a deleted value is retained before
	// it is garbage collected. Defaults to 24h.
	TombstoneTimeout time.Duration
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		ReplicationFactor: 3,
		Scope:             1,
		TombstoneTimeout:  24 * time.Hour,
	}
}
