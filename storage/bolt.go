package storage

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/kvthrong/throng/internal/types"
	"github.com/kvthrong/throng/internal/wire"
)

var dataBucket = []byte("data")

// BoltEngine is a disk-backed engine built on go.etcd.io/bbolt: one
// bucket, msgpack-encoded values, each operation wrapped in its own
// transaction.
type BoltEngine struct {
	db   *bolt.DB
	name string
}

// OpenBoltEngine opens (creating if necessary) a bbolt database at
// path and prepares its data bucket. name identifies the engine in
// logs and metrics, typically the store's name.
func OpenBoltEngine(path, name string) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("throng/storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltEngine{db: db, name: name}, nil
}

// Name implements Engine.
func (e *BoltEngine) Name() string { return e.name }

// Get implements Engine.
func (e *BoltEngine) Get(key []byte) ([]types.RawVersioned, error) {
	var out []types.RawVersioned
	err := e.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket).Get(key)
		if data == nil {
			return nil
		}
		versions, err := decodeAntichain(data)
		if err != nil {
			return err
		}
		out = versions
		return nil
	})
	return out, err
}

// Put implements Engine.
func (e *BoltEngine) Put(key []byte, candidate types.RawVersioned) (bool, error) {
	changed := false
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		var existing []types.RawVersioned
		if data := b.Get(key); data != nil {
			v, err := decodeAntichain(data)
			if err != nil {
				return err
			}
			existing = v
		}
		merged, did := types.ReconcileRaw(existing, candidate)
		if !did {
			return nil
		}
		changed = true
		data, err := encodeAntichain(merged)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return changed, err
}

// Delete implements Engine.
func (e *BoltEngine) Delete(key []byte) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Delete(key)
	})
}

// Visit implements Engine.
func (e *BoltEngine) Visit(fn func(key []byte, versions []types.RawVersioned) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			versions, err := decodeAntichain(v)
			if err != nil {
				return err
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			if err := fn(keyCopy, versions); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Engine.
func (e *BoltEngine) Close() error { return e.db.Close() }

func encodeAntichain(versions []types.RawVersioned) ([]byte, error) {
	wired := make([]wire.VersionedWire, len(versions))
	for i, v := range versions {
		wired[i] = wire.VersionedToWire(v)
	}
	return wire.Marshal(wired)
}

func decodeAntichain(data []byte) ([]types.RawVersioned, error) {
	var wired []wire.VersionedWire
	if err := wire.Unmarshal(data, &wired); err != nil {
		return nil, err
	}
	out := make([]types.RawVersioned, len(wired))
	for i, w := range wired {
		out[i] = w.ToVersioned()
	}
	return out, nil
}
