package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvthrong/throng/internal/types"
)

func clock(n uint32, counter uint64) types.VectorClock {
	return types.NewVectorClock(time.Now(), []types.ClockEntry{
		{Node: types.NewNodeID(n), Counter: counter},
	})
}

func TestInMemoryEngineGetMissing(t *testing.T) {
	e := NewInMemoryEngine()
	got, err := e.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInMemoryEnginePutGetRoundTrip(t *testing.T) {
	e := NewInMemoryEngine()
	v := types.RawVersioned{Value: []byte("hello"), Clock: clock(1, 1)}

	changed, err := e.Put([]byte("k"), v)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Value))
}

func TestInMemoryEngineObsoletePutRejected(t *testing.T) {
	e := NewInMemoryEngine()
	v1 := types.RawVersioned{Value: []byte("first"), Clock: clock(1, 2)}
	v0 := types.RawVersioned{Value: []byte("stale"), Clock: clock(1, 1)}

	_, err := e.Put([]byte("k"), v1)
	require.NoError(t, err)

	changed, err := e.Put([]byte("k"), v0)
	require.NoError(t, err)
	assert.False(t, changed)

	got, _ := e.Get([]byte("k"))
	require.Len(t, got, 1)
	assert.Equal(t, "first", string(got[0].Value))
}

func TestInMemoryEngineConcurrentWritesKeepBoth(t *testing.T) {
	e := NewInMemoryEngine()
	a := types.RawVersioned{Value: []byte("a"), Clock: clock(1, 1)}
	b := types.RawVersioned{Value: []byte("b"), Clock: clock(2, 1)}

	_, err := e.Put([]byte("k"), a)
	require.NoError(t, err)
	changed, err := e.Put([]byte("k"), b)
	require.NoError(t, err)
	assert.True(t, changed)

	got, _ := e.Get([]byte("k"))
	assert.Len(t, got, 2)
}

func TestInMemoryEngineVisit(t *testing.T) {
	e := NewInMemoryEngine()
	_, _ = e.Put([]byte("k1"), types.RawVersioned{Value: []byte("v1"), Clock: clock(1, 1)})
	_, _ = e.Put([]byte("k2"), types.RawVersioned{Value: []byte("v2"), Clock: clock(1, 1)})

	seen := map[string]bool{}
	err := e.Visit(func(key []byte, versions []types.RawVersioned) error {
		seen[string(key)] = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen["k1"])
	assert.True(t, seen["k2"])
}

func TestInMemoryEngineDelete(t *testing.T) {
	e := NewInMemoryEngine()
	_, _ = e.Put([]byte("k"), types.RawVersioned{Value: []byte("v"), Clock: clock(1, 1)})
	require.NoError(t, e.Delete([]byte("k")))
	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
