package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvthrong/throng/internal/types"
)

func openTestBoltEngine(t *testing.T) *BoltEngine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "throng-test.db")
	e, err := OpenBoltEngine(path, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestBoltEnginePutGetRoundTrip(t *testing.T) {
	e := openTestBoltEngine(t)
	v := types.RawVersioned{Value: []byte("hello"), Clock: clock(1, 1)}

	changed, err := e.Put([]byte("k"), v)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Value))
}

func TestBoltEngineSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "throng-test.db")
	e, err := OpenBoltEngine(path, "test")
	require.NoError(t, err)

	_, err = e.Put([]byte("k"), types.RawVersioned{Value: []byte("v"), Clock: clock(1, 1)})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := OpenBoltEngine(path, "test")
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get([]byte("k"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v", string(got[0].Value))
}

func TestBoltEngineTombstoneRoundTrip(t *testing.T) {
	e := openTestBoltEngine(t)
	tomb := types.RawVersioned{Clock: clock(1, 1)}

	_, err := e.Put([]byte("k"), tomb)
	require.NoError(t, err)

	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].HasValue())
}
