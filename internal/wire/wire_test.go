package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvthrong/throng/internal/types"
)

func TestFrameRoundTrip(t *testing.T) {
	env := &Envelope{
		Xid:    42,
		Method: MethodGet,
		Body:   []byte("payload"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, env))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, env.Xid, got.Xid)
	assert.Equal(t, env.Method, got.Method)
	assert.Equal(t, env.Body, got.Body)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestHelloRequestRoundTrip(t *testing.T) {
	req := HelloRequest{
		ID: NodeIDToWire(types.NewNodeID(1, 2)),
		Neighborhoods: []NeighborhoodWire{
			{Prefix: NodeIDToWire(types.NewNodeID(1)), Masters: []NodeIDWire{NodeIDToWire(types.NewNodeID(1, 2))}},
		},
	}
	body, err := Marshal(req)
	require.NoError(t, err)

	var out HelloRequest
	require.NoError(t, Unmarshal(body, &out))
	assert.True(t, out.ID.ToNodeID().Equal(types.NewNodeID(1, 2)))
	require.Len(t, out.Neighborhoods, 1)
	assert.True(t, out.Neighborhoods[0].Prefix.ToNodeID().Equal(types.NewNodeID(1)))
}

func TestVersionedWireRoundTrip(t *testing.T) {
	vc := types.NewVectorClock(time.Now(), []types.ClockEntry{
		{Node: types.NewNodeID(1), Counter: 3},
	})
	v := types.RawVersioned{Value: []byte("value"), Clock: vc}

	w := VersionedToWire(v)
	body, err := Marshal(w)
	require.NoError(t, err)

	var out VersionedWire
	require.NoError(t, Unmarshal(body, &out))
	back := out.ToVersioned()
	require.True(t, back.HasValue())
	assert.Equal(t, "value", string(back.Value))
	assert.Equal(t, types.Equal, vc.Compare(back.Clock))
}

func TestTombstoneWireRoundTrip(t *testing.T) {
	vc := types.NewVectorClock(time.Now(), []types.ClockEntry{{Node: types.NewNodeID(2), Counter: 1}})
	v := types.RawVersioned{Clock: vc}

	w := VersionedToWire(v)
	body, err := Marshal(w)
	require.NoError(t, err)

	var out VersionedWire
	require.NoError(t, Unmarshal(body, &out))
	back := out.ToVersioned()
	assert.False(t, back.HasValue())
}
