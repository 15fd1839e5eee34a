package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvthrong/throng/internal/clustercfg"
	"github.com/kvthrong/throng/internal/types"
	"github.com/kvthrong/throng/internal/wire"
)

type stubHandler struct {
	helloErr error
	getReply wire.GetReply
	getErr   error
}

func (h *stubHandler) HandleHello(from *Conn, req wire.HelloRequest) (wire.HelloReply, error) {
	return wire.HelloReply{}, h.helloErr
}

func (h *stubHandler) HandleGet(req wire.GetRequest) (wire.GetReply, error) {
	return h.getReply, h.getErr
}

// newConnPair returns both ends of a loopback TCP connection, each
// wrapped in a Conn with its read loop running.
func newConnPair(t *testing.T, clientHandler, serverHandler Handler) (client, server *Conn, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- nc
	}()
	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn, ok := <-accepted
	require.True(t, ok)
	require.NoError(t, ln.Close())

	client = New(dialed, clientHandler, 0)
	server = New(serverConn, serverHandler, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go client.Serve(ctx)
	go server.Serve(ctx)

	return client, server, func() {
		cancel()
		client.Close()
		server.Close()
	}
}

func TestHandshakeReachesReady(t *testing.T) {
	serverHandler := &stubHandler{}
	client, server, stop := newConnPair(t, &stubHandler{}, serverHandler)
	defer stop()

	localID := types.NewNodeID(1, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.SendHello(ctx, localID, []clustercfg.Neighborhood{
		{Prefix: types.NewNodeID(1), Masters: []types.NodeID{localID}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateReady, client.State())

	deadline := time.Now().Add(time.Second)
	for server.State() != StateReady && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, StateReady, server.State())

	remote, ok := server.RemoteNodeID()
	require.True(t, ok)
	assert.True(t, remote.Equal(localID))
}

func TestBidirectionalHelloBothLearnRemoteID(t *testing.T) {
	client, server, stop := newConnPair(t, &stubHandler{}, &stubHandler{})
	defer stop()

	clientID := types.NewNodeID(1)
	serverID := types.NewNodeID(2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- client.SendHello(ctx, clientID, nil) }()
	go func() { errCh <- server.SendHello(ctx, serverID, nil) }()
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	gotServerID, err := client.WaitRemoteNodeID(ctx)
	require.NoError(t, err)
	assert.True(t, gotServerID.Equal(serverID))

	gotClientID, err := server.WaitRemoteNodeID(ctx)
	require.NoError(t, err)
	assert.True(t, gotClientID.Equal(clientID))
}

func TestWaitRemoteNodeIDUnblocksOnClose(t *testing.T) {
	client, _, stop := newConnPair(t, &stubHandler{}, &stubHandler{})
	defer stop()

	client.Close()
	_, err := client.WaitRemoteNodeID(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestGetRoundTrip(t *testing.T) {
	vc := types.NewVectorClock(time.Now(), []types.ClockEntry{{Node: types.NewNodeID(1), Counter: 1}})
	v := types.RawVersioned{Value: []byte("value"), Clock: vc}
	serverHandler := &stubHandler{getReply: wire.GetReply{Versioneds: []wire.VersionedWire{wire.VersionedToWire(v)}}}

	client, _, stop := newConnPair(t, &stubHandler{}, serverHandler)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.SendHello(ctx, types.NewNodeID(1), nil))

	got, err := client.Get(ctx, "mystore", []byte("k"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "value", string(got[0].Value))
}

func TestGetBeforeReadyFails(t *testing.T) {
	client, _, stop := newConnPair(t, &stubHandler{}, &stubHandler{})
	defer stop()

	_, err := client.Get(context.Background(), "s", []byte("k"))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCloseUnblocksPendingRequest(t *testing.T) {
	client, server, stop := newConnPair(t, &stubHandler{}, &stubHandler{})
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.SendHello(ctx, types.NewNodeID(1), nil))

	server.Close()

	_, err := client.Get(context.Background(), "s", []byte("k"))
	assert.Error(t, err)
}
