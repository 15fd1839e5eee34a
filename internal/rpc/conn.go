// Package rpc implements the connection-level protocol: per-connection
// framing over internal/wire, a NEW -> HELLO_PENDING -> READY / CLOSED
// state machine, xid-based request/reply correlation, and
// idle-connection eviction.
//
// Each connection serializes its own writes and reads frames on one
// dedicated goroutine, dispatching requests and matching replies to
// their waiting callers by xid.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kvthrong/throng/internal/clustercfg"
	"github.com/kvthrong/throng/internal/logging"
	"github.com/kvthrong/throng/internal/types"
	"github.com/kvthrong/throng/internal/wire"
)

// State is a connection's position in the handshake state machine.
type State uint8

const (
	StateNew State = iota
	StateHelloPending
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateHelloPending:
		return "HELLO_PENDING"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrConnectionClosed is returned by any call made against a closed
// connection.
var ErrConnectionClosed = errors.New("throng/rpc: connection closed")

// ErrNotReady is returned when an operation requiring the READY state
// is attempted before the handshake has completed.
var ErrNotReady = errors.New("throng/rpc: connection not ready")

// Handler answers inbound requests arriving on a connection.
type Handler interface {
	HandleHello(from *Conn, req wire.HelloRequest) (wire.HelloReply, error)
	HandleGet(req wire.GetRequest) (wire.GetReply, error)
}

// Conn wraps a single network connection and drives its state
// machine. Both sides of a connection - the one that dialed and the
// one that accepted - use the same type, and each sends its own
// req_hello.
type Conn struct {
	id      uuid.UUID
	nc      net.Conn
	handler Handler
	logger  *logging.Logger

	idleTimeout time.Duration
	idleTimer   *time.Timer

	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	remoteNodeID  types.NodeID
	haveRemoteID  bool
	remoteIDKnown chan struct{} // closed once haveRemoteID becomes true
	readyFired    bool

	nextXid uint64
	pending map[uint64]chan *wire.Envelope

	onReady  func(*Conn)
	onClosed func(*Conn)

	closeOnce sync.Once
	closeErr  error
}

// New wraps nc in a Conn in the NEW state. idleTimeout, if nonzero,
// closes the connection if no frame is read or written within that
// span.
func New(nc net.Conn, handler Handler, idleTimeout time.Duration) *Conn {
	return &Conn{
		id:            uuid.New(),
		nc:            nc,
		handler:       handler,
		logger:        logging.New("rpc.conn"),
		idleTimeout:   idleTimeout,
		state:         StateNew,
		pending:       make(map[uint64]chan *wire.Envelope),
		remoteIDKnown: make(chan struct{}),
	}
}

// ID returns the connection's debug correlation id.
func (c *Conn) ID() uuid.UUID { return c.id }

// State returns the connection's current handshake state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteNodeID returns the peer's node id, once known (after HELLO).
func (c *Conn) RemoteNodeID() (types.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteNodeID, c.haveRemoteID
}

// WaitRemoteNodeID blocks until the peer's node id is known or ctx is
// done. Both ends send their own HELLO independently, and the hello
// reply carries nothing, so the remote id is only ever learned from a
// received hello request - which may arrive after our own hello's
// reply does. Callers that need the remote id right after completing
// their own handshake (e.g. the connection manager registering a
// dialed node) must wait for it explicitly rather than read
// RemoteNodeID immediately.
func (c *Conn) WaitRemoteNodeID(ctx context.Context) (types.NodeID, error) {
	c.mu.Lock()
	if c.haveRemoteID {
		id := c.remoteNodeID
		c.mu.Unlock()
		return id, nil
	}
	ch := c.remoteIDKnown
	c.mu.Unlock()

	select {
	case <-ch:
		id, ok := c.RemoteNodeID()
		if !ok {
			return nil, ErrConnectionClosed
		}
		return id, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) setRemoteNodeID(id types.NodeID) {
	c.mu.Lock()
	if !c.haveRemoteID {
		c.remoteNodeID = id
		c.haveRemoteID = true
		close(c.remoteIDKnown)
	}
	c.mu.Unlock()
}

// OnReady installs a callback invoked exactly once, when the
// connection reaches the READY state.
func (c *Conn) OnReady(fn func(*Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReady = fn
}

// OnClosed installs a callback invoked exactly once, when the
// connection transitions to CLOSED.
func (c *Conn) OnClosed(fn func(*Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Serve runs the connection's read loop until the connection closes
// or ctx is done. It must be called exactly once per connection.
func (c *Conn) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	c.resetIdleTimer()
	defer c.Close()

	for {
		env, err := wire.ReadFrame(c.nc)
		if err != nil {
			return c.fail(err)
		}
		c.resetIdleTimer()
		if err := c.dispatch(env); err != nil {
			return c.fail(err)
		}
	}
}

func (c *Conn) resetIdleTimer() {
	if c.idleTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
			c.logger.Warningf("connection %s idle for %s, closing", c.id, c.idleTimeout)
			c.Close()
		})
		return
	}
	c.idleTimer.Reset(c.idleTimeout)
}

func (c *Conn) dispatch(env *wire.Envelope) error {
	if env.IsReply {
		c.mu.Lock()
		ch, ok := c.pending[env.Xid]
		if ok {
			delete(c.pending, env.Xid)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
		return nil
	}

	switch env.Method {
	case wire.MethodHello:
		var req wire.HelloRequest
		if err := wire.Unmarshal(env.Body, &req); err != nil {
			return c.replyError(env.Xid, env.Method, wire.StatusProtocolError, err)
		}
		rep, err := c.handler.HandleHello(c, req)
		if err != nil {
			return c.replyError(env.Xid, env.Method, wire.StatusServerError, err)
		}
		c.setRemoteNodeID(req.ID.ToNodeID())
		if err := c.replyOK(env.Xid, env.Method, rep); err != nil {
			return err
		}
		c.becomeReady()
		return nil
	case wire.MethodGet:
		var req wire.GetRequest
		if err := wire.Unmarshal(env.Body, &req); err != nil {
			return c.replyError(env.Xid, env.Method, wire.StatusProtocolError, err)
		}
		rep, err := c.handler.HandleGet(req)
		if err != nil {
			return c.replyError(env.Xid, env.Method, wire.StatusServerError, err)
		}
		return c.replyOK(env.Xid, env.Method, rep)
	default:
		return c.replyError(env.Xid, env.Method, wire.StatusUnsupported, fmt.Errorf("unsupported method %d", env.Method))
	}
}

// becomeReady transitions the connection to READY and fires the ready
// hook exactly once, the first time BOTH a HELLO round has completed
// on this connection AND the remote node id is actually known.
//
// Both ends independently send their own HELLO; each side's hello
// reply carries nothing, so remote_node_id is only ever learned from a
// *received* hello request, not from a reply to our own. If our own
// hello's reply lands before the peer's hello request does, firing
// immediately would notify callers (e.g. the connection manager's node
// table) before RemoteNodeID is usable - so in that case this only
// marks the state and defers the hook until the dispatch path that
// receives the hello request calls becomeReady again.
func (c *Conn) becomeReady() {
	c.mu.Lock()
	c.state = StateReady
	fire := !c.readyFired && c.haveRemoteID
	if fire {
		c.readyFired = true
	}
	hook := c.onReady
	c.mu.Unlock()
	if fire && hook != nil {
		hook(c)
	}
}

func (c *Conn) writeFrame(env *wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteFrame(c.nc, env); err != nil {
		return err
	}
	// Writes count toward idle detection the same as reads.
	c.resetIdleTimer()
	return nil
}

func (c *Conn) replyOK(xid uint64, method wire.Method, body interface{}) error {
	payload, err := wire.Marshal(body)
	if err != nil {
		return err
	}
	return c.writeFrame(&wire.Envelope{Xid: xid, Method: method, IsReply: true, StatusCode: wire.StatusOK, Body: payload})
}

func (c *Conn) replyError(xid uint64, method wire.Method, status wire.Status, cause error) error {
	c.logger.Warningf("rejecting xid %d method %s: %v", xid, method, cause)
	return c.writeFrame(&wire.Envelope{Xid: xid, Method: method, IsReply: true, StatusCode: status, StatusMessage: cause.Error()})
}

func (c *Conn) allocXid() uint64 {
	return atomic.AddUint64(&c.nextXid, 1)
}

// request sends a request envelope and blocks until its reply arrives
// or ctx is done.
func (c *Conn) request(ctx context.Context, method wire.Method, body interface{}) (*wire.Envelope, error) {
	payload, err := wire.Marshal(body)
	if err != nil {
		return nil, err
	}
	xid := c.allocXid()
	ch := make(chan *wire.Envelope, 1)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[xid] = ch
	c.mu.Unlock()

	if err := c.writeFrame(&wire.Envelope{Xid: xid, Method: method, Body: payload}); err != nil {
		c.mu.Lock()
		delete(c.pending, xid)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case env, ok := <-ch:
		if !ok || env == nil {
			return nil, ErrConnectionClosed
		}
		if env.StatusCode != wire.StatusOK {
			return nil, fmt.Errorf("throng/rpc: %s request failed: %s: %s", method, env.StatusCode, env.StatusMessage)
		}
		return env, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, xid)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendHello sends this side's req_hello and blocks for rep_hello,
// moving the connection through HELLO_PENDING to READY. The dialing
// and the accepting side each call it.
func (c *Conn) SendHello(ctx context.Context, localID types.NodeID, neighborhoods []clustercfg.Neighborhood) error {
	c.setState(StateHelloPending)

	wireNeighborhoods := make([]wire.NeighborhoodWire, len(neighborhoods))
	for i, n := range neighborhoods {
		masters := make([]wire.NodeIDWire, len(n.Masters))
		for j, m := range n.Masters {
			masters[j] = wire.NodeIDToWire(m)
		}
		wireNeighborhoods[i] = wire.NeighborhoodWire{Prefix: wire.NodeIDToWire(n.Prefix), Masters: masters}
	}

	req := wire.HelloRequest{ID: wire.NodeIDToWire(localID), Neighborhoods: wireNeighborhoods}
	if _, err := c.request(ctx, wire.MethodHello, req); err != nil {
		c.Close()
		return err
	}
	c.becomeReady()
	return nil
}

// Get performs a GET rpc against a ready connection.
func (c *Conn) Get(ctx context.Context, store string, key []byte) ([]types.RawVersioned, error) {
	if c.State() != StateReady {
		return nil, ErrNotReady
	}
	env, err := c.request(ctx, wire.MethodGet, wire.GetRequest{Store: store, Key: key})
	if err != nil {
		return nil, err
	}
	var rep wire.GetReply
	if err := wire.Unmarshal(env.Body, &rep); err != nil {
		return nil, err
	}
	out := make([]types.RawVersioned, len(rep.Versioneds))
	for i, v := range rep.Versioneds {
		out[i] = v.ToVersioned()
	}
	return out, nil
}

func (c *Conn) fail(err error) error {
	c.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close closes the underlying connection and transitions to CLOSED.
// Safe to call more than once and from multiple goroutines.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		for xid, ch := range c.pending {
			close(ch)
			delete(c.pending, xid)
		}
		if !c.haveRemoteID {
			close(c.remoteIDKnown)
		}
		hook := c.onClosed
		c.mu.Unlock()

		c.closeErr = c.nc.Close()
		if hook != nil {
			hook(c)
		}
	})
	return c.closeErr
}
