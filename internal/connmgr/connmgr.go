// Package connmgr is the connection manager: it accepts inbound
// connections, bootstraps outbound connections to seed addresses with
// rollover, keeps a per-node connection table driven by the cluster
// topology, and runs a periodic single-flight maintenance task that
// reconnects to neighborhood members and evicts idle connections.
//
// Bootstrap dials one configured seed per maintenance pass, moving to
// the next seed only after a failed dial, and stops once any
// connection is ready; the peer reached is recorded in the local table.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kvthrong/throng/internal/clustercfg"
	"github.com/kvthrong/throng/internal/logging"
	"github.com/kvthrong/throng/internal/metrics"
	"github.com/kvthrong/throng/internal/rpc"
	"github.com/kvthrong/throng/internal/task"
	"github.com/kvthrong/throng/internal/types"
)

// MaintenanceInterval is how often the connection manager reconciles
// its connection table against the cluster topology.
const MaintenanceInterval = 3 * time.Second

// IdleTimeout is how long a connection may go unused before the
// maintenance task evicts it: 2x the maintenance interval.
const IdleTimeout = 2 * MaintenanceInterval

// DialTimeout bounds a single outbound dial attempt.
const DialTimeout = 5 * time.Second

// nodeEntry is the connection manager's per-node bookkeeping: its dial
// address, live connection (if any), when it was last required by the
// topology, and any actions queued to run once it becomes ready.
type nodeEntry struct {
	addr         string
	conn         *rpc.Conn
	lastRequired time.Time
	actionKeys   []string
	actions      map[string]func(*rpc.Conn)
}

// Manager owns every connection a node holds to its peers, plus the
// logic that decides which peers it should be connected to.
type Manager struct {
	localID        types.NodeID
	masterEligible bool
	cfg            *clustercfg.Config
	handler        rpc.Handler
	metrics        *metrics.Client
	logger         *logging.Logger
	exec           func(func()) // runs handshakes and node actions; the Ctx routes this to its worker pool

	mu    sync.Mutex
	nodes map[string]*nodeEntry // keyed by NodeID.Key()
	seeds []string
	seedN int // bootstrap rollover position; reset on any ready connection

	listener    net.Listener
	maintenance *task.Task

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a connection manager for localID using cfg for topology
// lookups and handler to answer inbound requests. masterEligible
// controls the breadth of the connection-maintenance reconciliation: a
// master-eligible node keeps connections to every neighborhood's
// masters ordered after it, not just its own neighborhood's.
func New(localID types.NodeID, masterEligible bool, cfg *clustercfg.Config, handler rpc.Handler, seeds []string, m *metrics.Client) *Manager {
	mgr := &Manager{
		localID:        localID,
		masterEligible: masterEligible,
		cfg:            cfg,
		handler:        handler,
		metrics:        m,
		logger:         logging.New("connmgr"),
		nodes:          make(map[string]*nodeEntry),
		seeds:          append([]string(nil), seeds...),
		stopCh:         make(chan struct{}),
		exec:           func(fn func()) { go fn() },
	}
	mgr.maintenance = task.New("connmgr.maintenance", mgr.runMaintenance)
	return mgr
}

// UseExecutor routes the manager's short-lived connection tasks
// (handshake sends, queued node actions) through exec instead of fresh
// goroutines. The owning Ctx installs its worker pool here before
// Start. Per-connection read loops stay on dedicated goroutines: they
// block for the connection's whole lifetime and would starve a
// fixed-size pool.
func (m *Manager) UseExecutor(exec func(func())) {
	m.exec = exec
}

// AddSeed appends an additional seed address, e.g. learned after
// construction via dynamic configuration.
func (m *Manager) AddSeed(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = append(m.seeds, addr)
}

// Listen starts accepting inbound connections on addr.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.listener = ln
	m.wg.Add(1)
	go m.acceptLoop(ln)
	return nil
}

// Addr returns the listener's bound address, once Listen has
// succeeded.
func (m *Manager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				m.logger.Warningf("accept error: %v", err)
				return
			}
		}
		conn := rpc.New(nc, m.handler, IdleTimeout)
		conn.OnReady(m.onConnReady)
		conn.OnClosed(m.onConnClosed)
		ctx, cancel := m.connContext()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer cancel()
			_ = conn.Serve(ctx)
		}()

		// Either side may initiate HELLO with its local node id. The
		// dialer always sends one (see dial); the acceptor sends its
		// own here so it, too, learns the peer's node id - the hello
		// reply carries nothing, so that's only learned from a
		// received hello request.
		m.exec(func() {
			helloCtx, helloCancel := context.WithTimeout(ctx, DialTimeout)
			defer helloCancel()
			if err := conn.SendHello(helloCtx, m.localID, m.cfg.LocalMasterNeighborhoods()); err != nil {
				m.logger.Warningf("accepted connection hello failed: %v", err)
			}
		})
	}
}

func (m *Manager) connContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Start begins periodic connection maintenance and performs an
// initial bootstrap pass against the configured seeds.
func (m *Manager) Start() {
	m.maintenance.Schedule(0, MaintenanceInterval)
}

// Stop halts maintenance and closes every connection and listener.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.maintenance.Cancel()
		if m.listener != nil {
			m.listener.Close()
		}
		m.mu.Lock()
		var conns []*rpc.Conn
		for _, e := range m.nodes {
			if e.conn != nil {
				conns = append(conns, e.conn)
			}
		}
		m.mu.Unlock()
		// Close outside the lock: Close runs onConnClosed, which takes m.mu.
		for _, c := range conns {
			c.Close()
		}
	})
	m.wg.Wait()
	return nil
}

func (m *Manager) runMaintenance() {
	m.metrics.TaskRun("connmgr.maintenance")
	m.bootstrapNext()
	m.reconcileNeighborhoods()
	m.evictIdle()
	m.maintenance.Schedule(MaintenanceInterval, 0)
}

// bootstrapNext walks the seed list in order, one bootstrap dial per
// maintenance pass, advancing to the next seed only on failure. Any
// ready connection resets the iterator (see onConnReady) so future
// bootstraps restart from the first seed. A node that already holds a
// ready connection to any peer is considered joined and skips
// bootstrap entirely.
func (m *Manager) bootstrapNext() {
	m.mu.Lock()
	if len(m.seeds) == 0 || m.hasReadyConnLocked() {
		m.mu.Unlock()
		return
	}
	addr := m.seeds[m.seedN%len(m.seeds)]
	m.mu.Unlock()

	m.metrics.BootstrapAttempt()
	if err := m.dial(addr, nil); err != nil {
		m.logger.Warningf("bootstrap dial to seed %s failed: %v", addr, err)
		m.mu.Lock()
		m.seedN++
		m.mu.Unlock()
	}
}

func (m *Manager) hasReadyConnLocked() bool {
	for _, e := range m.nodes {
		if e.conn != nil && e.conn.State() == rpc.StateReady {
			return true
		}
	}
	return false
}

// reconcileNeighborhoods computes the set of masters this node must
// hold a live connection to, following an asymmetric rule: a
// master-eligible node connects to every neighborhood's masters
// (its own included) ordered after it (node-id greater than local, so each pair dials
// exactly once); a non-master-eligible node only needs connections to
// its own neighborhood's masters.
func (m *Manager) reconcileNeighborhoods() {
	wanted := m.wantedMasters()

	now := time.Now()
	m.mu.Lock()
	var redial []redialTarget
	for _, member := range wanted {
		e, ok := m.nodes[member.Key()]
		if !ok {
			e = &nodeEntry{}
			m.nodes[member.Key()] = e
		}
		e.lastRequired = now
		if e.addr == "" {
			continue
		}
		if e.conn == nil || e.conn.State() == rpc.StateClosed {
			redial = append(redial, redialTarget{addr: e.addr, id: member})
		}
	}
	m.mu.Unlock()

	for _, t := range redial {
		if err := m.dial(t.addr, t.id); err != nil {
			m.logger.Warningf("reconnect to %s (%s) failed: %v", t.addr, t.id, err)
		}
	}
}

// redialTarget pairs a dial address with the node-id the caller
// intends to reach, so dial can detect misrouting.
type redialTarget struct {
	addr string
	id   types.NodeID
}

// wantedMasters returns the node ids this manager must keep connected,
// per the master-eligibility rule above.
func (m *Manager) wantedMasters() []types.NodeID {
	var wanted []types.NodeID
	if m.masterEligible {
		for _, n := range m.cfg.Neighborhoods() {
			for _, master := range n.Masters {
				if master.Compare(m.localID) > 0 {
					wanted = append(wanted, master)
				}
			}
		}
		return wanted
	}

	n, ok := m.cfg.NeighborhoodFor(m.localID)
	if !ok {
		return nil
	}
	for _, master := range n.Masters {
		if !master.Equal(m.localID) {
			wanted = append(wanted, master)
		}
	}
	return wanted
}

// evictIdle stops any connection whose node entry has no queued
// actions and hasn't been required by the topology for two
// maintenance intervals.
func (m *Manager) evictIdle() {
	now := time.Now()
	m.mu.Lock()
	var stale []*rpc.Conn
	for _, e := range m.nodes {
		if e.conn == nil || len(e.actions) > 0 {
			continue
		}
		if now.Sub(e.lastRequired) > IdleTimeout {
			stale = append(stale, e.conn)
			e.conn = nil
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		m.metrics.ConnectionEvicted()
		c.Close()
	}
}

// DispatchNodeAction schedules action to run against id's connection
// as soon as it becomes ready. If id already has a ready connection,
// action is handed to the manager's executor at once; otherwise
// it is queued under actionKey, coalescing with any action already
// queued under the same key, and runs (in the order actions were first
// queued) once the connection becomes ready.
func (m *Manager) DispatchNodeAction(id types.NodeID, actionKey string, action func(*rpc.Conn)) {
	m.mu.Lock()
	e, ok := m.nodes[id.Key()]
	if !ok {
		e = &nodeEntry{}
		m.nodes[id.Key()] = e
	}
	e.lastRequired = time.Now()

	if e.conn != nil && e.conn.State() == rpc.StateReady {
		conn := e.conn
		m.mu.Unlock()
		m.exec(func() { action(conn) })
		return
	}

	if e.actions == nil {
		e.actions = make(map[string]func(*rpc.Conn))
	}
	if _, dup := e.actions[actionKey]; !dup {
		e.actionKeys = append(e.actionKeys, actionKey)
	}
	e.actions[actionKey] = action
	m.mu.Unlock()
}

// runQueuedActions drains id's queued actions against conn, in the
// order they were first queued.
func (m *Manager) runQueuedActions(id types.NodeID, conn *rpc.Conn) {
	m.mu.Lock()
	e, ok := m.nodes[id.Key()]
	if !ok || len(e.actions) == 0 {
		m.mu.Unlock()
		return
	}
	keys := e.actionKeys
	actions := e.actions
	e.actionKeys = nil
	e.actions = nil
	m.mu.Unlock()

	// One executor task for the whole batch keeps the insertion-order
	// guarantee and moves the drain off the connection's read loop.
	m.exec(func() {
		for _, k := range keys {
			if fn, ok := actions[k]; ok {
				fn(conn)
			}
		}
	})
}

// RegisterAddr records the dial address for a node id, learned out of
// band (e.g. via the node store), so future maintenance passes can
// reconnect to it by address.
func (m *Manager) RegisterAddr(id types.NodeID, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.nodes[id.Key()]
	if !ok {
		e = &nodeEntry{}
		m.nodes[id.Key()] = e
	}
	e.addr = addr
}

// dial opens an outbound connection to addr and completes the HELLO
// handshake. If expected is non-empty, the caller intended to reach
// that specific node-id (e.g. a reconnect to a known cluster member);
// a mismatched remote id on the ready handshake closes the connection
// rather than risk misrouting actions to the wrong peer.
func (m *Manager) dial(addr string, expected types.NodeID) error {
	nc, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return err
	}
	conn := rpc.New(nc, m.handler, IdleTimeout)
	conn.OnReady(m.onConnReady)
	conn.OnClosed(m.onConnClosed)

	ctx, cancel := m.connContext()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		_ = conn.Serve(ctx)
	}()

	helloCtx, helloCancel := context.WithTimeout(ctx, DialTimeout)
	defer helloCancel()
	neighborhoods := m.cfg.LocalMasterNeighborhoods()
	if err := conn.SendHello(helloCtx, m.localID, neighborhoods); err != nil {
		return err
	}

	// Our own HELLO's reply only confirms our request round-tripped;
	// the peer's node id is learned from its own independently-sent
	// req_hello, which may still be in flight. Wait for it explicitly
	// rather than racing RemoteNodeID() against that arrival.
	waitCtx, waitCancel := context.WithTimeout(ctx, DialTimeout)
	defer waitCancel()
	id, err := conn.WaitRemoteNodeID(waitCtx)
	if err != nil {
		conn.Close()
		return fmt.Errorf("throng/connmgr: never learned remote node id for %s: %w", addr, err)
	}
	if len(expected) > 0 && !id.Equal(expected) {
		m.logger.Warningf("dial to %s intended for node %s but reached %s, closing", addr, expected, id)
		conn.Close()
		return fmt.Errorf("throng/connmgr: remote node id mismatch: expected %s, got %s", expected, id)
	}

	// onConnReady (fired once both our own hello completed and the
	// remote id became known, via the OnReady hook) already installed
	// the entry for this node-id and drained any queued actions; just
	// make sure the dial address is recorded for future reconnects.
	m.mu.Lock()
	if e, ok := m.nodes[id.Key()]; ok {
		e.addr = addr
	} else {
		m.nodes[id.Key()] = &nodeEntry{addr: addr, conn: conn, lastRequired: time.Now()}
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) onConnReady(c *rpc.Conn) {
	m.metrics.ConnectionReady()
	id, ok := c.RemoteNodeID()
	if !ok {
		return
	}
	m.mu.Lock()
	m.seedN = 0
	e, ok := m.nodes[id.Key()]
	if !ok {
		e = &nodeEntry{}
		m.nodes[id.Key()] = e
	}
	if e.lastRequired.IsZero() {
		e.lastRequired = time.Now()
	}
	if e.conn != nil && e.conn != c {
		// A newer ready connection for this node-id replaces the
		// older one; the older is stopped.
		old := e.conn
		m.mu.Unlock()
		old.Close()
		m.mu.Lock()
	}
	e.conn = c
	m.mu.Unlock()

	m.runQueuedActions(id, c)
}

func (m *Manager) onConnClosed(c *rpc.Conn) {
	m.metrics.ConnectionClosed()
	id, ok := c.RemoteNodeID()
	if !ok {
		return
	}
	m.mu.Lock()
	if e, ok := m.nodes[id.Key()]; ok && e.conn == c {
		e.conn = nil
	}
	m.mu.Unlock()
}

// Conn returns the live connection to id, if any.
func (m *Manager) Conn(id types.NodeID) (*rpc.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.nodes[id.Key()]
	if !ok || e.conn == nil || e.conn.State() != rpc.StateReady {
		return nil, false
	}
	return e.conn, true
}

// ErrNoConnection is returned when an operation needs a connection
// to a node this manager has none for.
var ErrNoConnection = errors.New("throng/connmgr: no connection to node")

// Get issues a GET rpc to id's connection, if one is ready.
func (m *Manager) Get(ctx context.Context, id types.NodeID, store string, key []byte) ([]types.RawVersioned, error) {
	conn, ok := m.Conn(id)
	if !ok {
		return nil, ErrNoConnection
	}
	return conn.Get(ctx, store, key)
}
