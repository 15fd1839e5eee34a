package throng

import (
	"context"
	"fmt"
	"sync"

	"github.com/kvthrong/throng/internal/clustercfg"
	"github.com/kvthrong/throng/internal/connmgr"
	"github.com/kvthrong/throng/internal/logging"
	"github.com/kvthrong/throng/internal/metrics"
	"github.com/kvthrong/throng/internal/rpc"
	"github.com/kvthrong/throng/internal/store"
	"github.com/kvthrong/throng/internal/wire"
	"github.com/kvthrong/throng/storage"
)

// NodeStoreName and NeighborhoodStoreName are the two well-known
// internal stores every Ctx registers for itself: a node directory and
// a neighborhood directory, both persistent when a durable engine is
// configured.
const (
	NodeStoreName         = clustercfg.NodeStoreName
	NeighborhoodStoreName = clustercfg.NeighborhoodStoreName
)

// Neighborhood describes one topological scope of the cluster: the set
// of nodes sharing a NodeID prefix and which of them act as masters
// for it.
//
// Neighborhood is defined in internal/clustercfg so the connection
// manager and RPC layer can share it without importing this package
// back; this is a thin alias for the public API.
type Neighborhood = clustercfg.Neighborhood

// LocalConfig describes the node a Ctx runs as.
type LocalConfig struct {
	NodeID         NodeID
	Host           string
	Port           int
	MasterEligible bool

	// DataDir, if non-empty, is the database root beneath which the
	// node store and neighborhood store persist to a bbolt file. Empty
	// means both system stores are in-memory only.
	DataDir string
}

// Ctx is the library's composition root: it owns the store registry,
// the connection manager, and a worker pool that runs any background
// work the embedder or the library itself schedules. Construct with
// New, configure with ConfigureLocal/AddSeed/RegisterStore, then
// Start.
type Ctx struct {
	mu      sync.Mutex
	local   LocalConfig
	cfg     *clustercfg.Config
	metrics *metrics.Client

	registry     *store.Registry
	connmgr      *connmgr.Manager
	pool         *workerPool
	pendingSeeds []string

	nodeStore         *StoreClient[NodeID, NodeRecord]
	neighborhoodStore *StoreClient[NodeID, NeighborhoodRecord]

	configured bool
	started    bool
	stopped    bool
}

// New returns an unconfigured Ctx. metrics may be nil, in which case
// library counters are discarded.
func New(m *metrics.Client) *Ctx {
	if m == nil {
		m = metrics.Disabled()
	}
	return &Ctx{
		registry: store.NewRegistry(),
		metrics:  m,
	}
}

// ConfigureLocal sets this node's identity and listening address. It
// must be called before Start.
func (c *Ctx) ConfigureLocal(local LocalConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = local
	c.cfg = clustercfg.New(local.NodeID)
	c.configured = true
}

// SetStaticConfig installs a precomputed cluster topology. Each given
// neighborhood replaces any already configured under the same prefix;
// neighborhoods with other prefixes are kept.
func (c *Ctx) SetStaticConfig(neighborhoods []Neighborhood) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range neighborhoods {
		c.cfg.SetNeighborhood(n)
	}
}

// AddSeed registers an additional bootstrap address in host:port form.
func (c *Ctx) AddSeed(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := fmt.Sprintf("%s:%d", host, port)
	if c.connmgr != nil {
		c.connmgr.AddSeed(addr)
		return
	}
	c.pendingSeeds = append(c.pendingSeeds, addr)
}

// RegisterStore registers a store under name with cfg, creating its
// processor. Must precede Start. name must not collide with the two
// reserved system store names the context registers for itself.
// The processor takes ownership of engine (which may be nil for an
// in-memory-only store) and closes it when the Ctx stops.
func (c *Ctx) RegisterStore(name string, cfg StoreConfig, engine storage.Engine) {
	if name == NodeStoreName || name == NeighborhoodStoreName {
		panic(fmt.Sprintf("throng: %q is a reserved system store name", name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := store.New(name, cfg, engine, c.metrics)
	c.registry.Register(p)
}

// NodeStore returns the well-known node directory: node-id ->
// {hostname, port, master_eligible}. Only valid after Start.
func (c *Ctx) NodeStore() *StoreClient[NodeID, NodeRecord] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeStore
}

// NeighborhoodStore returns the well-known neighborhood directory:
// neighborhood-id -> {prefix, masters}. Only valid after Start.
func (c *Ctx) NeighborhoodStore() *StoreClient[NodeID, NeighborhoodRecord] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.neighborhoodStore
}

// systemStoreEngine opens the durable backend for a reserved system
// store when local.DataDir is configured: one file per store beneath
// the database root. Returns nil (in-memory only) when no data
// directory is set.
func (c *Ctx) systemStoreEngine(name string) (storage.Engine, error) {
	if c.local.DataDir == "" {
		return nil, nil
	}
	path := c.local.DataDir + "/" + name + ".db"
	return storage.OpenBoltEngine(path, name)
}

// GetLocalNodeID returns the node id this Ctx was configured with.
func (c *Ctx) GetLocalNodeID() NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.NodeID
}

// GetRawStore returns the byte-level processor registered under name.
func (c *Ctx) GetRawStore(name string) (*store.Processor, error) {
	return c.registry.Get(name)
}

// AddRawListener subscribes fn to every accepted put on the store
// named name.
func (c *Ctx) AddRawListener(name string, fn store.Listener) error {
	p, err := c.registry.Get(name)
	if err != nil {
		return err
	}
	p.AddListener(fn)
	return nil
}

// Start starts the worker pool, the RPC service, and every registered
// processor. workerPoolSize defaults to 3 when zero or negative.
func (c *Ctx) Start(workerPoolSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured {
		return fmt.Errorf("throng: ConfigureLocal must be called before Start")
	}
	if c.started {
		return nil
	}
	if workerPoolSize <= 0 {
		workerPoolSize = 3
	}

	if err := c.registerSystemStores(); err != nil {
		return err
	}

	c.pool = newWorkerPool(workerPoolSize)
	c.pool.start()

	handler := &ctxHandler{ctx: c}
	c.connmgr = connmgr.New(c.local.NodeID, c.local.MasterEligible, c.cfg, handler, c.pendingSeeds, c.metrics)
	c.connmgr.UseExecutor(c.pool.Submit)
	c.pendingSeeds = nil

	// Connecting to a node looks up its {hostname, port} from the
	// system node store; if absent, the connect is deferred until the
	// node record is learned via ordinary replication. Every accepted
	// write to the node store feeds the connection manager's dial
	// address table.
	c.nodeStore.AddListener(func(id NodeID, v Versioned[NodeRecord], local bool, err error) {
		if err != nil || !v.HasValue() {
			return
		}
		c.connmgr.RegisterAddr(id, fmt.Sprintf("%s:%d", v.Value.Host, v.Value.Port))
	})

	addr := fmt.Sprintf("%s:%d", c.local.Host, c.local.Port)
	if err := c.connmgr.Listen(addr); err != nil {
		c.pool.stop()
		// The system-store processors already own their engines; stop
		// them so a failed start doesn't leave database files locked.
		c.registry.Stop()
		return err
	}

	c.connmgr.Start()
	c.registry.Start()

	if err := c.publishSelf(); err != nil {
		return err
	}

	c.started = true
	return nil
}

// registerSystemStores creates the processors backing the node store
// and the neighborhood store, persistent when a data directory is
// configured, and wraps each in a typed StoreClient.
func (c *Ctx) registerSystemStores() error {
	nodeEngine, err := c.systemStoreEngine(NodeStoreName)
	if err != nil {
		return fmt.Errorf("throng: opening node store engine: %w", err)
	}
	nodeCfg := DefaultStoreConfig()
	nodeCfg.Persistent = nodeEngine != nil
	nodeProcessor := store.New(NodeStoreName, nodeCfg, nodeEngine, c.metrics)
	c.registry.Register(nodeProcessor)
	c.nodeStore = NewStoreClient[NodeID, NodeRecord](nodeProcessor, NodeIDSerializer{}, NodeRecordSerializer{}, nil, c.local.NodeID)

	nbhdEngine, err := c.systemStoreEngine(NeighborhoodStoreName)
	if err != nil {
		return fmt.Errorf("throng: opening neighborhood store engine: %w", err)
	}
	nbhdCfg := DefaultStoreConfig()
	nbhdCfg.Persistent = nbhdEngine != nil
	nbhdProcessor := store.New(NeighborhoodStoreName, nbhdCfg, nbhdEngine, c.metrics)
	c.registry.Register(nbhdProcessor)
	c.neighborhoodStore = NewStoreClient[NodeID, NeighborhoodRecord](nbhdProcessor, NodeIDSerializer{}, NeighborhoodRecordSerializer{}, nil, c.local.NodeID)
	return nil
}

// publishSelf writes this node's own directory entry and every
// statically configured neighborhood into the two system stores, so
// that other nodes learning them via ordinary replication see
// accurate records.
func (c *Ctx) publishSelf() error {
	self := NodeRecord{Host: c.local.Host, Port: c.local.Port, MasterEligible: c.local.MasterEligible}
	if _, err := c.nodeStore.Update(c.local.NodeID, Versioned[NodeRecord]{}, self); err != nil && err != ErrObsoleteVersion {
		return fmt.Errorf("throng: publishing local node record: %w", err)
	}

	for _, n := range c.cfg.Neighborhoods() {
		rec := NeighborhoodRecord{Prefix: n.Prefix, Members: n.Members, Masters: n.Masters}
		if _, err := c.neighborhoodStore.Update(n.Prefix, Versioned[NeighborhoodRecord]{}, rec); err != nil && err != ErrObsoleteVersion {
			return fmt.Errorf("throng: publishing neighborhood %s: %w", n.Prefix, err)
		}
	}
	return nil
}

// Stop stops the RPC service, joins the worker pool, and stops every
// processor. Idempotent.
func (c *Ctx) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped {
		return nil
	}
	c.stopped = true

	if c.connmgr != nil {
		c.connmgr.Stop()
	}
	if c.pool != nil {
		c.pool.stop()
	}
	c.registry.Stop()
	return nil
}

// ctxHandler answers inbound RPCs by dispatching into the store
// registry, implementing rpc.Handler.
type ctxHandler struct {
	ctx *Ctx
}

func (h *ctxHandler) HandleHello(from *rpc.Conn, req wire.HelloRequest) (wire.HelloReply, error) {
	return wire.HelloReply{}, nil
}

func (h *ctxHandler) HandleGet(req wire.GetRequest) (wire.GetReply, error) {
	p, err := h.ctx.registry.Get(req.Store)
	if err != nil {
		return wire.GetReply{}, err
	}
	values := p.Get(req.Key)
	wired := make([]wire.VersionedWire, len(values))
	for i, v := range values {
		wired[i] = wire.VersionedToWire(v)
	}
	return wire.GetReply{Versioneds: wired}, nil
}

// workerPool runs a small set of goroutines, each in a recover-and-
// restart loop over queued work: on panic, log and re-enter rather than
// letting one bad task take the whole pool down. The connection
// manager's handshakes and node actions run here (see Start's
// UseExecutor wiring); per-connection read loops do not, since they
// block for a connection's whole lifetime.
type workerPool struct {
	size   int
	work   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger
}

func newWorkerPool(size int) *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		size:   size,
		work:   make(chan func(), 64),
		ctx:    ctx,
		cancel: cancel,
		logger: logging.New("ctx.workerpool"),
	}
}

func (wp *workerPool) start() {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.runWorker()
	}
}

func (wp *workerPool) runWorker() {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case fn, ok := <-wp.work:
			if !ok {
				return
			}
			wp.runSafely(fn)
		}
	}
}

func (wp *workerPool) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorf("worker pool task panicked: %v", r)
		}
	}()
	fn()
}

// Submit enqueues fn to run on a worker goroutine. It never blocks
// indefinitely: if the pool has been stopped, fn is dropped.
func (wp *workerPool) Submit(fn func()) {
	select {
	case wp.work <- fn:
	case <-wp.ctx.Done():
	}
}

func (wp *workerPool) stop() {
	wp.cancel()
	wp.wg.Wait()
}
