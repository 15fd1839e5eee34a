// Package store implements the per-store processor: an indexed
// in-memory record table with a periodic timer for
// resolution/refresh/expiry, write-through to an optional storage
// engine, and a registry that owns one processor per registered store
// name.
//
// The record table keeps two indices: records hashed by a SHA-1 digest
// of their key for point lookups, and the same records ordered by next
// processing time for the timer tick to scan.
package store

import (
	"crypto/sha1"
	"sort"
	"sync"
	"time"

	"github.com/kvthrong/throng/internal/logging"
	"github.com/kvthrong/throng/internal/metrics"
	"github.com/kvthrong/throng/internal/task"
	"github.com/kvthrong/throng/internal/types"
	"github.com/kvthrong/throng/storage"
)

// TickPeriod is the processor's base timer period: the tick re-arms on
// a fixed base period of roughly 500ms.
const TickPeriod = 500 * time.Millisecond

// noScheduledTime is the sentinel next_time value meaning "not in the
// timer index"; the timer tick skips it.
var noScheduledTime = time.Time{}

// Listener is notified on every accepted put. local reports whether
// the write originated from this node (true) or was applied from a
// remote RPC (false).
type Listener func(key []byte, versions []types.RawVersioned, local bool)

// Resolver reduces an antichain of raw versions during the periodic
// resolution pass. Its output is applied back through the ordinary
// antichain rule, so a resolver that wants to collapse a conflict must
// return a value whose clock dominates the inputs.
type Resolver func(versions []types.RawVersioned) ([]types.RawVersioned, error)

// record is one key's antichain plus its timer-index bookkeeping.
type record struct {
	key         []byte
	digest      [sha1.Size]byte
	values      []types.RawVersioned
	lastRefresh time.Time
	lastResolve time.Time
	nextTime    time.Time
	queued      bool // present in the processor's time index
}

// Processor is the per-store runtime: record table, listeners, and
// the periodic resolve/refresh/expiry timer.
type Processor struct {
	name   string
	config types.StoreConfig
	engine storage.Engine // nil if the store is not write-through

	mu        sync.Mutex
	records   map[string]*record // keyed by string(key)
	timeIndex []*record          // records awaiting a tick; sorted by nextTime on scan
	resolver  Resolver           // nil until a typed client installs one

	listenersMu sync.Mutex
	listeners   []Listener

	tick    *task.Task
	metrics *metrics.Client
	logger  *logging.Logger
}

// New creates a processor for a store named name. engine may be nil,
// in which case the processor only maintains in-memory state.
func New(name string, cfg types.StoreConfig, engine storage.Engine, m *metrics.Client) *Processor {
	p := &Processor{
		name:    name,
		config:  cfg,
		engine:  engine,
		records: make(map[string]*record),
		metrics: m,
		logger:  logging.New("store." + name),
	}
	p.tick = task.New("store."+name+".tick", p.onTick)
	return p
}

// Name returns the store's registered name.
func (p *Processor) Name() string { return p.name }

// SetResolver installs the resolver the periodic tick re-resolves
// conflicting records with. A typed StoreClient installs its own
// resolver here at construction; the most recently installed one wins.
func (p *Processor) SetResolver(fn Resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolver = fn
}

// Start loads any state the storage engine holds from a prior run
// into the record table, then arms the periodic timer.
func (p *Processor) Start() {
	if p.engine != nil {
		if err := p.hydrate(); err != nil {
			p.logger.Warningf("loading %s from engine %s: %v", p.name, p.engine.Name(), err)
		}
	}
	p.tick.Schedule(TickPeriod, 0)
}

// hydrate replays the engine's persisted antichains into the record
// table. Every hydrated record is queued for a tick so stale state
// (expired tombstones, un-refreshed objects) is collected promptly.
func (p *Processor) hydrate() error {
	return p.engine.Visit(func(key []byte, versions []types.RawVersioned) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		r, ok := p.records[string(key)]
		if !ok {
			r = &record{key: append([]byte(nil), key...), digest: sha1.Sum(key), nextTime: noScheduledTime}
			p.records[string(key)] = r
		}
		for _, v := range versions {
			if merged, changed := types.ReconcileRaw(r.values, v); changed {
				r.values = merged
			}
		}
		r.nextTime = time.Now().Add(TickPeriod)
		if !r.queued {
			p.timeIndex = append(p.timeIndex, r)
			r.queued = true
		}
		return nil
	})
}

// Stop cancels the periodic timer and closes the storage engine the
// processor owns.
func (p *Processor) Stop() {
	p.tick.Cancel()
	if p.engine != nil {
		if err := p.engine.Close(); err != nil {
			p.logger.Warningf("closing engine %s: %v", p.engine.Name(), err)
		}
	}
}

// Put applies candidate to key's antichain following the rule in
// types.ReconcileRaw, writes through to the storage engine if
// one is configured, and notifies listeners on acceptance. local
// indicates whether the write originated from this node.
func (p *Processor) Put(key []byte, candidate types.RawVersioned, local bool) (bool, error) {
	p.mu.Lock()
	r, ok := p.records[string(key)]
	if !ok {
		r = &record{key: append([]byte(nil), key...), digest: sha1.Sum(key), nextTime: noScheduledTime}
		p.records[string(key)] = r
	}
	merged, changed := types.ReconcileRaw(r.values, candidate)
	if !changed {
		p.mu.Unlock()
		p.metrics.PutRejected(p.name)
		return false, nil
	}
	r.values = merged
	r.nextTime = time.Now().Add(TickPeriod)
	if !r.queued {
		p.timeIndex = append(p.timeIndex, r)
		r.queued = true
	}
	snapshot := append([]types.RawVersioned(nil), r.values...)
	p.mu.Unlock()

	if p.engine != nil {
		if _, err := p.engine.Put(key, candidate); err != nil {
			p.logger.Warningf("write-through to %s failed for key %q: %v", p.engine.Name(), key, err)
			p.notify(key, snapshot, local)
			return false, err
		}
	}

	p.metrics.PutAccepted(p.name)
	if len(snapshot) > 1 {
		p.metrics.Conflict(p.name)
	}
	p.notify(key, snapshot, local)
	return true, nil
}

// Get returns the current antichain for key, or nil if unknown.
func (p *Processor) Get(key []byte) []types.RawVersioned {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[string(key)]
	if !ok {
		return nil
	}
	return append([]types.RawVersioned(nil), r.values...)
}

// Visit calls fn once per record under the record lock.
func (p *Processor) Visit(fn func(key []byte, values []types.RawVersioned)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		fn(r.key, r.values)
	}
}

// AddListener subscribes fn to every future accepted put.
func (p *Processor) AddListener(fn Listener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Processor) notify(key []byte, values []types.RawVersioned, local bool) {
	p.listenersMu.Lock()
	listeners := append([]Listener(nil), p.listeners...)
	p.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(key, values, local)
	}
}

// onTick pulls due records from the time index and processes each:
// re-resolution, refresh, and tombstone GC.
func (p *Processor) onTick() {
	p.metrics.TaskRun(p.name + ".tick")
	now := time.Now()
	due := p.collectDue(now)
	for _, r := range due {
		p.processRecord(r, now)
	}
	p.tick.Schedule(TickPeriod, 0)
}

// collectDue pops every record with nextTime at or before now from the
// time index. Records carrying the sentinel "no scheduled time" are
// dropped from the index without being visited.
func (p *Processor) collectDue(now time.Time) []*record {
	p.mu.Lock()
	defer p.mu.Unlock()

	sort.Slice(p.timeIndex, func(i, j int) bool { return p.timeIndex[i].nextTime.Before(p.timeIndex[j].nextTime) })

	var due []*record
	keep := p.timeIndex[:0]
	for _, r := range p.timeIndex {
		switch {
		case r.nextTime.Equal(noScheduledTime):
			r.queued = false
		case !r.nextTime.After(now):
			r.queued = false
			due = append(due, r)
		default:
			keep = append(keep, r)
		}
	}
	p.timeIndex = keep
	return due
}

// processRecord is the per-key work behind a tick: garbage collect
// tombstones past their retention, expire values past their refresh
// deadline, run the configured resolver over what remains, and re-arm
// the record for the next deadline it still carries.
func (p *Processor) processRecord(r *record, now time.Time) {
	p.mu.Lock()
	resolver := p.resolver
	tombstoneTimeout := p.config.TombstoneTimeout
	objectTimeout := p.config.ObjectTimeout
	r.lastRefresh = now
	var live []types.RawVersioned
	for _, v := range r.values {
		age := now.Sub(v.Clock.Timestamp())
		if !v.HasValue() && tombstoneTimeout > 0 && age > tombstoneTimeout {
			continue // garbage collect expired tombstone
		}
		if v.HasValue() && objectTimeout > 0 && age > objectTimeout {
			continue // expire an un-refreshed object
		}
		live = append(live, v)
	}
	collected := len(live) < len(r.values)
	r.values = live
	p.rearm(r, now)
	snapshot := append([]types.RawVersioned(nil), live...)
	p.mu.Unlock()

	if collected && len(snapshot) == 0 && p.engine != nil {
		// The record is fully collected; drop the engine's copy too so
		// hydration on a later start doesn't resurrect it.
		if err := p.engine.Delete(r.key); err != nil {
			p.logger.Warningf("deleting collected key %q from %s: %v", r.key, p.engine.Name(), err)
		}
	}

	// The resolver is user code; it runs without the record lock, and
	// its output re-enters through the antichain rule so a write that
	// raced the pass is never clobbered.
	if resolver == nil || len(snapshot) < 2 {
		return
	}
	resolved, err := resolver(snapshot)
	if err != nil {
		p.logger.Warningf("resolver for %s failed on key %q: %v", p.name, r.key, err)
		return
	}
	var accepted []types.RawVersioned
	p.mu.Lock()
	for _, v := range resolved {
		merged, changed := types.ReconcileRaw(r.values, v)
		if changed {
			r.values = merged
			accepted = append(accepted, v)
		}
	}
	if len(accepted) > 0 {
		r.lastResolve = now
	}
	snapshot = append([]types.RawVersioned(nil), r.values...)
	p.mu.Unlock()
	if len(accepted) == 0 {
		return
	}

	// A resolver-driven collapse is an accepted write like any other:
	// mirror it to the engine and fire listeners.
	if p.engine != nil {
		for _, v := range accepted {
			if _, err := p.engine.Put(r.key, v); err != nil {
				p.logger.Warningf("write-through to %s failed for key %q: %v", p.engine.Name(), r.key, err)
			}
		}
	}
	p.metrics.Resolved(p.name)
	p.notify(r.key, snapshot, true)
}

// rearm queues r for the earliest expiry deadline any of its surviving
// values still carries, clamped to no sooner than one base period out.
// A record with nothing left to wait for leaves the timer index until
// the next accepted put re-queues it.
func (p *Processor) rearm(r *record, now time.Time) {
	next := noScheduledTime
	for _, v := range r.values {
		timeout := p.config.TombstoneTimeout
		if v.HasValue() {
			timeout = p.config.ObjectTimeout
		}
		if timeout <= 0 {
			continue
		}
		deadline := v.Clock.Timestamp().Add(timeout)
		if next.Equal(noScheduledTime) || deadline.Before(next) {
			next = deadline
		}
	}
	if next.Equal(noScheduledTime) {
		r.nextTime = noScheduledTime
		r.queued = false
		return
	}
	if next.Before(now.Add(TickPeriod)) {
		next = now.Add(TickPeriod)
	}
	r.nextTime = next
	if !r.queued {
		p.timeIndex = append(p.timeIndex, r)
		r.queued = true
	}
}
