// Package clustercfg holds the cluster topology: the set of
// neighborhoods a node belongs to and which of their members are
// master-eligible. It is a container keyed by a scope identifier,
// guarded by a single RWMutex, with neighborhoods keyed by NodeID
// prefix.
package clustercfg

import (
	"sort"
	"sync"

	"github.com/kvthrong/throng/internal/types"
)

// Neighborhood is the set of nodes sharing a NodeID prefix, along
// with which of them are eligible to act as master for that prefix.
type Neighborhood struct {
	Prefix  types.NodeID
	Members []types.NodeID
	Masters []types.NodeID
}

// IsMaster reports whether id is listed as a master of this
// neighborhood.
func (n Neighborhood) IsMaster(id types.NodeID) bool {
	for _, m := range n.Masters {
		if m.Equal(id) {
			return true
		}
	}
	return false
}

// Config is the cluster topology known to a node: its own id and the
// neighborhoods it participates in, indexed by prefix depth for
// lookup.
type Config struct {
	mu            sync.RWMutex
	localID       types.NodeID
	neighborhoods map[string]Neighborhood // keyed by Prefix.Key()
}

// New returns a Config for a node with the given local id and no
// neighborhoods configured yet.
func New(localID types.NodeID) *Config {
	return &Config{
		localID:       localID,
		neighborhoods: make(map[string]Neighborhood),
	}
}

// LocalID returns the node id this Config was built for.
func (c *Config) LocalID() types.NodeID { return c.localID }

// SetNeighborhood installs or replaces a neighborhood.
func (c *Config) SetNeighborhood(n Neighborhood) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.neighborhoods[n.Prefix.Key()] = n
}

// Neighborhoods returns every configured neighborhood, deepest prefix
// first (longest NodeID prefix to shortest), so more specific scopes
// are preferred when iterating.
func (c *Config) Neighborhoods() []Neighborhood {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Neighborhood, 0, len(c.neighborhoods))
	for _, n := range c.neighborhoods {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return len(out[i].Prefix) > len(out[j].Prefix)
	})
	return out
}

// NeighborhoodFor returns the most specific (longest-prefix) configured
// neighborhood that id belongs to, if any.
func (c *Config) NeighborhoodFor(id types.NodeID) (Neighborhood, bool) {
	for _, n := range c.Neighborhoods() {
		if id.HasPrefix(n.Prefix) {
			return n, true
		}
	}
	return Neighborhood{}, false
}

// LocalMasterNeighborhoods returns the neighborhoods this node is a
// master for, deepest prefix first. Connection maintenance iterates
// these to decide which remote members it must actively keep
// connections to.
func (c *Config) LocalMasterNeighborhoods() []Neighborhood {
	var out []Neighborhood
	for _, n := range c.Neighborhoods() {
		if n.IsMaster(c.localID) {
			out = append(out, n)
		}
	}
	return out
}

// Reserved store names used by the library itself, not available for
// application registration.
const (
	NodeStoreName         = "__sys_nodes"
	NeighborhoodStoreName = "__sys_neighborhoods"
)
