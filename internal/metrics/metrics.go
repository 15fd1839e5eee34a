// Package metrics wires the library's counters to statsd via
// github.com/cactus/go-statsd-client/v5/statsd, covering the
// processor, connection manager, and task scheduler.
package metrics

import (
	"github.com/cactus/go-statsd-client/v5/statsd"
)

// Client records library counters to a statsd.Statter. The zero value
// is not usable; construct with New or Disabled.
type Client struct {
	stat statsd.Statter
}

// New dials a UDP statsd client at addr, tagging every stat under
// prefix (typically "throng").
func New(addr, prefix string) (*Client, error) {
	s, err := statsd.NewClient(addr, prefix)
	if err != nil {
		return nil, err
	}
	return &Client{stat: s}, nil
}

// Disabled returns a Client that discards every stat, for embedders
// that haven't configured a statsd endpoint.
func Disabled() *Client {
	return &Client{stat: nil}
}

func (c *Client) inc(stat string) {
	if c == nil || c.stat == nil {
		return
	}
	_ = c.stat.Inc(stat, 1, 1.0)
}

// PutAccepted records a successful write for store.
func (c *Client) PutAccepted(store string) { c.inc("store." + store + ".put.accepted") }

// PutRejected records an obsolete write for store.
func (c *Client) PutRejected(store string) { c.inc("store." + store + ".put.rejected") }

// Conflict records a concurrent write (antichain growth) for store.
func (c *Client) Conflict(store string) { c.inc("store." + store + ".conflict") }

// Resolved records a successful resolver pass for store.
func (c *Client) Resolved(store string) { c.inc("store." + store + ".resolved") }

// ConnectionReady records a connection reaching the READY state.
func (c *Client) ConnectionReady() { c.inc("rpc.connection.ready") }

// ConnectionClosed records a connection closing for any reason.
func (c *Client) ConnectionClosed() { c.inc("rpc.connection.closed") }

// BootstrapAttempt records an outbound bootstrap attempt against a
// seed.
func (c *Client) BootstrapAttempt() { c.inc("rpc.bootstrap.attempt") }

// ConnectionEvicted records a connection stopped by maintenance
// because it went unused for longer than the idle threshold.
func (c *Client) ConnectionEvicted() { c.inc("rpc.connection.evicted") }

// TaskRun records a single-flight task execution.
func (c *Client) TaskRun(name string) { c.inc("task." + name + ".run") }

// Close releases the underlying statsd client, if any.
func (c *Client) Close() error {
	if c == nil || c.stat == nil {
		return nil
	}
	return c.stat.Close()
}
