package throng

import (
	"time"

	"github.com/kvthrong/throng/internal/types"
)

// Occurred describes the causal relationship between two vector
// clocks as returned by VectorClock.Compare.
//
// Occurred and VectorClock are defined in internal/types so the
// library's internal components can share causality logic without
// importing this package back; these are thin aliases for the public
// API.
type Occurred = types.Occurred

const (
	// Before means the receiver causally precedes the argument.
	Before = types.Before
	// After means the receiver causally follows the argument.
	After = types.After
	// Concurrent means the two clocks are incomparable: they
	// represent concurrent, conflicting updates.
	Concurrent = types.Concurrent
	// Equal means the two clocks have identical entries.
	Equal = types.Equal
)

// ClockEntry is a single node's counter within a VectorClock.
type ClockEntry = types.ClockEntry

// VectorClock represents a version in the store and lets the system
// determine whether two updates are causally related or concurrent.
// Entries are kept unique by node ID and sorted in ascending node-id
// order; counters are monotonically non-decreasing per node.
//
// The zero value is the empty clock: it compares Before every
// non-empty clock and Equal to itself.
type VectorClock = types.VectorClock

// NewVectorClock builds a clock from the given entries, which need
// not be pre-sorted. Duplicate node IDs are not permitted by callers;
// behavior is undefined if they're present.
func NewVectorClock(timestamp time.Time, entries []ClockEntry) VectorClock {
	return types.NewVectorClock(timestamp, entries)
}
