package types

import (
	"fmt"
	"strings"
	"time"
)

// Occurred describes the causal relationship between two vector
// clocks as returned by VectorClock.Compare.
type Occurred uint8

const (
	// Before means the receiver causally precedes the argument.
	Before Occurred = iota
	// After means the receiver causally follows the argument.
	After
	// Concurrent means the two clocks are incomparable: they
	// represent concurrent, conflicting updates.
	Concurrent
	// Equal means the two clocks have identical entries.
	Equal
)

func (o Occurred) String() string {
	switch o {
	case Before:
		return "BEFORE"
	case After:
		return "AFTER"
	case Concurrent:
		return "CONCURRENT"
	case Equal:
		return "EQUAL"
	default:
		return "UNKNOWN"
	}
}

// ClockEntry is a single node's counter within a VectorClock.
type ClockEntry struct {
	Node    NodeID
	Counter uint64
}

// VectorClock represents a version in the store and lets the system
// determine whether two updates are causally related or concurrent.
// Entries are kept unique by node ID and sorted in ascending node-id
// order; counters are monotonically non-decreasing per node.
//
// The zero value is the empty clock: it compares Before every
// non-empty clock and Equal to itself.
type VectorClock struct {
	timestamp time.Time
	entries   []ClockEntry
}

// NewVectorClock builds a clock from the given entries, which need
// not be pre-sorted. Duplicate node IDs are not permitted by callers;
// behavior is undefined if they're present.
func NewVectorClock(timestamp time.Time, entries []ClockEntry) VectorClock {
	sorted := make([]ClockEntry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)
	return VectorClock{timestamp: timestamp, entries: sorted}
}

func sortEntries(entries []ClockEntry) {
	// insertion sort: clocks are small (one entry per node that has
	// touched the key), and this keeps the dependency surface to the
	// stdlib for a tiny, already-mostly-sorted slice.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Node.Compare(entries[j].Node) > 0; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// Timestamp returns the wall-clock time associated with this clock.
// It is advisory only and used by the default resolver to pick a
// winner among concurrent versions.
func (vc VectorClock) Timestamp() time.Time { return vc.timestamp }

// Entries returns a copy of the clock's entries, sorted ascending by
// node ID.
func (vc VectorClock) Entries() []ClockEntry {
	out := make([]ClockEntry, len(vc.entries))
	copy(out, vc.entries)
	return out
}

// Increment returns a new clock with the entry for id advanced by
// one, inserting it in sorted order if it was absent, with the
// timestamp set to ts.
func (vc VectorClock) Increment(id NodeID, ts time.Time) VectorClock {
	out := make([]ClockEntry, 0, len(vc.entries)+1)
	inserted := false
	for _, e := range vc.entries {
		c := e.Node.Compare(id)
		if c == 0 {
			out = append(out, ClockEntry{Node: e.Node, Counter: e.Counter + 1})
			inserted = true
			continue
		}
		if c > 0 && !inserted {
			out = append(out, ClockEntry{Node: id, Counter: 1})
			inserted = true
		}
		out = append(out, e)
	}
	if !inserted {
		out = append(out, ClockEntry{Node: id, Counter: 1})
	}
	return VectorClock{timestamp: ts, entries: out}
}

// IncrementNow is Increment with the current wall-clock time.
func (vc VectorClock) IncrementNow(id NodeID) VectorClock {
	return vc.Increment(id, time.Now())
}

// Merge returns a new clock with every entry set to the pairwise
// maximum of the two clocks' counters over the union of node IDs, and
// the timestamp set to ts.
func (vc VectorClock) Merge(o VectorClock, ts time.Time) VectorClock {
	out := make([]ClockEntry, 0, len(vc.entries)+len(o.entries))
	i, j := 0, 0
	for i < len(vc.entries) || j < len(o.entries) {
		switch {
		case j >= len(o.entries) || (i < len(vc.entries) && vc.entries[i].Node.Compare(o.entries[j].Node) < 0):
			out = append(out, vc.entries[i])
			i++
		case i >= len(vc.entries) || (j < len(o.entries) && o.entries[j].Node.Compare(vc.entries[i].Node) < 0):
			out = append(out, o.entries[j])
			j++
		default:
			counter := vc.entries[i].Counter
			if o.entries[j].Counter > counter {
				counter = o.entries[j].Counter
			}
			out = append(out, ClockEntry{Node: vc.entries[i].Node, Counter: counter})
			i++
			j++
		}
	}
	return VectorClock{timestamp: ts, entries: out}
}

// MergeNow is Merge with the current wall-clock time.
func (vc VectorClock) MergeNow(o VectorClock) VectorClock {
	return vc.Merge(o, time.Now())
}

// Compare determines the causal relationship of vc to o, running in
// time linear in the sum of both clocks' entry counts via a two
// pointer ordered scan.
func (vc VectorClock) Compare(o VectorClock) Occurred {
	var vcLess, oLess bool
	i, j := 0, 0
	for i < len(vc.entries) || j < len(o.entries) {
		switch {
		case j >= len(o.entries) || (i < len(vc.entries) && vc.entries[i].Node.Compare(o.entries[j].Node) < 0):
			// vc has a node o doesn't: vc's counter (>0) dominates o's
			// implicit zero, so o is less at this node.
			oLess = true
			i++
		case i >= len(vc.entries) || (j < len(o.entries) && o.entries[j].Node.Compare(vc.entries[i].Node) < 0):
			vcLess = true
			j++
		default:
			if vc.entries[i].Counter < o.entries[j].Counter {
				vcLess = true
			} else if vc.entries[i].Counter > o.entries[j].Counter {
				oLess = true
			}
			i++
			j++
		}
	}
	switch {
	case !vcLess && !oLess:
		return Equal
	case vcLess && !oLess:
		return Before
	case !vcLess && oLess:
		return After
	default:
		return Concurrent
	}
}

// IsEqual reports whether vc and o have identical entries,
// irrespective of timestamp.
func (vc VectorClock) IsEqual(o VectorClock) bool {
	return vc.Compare(o) == Equal
}

func (vc VectorClock) String() string {
	parts := make([]string, len(vc.entries))
	for i, e := range vc.entries {
		parts[i] = fmt.Sprintf("(%s,%d)", e.Node, e.Counter)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
