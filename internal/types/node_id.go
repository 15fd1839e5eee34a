// Package types holds the causality and topology value types shared
// between the public throng package and the library's internal
// components (processor, storage, RPC framing, connection manager).
// It exists so those internal packages can depend on these value types
// without importing the root package back - the root package imports
// them instead and re-exports the public ones as aliases.
package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
)

// NodeID is the topological coordinates of a node in the cluster,
// outermost first - for example [2,3,4,5] could correspond to
// datacenter 2, pod 3, rack 4, node 5. Nodes should be arranged so
// that failures are less correlated when the shared prefix is
// shorter.
type NodeID []uint32

// NewNodeID builds a NodeID from its topological components.
func NewNodeID(components ...uint32) NodeID {
	id := make(NodeID, len(components))
	copy(id, components)
	return id
}

// Equal reports whether id and o have identical components.
func (id NodeID) Equal(o NodeID) bool {
	return id.Compare(o) == 0
}

// Compare returns -1, 0, or 1 as id is lexicographically less than,
// equal to, or greater than o.
func (id NodeID) Compare(o NodeID) int {
	n := len(id)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if id[i] < o[i] {
			return -1
		}
		if id[i] > o[i] {
			return 1
		}
	}
	switch {
	case len(id) < len(o):
		return -1
	case len(id) > len(o):
		return 1
	default:
		return 0
	}
}

// HasPrefix reports whether prefix is a leading subsequence of id.
func (id NodeID) HasPrefix(prefix NodeID) bool {
	if len(prefix) > len(id) {
		return false
	}
	for i, v := range prefix {
		if id[i] != v {
			return false
		}
	}
	return true
}

// Prefix returns the first depth components of id. If depth exceeds
// len(id), the full id is returned.
func (id NodeID) Prefix(depth int) NodeID {
	if depth >= len(id) {
		depth = len(id)
	}
	out := make(NodeID, depth)
	copy(out, id[:depth])
	return out
}

// Key returns a value suitable for use as a Go map key for this node
// ID. NodeID itself is a slice and so cannot be compared or hashed by
// the runtime; internal tables key by this instead.
func (id NodeID) Key() string {
	var buf bytes.Buffer
	for _, v := range id {
		binary.Write(&buf, binary.BigEndian, v) //nolint:errcheck
	}
	return buf.String()
}

// Hash computes a stable 64-bit hash of the node ID.
func (id NodeID) Hash() uint64 {
	h := fnv.New64a()
	for _, v := range id {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		h.Write(b[:]) //nolint:errcheck
	}
	return h.Sum64()
}

// String renders the node ID like "(1,2,3)".
func (id NodeID) String() string {
	parts := make([]string, len(id))
	for i, v := range id {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
