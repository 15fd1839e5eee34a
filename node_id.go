package throng

import "github.com/kvthrong/throng/internal/types"

// NodeID is the topological coordinates of a node in the cluster,
// outermost first - for example [2,3,4,5] could correspond to
// datacenter 2, pod 3, rack 4, node 5. Nodes should be arranged so
// that failures are less correlated when the shared prefix is
// shorter.
//
// NodeID is defined in internal/types so that the library's internal
// components (processor, storage, RPC framing, connection manager)
// can share it without importing this package back; this is a thin
// alias for the public API.
type NodeID = types.NodeID

// NewNodeID builds a NodeID from its topological components.
func NewNodeID(components ...uint32) NodeID {
	return types.NewNodeID(components...)
}
