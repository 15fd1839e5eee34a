/*
Package throng is an embeddable, eventually-consistent, versioned
key-value store that replicates across a clustered set of nodes
arranged in a topological hierarchy (datacenter / pod / rack / node).

Stores are registered by name on a Ctx, accessed through typed
StoreClient instances, and replicated using vector-clock causality to
detect concurrent updates. Conflicts between concurrent versions are
resolved by a pluggable Resolver; the default picks the most recently
written value by wall-clock timestamp.

Persistent storage engines, user-type serialization, and the concrete
wire schema beyond the RPC framing and method set are injected
collaborators - see the storage and Serializer types.
*/
package throng
