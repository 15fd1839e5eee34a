package throng

import "github.com/kvthrong/throng/internal/types"

// ErrObsoleteVersion is returned by a StoreClient write when the
// written version is Before or Equal to an existing version for the
// key. Callers should re-read and retry.
//
// These error types are defined in internal/types so the store
// registry can construct and return them without importing this
// package back; these are thin aliases for the public API.
var ErrObsoleteVersion = types.ErrObsoleteVersion

// UnknownStoreError is returned for operations against a store name
// that was never registered on the Ctx. It is fatal to the call, not
// to the library.
type UnknownStoreError = types.UnknownStoreError

// InconsistentDataError is returned when a Resolver fails to reduce an
// antichain down to exactly one value. Callers must either supply a
// stricter resolver or handle the multi-valued result directly.
type InconsistentDataError = types.InconsistentDataError

// SerializationError wraps an encode/decode failure surfaced by an
// injected Serializer.
type SerializationError = types.SerializationError
