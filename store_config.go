package throng

import "github.com/kvthrong/throng/internal/types"

// StoreConfig configures a registered store.
//
// StoreConfig is defined in internal/types so the processor package
// can construct and read it without importing this package back; this
// is a thin alias for the public API.
type StoreConfig = types.StoreConfig

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return types.DefaultStoreConfig()
}
