// Package discovery defines the asset-discovery interface used when a
// hakoniwa deployment spans multiple conductor processes and shared-memory
// transport endpoints must find each other's advertised WebSocket address.
//
// This is a new capability relative to the Python original (endpoints
// there are always configured, not discovered); it exists purely to give
// the teacher's etcd dependency a reachable home (§3), kept optional and
// off by default — nothing in the core runtime requires it.
package discovery

// AssetEndpoint is one advertised transport endpoint: a named asset (robot
// or conductor process) and the WebSocket URI other peers should dial to
// reach it.
type AssetEndpoint struct {
	AssetName string
	URI       string
	Version   string
}

// ServiceRegistry is the interface for asset registration and discovery,
// mirroring the teacher's registry.Registry one-for-one (Register/
// Deregister/Discover/Watch), generalized from "service instance" to
// "asset endpoint".
type ServiceRegistry interface {
	// Register advertises assetName at endpoint with a TTL lease. The
	// entry is removed automatically if KeepAlive stops (process crash).
	Register(assetName string, endpoint AssetEndpoint, ttlSeconds int64) error

	// Deregister removes assetName's endpoint entry. Called during
	// graceful shutdown before the transport stops accepting connections.
	Deregister(assetName string, uri string) error

	// Discover returns every currently registered endpoint for assetName.
	Discover(assetName string) ([]AssetEndpoint, error)

	// Watch returns a channel emitting the updated endpoint list whenever
	// assetName's registrations change.
	Watch(assetName string) <-chan []AssetEndpoint
}
