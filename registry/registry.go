package registry

import "context"

// LogFn is a logging function to be used by registry clients, e.g. Printf
type LogFn func(format string, args ...any)

// Client looks up live instances of a named service in a service registry.
// Implementations are expected to be safe for concurrent use.
type Client interface {
	// FindServiceInstances returns the instances currently matching the
	// query, or an empty slice when the service has none. Lookups happen
	// per call; any caching behind this method is the implementation's
	// business.
	FindServiceInstances(ctx context.Context, query InstanceQuery) ([]ServiceInstance, error)
}

// InstanceQuery names a service and the version constraints a caller is
// willing to accept.
type InstanceQuery struct {
	ServiceName string
	// PreferredVersion is the version to favor when present. Empty means
	// the latest available version.
	PreferredVersion string
	// MinimumVersion is the lowest acceptable version. Empty means no
	// minimum.
	MinimumVersion string
}

// NoOpClient is a Client that never finds anything. Useful as a stand-in
// where lookups are not expected to happen.
type NoOpClient struct{}

func (NoOpClient) FindServiceInstances(context.Context, InstanceQuery) ([]ServiceInstance, error) {
	return nil, nil
}
