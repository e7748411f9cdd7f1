package registryaware

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

// LogFn is a logging function to be used by the client, e.g. Printf
type LogFn = registry.LogFn

type ClientConfig struct {
	// The registry client used to look up service instances.
	// Mandatory
	Registry registry.Client
	// The HTTP client to wrap. The client is shallow-copied and the copy's
	// transport is wrapped; the client passed in is never modified. When
	// set, ConnectTimeout, ReadTimeout and the TLS options below are not
	// applied to it.
	// Optional
	// Default: a client built from ConnectTimeout, ReadTimeout and the TLS options
	HTTPClient *http.Client
	// Connect (dial) timeout of the built HTTP client.
	// Optional
	// Default: DefaultConnectTimeout
	ConnectTimeout time.Duration
	// Read timeout of the built HTTP client, applied as the overall
	// per-request timeout.
	// Optional
	// Default: DefaultReadTimeout
	ReadTimeout time.Duration
	// TLS configuration of the built HTTP client.
	// Optional
	// Default: nil (standard verification)
	TLSConfig *tls.Config
	// Disables certificate and hostname verification on the built HTTP
	// client. Only consulted when TLSConfig is nil.
	// Optional
	// Default: false
	InsecureSkipVerify bool
	// A supplier of headers to add to every outgoing request, invoked once
	// per request.
	// Optional
	// Default: nil
	//
	// Deprecated: wrap the transport with NewHeaderInjectingTransport and
	// pass the result in via HTTPClient instead.
	Headers func() http.Header
	// A function that will be used for logging.
	// Optional
	// Default: log.Printf
	Log LogFn
	// Rand picks an index in [0, n) when a lookup matches n > 1 instances.
	// Injectable for deterministic tests.
	// Optional
	// Default: math/rand/v2 IntN
	Rand func(n int) int
}

// WithTimeoutsFrom returns a copy of the config carrying the identifier's
// timeouts.
func (c ClientConfig) WithTimeoutsFrom(identifier ServiceIdentifier) ClientConfig {
	c.ConnectTimeout = identifier.ConnectTimeout()
	c.ReadTimeout = identifier.ReadTimeout()
	return c
}
