package registryaware

import (
	"context"
	"crypto/tls"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/friendsofgo/errors"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

// Client is an HTTP client that resolves logical service names through a
// service registry before issuing requests. It exposes the regular
// http.Client verbs unchanged, plus TargetForService and
// TargetForIdentifier, which turn a registered service into a concrete
// Target.
type Client struct {
	httpClient *http.Client
	registry   registry.Client
	log        LogFn
	randIntN   func(n int) int
	closed     atomic.Bool
}

// NewClient validates conf, fills in defaults and returns a ready client.
// The caller owns the client's lifecycle and should Close it when done.
func NewClient(conf ClientConfig) (*Client, error) {
	if conf.Registry == nil {
		return nil, errors.New("registry client must not be nil")
	}

	connectTimeout, err := timeoutOrDefault("connect", conf.ConnectTimeout, DefaultConnectTimeout)
	if err != nil {
		return nil, err
	}
	readTimeout, err := timeoutOrDefault("read", conf.ReadTimeout, DefaultReadTimeout)
	if err != nil {
		return nil, err
	}

	logFn := conf.Log
	if logFn == nil {
		logFn = log.Printf
	}
	randIntN := conf.Rand
	if randIntN == nil {
		randIntN = rand.Intn
	}

	c := &Client{
		registry: conf.Registry,
		log:      logFn,
		randIntN: randIntN,
	}

	httpClient := &http.Client{}
	if conf.HTTPClient != nil {
		// shallow copy so construction never touches the caller's client
		clientCopy := *conf.HTTPClient
		httpClient = &clientCopy
	} else {
		httpClient.Transport = getDefaultTransport(connectTimeout, tlsConfigFor(conf))
		httpClient.Timeout = readTimeout
	}

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if conf.Headers != nil {
		base = NewHeaderInjectingTransport(base, conf.Headers)
	}
	httpClient.Transport = &closingTransport{base: base, closed: &c.closed}
	c.httpClient = httpClient

	return c, nil
}

func tlsConfigFor(conf ClientConfig) *tls.Config {
	if conf.TLSConfig != nil {
		return conf.TLSConfig.Clone()
	}
	if conf.InsecureSkipVerify {
		return &tls.Config{InsecureSkipVerify: true}
	}
	return nil
}

// TargetOption adjusts a single target resolution.
type TargetOption func(*targetOptions)

type targetOptions struct {
	connector    *registry.PortType
	pathResolver func(registry.ServiceInstance) string
}

// WithConnector overrides the identifier's connector for this resolution.
func WithConnector(connector registry.PortType) TargetOption {
	return func(o *targetOptions) {
		o.connector = &connector
	}
}

// WithPathResolver overrides the path of the resolved URL. The function
// receives the chosen instance and returns the path to use, e.g. the
// instance's status path.
func WithPathResolver(resolve func(registry.ServiceInstance) string) TargetOption {
	return func(o *targetOptions) {
		o.pathResolver = resolve
	}
}

// TargetForService resolves a target for the named service with default
// identifier settings.
func (c *Client) TargetForService(ctx context.Context, serviceName string, opts ...TargetOption) (*Target, error) {
	identifier, err := ServiceIdentifierOf(serviceName)
	if err != nil {
		return nil, err
	}
	return c.TargetForIdentifier(ctx, identifier, opts...)
}

// TargetForIdentifier looks the identifier's service up in the registry,
// picks one matching instance at random and returns a target for its URL.
// The URL uses the first declared port of the identifier's connector type,
// https when that port is secure, and the instance's home page path for the
// Application connector or "/" for Admin, unless a path resolver option
// says otherwise. Every call performs a fresh lookup; resolution results
// are never cached.
func (c *Client) TargetForIdentifier(ctx context.Context, identifier ServiceIdentifier, opts ...TargetOption) (*Target, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if identifier.serviceName == "" {
		return nil, errors.New("service name is required")
	}

	var options targetOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.connector != nil {
		var err error
		identifier, err = identifier.WithConnector(*options.connector)
		if err != nil {
			return nil, err
		}
	}

	query := registry.InstanceQuery{
		ServiceName:      identifier.serviceName,
		PreferredVersion: identifier.preferredVersion,
		MinimumVersion:   identifier.minimumVersion,
	}
	instances, err := c.registry.FindServiceInstances(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		c.log("[RegistryAwareClient] no instances found for service %s", identifier.serviceName)
		return nil, newMissingServiceError(identifier)
	}

	instance := instances[0]
	if len(instances) > 1 {
		instance = instances[c.randIntN(len(instances))]
	}

	path := "/"
	if options.pathResolver != nil {
		path = options.pathResolver(instance)
	} else if identifier.connector == registry.Application {
		path = instance.Paths.HomePagePath
	}

	rawURL, err := registry.URLForPath(instance.HostName, instance.Ports, identifier.connector, path)
	if err != nil {
		return nil, err
	}
	return c.Target(rawURL)
}

// Target wraps a raw URL in a Target bound to this client, without any
// registry lookup.
func (c *Client) Target(rawURL string) (*Target, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid target url %s", rawURL)
	}
	return &Target{client: c, url: u}, nil
}

// Do sends the request through the wrapped HTTP client.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.httpClient.Do(req)
}

// Get issues a GET to the given URL.
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Head issues a HEAD to the given URL.
func (c *Client) Head(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post issues a POST to the given URL.
func (c *Client) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// PostForm issues a POST to the given URL with the data form-encoded in the
// body.
func (c *Client) PostForm(url string, data url.Values) (*http.Response, error) {
	return c.Post(url, "application/x-www-form-urlencoded", strings.NewReader(data.Encode()))
}

// CloseIdleConnections closes idle connections held by the wrapped client.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// HTTPClient exposes the wrapped HTTP client for callers that need the
// standard type. Requests made through it fail with ErrClientClosed once
// the client is closed.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close marks the client closed and releases its idle connections. Close is
// idempotent and safe for concurrent use; the wrapped client is shut down
// exactly once. Requests and resolutions after Close fail with
// ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}
