package registryaware

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// closingTransport rejects requests once the owning client is closed.
// It wraps the outermost transport so requests made through HTTPClient()
// fail the same way as requests made through the client itself.
type closingTransport struct {
	base   http.RoundTripper
	closed *atomic.Bool
}

func (t *closingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.closed.Load() {
		return nil, ErrClientClosed
	}
	return t.base.RoundTrip(req)
}

func getDefaultTransport(connectTimeout time.Duration, tlsConf *tls.Config) *http.Transport {
	var transport *http.Transport
	if h, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = h.Clone()
	} else {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	if tlsConf != nil {
		transport.TLSClientConfig = tlsConf
	}
	return transport
}
