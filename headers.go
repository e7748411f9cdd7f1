package registryaware

import "net/http"

type headerInjectingTransport struct {
	base    http.RoundTripper
	headers func() http.Header
}

// NewHeaderInjectingTransport wraps base with a transport that adds the
// headers returned by the supplier to every outgoing request. The supplier
// is invoked once per request; a nil supplier or an empty result leaves the
// request untouched.
func NewHeaderInjectingTransport(base http.RoundTripper, headers func() http.Header) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &headerInjectingTransport{base: base, headers: headers}
}

func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var headers http.Header
	if t.headers != nil {
		headers = t.headers()
	}
	if len(headers) == 0 {
		return t.base.RoundTrip(req)
	}

	// RoundTrip must not modify the original request - so we clone it
	cloned := req.Clone(req.Context())
	for name, values := range headers {
		for _, value := range values {
			cloned.Header.Add(name, value)
		}
	}
	return t.base.RoundTrip(cloned)
}
