package registryaware

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Target is a resolved URL bound to the client that produced it. Deriving
// methods return new targets and leave the receiver untouched, so a target
// can be shared and specialized freely.
type Target struct {
	client *Client
	url    *url.URL
}

// URL returns a copy of the target's URL.
func (t *Target) URL() *url.URL {
	u := *t.url
	return &u
}

func (t *Target) String() string {
	return t.url.String()
}

// Path returns a target with the given segments appended to the URL path.
func (t *Target) Path(segments ...string) *Target {
	return &Target{client: t.client, url: t.url.JoinPath(segments...)}
}

// QueryParam returns a target with the given query parameter values added.
func (t *Target) QueryParam(name string, values ...string) *Target {
	u := *t.url
	q := u.Query()
	for _, value := range values {
		q.Add(name, value)
	}
	u.RawQuery = q.Encode()
	return &Target{client: t.client, url: &u}
}

// NewRequest builds a request for the target's URL. The request is not
// bound to the owning client; pass it to Do to send it.
func (t *Target) NewRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, t.url.String(), body)
}

// Get issues a GET to the target through the owning client.
func (t *Target) Get(ctx context.Context) (*http.Response, error) {
	return t.do(ctx, http.MethodGet, "", nil)
}

// Head issues a HEAD to the target through the owning client.
func (t *Target) Head(ctx context.Context) (*http.Response, error) {
	return t.do(ctx, http.MethodHead, "", nil)
}

// Post issues a POST to the target through the owning client.
func (t *Target) Post(ctx context.Context, contentType string, body io.Reader) (*http.Response, error) {
	return t.do(ctx, http.MethodPost, contentType, body)
}

func (t *Target) do(ctx context.Context, method, contentType string, body io.Reader) (*http.Response, error) {
	req, err := t.NewRequest(ctx, method, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return t.client.Do(req)
}
