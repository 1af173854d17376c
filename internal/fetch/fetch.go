// Package fetch defines the HTTP collaborator that ingestors use to
// download sources. The concrete HTTP client is an out-of-scope
// collaborator per the system's scope; this package carries the interface
// ingestors depend on plus the one reference implementation over
// net/http.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Options tunes one fetch call.
type Options struct {
	// UserAgent defaults to "chanforge/1.0" when empty.
	UserAgent string
	// Headers are added verbatim, after UserAgent is applied.
	Headers map[string]string
}

// Fetcher downloads a URL's body. ContentLength is -1 when the server
// didn't report one (chunked transfer, HTTP/1.0, etc).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts Options) (body io.ReadCloser, contentLength int64, err error)
}

// HTTPFetcher is the reference Fetcher over net/http.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher constructs an HTTPFetcher using client, or
// http.DefaultClient when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (io.ReadCloser, int64, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, 0, fmt.Errorf("fetch: invalid url %q: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: build request: %w", err)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "chanforge/1.0"
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch: %d %s for %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL)
	}

	return resp.Body, resp.ContentLength, nil
}
