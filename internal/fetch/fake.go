package fetch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Recording is one call captured by a Fake.
type Recording struct {
	URL  string
	Opts Options
}

// Fake is an in-memory Fetcher for tests: each URL maps to canned body
// bytes (or an error), and every call is recorded for assertion.
type Fake struct {
	mu      sync.Mutex
	bodies  map[string]string
	errs    map[string]error
	records []Recording
}

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{bodies: map[string]string{}, errs: map[string]error{}}
}

// SetBody registers the body returned for rawURL.
func (f *Fake) SetBody(rawURL, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[rawURL] = body
}

// SetError registers the error returned for rawURL.
func (f *Fake) SetError(rawURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[rawURL] = err
}

// Calls returns a copy of every recorded call, in order.
func (f *Fake) Calls() []Recording {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Recording, len(f.records))
	copy(out, f.records)
	return out
}

func (f *Fake) Fetch(_ context.Context, rawURL string, opts Options) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.records = append(f.records, Recording{URL: rawURL, Opts: opts})
	err, hasErr := f.errs[rawURL]
	body, hasBody := f.bodies[rawURL]
	f.mu.Unlock()

	if hasErr {
		return nil, 0, err
	}
	if !hasBody {
		return nil, 0, fmt.Errorf("fetch fake: no body registered for %s", rawURL)
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

var _ Fetcher = (*Fake)(nil)
