package condeval

import (
	"regexp"
	"sync"
)

// RegexCache is a bounded cache of compiled regexes keyed by
// (pattern, caseInsensitive), shared across every "matches"/"not_matches"
// condition evaluated by one Evaluator. Construct one and reuse it across
// an entire process's rule and filter evaluation so it amortizes as the
// design intends — it is guarded by a single lock during insert/clear;
// reads take a shared lock. When full it is evicted by a full clear: the
// cache serves amortization, not correctness, so simple eviction suffices.
type RegexCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*regexp.Regexp
	maxSize int
}

type cacheKey struct {
	pattern         string
	caseInsensitive bool
}

// NewRegexCache constructs a RegexCache bounded to maxSize entries; <= 0
// defaults to 1000.
func NewRegexCache(maxSize int) *RegexCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &RegexCache{
		entries: make(map[cacheKey]*regexp.Regexp),
		maxSize: maxSize,
	}
}

func (c *RegexCache) compile(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := cacheKey{pattern: pattern, caseInsensitive: caseInsensitive}

	c.mu.RLock()
	re, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	effective := pattern
	if caseInsensitive {
		effective = "(?i)" + pattern
	}
	re, err := regexp.Compile(effective)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxSize {
		c.entries = make(map[cacheKey]*regexp.Regexp)
	}
	c.entries[key] = re
	c.mu.Unlock()

	return re, nil
}

// Len reports the current entry count, for tests.
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Compile exposes compile for tests that need to verify cache reuse /
// eviction directly.
func (c *RegexCache) Compile(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	return c.compile(pattern, caseInsensitive)
}
