package condeval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexCacheReusesCompiledPattern(t *testing.T) {
	c := NewRegexCache(2)
	re1, err := c.Compile("abc", false)
	require.NoError(t, err)
	re2, err := c.Compile("abc", false)
	require.NoError(t, err)
	assert.Same(t, re1, re2)
}

func TestRegexCacheClearsWhenFull(t *testing.T) {
	c := NewRegexCache(1)
	_, err := c.Compile("abc", false)
	require.NoError(t, err)
	_, err = c.Compile("def", false)
	require.NoError(t, err)
	assert.LessOrEqual(t, c.Len(), 1)
}

func TestRegexCacheDistinguishesCaseSensitivity(t *testing.T) {
	c := NewRegexCache(4)
	sensitive, err := c.Compile("abc", false)
	require.NoError(t, err)
	insensitive, err := c.Compile("abc", true)
	require.NoError(t, err)
	assert.NotSame(t, sensitive, insensitive)
}
