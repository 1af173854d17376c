package condeval

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanforge/chanforge/internal/expr"
)

type stringFields map[string]string

func (f stringFields) Field(name string) string { return f[name] }

func newEvaluator() *Evaluator {
	return New(NewRegexCache(16), zerolog.Nop())
}

func TestEvalAndShortCircuits(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`channel_name contains "BBC" AND group_title contains "UK"`, []string{"channel_name", "group_title"})
	require.NoError(t, err)
	matched, _ := e.Eval(node, stringFields{"channel_name": "BBC One", "group_title": "Sports"})
	assert.False(t, matched)
}

func TestEvalOrShortCircuits(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`channel_name contains "ITV" OR channel_name contains "BBC"`, []string{"channel_name"})
	require.NoError(t, err)
	matched, _ := e.Eval(node, stringFields{"channel_name": "BBC One"})
	assert.True(t, matched)
}

func TestEvalMatchesCaptures(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`channel_name matches "(.*) HD"`, []string{"channel_name"})
	require.NoError(t, err)
	matched, caps := e.Eval(node, stringFields{"channel_name": "BBC Two HD"})
	require.True(t, matched)
	assert.Equal(t, "BBC Two", caps["$1"])
}

func TestEvalNotMatchesOnMalformedPatternIsTrue(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`channel_name not_matches "unterminated(regex"`, []string{"channel_name"})
	require.NoError(t, err)
	matched, _ := e.Eval(node, stringFields{"channel_name": "unterminated(regex here"})
	assert.True(t, matched)
}

func TestEvalCaseInsensitiveByDefault(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`channel_name equals "bbc one"`, []string{"channel_name"})
	require.NoError(t, err)
	matched, _ := e.Eval(node, stringFields{"channel_name": "BBC One"})
	assert.True(t, matched)
}

func TestEvalCaseSensitiveWhenRequested(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`channel_name CASE equals "BBC One"`, []string{"channel_name"})
	require.NoError(t, err)
	matched, _ := e.Eval(node, stringFields{"channel_name": "bbc one"})
	assert.False(t, matched)
}

func TestEvalNegatedCondition(t *testing.T) {
	e := newEvaluator()
	node, err := expr.Parse(`NOT channel_name contains "HD"`, []string{"channel_name"})
	require.NoError(t, err)
	matched, _ := e.Eval(node, stringFields{"channel_name": "BBC One"})
	assert.True(t, matched)
}
