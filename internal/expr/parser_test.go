package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fields = []string{"channel_name", "group_title", "tvg_id", "tvg_logo", "stream_url"}

func TestParseSimpleCondition(t *testing.T) {
	e, err := ParseExtended(`channel_name contains "BBC"`, fields)
	require.NoError(t, err)
	assert.Equal(t, KindConditionOnly, e.Kind)
	cond, ok := e.Condition.(*Condition)
	require.True(t, ok)
	assert.Equal(t, "channel_name", cond.Field)
	assert.Equal(t, OpContains, cond.Operator)
	assert.Equal(t, "BBC", cond.Value)
}

func TestParseAndOrPrecedence(t *testing.T) {
	// AND binds tighter than OR: a OR (b AND c)
	e, err := ParseExtended(`channel_name contains "A" OR group_title contains "B" AND tvg_id equals "1"`, fields)
	require.NoError(t, err)
	g, ok := e.Condition.(*Group)
	require.True(t, ok)
	assert.Equal(t, Or, g.Operator)
	require.Len(t, g.Children, 2)
	_, isCond := g.Children[0].(*Condition)
	assert.True(t, isCond)
	inner, ok := g.Children[1].(*Group)
	require.True(t, ok)
	assert.Equal(t, And, inner.Operator)
}

func TestParseNotAndParens(t *testing.T) {
	e, err := ParseExtended(`NOT (channel_name contains "HD" OR group_title contains "radio")`, fields)
	require.NoError(t, err)
	g, ok := e.Condition.(*Group)
	require.True(t, ok)
	// De Morgan turned OR into AND under NOT
	assert.Equal(t, And, g.Operator)
	for _, c := range g.Children {
		cond := c.(*Condition)
		assert.True(t, cond.Negate)
	}
}

func TestParseWithActions(t *testing.T) {
	text := `channel_name matches "(.*) HD" SET channel_name = "$1"`
	e, err := ParseExtended(text, fields)
	require.NoError(t, err)
	assert.Equal(t, KindConditionWithActions, e.Kind)
	require.Len(t, e.Actions, 1)
	assert.Equal(t, "channel_name", e.Actions[0].Field)
	assert.Equal(t, ActionSet, e.Actions[0].Operator)
	assert.Equal(t, "$1", e.Actions[0].Value.Literal)
}

func TestParseMultipleActions(t *testing.T) {
	text := `channel_name contains "BBC" SET tvg_logo = "@logo:abc", group_title = "UK"`
	e, err := ParseExtended(text, fields)
	require.NoError(t, err)
	require.Len(t, e.Actions, 2)
	assert.Equal(t, "@logo:abc", e.Actions[0].Value.Literal)
	assert.Equal(t, ActionSet, e.Actions[1].Operator)
}

func TestParseConditionalActionGroups(t *testing.T) {
	text := `channel_name contains "A" SET group_title = "Grp A"; channel_name contains "B" SET group_title = "Grp B"`
	e, err := ParseExtended(text, fields)
	require.NoError(t, err)
	assert.Equal(t, KindConditionalActionGroups, e.Kind)
	require.Len(t, e.Groups, 2)
}

func TestParseDeleteAction(t *testing.T) {
	text := `group_title equals "" SET DELETE group_title`
	e, err := ParseExtended(text, fields)
	require.NoError(t, err)
	require.Len(t, e.Actions, 1)
	assert.Equal(t, ActionDelete, e.Actions[0].Operator)
	assert.Equal(t, ValueNull, e.Actions[0].Value.Kind)
}

func TestParseUnknownFieldSuggestsNearest(t *testing.T) {
	_, err := ParseExtended(`channle_name contains "x"`, fields)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Contains(t, pe.Suggestions, "channel_name")
	assert.True(t, pe.Pos >= 0)
}

func TestParseVariableAndFunctionValues(t *testing.T) {
	text := `channel_name contains "x" SET group_title = @field:tvg_id, tvg_logo = @fn:thumbnail("550e8400")`
	e, err := ParseExtended(text, fields)
	require.NoError(t, err)
	require.Len(t, e.Actions, 2)
	assert.Equal(t, ValueVariable, e.Actions[0].Value.Kind)
	assert.Equal(t, "tvg_id", e.Actions[0].Value.Variable)
	assert.Equal(t, ValueFunction, e.Actions[1].Value.Kind)
	assert.Equal(t, "thumbnail", e.Actions[1].Value.FuncName)
	assert.Equal(t, []string{"550e8400"}, e.Actions[1].Value.FuncArgs)
}

func TestSerializeRoundTrip(t *testing.T) {
	cases := []string{
		`channel_name contains "BBC"`,
		`channel_name contains "A" OR group_title contains "B"`,
		`channel_name contains "A" AND group_title contains "B"`,
		`NOT channel_name contains "HD"`,
		`channel_name CASE equals "BBC One"`,
	}
	for _, text := range cases {
		t.Run(text, func(t *testing.T) {
			e, err := ParseExtended(text, fields)
			require.NoError(t, err)
			out := SerializeExtended(e)
			assert.Equal(t, text, out)

			// Re-parsing the serialized form must produce the same tree shape.
			e2, err := ParseExtended(out, fields)
			require.NoError(t, err)
			assert.Equal(t, SerializeExtended(e), SerializeExtended(e2))
		})
	}
}

func TestParseReportsPositionOnMissingOperator(t *testing.T) {
	_, err := ParseExtended(`channel_name "BBC"`, fields)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.NotEmpty(t, pe.Expected)
}
