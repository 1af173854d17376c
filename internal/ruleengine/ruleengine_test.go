package ruleengine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanforge/chanforge/internal/model"
)

func newTestEngine() *Engine {
	return New(zerolog.Nop())
}

func rule(id, name, expr string, sortOrder int) model.Rule {
	return model.Rule{
		ID:         id,
		Name:       name,
		SourceKind: model.ScopeStream,
		Active:     true,
		SortOrder:  sortOrder,
		Expression: expr,
		CreatedAt:  time.Now(),
	}
}

func TestApplySimpleSetAction(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One HD", StreamURL: "http://x/1", GroupTitle: "Unsorted"},
	}
	rules := []model.Rule{
		rule("r1", "tag uk", `channel_name contains "BBC" SET group_title = "UK"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	require.Len(t, res.Mapped, 1)
	assert.Equal(t, "UK", res.Mapped[0].Field("group_title"))
	assert.Contains(t, res.Mapped[0].AppliedRules, "r1")
	assert.Equal(t, 1, res.Timings["r1"].Count)
}

func TestApplyCaptureGroupSubstitution(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One HD", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "strip hd", `channel_name matches "(.*) HD" SET channel_name = "$1"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "BBC One", res.Mapped[0].Field("channel_name"))
}

func TestApplyLaterRulesSeeEarlierOverrides(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One HD", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "strip hd", `channel_name matches "(.*) HD" SET channel_name = "$1"`, 0),
		rule("r2", "tag stripped", `channel_name equals "BBC One" SET group_title = "Stripped"`, 1),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "Stripped", res.Mapped[0].Field("group_title"))
}

func TestApplySetIfEmptyOnlyWhenBlank(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "Sky News", StreamURL: "http://x/1", GroupTitle: "Existing"},
		{ID: "2", ChannelName: "Sky Sport", StreamURL: "http://x/2"},
	}
	rules := []model.Rule{
		rule("r1", "default group", `channel_name contains "Sky" SET group_title ?= "Sky"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "Existing", res.Mapped[0].Field("group_title"))
	assert.Equal(t, "Sky", res.Mapped[1].Field("group_title"))
}

func TestApplyAppendAndRemove(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One HD", StreamURL: "http://x/1", GroupTitle: "UK"},
	}
	rules := []model.Rule{
		rule("r1", "suffix", `channel_name contains "BBC" SET group_title += "Channels"`, 0),
		rule("r2", "dehd", `channel_name contains "HD" SET channel_name -= "HD"`, 1),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "UK Channels", res.Mapped[0].Field("group_title"))
	assert.Equal(t, "BBC One ", res.Mapped[0].Field("channel_name"))
}

func TestApplyDeleteActionClearsOptionalField(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1", GroupTitle: "Noise"},
	}
	rules := []model.Rule{
		rule("r1", "clear", `group_title equals "Noise" SET DELETE group_title`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "", res.Mapped[0].Field("group_title"))
}

func TestApplyConditionalActionGroupsBothFire(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One HD", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "two groups", `channel_name contains "BBC" SET group_title = "UK"; channel_name contains "HD" SET tvg_chno = "100"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "UK", res.Mapped[0].Field("group_title"))
	assert.Equal(t, "100", res.Mapped[0].Field("tvg_chno"))
	assert.Equal(t, []string{"r1"}, res.Mapped[0].AppliedRules)
}

func TestApplyConditionalActionGroupsLastWriteWins(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One HD", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "two groups same field", `channel_name contains "BBC" SET group_title = "First"; channel_name contains "HD" SET group_title = "Second"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "Second", res.Mapped[0].Field("group_title"))
}

func TestApplyVariableValueReadsOriginalRecord(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1", TvgID: "bbc1.uk"},
	}
	rules := []model.Rule{
		rule("r1", "copy id", `channel_name contains "BBC" SET group_title = @field:tvg_id`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "bbc1.uk", res.Mapped[0].Field("group_title"))
}

func TestApplyLogoReferenceResolvesAgainstIndex(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "logo", `channel_name contains "BBC" SET tvg_logo = "@logo:abc123"`, 0),
	}
	logos := LogoIndex{BaseURL: "http://host/static", Index: map[string]string{"abc123": "/logos/abc.png"}}
	res, err := e.Apply(context.Background(), records, rules, logos)
	require.NoError(t, err)
	assert.Equal(t, "http://host/static/logos/abc.png", res.Mapped[0].Field("tvg_logo"))
}

func TestApplyLogoReferenceUnresolvedKeepsLiteral(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "logo", `channel_name contains "BBC" SET tvg_logo = "@logo:missing"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "@logo:missing", res.Mapped[0].Field("tvg_logo"))
}

func TestApplyMalformedRuleExpressionSkipped(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "broken", `channel_name contains`, 0),
		rule("r2", "fine", `channel_name contains "BBC" SET group_title = "UK"`, 1),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "UK", res.Mapped[0].Field("group_title"))
	_, hadTiming := res.Timings["r1"]
	assert.False(t, hadTiming)
}

func TestApplyNotMatchesOnMalformedRegexIsTrue(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1"},
	}
	rules := []model.Rule{
		rule("r1", "bad pattern", `channel_name not_matches "(unterminated" SET group_title = "Flagged"`, 0),
	}
	res, err := e.Apply(context.Background(), records, rules, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "Flagged", res.Mapped[0].Field("group_title"))
}

func TestApplyRuleOrderFollowsSortOrderThenCreatedAt(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1"},
	}
	later := rule("r-later", "later", `channel_name contains "BBC" SET group_title = "Second"`, 5)
	earlier := rule("r-earlier", "earlier", `channel_name contains "BBC" SET group_title = "First"`, 1)
	res, err := e.Apply(context.Background(), records, []model.Rule{later, earlier}, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "Second", res.Mapped[0].Field("group_title"))
}

func TestApplyInactiveRuleSkipped(t *testing.T) {
	e := newTestEngine()
	records := []model.Channel{
		{ID: "1", ChannelName: "BBC One", StreamURL: "http://x/1"},
	}
	r := rule("r1", "off", `channel_name contains "BBC" SET group_title = "UK"`, 0)
	r.Active = false
	res, err := e.Apply(context.Background(), records, []model.Rule{r}, LogoIndex{})
	require.NoError(t, err)
	assert.Equal(t, "", res.Mapped[0].Field("group_title"))
}

func TestApplyCancelledContextDuringLargeBatch(t *testing.T) {
	e := newTestEngine()
	records := make([]model.Channel, yieldEvery+1)
	for i := range records {
		records[i] = model.Channel{ID: "x", ChannelName: "Ch", StreamURL: "http://x"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Apply(ctx, records, nil, LogoIndex{})
	require.Error(t, err)
}

func TestSubstituteCapturesMissingGroupIsEmpty(t *testing.T) {
	out := substituteCaptures("$1-$2", map[string]string{"$1": "x"})
	assert.Equal(t, "x-", out)
}
