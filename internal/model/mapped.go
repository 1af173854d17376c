package model

// MappedChannel is the in-progress output of the rule engine: the original
// Channel plus whatever overrides the matched rules applied, a trace of
// which rules fired, and their capture groups.
type MappedChannel struct {
	Original     Channel
	Overrides    map[string]string // field -> override value
	AppliedRules []string
	Traces       []RuleTrace
	IsRemoved    bool
}

// RuleTrace records one rule's capture groups against this channel, scoped
// to a single rule/record evaluation and never reused across records.
type RuleTrace struct {
	RuleID   string
	RuleName string
	Captures map[string]string // "$1".."$N"
}

// Field returns the effective value of a channel field: the override if the
// rule engine set one, otherwise the original value.
func (m *MappedChannel) Field(name string) string {
	if v, ok := m.Overrides[name]; ok {
		return v
	}
	return m.Original.FieldValue(name)
}

// SetField applies an override for name. Setting a field to the same value
// as the original still records an override so later reads of Field agree
// with what the rule engine wrote.
func (m *MappedChannel) SetField(name, value string) {
	if m.Overrides == nil {
		m.Overrides = make(map[string]string)
	}
	m.Overrides[name] = value
}

// FieldValue reads a named Channel attribute by its rule-expression field
// name (e.g. "channel_name", "group_title").
func (c *Channel) FieldValue(name string) string {
	switch name {
	case "tvg_id":
		return c.TvgID
	case "tvg_name":
		return c.TvgName
	case "tvg_logo":
		return c.TvgLogo
	case "tvg_shift":
		return c.TvgShift
	case "tvg_chno":
		return c.TvgChno
	case "group_title":
		return c.GroupTitle
	case "channel_name":
		return c.ChannelName
	case "stream_url":
		return c.StreamURL
	default:
		return ""
	}
}

// RequiredFields cannot be cleared by a DELETE action.
var RequiredFields = map[string]bool{
	"channel_name": true,
	"stream_url":   true,
}

// AssignmentKind records how a NumberedChannel got its final channel number.
type AssignmentKind string

const (
	AssignExplicit            AssignmentKind = "Explicit"
	AssignExplicitIncremented AssignmentKind = "ExplicitIncremented"
	AssignSequential          AssignmentKind = "Sequential"
)

// NumberedChannel is a MappedChannel with a final, globally-unique channel
// number assigned for one pipeline run.
type NumberedChannel struct {
	Mapped MappedChannel
	Number int
	Kind   AssignmentKind
}
