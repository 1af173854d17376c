// Package model holds the persistent and transient record shapes shared
// across chanforge: channels, EPG programs, sources, rules, filters, and
// the transient mapped/numbered channel forms produced by one pipeline run.
package model

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// SourceKind distinguishes stream sources from EPG sources and, within
// each, the wire format used to fetch them.
type SourceKind string

const (
	SourceM3U      SourceKind = "m3u"
	SourceXtream   SourceKind = "xtream"
	SourceXMLTV    SourceKind = "xmltv"
	SourceXtreamEPG SourceKind = "xtream-epg"
)

// RuleScope is the record kind a Rule's expression is evaluated against.
type RuleScope string

const (
	ScopeStream RuleScope = "stream"
	ScopeEPG    RuleScope = "epg"
)

// Channel is one ingested stream record. ChannelName and StreamURL are
// required; DedupKey identifies the record within its source.
type Channel struct {
	ID         string
	SourceID   string
	TvgID      string
	TvgName    string
	TvgLogo    string
	TvgShift   string
	TvgChno    string
	GroupTitle string
	ChannelName string
	StreamURL  string
	Codec      string
	DedupKey   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate enforces the Channel invariants from the data model: a non-empty
// name and stream URL. Callers compute DedupKey via ComputeDedupKey before
// persisting.
func (c *Channel) Validate() error {
	if c.ChannelName == "" {
		return errRequired("channel_name")
	}
	if c.StreamURL == "" {
		return errRequired("stream_url")
	}
	return nil
}

// ComputeDedupKey mirrors the teacher's generateChannelHash: an MD5 over the
// fields that together identify "the same channel" within one source.
func ComputeDedupKey(sourceID, streamURL, channelName string) string {
	sum := md5.Sum([]byte(sourceID + "|" + streamURL + "|" + channelName))
	return hex.EncodeToString(sum[:])
}

// Program is one EPG entry for a channel/time range. EndTime must be after
// StartTime.
type Program struct {
	ID          string
	SourceID    string
	ChannelID   string
	ChannelName string
	Title       string
	Description string
	Category    string
	StartTime   time.Time
	EndTime     time.Time
	Language    string
	Icon        string
}

// DedupKey mirrors the (source_id, channel_id, start_time, program_title)
// uniqueness invariant from the data model.
func (p *Program) DedupKey() string {
	return p.SourceID + "|" + p.ChannelID + "|" + p.StartTime.UTC().Format(time.RFC3339) + "|" + p.Title
}

func (p *Program) Validate() error {
	if !p.EndTime.After(p.StartTime) {
		return errInvalid("end_time must be after start_time")
	}
	return nil
}

// Credentials are required for Xtream-kind sources.
type Credentials struct {
	Username string
	Password string
}

// Source is a configured remote feed of channels or programs.
type Source struct {
	ID             string
	Name           string
	Kind           SourceKind
	URL            string
	Credentials    *Credentials
	CronSchedule   string
	Active         bool
	LastIngestedAt *time.Time
	LinkedSourceID string // paired Xtream stream<->EPG source sharing credentials
}

func (s *Source) Validate() error {
	switch s.Kind {
	case SourceXtream, SourceXtreamEPG:
		if s.Credentials == nil || s.Credentials.Username == "" || s.Credentials.Password == "" {
			return errInvalid("xtream sources require credentials")
		}
	}
	return nil
}

// Rule is a data-mapping rule attached to a proxy's pipeline.
type Rule struct {
	ID         string
	Name       string
	SourceKind RuleScope
	Scope      string
	SortOrder  int
	Active     bool
	Expression string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Rule) Validate() error {
	if r.Active && r.Expression == "" {
		return errInvalid("expression must not be empty when rule is active")
	}
	return nil
}

// Filter is an include/exclude predicate attached to a proxy with a
// priority order.
type Filter struct {
	ID                    string
	Name                  string
	SourceKind            RuleScope
	StartingChannelNumber int
	IsInverse             bool
	Expression            string
}

// FilterAttachment binds a Filter to a Proxy with an evaluation priority.
type FilterAttachment struct {
	Filter        Filter
	PriorityOrder int
	Active        bool
}

// Proxy is a configured bundle of sources, filters, and rules that produces
// one M3U artifact.
type Proxy struct {
	ID                   string
	Name                 string
	StreamSourceIDs      []string // priority-ordered
	EPGSourceIDs         []string
	Filters              []FilterAttachment
	StartingChannelNumber int
	OutputMode           string
}

func errRequired(field string) error { return &validationErr{field: field, msg: "must not be empty"} }
func errInvalid(msg string) error    { return &validationErr{msg: msg} }

type validationErr struct {
	field string
	msg   string
}

func (e *validationErr) Error() string {
	if e.field != "" {
		return e.field + " " + e.msg
	}
	return e.msg
}
