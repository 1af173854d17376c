// Package ingest holds the four source ingestors (M3U, Xtream streams,
// XMLTV, Xtream EPG): each fetches a source's body via internal/fetch,
// parses it into model records, and reports per-stage progress as it goes.
// A malformed individual record is logged and skipped so one bad entry
// doesn't sink the run; a body that yields nothing at all escalates to a
// Source error.
package ingest

import (
	"context"

	"github.com/chanforge/chanforge/internal/model"
)

// StageReporter mirrors internal/ingeststate.StageReporter; ingestors
// depend on the narrow interface rather than the ingeststate package so
// they can be driven directly in tests without a Manager.
type StageReporter interface {
	Stage(stageID string, percentage float64, state model.ProgressState, currentStep string)
}

// RecordError is a single malformed record skipped during ingestion. It is
// not itself an ingestion failure, but callers surface these for logging.
type RecordError struct {
	Index int
	Err   error
}

// StreamResult is the output of a stream (channel-producing) ingestor.
type StreamResult struct {
	Channels []model.Channel
	Skipped  []RecordError
}

// EPGResult is the output of an EPG (programme-producing) ingestor.
type EPGResult struct {
	Programs []model.Program
	Skipped  []RecordError
}

// StreamIngestor produces channels from a stream-kind source (M3U or
// Xtream live streams).
type StreamIngestor interface {
	Ingest(ctx context.Context, source model.Source, report StageReporter) (StreamResult, error)
}

// EPGIngestor produces programs from an EPG-kind source (XMLTV or Xtream
// EPG export).
type EPGIngestor interface {
	Ingest(ctx context.Context, source model.Source, report StageReporter) (EPGResult, error)
}

var connectDownloadParseSaveStages = []string{"Connecting", "Downloading", "Parsing", "Saving"}

// Stages lists the canonical stage names all four ingestors report
// against: connect, download, parse, save. internal/scheduler passes the
// same four names to internal/ingeststate.Manager.Run as its stageNames.
func Stages() []string {
	out := make([]string, len(connectDownloadParseSaveStages))
	copy(out, connectDownloadParseSaveStages)
	return out
}

func percentage(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(done) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
