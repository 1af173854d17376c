package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/fetch"
	"github.com/chanforge/chanforge/internal/model"
)

// M3UIngestor parses an extended-M3U playlist into channels, in the manner
// of the teacher's hand-written m3u-parser: a regex picks key="value"
// attributes off the #EXTINF line, and a quote-aware scan finds the comma
// that separates the attribute block from the trailing channel name.
type M3UIngestor struct {
	Fetcher fetch.Fetcher
}

func NewM3UIngestor(f fetch.Fetcher) *M3UIngestor {
	return &M3UIngestor{Fetcher: f}
}

var m3uAttrRx = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

func (in *M3UIngestor) Ingest(ctx context.Context, source model.Source, report StageReporter) (StreamResult, error) {
	report.Stage("Connecting", 0, model.StateConnecting, source.URL)
	body, contentLength, err := in.Fetcher.Fetch(ctx, source.URL, fetch.Options{})
	if err != nil {
		return StreamResult{}, cferr.Source(fmt.Sprintf("fetch m3u source %s", source.Name), err)
	}
	defer body.Close()

	report.Stage("Downloading", 0, model.StateDownloading, "")
	data, err := readAllWithProgress(ctx, body, contentLength, func(read, total int64) {
		report.Stage("Downloading", percentage(read, total), model.StateDownloading, fmt.Sprintf("%d bytes", read))
	})
	if err != nil {
		return StreamResult{}, cferr.Source(fmt.Sprintf("download m3u source %s", source.Name), err)
	}

	report.Stage("Parsing", 0, model.StateProcessing, "")
	channels, skipped, err := parseM3U(data, source.ID)
	if err != nil {
		return StreamResult{}, cferr.Source(fmt.Sprintf("m3u source %s", source.Name), err)
	}
	report.Stage("Parsing", 100, model.StateProcessing, fmt.Sprintf("%d channels", len(channels)))

	report.Stage("Saving", 100, model.StateSaving, "")
	return StreamResult{Channels: channels, Skipped: skipped}, nil
}

func parseM3U(data []byte, sourceID string) ([]model.Channel, []RecordError, error) {
	lines := strings.Split(string(data), "\n")

	var (
		channels   []model.Channel
		skipped    []RecordError
		pending    map[string]string
		pendingTag string
		havePending bool
		recordIdx  int
	)

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTM3U") {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			attrs, name := parseExtinf(line)
			pending = attrs
			pendingTag = name
			havePending = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		// A bare line following a pending #EXTINF is the stream URL.
		if !havePending {
			continue
		}
		recordIdx++
		ch, err := buildChannel(sourceID, pending, pendingTag, line)
		havePending = false
		if err != nil {
			skipped = append(skipped, RecordError{Index: recordIdx, Err: err})
			continue
		}
		channels = append(channels, ch)
	}

	if len(channels) == 0 && strings.TrimSpace(string(data)) != "" {
		return nil, skipped, fmt.Errorf("no channels could be parsed from the playlist body")
	}
	return channels, skipped, nil
}

// parseExtinf splits an "#EXTINF:-1 tvg-id="x" tvg-name="Y",Channel Name"
// line into its attribute map and trailing display name. The comma search
// skips over quoted attribute values so a comma inside a tvg-name doesn't
// get mistaken for the name separator.
func parseExtinf(line string) (map[string]string, string) {
	rest := strings.TrimPrefix(line, "#EXTINF:")

	commaPos := findUnquotedComma(rest)
	var attrPart, name string
	if commaPos >= 0 {
		attrPart = rest[:commaPos]
		name = strings.TrimSpace(rest[commaPos+1:])
	} else {
		attrPart = rest
	}

	attrs := make(map[string]string)
	for _, m := range m3uAttrRx.FindAllStringSubmatch(attrPart, -1) {
		key := strings.ToLower(m[1])
		attrs[key] = m[2]
	}
	return attrs, name
}

func findUnquotedComma(s string) int {
	inQuote := false
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

func buildChannel(sourceID string, attrs map[string]string, name, streamURL string) (model.Channel, error) {
	if _, err := parseStreamURL(streamURL); err != nil {
		return model.Channel{}, err
	}

	shift := attrs["tvg-shift"]
	if shift == "" {
		shift = "0"
	}

	now := time.Now()
	ch := model.Channel{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		TvgID:       attrs["tvg-id"],
		TvgName:     attrs["tvg-name"],
		TvgLogo:     attrs["tvg-logo"],
		TvgShift:    shift,
		TvgChno:     attrs["tvg-chno"],
		GroupTitle:  attrs["group-title"],
		ChannelName: name,
		StreamURL:   streamURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ch.DedupKey = model.ComputeDedupKey(sourceID, streamURL, name)
	if err := ch.Validate(); err != nil {
		return model.Channel{}, err
	}
	return ch, nil
}

func parseStreamURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		return "", fmt.Errorf("line %q is not a URL", raw)
	}
	return raw, nil
}
