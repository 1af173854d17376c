package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/fetch"
	"github.com/chanforge/chanforge/internal/model"
)

// XtreamStreamIngestor fetches an Xtream panel's live-stream list via its
// player_api.php action=get_live_streams endpoint and builds a direct
// /live/{user}/{pass}/{id}.ts URL per entry, the same template the panel's
// own clients use.
type XtreamStreamIngestor struct {
	Fetcher fetch.Fetcher
}

func NewXtreamStreamIngestor(f fetch.Fetcher) *XtreamStreamIngestor {
	return &XtreamStreamIngestor{Fetcher: f}
}

// xtreamIntOrString accepts a JSON field that different Xtream panel
// versions emit as either a bare number or a quoted string.
type xtreamIntOrString string

func (v *xtreamIntOrString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = xtreamIntOrString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("xtream: field is neither string nor number: %s", string(b))
	}
	*v = xtreamIntOrString(n.String())
	return nil
}

type xtreamLiveStream struct {
	Num          xtreamIntOrString `json:"num"`
	Name         string            `json:"name"`
	StreamID     xtreamIntOrString `json:"stream_id"`
	StreamIcon   string            `json:"stream_icon"`
	EPGChannelID string            `json:"epg_channel_id"`
	CategoryID   xtreamIntOrString `json:"category_id"`
}

func (in *XtreamStreamIngestor) Ingest(ctx context.Context, source model.Source, report StageReporter) (StreamResult, error) {
	if source.Credentials == nil {
		return StreamResult{}, cferr.Source(fmt.Sprintf("xtream source %s missing credentials", source.Name), nil)
	}

	report.Stage("Connecting", 0, model.StateConnecting, source.URL)
	reqURL := xtreamAPIURL(source, "get_live_streams")
	body, contentLength, err := in.Fetcher.Fetch(ctx, reqURL, fetch.Options{})
	if err != nil {
		return StreamResult{}, cferr.Source(fmt.Sprintf("fetch xtream live streams for %s", source.Name), err)
	}
	defer body.Close()

	report.Stage("Downloading", 0, model.StateDownloading, "")
	data, err := readAllWithProgress(ctx, body, contentLength, func(read, total int64) {
		report.Stage("Downloading", percentage(read, total), model.StateDownloading, fmt.Sprintf("%d bytes", read))
	})
	if err != nil {
		return StreamResult{}, cferr.Source(fmt.Sprintf("download xtream live streams for %s", source.Name), err)
	}

	report.Stage("Parsing", 0, model.StateProcessing, "")
	var entries []xtreamLiveStream
	if err := json.Unmarshal(data, &entries); err != nil {
		return StreamResult{}, cferr.Parse(fmt.Sprintf("xtream live streams for %s: %s", source.Name, err), 0)
	}

	var (
		channels []model.Channel
		skipped  []RecordError
	)
	for i, e := range entries {
		ch, err := buildXtreamChannel(source, e)
		if err != nil {
			skipped = append(skipped, RecordError{Index: i, Err: err})
			continue
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 && len(entries) > 0 {
		return StreamResult{}, cferr.Source(fmt.Sprintf("xtream live streams for %s: no valid entries in %d returned", source.Name, len(entries)), nil)
	}
	report.Stage("Parsing", 100, model.StateProcessing, fmt.Sprintf("%d channels", len(channels)))

	report.Stage("Saving", 100, model.StateSaving, "")
	return StreamResult{Channels: channels, Skipped: skipped}, nil
}

func buildXtreamChannel(source model.Source, e xtreamLiveStream) (model.Channel, error) {
	if strings.TrimSpace(string(e.StreamID)) == "" {
		return model.Channel{}, fmt.Errorf("missing stream_id")
	}
	streamURL := fmt.Sprintf("%s/live/%s/%s/%s.ts",
		strings.TrimRight(source.URL, "/"),
		url.PathEscape(source.Credentials.Username),
		url.PathEscape(source.Credentials.Password),
		url.PathEscape(string(e.StreamID)))

	now := time.Now()
	ch := model.Channel{
		ID:          uuid.NewString(),
		SourceID:    source.ID,
		TvgID:       e.EPGChannelID,
		TvgChno:     string(e.Num),
		TvgLogo:     e.StreamIcon,
		GroupTitle:  string(e.CategoryID),
		ChannelName: e.Name,
		StreamURL:   streamURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ch.DedupKey = model.ComputeDedupKey(source.ID, streamURL, e.Name)
	if err := ch.Validate(); err != nil {
		return model.Channel{}, err
	}
	return ch, nil
}

func xtreamAPIURL(source model.Source, action string) string {
	return fmt.Sprintf("%s/player_api.php?username=%s&password=%s&action=%s",
		strings.TrimRight(source.URL, "/"),
		url.QueryEscape(source.Credentials.Username),
		url.QueryEscape(source.Credentials.Password),
		action)
}
