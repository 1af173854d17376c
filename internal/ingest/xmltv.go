package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/fetch"
	"github.com/chanforge/chanforge/internal/model"
)

// XMLTVIngestor parses an XMLTV document into programs, streaming through
// encoding/xml's token decoder rather than unmarshalling the whole document
// so a multi-day EPG export doesn't need to fit in memory twice. Payloads
// are auto-decompressed by magic bytes (gzip/zstd/xz) before parsing.
type XMLTVIngestor struct {
	Fetcher fetch.Fetcher
}

func NewXMLTVIngestor(f fetch.Fetcher) *XMLTVIngestor {
	return &XMLTVIngestor{Fetcher: f}
}

func (in *XMLTVIngestor) Ingest(ctx context.Context, source model.Source, report StageReporter) (EPGResult, error) {
	return fetchAndParseXMLTV(ctx, in.Fetcher, source, source.URL, report)
}

// XtreamEPGIngestor hits an Xtream panel's xmltv.php export, which is a
// genuine XMLTV document, and reuses the XMLTV parser.
type XtreamEPGIngestor struct {
	Fetcher fetch.Fetcher
}

func NewXtreamEPGIngestor(f fetch.Fetcher) *XtreamEPGIngestor {
	return &XtreamEPGIngestor{Fetcher: f}
}

func (in *XtreamEPGIngestor) Ingest(ctx context.Context, source model.Source, report StageReporter) (EPGResult, error) {
	if source.Credentials == nil {
		return EPGResult{}, cferr.Source(fmt.Sprintf("xtream-epg source %s missing credentials", source.Name), nil)
	}
	reqURL := fmt.Sprintf("%s/xmltv.php?username=%s&password=%s",
		strings.TrimRight(source.URL, "/"), source.Credentials.Username, source.Credentials.Password)
	return fetchAndParseXMLTV(ctx, in.Fetcher, source, reqURL, report)
}

func fetchAndParseXMLTV(ctx context.Context, f fetch.Fetcher, source model.Source, reqURL string, report StageReporter) (EPGResult, error) {
	report.Stage("Connecting", 0, model.StateConnecting, reqURL)
	body, contentLength, err := f.Fetch(ctx, reqURL, fetch.Options{})
	if err != nil {
		return EPGResult{}, cferr.Source(fmt.Sprintf("fetch epg source %s", source.Name), err)
	}
	defer body.Close()

	report.Stage("Downloading", 0, model.StateDownloading, "")
	data, err := readAllWithProgress(ctx, body, contentLength, func(read, total int64) {
		report.Stage("Downloading", percentage(read, total), model.StateDownloading, fmt.Sprintf("%d bytes", read))
	})
	if err != nil {
		return EPGResult{}, cferr.Source(fmt.Sprintf("download epg source %s", source.Name), err)
	}

	report.Stage("Parsing", 0, model.StateProcessing, "")
	reader, err := detectAndDecompress(bytes.NewReader(data))
	if err != nil {
		return EPGResult{}, cferr.Parse(fmt.Sprintf("epg source %s: %s", source.Name, err), 0)
	}

	programs, skipped, err := parseXMLTV(ctx, reader, source.ID)
	if err != nil {
		return EPGResult{}, cferr.Source(fmt.Sprintf("epg source %s", source.Name), err)
	}
	report.Stage("Parsing", 100, model.StateProcessing, fmt.Sprintf("%d programs", len(programs)))

	report.Stage("Saving", 100, model.StateSaving, "")
	return EPGResult{Programs: programs, Skipped: skipped}, nil
}

type xmltvChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
}

type xmltvProgramme struct {
	Channel  string `xml:"channel,attr"`
	Start    string `xml:"start,attr"`
	Stop     string `xml:"stop,attr"`
	Title    string `xml:"title"`
	Desc     string `xml:"desc"`
	Category string `xml:"category"`
	Icon     struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
	Language string `xml:"lang,attr"`
}

// parseXMLTV walks the document token by token so a malformed <programme>
// is skipped without losing the rest of the file; only a totally
// unparsable document (bad XML syntax) is a hard error.
func parseXMLTV(ctx context.Context, r io.Reader, sourceID string) ([]model.Program, []RecordError, error) {
	dec := xml.NewDecoder(r)
	channelNames := make(map[string]string)

	var (
		programs []model.Program
		skipped  []RecordError
		idx      int
	)

	for {
		if idx%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, skipped, ctx.Err()
			default:
			}
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("decode xmltv: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "channel":
			var c xmltvChannel
			if err := dec.DecodeElement(&c, &se); err != nil {
				skipped = append(skipped, RecordError{Index: idx, Err: fmt.Errorf("channel: %w", err)})
				continue
			}
			if len(c.DisplayNames) > 0 {
				channelNames[c.ID] = c.DisplayNames[0]
			}
		case "programme":
			idx++
			var p xmltvProgramme
			if err := dec.DecodeElement(&p, &se); err != nil {
				skipped = append(skipped, RecordError{Index: idx, Err: fmt.Errorf("programme: %w", err)})
				continue
			}
			prog, err := convertProgramme(p, sourceID, channelNames[p.Channel])
			if err != nil {
				skipped = append(skipped, RecordError{Index: idx, Err: err})
				continue
			}
			programs = append(programs, prog)
		}
	}

	if len(programs) == 0 && len(skipped) > 0 {
		return nil, skipped, fmt.Errorf("no programmes could be parsed from %d entries", len(skipped))
	}
	return programs, skipped, nil
}

func convertProgramme(p xmltvProgramme, sourceID, channelName string) (model.Program, error) {
	if p.Channel == "" {
		return model.Program{}, fmt.Errorf("programme missing channel attribute")
	}
	start, err := parseXMLTVTime(p.Start)
	if err != nil {
		return model.Program{}, fmt.Errorf("start time: %w", err)
	}
	stop, err := parseXMLTVTime(p.Stop)
	if err != nil {
		return model.Program{}, fmt.Errorf("stop time: %w", err)
	}

	prog := model.Program{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		ChannelID:   p.Channel,
		ChannelName: channelName,
		Title:       p.Title,
		Description: p.Desc,
		Category:    p.Category,
		StartTime:   start,
		EndTime:     stop,
		Language:    p.Language,
		Icon:        p.Icon.Src,
	}
	if err := prog.Validate(); err != nil {
		return model.Program{}, err
	}
	return prog, nil
}

// parseXMLTVTime parses the XMLTV "YYYYMMDDHHMMSS [+-HHMM]" timestamp
// format into UTC.
func parseXMLTVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	parts := strings.SplitN(s, " ", 2)
	t, err := time.Parse("20060102150405", parts[0])
	if err != nil {
		return time.Time{}, err
	}
	if len(parts) == 2 {
		offset, err := parseXMLTVOffset(parts[1])
		if err != nil {
			return time.Time{}, err
		}
		t = t.Add(-offset)
	}
	return t.UTC(), nil
}

func parseXMLTVOffset(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 5 || (raw[0] != '+' && raw[0] != '-') {
		return 0, fmt.Errorf("malformed utc offset %q", raw)
	}
	hh, err := strconv.Atoi(raw[1:3])
	if err != nil {
		return 0, fmt.Errorf("malformed utc offset %q: %w", raw, err)
	}
	mm, err := strconv.Atoi(raw[3:5])
	if err != nil {
		return 0, fmt.Errorf("malformed utc offset %q: %w", raw, err)
	}
	total := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if raw[0] == '-' {
		total = -total
	}
	return total, nil
}

