package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanforge/chanforge/internal/fetch"
	"github.com/chanforge/chanforge/internal/model"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="bbc1"><display-name>BBC One</display-name></channel>
  <programme channel="bbc1" start="20260801180000 +0000" stop="20260801190000 +0000">
    <title>News</title>
    <desc>Evening news</desc>
    <category>News</category>
  </programme>
  <programme channel="bbc1" start="not-a-time" stop="20260801200000 +0000">
    <title>Broken</title>
  </programme>
</tv>`

func TestXMLTVIngestorParsesProgramsAndResolvesChannelName(t *testing.T) {
	f := fetch.NewFake()
	f.SetBody("http://epg.example/guide.xml", sampleXMLTV)
	in := NewXMLTVIngestor(f)
	source := model.Source{ID: "src-1", Name: "Guide", URL: "http://epg.example/guide.xml"}

	result, err := in.Ingest(context.Background(), source, &recordingReporter{})
	require.NoError(t, err)
	require.Len(t, result.Programs, 1)
	require.Len(t, result.Skipped, 1)

	p := result.Programs[0]
	assert.Equal(t, "News", p.Title)
	assert.Equal(t, "BBC One", p.ChannelName)
	assert.Equal(t, time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC), p.StartTime)
	assert.Equal(t, time.Date(2026, 8, 1, 19, 0, 0, 0, time.UTC), p.EndTime)
}

func TestXMLTVIngestorOffsetIsAppliedRelativeToUTC(t *testing.T) {
	doc := `<tv><programme channel="c1" start="20260801180000 +0200" stop="20260801190000 +0200"><title>T</title></programme></tv>`
	f := fetch.NewFake()
	f.SetBody("http://epg.example/guide.xml", doc)
	in := NewXMLTVIngestor(f)
	source := model.Source{ID: "src-1", Name: "Guide", URL: "http://epg.example/guide.xml"}

	result, err := in.Ingest(context.Background(), source, &recordingReporter{})
	require.NoError(t, err)
	require.Len(t, result.Programs, 1)
	assert.Equal(t, time.Date(2026, 8, 1, 16, 0, 0, 0, time.UTC), result.Programs[0].StartTime)
}

func TestXMLTVIngestorAllProgrammesMalformedEscalates(t *testing.T) {
	doc := `<tv><programme channel="c1" start="bad" stop="bad"><title>T</title></programme></tv>`
	f := fetch.NewFake()
	f.SetBody("http://epg.example/guide.xml", doc)
	in := NewXMLTVIngestor(f)
	source := model.Source{ID: "src-1", Name: "Guide", URL: "http://epg.example/guide.xml"}

	_, err := in.Ingest(context.Background(), source, &recordingReporter{})
	require.Error(t, err)
}

func TestXtreamEPGIngestorHitsXmltvPhpEndpoint(t *testing.T) {
	doc := `<tv><programme channel="c1" start="20260801180000 +0000" stop="20260801190000 +0000"><title>T</title></programme></tv>`
	f := fetch.NewFake()
	f.SetBody("http://panel.example/xmltv.php?username=user&password=pass", doc)
	in := NewXtreamEPGIngestor(f)
	source := xtreamTestSource()
	source.Kind = model.SourceXtreamEPG

	result, err := in.Ingest(context.Background(), source, &recordingReporter{})
	require.NoError(t, err)
	require.Len(t, result.Programs, 1)
}
