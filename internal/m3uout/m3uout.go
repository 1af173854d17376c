// Package m3uout serializes numbered channels to the M3U output format.
package m3uout

import (
	"strconv"
	"strings"

	"github.com/chanforge/chanforge/internal/model"
)

// Write renders numbered channels to an M3U playlist: a "#EXTM3U" header
// followed by one "#EXTINF" + attribute line and one URL line per channel,
// in input order. Optional attributes with an empty value are omitted;
// double quotes inside attribute values are escaped as \". The file is
// UTF-8 without BOM, newline-separated with "\n".
func Write(channels []model.NumberedChannel) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	for _, nc := range channels {
		if nc.Mapped.IsRemoved {
			continue
		}
		writeChannel(&sb, nc)
	}
	return sb.String()
}

func writeChannel(sb *strings.Builder, nc model.NumberedChannel) {
	c := nc.Mapped
	sb.WriteString("#EXTINF:-1")
	writeAttr(sb, "tvg-id", c.Field("tvg_id"))
	writeAttr(sb, "tvg-name", c.Field("tvg_name"))
	writeAttr(sb, "tvg-logo", c.Field("tvg_logo"))
	writeAttr(sb, "tvg-chno", strconv.Itoa(nc.Number))
	writeAttr(sb, "group-title", c.Field("group_title"))
	if shift := c.Field("tvg_shift"); shift != "" {
		writeAttr(sb, "tvg-shift", shift)
	}
	sb.WriteString(",")
	sb.WriteString(c.Field("channel_name"))
	sb.WriteString("\n")
	sb.WriteString(c.Field("stream_url"))
	sb.WriteString("\n")
}

func writeAttr(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	sb.WriteString(" ")
	sb.WriteString(name)
	sb.WriteString(`="`)
	sb.WriteString(strings.ReplaceAll(value, `"`, `\"`))
	sb.WriteString(`"`)
}
