// SPDX-License-Identifier: MIT

// Package playlist parses HLS master and media playlists. Parsing is pure:
// no I/O beyond the caller-supplied bytes, and URL resolution never touches
// the network.
package playlist

import (
	"bufio"
	"errors"
	"strconv"
	"strings"
)

// ErrNoMediaPlaylist is returned when a master playlist contains no stream
// entry to follow.
var ErrNoMediaPlaylist = errors.New("master playlist contains no media playlist entry")

// Variant is the first stream entry of a master playlist.
type Variant struct {
	URL        string
	Bandwidth  int64
	Resolution string
	Codecs     string
}

// ByteRange is an optional sub-range attached to a segment.
type ByteRange struct {
	Length int64
	Offset int64
}

// Segment is one media segment of a media playlist.
type Segment struct {
	URL       string
	Duration  float64
	ByteRange *ByteRange
}

// Media is the parsed form of a media playlist.
type Media struct {
	Segments       []Segment
	InitSegmentURL string
	TargetDuration float64
	TotalDuration  float64
	// Complete is true iff the playlist carries an end-list marker.
	Complete bool
}

// ParseMaster selects the first stream entry of a master playlist and
// resolves its URL against baseURL. It fails with ErrNoMediaPlaylist when no
// entry follows a stream-info tag.
func ParseMaster(data []byte, baseURL string) (Variant, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))

	var (
		variant Variant
		pending bool
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			attrs := ParseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
				variant.Bandwidth = bw
			}
			variant.Resolution = attrs["RESOLUTION"]
			variant.Codecs = attrs["CODECS"]
			pending = true
			continue
		}

		if pending && !strings.HasPrefix(line, "#") {
			resolved, err := ResolveURL(baseURL, line)
			if err != nil {
				return Variant{}, err
			}
			variant.URL = resolved
			return variant, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Variant{}, err
	}
	return Variant{}, ErrNoMediaPlaylist
}

// ParseMedia parses a media playlist into an ordered segment list. Segment
// and init-segment URLs resolve relative to playlistURL. A missing or
// invalid target-duration tag falls back to 6 seconds; a missing or invalid
// segment duration is recorded as 0.
func ParseMedia(data []byte, playlistURL string) (*Media, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	// Segment URI lines can be long when they carry upstream session tokens.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	media := &Media{TargetDuration: 6}

	var (
		nextDuration  float64
		nextByteRange *ByteRange
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			raw := strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")
			if d, err := strconv.ParseFloat(raw, 64); err == nil && d > 0 {
				media.TargetDuration = d
			}

		case strings.HasPrefix(line, "#EXTINF:"):
			raw := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(raw, ","); idx != -1 {
				raw = raw[:idx]
			}
			if d, err := strconv.ParseFloat(raw, 64); err == nil {
				nextDuration = d
			} else {
				nextDuration = 0
			}

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			nextByteRange = parseByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"))

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			attrs := ParseAttributes(strings.TrimPrefix(line, "#EXT-X-MAP:"))
			if uri := attrs["URI"]; uri != "" {
				resolved, err := ResolveURL(playlistURL, uri)
				if err != nil {
					return nil, err
				}
				media.InitSegmentURL = resolved
			}

		case line == "#EXT-X-ENDLIST":
			media.Complete = true

		case !strings.HasPrefix(line, "#"):
			resolved, err := ResolveURL(playlistURL, line)
			if err != nil {
				return nil, err
			}
			media.Segments = append(media.Segments, Segment{
				URL:       resolved,
				Duration:  nextDuration,
				ByteRange: nextByteRange,
			})
			media.TotalDuration += nextDuration
			nextDuration = 0
			nextByteRange = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return media, nil
}

// parseByteRange parses "length[@offset]"; the offset defaults to 0.
func parseByteRange(raw string) *ByteRange {
	lengthPart, offsetPart, hasOffset := strings.Cut(raw, "@")
	length, err := strconv.ParseInt(strings.TrimSpace(lengthPart), 10, 64)
	if err != nil {
		return nil
	}
	br := &ByteRange{Length: length}
	if hasOffset {
		if off, err := strconv.ParseInt(strings.TrimSpace(offsetPart), 10, 64); err == nil {
			br.Offset = off
		}
	}
	return br
}

// ParseAttributes splits a comma-separated key=value attribute list. Commas
// inside double-quoted values do not split; surrounding quotes are stripped
// from values.
func ParseAttributes(s string) map[string]string {
	attrs := make(map[string]string)

	var (
		parts    []string
		b        strings.Builder
		inQuotes bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}

	for _, part := range parts {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		attrs[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return attrs
}
