// SPDX-License-Identifier: MIT
package upstream

import "time"

// Jellyfin reports durations in 100ns ticks.
const ticksPerSecond = 10_000_000

// MediaStream is one elementary stream inside a media source.
type MediaStream struct {
	Index        int    `json:"Index"`
	Type         string `json:"Type"`
	Codec        string `json:"Codec"`
	Language     string `json:"Language"`
	DisplayTitle string `json:"DisplayTitle"`
	IsExternal   bool   `json:"IsExternal"`
	IsDefault    bool   `json:"IsDefault"`
}

// MediaSource is one playable file/version of an item.
type MediaSource struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Container    string        `json:"Container"`
	RunTimeTicks int64         `json:"RunTimeTicks"`
	MediaStreams []MediaStream `json:"MediaStreams"`
}

// Runtime converts the tick count to a duration.
func (s MediaSource) Runtime() time.Duration {
	return time.Duration(s.RunTimeTicks/ticksPerSecond) * time.Second
}

// AudioStreams returns the audio streams in declaration order.
func (s MediaSource) AudioStreams() []MediaStream {
	return s.streamsOfType("Audio")
}

// SubtitleStreams returns the subtitle streams in declaration order.
func (s MediaSource) SubtitleStreams() []MediaStream {
	return s.streamsOfType("Subtitle")
}

func (s MediaSource) streamsOfType(t string) []MediaStream {
	var out []MediaStream
	for _, st := range s.MediaStreams {
		if st.Type == t {
			out = append(out, st)
		}
	}
	return out
}

// Item is the subset of the media-server item the daemon needs.
type Item struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Type         string        `json:"Type"`
	RunTimeTicks int64         `json:"RunTimeTicks"`
	MediaSources []MediaSource `json:"MediaSources"`
}

// Runtime converts the tick count to a duration.
func (i Item) Runtime() time.Duration {
	return time.Duration(i.RunTimeTicks/ticksPerSecond) * time.Second
}

// Source selects a media source by id. An empty id picks the first source,
// which is how clients ask for "the default version".
func (i Item) Source(id string) (MediaSource, bool) {
	if id == "" {
		if len(i.MediaSources) == 0 {
			return MediaSource{}, false
		}
		return i.MediaSources[0], true
	}
	for _, s := range i.MediaSources {
		if s.ID == id {
			return s, true
		}
	}
	return MediaSource{}, false
}
