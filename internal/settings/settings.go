// SPDX-License-Identifier: MIT

// Package settings holds the user-mutable runtime settings persisted in
// settings.json: concurrency cap, downloads directory, transcode presets,
// saved media servers and the global retention default.
package settings

import (
	"errors"
	"fmt"

	"github.com/strmforge/vodpull/internal/retention"
	"github.com/strmforge/vodpull/internal/validate"
)

// ErrInvalidPreset marks a preset outside the allowed field bounds.
var ErrInvalidPreset = errors.New("invalid preset")

// Concurrency bounds for simultaneous downloads.
const (
	MinConcurrentDownloads     = 1
	MaxConcurrentDownloads     = 20
	DefaultConcurrentDownloads = 5
)

// Preset bounds. Width covers QVGA-ish up to 8K, bitrates are in bits/s.
const (
	MinPresetWidth        = 320
	MaxPresetWidth        = 7680
	MinPresetVideoBitrate = 100_000
	MaxPresetVideoBitrate = 100_000_000
	MinPresetAudioBitrate = 32_000
	MaxPresetAudioBitrate = 640_000
)

// Preset describes the transcode quality requested from the upstream server.
type Preset struct {
	Name          string `json:"name"`
	MaxWidth      int    `json:"maxWidth"`
	MaxBitrate    int    `json:"maxBitrate"`
	VideoCodec    string `json:"videoCodec"`
	AudioCodec    string `json:"audioCodec"`
	AudioBitrate  int    `json:"audioBitrate"`
	AudioChannels int    `json:"audioChannels"`
}

// Validate checks the preset bounds. The returned error wraps
// ErrInvalidPreset and lists every violated field.
func (p Preset) Validate() error {
	v := validate.New()
	p.validateInto(v, "")
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	return nil
}

// validateInto accumulates the field checks under an optional name prefix so
// Settings.Validate can report which preset in the list is broken.
func (p Preset) validateInto(v *validate.Validator, prefix string) {
	field := func(name string) string { return prefix + name }

	v.Range(field("maxWidth"), p.MaxWidth, MinPresetWidth, MaxPresetWidth)
	v.Range(field("maxBitrate"), p.MaxBitrate, MinPresetVideoBitrate, MaxPresetVideoBitrate)
	v.OneOf(field("videoCodec"), p.VideoCodec, []string{"h264", "hevc"})
	v.OneOf(field("audioCodec"), p.AudioCodec, []string{"aac"})
	v.Range(field("audioBitrate"), p.AudioBitrate, MinPresetAudioBitrate, MaxPresetAudioBitrate)
	if p.AudioChannels != 2 && p.AudioChannels != 6 {
		v.AddError(field("audioChannels"), "must be 2 (stereo) or 6 (5.1)", p.AudioChannels)
	}
}

// Server is a saved upstream media server. The token is a bearer credential
// and must never appear in logs.
type Server struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseURL"`
	Token   string `json:"token"`
}

// Settings is the full settings.json document.
type Settings struct {
	MaxConcurrentDownloads int      `json:"maxConcurrentDownloads"`
	DownloadsDir           string   `json:"downloadsDir"`
	Presets                []Preset `json:"presets"`
	SavedServers           []Server `json:"savedServers"`
	DefaultRetentionDays   *int     `json:"defaultRetentionDays"`
}

// Default returns the settings used when no settings.json exists yet.
func Default(downloadsDir string) Settings {
	return Settings{
		MaxConcurrentDownloads: DefaultConcurrentDownloads,
		DownloadsDir:           downloadsDir,
		Presets:                DefaultPresets(),
		SavedServers:           []Server{},
		DefaultRetentionDays:   nil,
	}
}

// DefaultPresets seeds the preset list on first start.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "1080p High", MaxWidth: 1920, MaxBitrate: 8_000_000, VideoCodec: "h264", AudioCodec: "aac", AudioBitrate: 192_000, AudioChannels: 2},
		{Name: "1080p HEVC", MaxWidth: 1920, MaxBitrate: 5_000_000, VideoCodec: "hevc", AudioCodec: "aac", AudioBitrate: 192_000, AudioChannels: 2},
		{Name: "720p", MaxWidth: 1280, MaxBitrate: 3_000_000, VideoCodec: "h264", AudioCodec: "aac", AudioBitrate: 128_000, AudioChannels: 2},
	}
}

// Validate checks the whole document field-wise.
func (s Settings) Validate() error {
	v := validate.New()

	v.Range("maxConcurrentDownloads", s.MaxConcurrentDownloads,
		MinConcurrentDownloads, MaxConcurrentDownloads)
	v.NotEmpty("downloadsDir", s.DownloadsDir)

	for i, p := range s.Presets {
		prefix := fmt.Sprintf("presets[%d].", i)
		v.NotEmpty(prefix+"name", p.Name)
		p.validateInto(v, prefix)
	}

	seen := make(map[string]struct{}, len(s.SavedServers))
	for i, srv := range s.SavedServers {
		prefix := fmt.Sprintf("savedServers[%d].", i)
		v.NotEmpty(prefix+"id", srv.ID)
		v.NotEmpty(prefix+"name", srv.Name)
		v.URL(prefix+"baseURL", srv.BaseURL, []string{"http", "https"})
		if srv.ID != "" {
			if _, dup := seen[srv.ID]; dup {
				v.AddError(prefix+"id", "duplicate server id", srv.ID)
			}
			seen[srv.ID] = struct{}{}
		}
	}

	if s.DefaultRetentionDays != nil {
		v.Range("defaultRetentionDays", *s.DefaultRetentionDays,
			retention.MinDays, retention.MaxDays)
	}

	return v.Err()
}

// Clone returns an alias-free deep copy. Reference fields are copied so the
// caller can mutate the result without touching the store.
func (s Settings) Clone() Settings {
	out := s
	if s.Presets != nil {
		out.Presets = make([]Preset, len(s.Presets))
		copy(out.Presets, s.Presets)
	}
	if s.SavedServers != nil {
		out.SavedServers = make([]Server, len(s.SavedServers))
		copy(out.SavedServers, s.SavedServers)
	}
	if s.DefaultRetentionDays != nil {
		d := *s.DefaultRetentionDays
		out.DefaultRetentionDays = &d
	}
	return out
}
