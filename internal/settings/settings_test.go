// SPDX-License-Identifier: MIT
package settings

import (
	"errors"
	"strings"
	"testing"
)

func validPreset() Preset {
	return Preset{
		Name:          "1080p High",
		MaxWidth:      1920,
		MaxBitrate:    8_000_000,
		VideoCodec:    "h264",
		AudioCodec:    "aac",
		AudioBitrate:  192_000,
		AudioChannels: 2,
	}
}

func TestPreset_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Preset)
		wantErr bool
	}{
		{name: "valid h264", mutate: func(p *Preset) {}},
		{name: "valid hevc 5.1", mutate: func(p *Preset) {
			p.VideoCodec = "hevc"
			p.AudioChannels = 6
		}},
		{name: "width at lower bound", mutate: func(p *Preset) { p.MaxWidth = 320 }},
		{name: "width at upper bound", mutate: func(p *Preset) { p.MaxWidth = 7680 }},
		{name: "width too small", mutate: func(p *Preset) { p.MaxWidth = 319 }, wantErr: true},
		{name: "width too large", mutate: func(p *Preset) { p.MaxWidth = 7681 }, wantErr: true},
		{name: "bitrate at bounds", mutate: func(p *Preset) { p.MaxBitrate = 100_000 }},
		{name: "bitrate too low", mutate: func(p *Preset) { p.MaxBitrate = 99_999 }, wantErr: true},
		{name: "bitrate too high", mutate: func(p *Preset) { p.MaxBitrate = 100_000_001 }, wantErr: true},
		{name: "unsupported video codec", mutate: func(p *Preset) { p.VideoCodec = "vp9" }, wantErr: true},
		{name: "unsupported audio codec", mutate: func(p *Preset) { p.AudioCodec = "mp3" }, wantErr: true},
		{name: "audio bitrate too low", mutate: func(p *Preset) { p.AudioBitrate = 31_999 }, wantErr: true},
		{name: "audio bitrate at upper bound", mutate: func(p *Preset) { p.AudioBitrate = 640_000 }},
		{name: "mono not allowed", mutate: func(p *Preset) { p.AudioChannels = 1 }, wantErr: true},
		{name: "quad not allowed", mutate: func(p *Preset) { p.AudioChannels = 4 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPreset()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPreset) {
					t.Fatalf("expected ErrInvalidPreset, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPreset_ValidateReportsAllFields(t *testing.T) {
	p := validPreset()
	p.MaxWidth = 0
	p.VideoCodec = "av1"
	p.AudioChannels = 3

	err := p.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, field := range []string{"maxWidth", "videoCodec", "audioChannels"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error should mention %s, got %q", field, msg)
		}
	}
}

func TestSettings_Validate(t *testing.T) {
	base := func() Settings {
		s := Default("/downloads")
		return s
	}

	t.Run("defaults are valid", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("concurrency out of range", func(t *testing.T) {
		for _, n := range []int{0, 21, -3} {
			s := base()
			s.MaxConcurrentDownloads = n
			if err := s.Validate(); err == nil {
				t.Errorf("maxConcurrentDownloads=%d: expected error", n)
			}
		}
	})

	t.Run("empty downloads dir", func(t *testing.T) {
		s := base()
		s.DownloadsDir = ""
		if err := s.Validate(); err == nil {
			t.Error("expected error for empty downloadsDir")
		}
	})

	t.Run("retention default bounds", func(t *testing.T) {
		for _, tc := range []struct {
			days *int
			ok   bool
		}{
			{nil, true},
			{intPtr(1), true},
			{intPtr(365), true},
			{intPtr(0), false},
			{intPtr(366), false},
		} {
			s := base()
			s.DefaultRetentionDays = tc.days
			err := s.Validate()
			if tc.ok && err != nil {
				t.Errorf("days=%v: unexpected error: %v", tc.days, err)
			}
			if !tc.ok && err == nil {
				t.Errorf("days=%v: expected error", tc.days)
			}
		}
	})

	t.Run("broken preset names its index", func(t *testing.T) {
		s := base()
		s.Presets[1].MaxBitrate = 1
		err := s.Validate()
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "presets[1].maxBitrate") {
			t.Errorf("error should name the preset index, got %q", err)
		}
	})

	t.Run("server validation", func(t *testing.T) {
		s := base()
		s.SavedServers = []Server{
			{ID: "a", Name: "Main", BaseURL: "http://jellyfin.local:8096", Token: "t"},
			{ID: "a", Name: "Dup", BaseURL: "ftp://nope", Token: ""},
		}
		err := s.Validate()
		if err == nil {
			t.Fatal("expected error")
		}
		msg := err.Error()
		if !strings.Contains(msg, "duplicate server id") {
			t.Errorf("expected duplicate id error, got %q", msg)
		}
		if !strings.Contains(msg, "savedServers[1].baseURL") {
			t.Errorf("expected baseURL scheme error, got %q", msg)
		}
	})
}

func TestSettings_Clone(t *testing.T) {
	orig := Default("/downloads")
	orig.DefaultRetentionDays = intPtr(30)
	orig.SavedServers = []Server{{ID: "a", Name: "Main", BaseURL: "http://x", Token: "t"}}

	c := orig.Clone()
	c.Presets[0].MaxWidth = 640
	c.SavedServers[0].Token = "changed"
	*c.DefaultRetentionDays = 7

	if orig.Presets[0].MaxWidth == 640 {
		t.Error("preset slice is aliased")
	}
	if orig.SavedServers[0].Token == "changed" {
		t.Error("server slice is aliased")
	}
	if *orig.DefaultRetentionDays != 30 {
		t.Error("retention pointer is aliased")
	}
}

func intPtr(v int) *int { return &v }
