// SPDX-License-Identifier: MIT
package upstream

import (
	"net/url"
	"strings"
	"testing"

	"github.com/strmforge/vodpull/internal/settings"
)

func urlTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(settings.Server{
		ID:      "main",
		Name:    "Main",
		BaseURL: "http://jellyfin.local:8096",
		Token:   "tok-123",
	}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestMasterURL(t *testing.T) {
	c := urlTestClient(t)

	raw := c.MasterURL(PlaybackRequest{
		ItemID:        "item-1",
		MediaSourceID: "source-a",
		Preset: settings.Preset{
			MaxWidth:      1920,
			MaxBitrate:    8_000_000,
			VideoCodec:    "h264",
			AudioCodec:    "aac",
			AudioBitrate:  192_000,
			AudioChannels: 2,
		},
		AudioStreamIndex:    1,
		SubtitleStreamIndex: -1,
		PlaySessionID:       "sess-1",
	})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/Videos/item-1/master.m3u8" {
		t.Errorf("unexpected path %q", u.Path)
	}

	q := u.Query()
	want := map[string]string{
		"api_key":          "tok-123",
		"PlaySessionId":    "sess-1",
		"MediaSourceId":    "source-a",
		"SegmentContainer": "mp4",
		"VideoCodec":       "h264",
		"AudioCodec":       "aac",
		"VideoBitrate":     "8000000",
		"AudioBitrate":     "192000",
		"MaxWidth":         "1920",
		"MaxAudioChannels": "2",
		"AudioStreamIndex": "1",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("param %s: expected %q, got %q", k, v, got)
		}
	}
	if q.Has("SubtitleStreamIndex") {
		t.Error("negative subtitle index must not emit SubtitleStreamIndex")
	}
	if q.Get("DeviceId") == "" {
		t.Error("expected a DeviceId param")
	}
}

func TestMasterURL_BurnInSubtitle(t *testing.T) {
	c := urlTestClient(t)

	raw := c.MasterURL(PlaybackRequest{
		ItemID:              "item-1",
		MediaSourceID:       "source-a",
		Preset:              settings.DefaultPresets()[0],
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: 5,
		PlaySessionID:       "sess-1",
	})

	q, err := url.ParseQuery(strings.SplitN(raw, "?", 2)[1])
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	if q.Get("SubtitleStreamIndex") != "5" || q.Get("SubtitleMethod") != "Encode" {
		t.Errorf("expected burn-in params, got %v", q)
	}
	if q.Has("AudioStreamIndex") {
		t.Error("negative audio index must not emit AudioStreamIndex")
	}
}

func TestMasterURL_GeneratesSession(t *testing.T) {
	c := urlTestClient(t)
	req := PlaybackRequest{
		ItemID:              "item-1",
		MediaSourceID:       "source-a",
		Preset:              settings.DefaultPresets()[0],
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	}

	first, err := url.Parse(c.MasterURL(req))
	if err != nil {
		t.Fatal(err)
	}
	second, err := url.Parse(c.MasterURL(req))
	if err != nil {
		t.Fatal(err)
	}

	s1 := first.Query().Get("PlaySessionId")
	s2 := second.Query().Get("PlaySessionId")
	if s1 == "" || s2 == "" {
		t.Fatal("expected generated PlaySessionId")
	}
	if s1 == s2 {
		t.Error("each call without a session id must mint a fresh one")
	}
}

func TestSubtitleURL(t *testing.T) {
	c := urlTestClient(t)

	raw := c.SubtitleURL("item-1", "source-a", 3, "srt")
	want := "http://jellyfin.local:8096/Videos/item-1/source-a/Subtitles/3/Stream.srt?api_key=tok-123"
	if raw != want {
		t.Errorf("expected %q, got %q", want, raw)
	}
}

func TestAuthHeader(t *testing.T) {
	c := urlTestClient(t)
	h := c.AuthHeader()
	if h.Get("X-Emby-Token") != "tok-123" {
		t.Errorf("expected token header, got %v", h)
	}

	anon, err := New(settings.Server{ID: "anon", BaseURL: "http://jf.local"}, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(anon.AuthHeader()) != 0 {
		t.Error("tokenless server must produce empty header set")
	}
}
