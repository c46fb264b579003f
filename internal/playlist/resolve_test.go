// SPDX-License-Identifier: MIT
package playlist

import "testing"

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{
			name: "sibling path keeps base query",
			base: "http://media.example/videos/42/master.m3u8?api_key=k1",
			ref:  "main.m3u8",
			want: "http://media.example/videos/42/main.m3u8?api_key=k1",
		},
		{
			name: "entry query wins on duplicate key",
			base: "http://media.example/videos/42/main.m3u8?api_key=old&MediaSourceId=m1",
			ref:  "seg_3.mp4?api_key=new",
			want: "http://media.example/videos/42/seg_3.mp4?MediaSourceId=m1&api_key=new",
		},
		{
			name: "entry-only query",
			base: "http://media.example/videos/42/main.m3u8",
			ref:  "seg_0.mp4?DeviceId=d1",
			want: "http://media.example/videos/42/seg_0.mp4?DeviceId=d1",
		},
		{
			name: "absolute entry passes through",
			base: "http://media.example/videos/42/main.m3u8?api_key=k1",
			ref:  "https://cdn.example/seg_0.mp4",
			want: "https://cdn.example/seg_0.mp4",
		},
		{
			name: "base without directory",
			base: "http://media.example/master.m3u8",
			ref:  "main.m3u8",
			want: "http://media.example/main.m3u8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(tt.base, tt.ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolveURL_Errors(t *testing.T) {
	if _, err := ResolveURL("http://media.example/main.m3u8", ""); err == nil {
		t.Error("expected error for empty reference")
	}
	if _, err := ResolveURL("http://bad url/main.m3u8", "seg.mp4"); err == nil {
		t.Error("expected error for unparseable base")
	}
}
