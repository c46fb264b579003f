// SPDX-License-Identifier: MIT
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func settingsPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "settings.json")
}

func TestLoad_SeedsDefaults(t *testing.T) {
	path := settingsPath(t)
	defaults := Default("/downloads")

	s, err := Load(path, defaults)
	require.NoError(t, err)

	got := s.Get()
	require.Equal(t, DefaultConcurrentDownloads, got.MaxConcurrentDownloads)
	require.Equal(t, "/downloads", got.DownloadsDir)
	require.Len(t, got.Presets, len(DefaultPresets()))
	require.Nil(t, got.DefaultRetentionDays)

	// First load persists the defaults so the file exists from then on.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Settings
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, got.MaxConcurrentDownloads, onDisk.MaxConcurrentDownloads)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "settings carry tokens")
}

func TestLoad_ExistingFile(t *testing.T) {
	path := settingsPath(t)
	doc := `{
  "maxConcurrentDownloads": 3,
  "downloadsDir": "/srv/media",
  "presets": [],
  "savedServers": [
    {"id": "main", "name": "Jellyfin", "baseURL": "http://jf.local:8096", "token": "secret"}
  ],
  "defaultRetentionDays": 14
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)

	got := s.Get()
	require.Equal(t, 3, got.MaxConcurrentDownloads)
	require.Equal(t, "/srv/media", got.DownloadsDir)
	require.Empty(t, got.Presets, "explicit empty list is kept, not reseeded")
	require.Equal(t, 14, *got.DefaultRetentionDays)

	srv, ok := s.ServerByID("main")
	require.True(t, ok)
	require.Equal(t, "secret", srv.Token)
}

func TestLoad_NormalizesOldFiles(t *testing.T) {
	path := settingsPath(t)
	// A pre-presets file: no presets key, no concurrency value.
	doc := `{"downloadsDir": "/srv/media"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)

	got := s.Get()
	require.Equal(t, DefaultConcurrentDownloads, got.MaxConcurrentDownloads)
	require.Equal(t, "/srv/media", got.DownloadsDir)
	require.Len(t, got.Presets, len(DefaultPresets()), "missing presets key is reseeded")
	require.NotNil(t, got.SavedServers)
}

func TestLoad_ClampsConcurrency(t *testing.T) {
	path := settingsPath(t)
	doc := `{"maxConcurrentDownloads": 99, "downloadsDir": "/srv/media"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)
	require.Equal(t, MaxConcurrentDownloads, s.MaxConcurrent())
}

func TestLoad_CorruptFile(t *testing.T) {
	path := settingsPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path, Default("/downloads"))
	require.Error(t, err)
}

func TestLoad_InvalidPresetFails(t *testing.T) {
	path := settingsPath(t)
	doc := `{
  "downloadsDir": "/srv/media",
  "presets": [{"name": "broken", "maxWidth": 1, "maxBitrate": 1, "videoCodec": "vp9", "audioCodec": "aac", "audioBitrate": 128000, "audioChannels": 2}]
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := Load(path, Default("/downloads"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "presets[0]")
}

func TestUpdate_PersistsAndSwaps(t *testing.T) {
	path := settingsPath(t)
	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)

	next := s.Get()
	next.MaxConcurrentDownloads = 2
	next.DefaultRetentionDays = intPtr(30)

	stored, err := s.Update(next)
	require.NoError(t, err)
	require.Equal(t, 2, stored.MaxConcurrentDownloads)
	require.Equal(t, 2, s.MaxConcurrent())
	require.Equal(t, 30, *s.DefaultRetentionDays())

	// A re-load sees the persisted update.
	reloaded, err := Load(path, Default("/downloads"))
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.MaxConcurrent())
	require.Equal(t, 30, *reloaded.DefaultRetentionDays())
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	path := settingsPath(t)
	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)

	next := s.Get()
	next.MaxConcurrentDownloads = 0

	_, err = s.Update(next)
	require.Error(t, err)
	require.Equal(t, DefaultConcurrentDownloads, s.MaxConcurrent(), "failed update must not apply")

	reloaded, err := Load(path, Default("/downloads"))
	require.NoError(t, err)
	require.Equal(t, DefaultConcurrentDownloads, reloaded.MaxConcurrent(), "failed update must not persist")
}

func TestDefaultRetentionDays_CopyNotAliased(t *testing.T) {
	path := settingsPath(t)
	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)

	next := s.Get()
	next.DefaultRetentionDays = intPtr(10)
	_, err = s.Update(next)
	require.NoError(t, err)

	p := s.DefaultRetentionDays()
	*p = 99
	require.Equal(t, 10, *s.DefaultRetentionDays())
}

func TestServerByID_Missing(t *testing.T) {
	path := settingsPath(t)
	s, err := Load(path, Default("/downloads"))
	require.NoError(t, err)

	_, ok := s.ServerByID("nope")
	require.False(t, ok)
}
