// SPDX-License-Identifier: MIT
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/log"
)

// Store serves the current settings to concurrent readers and persists
// updates atomically. Writes go to disk first; the in-memory copy is only
// swapped once the file rename succeeded.
type Store struct {
	path   string
	logger zerolog.Logger

	mu  sync.RWMutex
	cur Settings
}

// Load reads settings.json from path, or seeds it with defaults when the
// file does not exist yet. A file that fails to parse or validate is an
// error; the operator has to fix or remove it.
func Load(path string, defaults Settings) (*Store, error) {
	s := &Store{
		path:   path,
		logger: log.WithComponent("settings"),
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from daemon config
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.cur = defaults.Clone()
		if err := s.save(s.cur); err != nil {
			return nil, fmt.Errorf("seed settings %s: %w", path, err)
		}
		s.logger.Info().
			Str("event", "settings.seeded").
			Str("path", path).
			Msg("created settings file with defaults")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.normalize(&loaded, defaults)
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}

	s.cur = loaded
	s.logger.Info().
		Str("event", "settings.loaded").
		Str("path", path).
		Int("maxConcurrentDownloads", loaded.MaxConcurrentDownloads).
		Int("presets", len(loaded.Presets)).
		Int("savedServers", len(loaded.SavedServers)).
		Msg("settings loaded")
	return s, nil
}

// normalize fills fields older files may not carry and clamps the
// concurrency cap instead of refusing to start over it.
func (s *Store) normalize(st *Settings, defaults Settings) {
	switch {
	case st.MaxConcurrentDownloads == 0:
		st.MaxConcurrentDownloads = defaults.MaxConcurrentDownloads
	case st.MaxConcurrentDownloads < MinConcurrentDownloads:
		s.logger.Warn().
			Str("event", "settings.clamped").
			Int("maxConcurrentDownloads", st.MaxConcurrentDownloads).
			Msg("maxConcurrentDownloads below minimum, clamping")
		st.MaxConcurrentDownloads = MinConcurrentDownloads
	case st.MaxConcurrentDownloads > MaxConcurrentDownloads:
		s.logger.Warn().
			Str("event", "settings.clamped").
			Int("maxConcurrentDownloads", st.MaxConcurrentDownloads).
			Msg("maxConcurrentDownloads above maximum, clamping")
		st.MaxConcurrentDownloads = MaxConcurrentDownloads
	}

	if st.DownloadsDir == "" {
		st.DownloadsDir = defaults.DownloadsDir
	}
	if st.Presets == nil {
		st.Presets = defaults.Clone().Presets
	}
	if st.SavedServers == nil {
		st.SavedServers = []Server{}
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Update validates next, persists it and makes it current. On any error the
// previous settings stay in effect.
func (s *Store) Update(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := next.Clone()
	if err := s.save(stored); err != nil {
		return Settings{}, err
	}
	s.cur = stored

	s.logger.Info().
		Str("event", "settings.updated").
		Int("maxConcurrentDownloads", stored.MaxConcurrentDownloads).
		Int("presets", len(stored.Presets)).
		Int("savedServers", len(stored.SavedServers)).
		Msg("settings updated")
	return stored.Clone(), nil
}

// save writes st to disk via a sibling temp file and rename. Mode 0600:
// saved servers carry bearer tokens.
func (s *Store) save(st Settings) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

// MaxConcurrent returns the live concurrency cap. The scheduler reads it on
// every admission pass so a settings change applies without restart.
func (s *Store) MaxConcurrent() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.MaxConcurrentDownloads
}

// DownloadsDir returns the live downloads root.
func (s *Store) DownloadsDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.DownloadsDir
}

// DefaultRetentionDays returns the live global retention default, nil for
// "keep forever". The caller owns the returned pointer.
func (s *Store) DefaultRetentionDays() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur.DefaultRetentionDays == nil {
		return nil
	}
	d := *s.cur.DefaultRetentionDays
	return &d
}

// Presets returns a copy of the preset list.
func (s *Store) Presets() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Preset, len(s.cur.Presets))
	copy(out, s.cur.Presets)
	return out
}

// Servers returns a copy of the saved server list.
func (s *Store) Servers() []Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Server, len(s.cur.SavedServers))
	copy(out, s.cur.SavedServers)
	return out
}

// ServerByID looks up a saved server.
func (s *Store) ServerByID(id string) (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, srv := range s.cur.SavedServers {
		if srv.ID == id {
			return srv, true
		}
	}
	return Server{}, false
}
