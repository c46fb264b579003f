// SPDX-License-Identifier: MIT
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/platform/fs"
)

const recordFileName = "retention.json"

// Store reads and writes retention records under the downloads root. The
// global default is read live so a settings change applies to every
// non-overridden artifact without rewriting records.
type Store struct {
	root        string
	defaultDays func() *int
	logger      zerolog.Logger
	now         func() time.Time

	sweeps singleflight.Group
}

// NewStore builds a Store over root. defaultDays yields the current global
// default retention; it must be safe for concurrent use.
func NewStore(root string, defaultDays func() *int) *Store {
	return &Store{
		root:        root,
		defaultDays: defaultDays,
		logger:      log.WithComponent("retention"),
		now:         time.Now,
	}
}

// artifactDir confines the artifact id inside the downloads root.
func (s *Store) artifactDir(jobID string) (string, error) {
	return fs.ConfineRelPath(s.root, jobID)
}

func (s *Store) recordPath(jobID string) (string, error) {
	dir, err := s.artifactDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, recordFileName), nil
}

// CreateOnComplete writes the initial record for a finished download:
// no override, downloaded now, expiry derived from the current default.
func (s *Store) CreateOnComplete(jobID string) error {
	downloadedAt := s.now().UTC()
	eff := resolve(nil, s.defaultDays(), downloadedAt)
	return s.write(jobID, Record{
		OverrideDays: nil,
		DownloadedAt: downloadedAt,
		ExpiresAt:    eff.ExpiresAt,
	})
}

// Get returns the stored record, or nil when the artifact has none.
func (s *Store) Get(jobID string) (*Record, error) {
	path, err := s.recordPath(jobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read retention record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse retention record: %w", err)
	}
	return &rec, nil
}

// Update sets or clears the per-artifact override and recomputes expiry
// from the stored download time.
func (s *Store) Update(jobID string, overrideDays *int) (*Effective, error) {
	if err := ValidateOverrideDays(overrideDays); err != nil {
		return nil, err
	}

	rec, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	downloadedAt := s.now().UTC()
	if rec != nil {
		downloadedAt = rec.DownloadedAt
	} else if legacy, ok := s.legacyDownloadedAt(jobID); ok {
		downloadedAt = legacy
	}

	eff := resolve(overrideDays, s.defaultDays(), downloadedAt)
	if err := s.write(jobID, Record{
		OverrideDays: overrideDays,
		DownloadedAt: downloadedAt,
		ExpiresAt:    eff.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	return &eff, nil
}

// Effective resolves the live retention view. Artifacts without a record
// fall back to the artifact's modification time with no override.
func (s *Store) Effective(jobID string) (*Effective, error) {
	rec, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		eff := resolve(rec.OverrideDays, s.defaultDays(), rec.DownloadedAt)
		return &eff, nil
	}

	downloadedAt, ok := s.legacyDownloadedAt(jobID)
	if !ok {
		return nil, nil
	}
	eff := resolve(nil, s.defaultDays(), downloadedAt)
	return &eff, nil
}

// legacyDownloadedAt derives the download time of a record-less artifact
// from its newest media file, falling back to the directory itself.
func (s *Store) legacyDownloadedAt(jobID string) (time.Time, bool) {
	dir, err := s.artifactDir(jobID)
	if err != nil {
		return time.Time{}, false
	}
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, false
	}
	newest := info.ModTime()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest, true
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
			continue
		}
		if fi, err := entry.Info(); err == nil && fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest, true
}

func (s *Store) write(jobID string, rec Record) error {
	path, err := s.recordPath(jobID)
	if err != nil {
		return err
	}
	if err := fs.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode retention record: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write retention record: %w", err)
	}
	return nil
}

// Sweep scans the downloads root once and deletes every artifact whose
// expiry has passed. Concurrent calls collapse into one run.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	deleted, err, _ := s.sweeps.Do("sweep", func() (any, error) {
		return s.sweepOnce(ctx)
	})
	if err != nil {
		return 0, err
	}
	return deleted.(int), nil
}

func (s *Store) sweepOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		metrics.RecordSweepError()
		return 0, fmt.Errorf("scan downloads root: %w", err)
	}

	now := s.now()
	deleted := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}

		eff, err := s.Effective(entry.Name())
		if err != nil || eff == nil {
			continue
		}
		if eff.ExpiresAt == nil || !now.After(*eff.ExpiresAt) {
			continue
		}

		dir, err := s.artifactDir(entry.Name())
		if err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("artifact", entry.Name()).Msg("failed to delete expired download")
			metrics.RecordSweepError()
			continue
		}
		deleted++
		metrics.RecordSweepDeletion()
		s.logger.Info().
			Str("artifact", entry.Name()).
			Time("expired_at", *eff.ExpiresAt).
			Msg("expired download deleted")
	}
	return deleted, nil
}

// StartSweeper runs one sweep at startup and then once per interval until
// ctx is cancelled. A non-positive interval defaults to one hour.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("startup retention sweep failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("retention sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
