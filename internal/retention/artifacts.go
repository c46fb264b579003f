// SPDX-License-Identifier: MIT
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Artifact is one completed download under the downloads root, as the
// cache API reports it.
type Artifact struct {
	JobID        string     `json:"jobId"`
	Filename     string     `json:"filename"`
	SizeBytes    int64      `json:"sizeBytes"`
	DownloadedAt time.Time  `json:"downloadedAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	OverrideDays *int       `json:"overrideDays,omitempty"`
	IsOverride   bool       `json:"isOverride,omitempty"`
}

// List scans the downloads root and returns every artifact directory that
// holds a media file, newest download first. Directories without one are
// in-progress or debris and are skipped.
func (s *Store) List(ctx context.Context) ([]Artifact, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Artifact{}, nil
		}
		return nil, fmt.Errorf("scan downloads root: %w", err)
	}

	artifacts := make([]Artifact, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}

		jobID := entry.Name()
		dir, err := s.artifactDir(jobID)
		if err != nil {
			continue
		}
		name, size, ok := mediaFile(dir)
		if !ok {
			continue
		}

		a := Artifact{JobID: jobID, Filename: name, SizeBytes: size}
		if eff, err := s.Effective(jobID); err == nil && eff != nil {
			a.DownloadedAt = eff.DownloadedAt
			a.ExpiresAt = eff.ExpiresAt
			a.OverrideDays = eff.OverrideDays
			a.IsOverride = eff.IsOverride
		} else if fi, statErr := os.Stat(filepath.Join(dir, name)); statErr == nil {
			a.DownloadedAt = fi.ModTime()
		}
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].DownloadedAt.Equal(artifacts[j].DownloadedAt) {
			return artifacts[i].DownloadedAt.After(artifacts[j].DownloadedAt)
		}
		return artifacts[i].JobID < artifacts[j].JobID
	})
	return artifacts, nil
}

// Delete removes the artifact directory and everything in it. It reports
// false when no such artifact exists.
func (s *Store) Delete(jobID string) (bool, error) {
	dir, err := s.artifactDir(jobID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	s.logger.Info().Str("artifact", jobID).Msg("artifact deleted")
	return true, nil
}

// ArtifactPath resolves the confined path of the artifact's media file.
// It returns a not-exist error when the artifact or its file is gone.
func (s *Store) ArtifactPath(jobID string) (string, error) {
	dir, err := s.artifactDir(jobID)
	if err != nil {
		return "", err
	}
	name, _, ok := mediaFile(dir)
	if !ok {
		return "", fmt.Errorf("artifact %s: %w", jobID, os.ErrNotExist)
	}
	return filepath.Join(dir, name), nil
}

// mediaFile finds the artifact's .mp4 inside dir. Completed jobs write
// exactly one; should several exist, the largest wins.
func mediaFile(dir string) (string, int64, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}
	var (
		name string
		size int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if name == "" || fi.Size() > size {
			name, size = entry.Name(), fi.Size()
		}
	}
	return name, size, name != ""
}
