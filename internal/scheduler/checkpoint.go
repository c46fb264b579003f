// SPDX-License-Identifier: MIT
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/strmforge/vodpull/internal/playlist"
)

const checkpointFile = "state.json"

const checkpointVersion = 1

// checkpointRange mirrors a segment byte range on the wire.
type checkpointRange struct {
	Length int64 `json:"length"`
	Offset int64 `json:"offset"`
}

// checkpointSegment is one cached media segment.
type checkpointSegment struct {
	Index     int              `json:"index"`
	URL       string           `json:"url"`
	Duration  float64          `json:"duration"`
	ByteRange *checkpointRange `json:"byteRange,omitempty"`
}

// checkpoint is the per-job state.json record. It carries everything a
// restart needs to rebuild the job without refetching the playlist:
// the immutable descriptor, the cached segment list and the completed
// index set.
type checkpoint struct {
	Version          int                 `json:"version"`
	JobID            string              `json:"jobId"`
	Descriptor       Descriptor          `json:"descriptor"`
	Filename         string              `json:"filename"`
	Status           Status              `json:"status"`
	CompletedIndexes []int               `json:"completedIndexes"`
	Segments         []checkpointSegment `json:"segments,omitempty"`
	InitSegmentURL   string              `json:"initSegmentUrl,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func checkpointFromJob(j *job, now time.Time) *checkpoint {
	cp := &checkpoint{
		Version:          checkpointVersion,
		JobID:            j.id,
		Descriptor:       j.desc,
		Filename:         j.filename,
		Status:           j.status,
		CompletedIndexes: j.completedIndices(),
		InitSegmentURL:   j.initURL,
		CreatedAt:        j.createdAt,
		UpdatedAt:        now,
	}
	for i, seg := range j.segments {
		cs := checkpointSegment{Index: i, URL: seg.URL, Duration: seg.Duration}
		if seg.ByteRange != nil {
			cs.ByteRange = &checkpointRange{Length: seg.ByteRange.Length, Offset: seg.ByteRange.Offset}
		}
		cp.Segments = append(cp.Segments, cs)
	}
	return cp
}

// playlistSegments rebuilds the cached segment list in index order.
func (c *checkpoint) playlistSegments() []playlist.Segment {
	if len(c.Segments) == 0 {
		return nil
	}
	out := make([]playlist.Segment, len(c.Segments))
	for _, cs := range c.Segments {
		if cs.Index < 0 || cs.Index >= len(out) {
			continue
		}
		seg := playlist.Segment{URL: cs.URL, Duration: cs.Duration}
		if cs.ByteRange != nil {
			seg.ByteRange = &playlist.ByteRange{Length: cs.ByteRange.Length, Offset: cs.ByteRange.Offset}
		}
		out[cs.Index] = seg
	}
	return out
}

func checkpointPath(tempDir string) string {
	return filepath.Join(tempDir, checkpointFile)
}

// writeCheckpoint persists the record atomically. Mode 0600 because the
// descriptor may carry a subtitle bearer token.
func writeCheckpoint(tempDir string, cp *checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	if err := renameio.WriteFile(checkpointPath(tempDir), data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func readCheckpoint(tempDir string) (*checkpoint, error) {
	path := checkpointPath(tempDir)
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from the configured temp root
	if err != nil {
		return nil, err
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if cp.JobID == "" {
		return nil, fmt.Errorf("checkpoint %s: missing job id", path)
	}
	return &cp, nil
}

func deleteCheckpoint(tempDir string) error {
	err := os.Remove(checkpointPath(tempDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
