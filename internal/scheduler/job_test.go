// SPDX-License-Identifier: MIT
package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strmforge/vodpull/internal/playlist"
)

func TestNewJob(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	j := newJob("job-1", testDescriptor("Pilot: Episode"), "/data/incomplete", now)

	assert.Equal(t, "job-1", j.id)
	assert.Equal(t, "Pilot Episode.mp4", j.filename)
	assert.Equal(t, filepath.Join("/data/incomplete", "job-1"), j.tempDir)
	assert.Equal(t, now, j.createdAt)
	assert.Equal(t, StatusQueued, j.status)
	assert.NotNil(t, j.completed)
	assert.Empty(t, j.completed)
	assert.Zero(t, j.position)
}

func TestJob_ProgressRatio(t *testing.T) {
	segs := func(n int) []playlist.Segment {
		return make([]playlist.Segment, n)
	}
	done := func(indices ...int) map[int]bool {
		m := make(map[int]bool)
		for _, i := range indices {
			m[i] = true
		}
		return m
	}

	tests := []struct {
		name string
		job  job
		want float64
	}{
		{name: "unresolved playlist", job: job{status: StatusQueued, completed: done()}, want: 0},
		{name: "halfway", job: job{status: StatusDownloading, segments: segs(4), completed: done(0, 2)}, want: 0.5},
		{name: "failed partway", job: job{status: StatusFailed, segments: segs(4), completed: done(0, 1, 2)}, want: 0.75},
		{name: "completed pins to one", job: job{status: StatusCompleted, completed: done()}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.progressRatio())
		})
	}
}

func TestJob_CanResume(t *testing.T) {
	withProgress := map[int]bool{0: true}

	assert.True(t, (&job{status: StatusFailed, completed: withProgress}).canResume())
	assert.False(t, (&job{status: StatusFailed, completed: map[int]bool{}}).canResume(),
		"nothing fetched means a plain retry, not a resume")
	assert.False(t, (&job{status: StatusQueued, completed: withProgress}).canResume())
	assert.False(t, (&job{status: StatusCompleted, completed: withProgress}).canResume())
}

func TestJob_Snapshot(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(time.Second)
	j := newJob("job-1", testDescriptor("Pilot Episode"), t.TempDir(), now)
	j.status = StatusDownloading
	j.segments = make([]playlist.Segment, 4)
	j.completed = map[int]bool{0: true, 1: true}
	j.bytes = 4096
	j.startedAt = &started
	j.position = 0
	j.lastErr = &ErrorInfo{Kind: KindTimeout, Message: "segment 3 timed out"}

	p := j.snapshot()
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, "Pilot Episode", p.Title)
	assert.Equal(t, "Pilot Episode.mp4", p.Filename)
	assert.Equal(t, StatusDownloading, p.Status)
	assert.Equal(t, 0.5, p.Progress)
	assert.Equal(t, 2, p.CompletedSegments)
	assert.Equal(t, 4, p.TotalSegments)
	assert.Equal(t, int64(4096), p.BytesDownloaded)
	assert.False(t, p.CanResume)
	require.NotNil(t, p.Error)
	assert.Equal(t, KindTimeout, p.Error.Kind)
	assert.Equal(t, now, p.CreatedAt)

	// The snapshot owns its own copy of the start time.
	require.NotNil(t, p.DownloadStartedAt)
	assert.NotSame(t, j.startedAt, p.DownloadStartedAt)
	assert.True(t, p.DownloadStartedAt.Equal(started))
}

func TestJob_CompletedIndices(t *testing.T) {
	j := &job{completed: map[int]bool{4: true, 0: true, 2: true}}
	assert.Equal(t, []int{0, 2, 4}, j.completedIndices())

	j = &job{completed: map[int]bool{}}
	assert.Empty(t, j.completedIndices())
}
