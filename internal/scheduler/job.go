// SPDX-License-Identifier: MIT
package scheduler

import (
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/strmforge/vodpull/internal/playlist"
	"github.com/strmforge/vodpull/internal/settings"
)

// SubtitleSpec names an external subtitle track to embed into the final
// file. The scheduler treats the credential opaquely and only forwards it
// for the subtitle fetch.
type SubtitleSpec struct {
	StreamIndex int    `json:"streamIndex"`
	Language    string `json:"language,omitempty"`
	Codec       string `json:"codec,omitempty"`
	BaseURL     string `json:"baseUrl"`
	Token       string `json:"token,omitempty"`
}

// Descriptor is the immutable part of a job, fixed at StartJob time.
type Descriptor struct {
	ItemID          string          `json:"itemId"`
	MediaSourceID   string          `json:"mediaSourceId"`
	Title           string          `json:"title"`
	Preset          settings.Preset `json:"preset"`
	PlaylistURL     string          `json:"playlistUrl"`
	DurationSeconds float64         `json:"durationSeconds,omitempty"`
	Subtitle        *SubtitleSpec   `json:"subtitle,omitempty"`
}

// job is the scheduler's internal record. All fields except the cancel
// flag are guarded by the manager mutex; the flag is read lock-free by
// the running pipeline at its await points.
type job struct {
	id        string
	desc      Descriptor
	filename  string
	tempDir   string
	createdAt time.Time

	status    Status
	completed map[int]bool
	segments  []playlist.Segment
	initURL   string
	bytes     int64
	startedAt *time.Time
	position  int // 1-based; 0 while not in the queue
	pausedAt  *time.Time
	retries   int
	lastErr   *ErrorInfo
	finalPath string

	cancelled atomic.Bool

	// eligibleAt delays re-admission after a retry; the job sits at the
	// queue head but admission skips it until the deadline passes.
	eligibleAt time.Time
	retryTimer *time.Timer

	// lastEmitted suppresses duplicate progress events: emission happens
	// only when a trigger field actually changed.
	lastEmitted *Progress
}

func newJob(id string, desc Descriptor, tempRoot string, now time.Time) *job {
	return &job{
		id:        id,
		desc:      desc,
		filename:  SanitizeFilename(desc.Title),
		tempDir:   filepath.Join(tempRoot, id),
		createdAt: now,
		status:    StatusQueued,
		completed: make(map[int]bool),
	}
}

// progressRatio is 0 until the playlist is resolved, 1 once completed
// and completed/total in between.
func (j *job) progressRatio() float64 {
	if j.status == StatusCompleted {
		return 1
	}
	if len(j.segments) == 0 {
		return 0
	}
	return float64(len(j.completed)) / float64(len(j.segments))
}

func (j *job) canResume() bool {
	return j.status == StatusFailed && len(j.completed) > 0
}

// snapshot copies the observable state into a Progress event.
func (j *job) snapshot() Progress {
	p := Progress{
		JobID:             j.id,
		Title:             j.desc.Title,
		Filename:          j.filename,
		Status:            j.status,
		Progress:          j.progressRatio(),
		CompletedSegments: len(j.completed),
		TotalSegments:     len(j.segments),
		BytesDownloaded:   j.bytes,
		QueuePosition:     j.position,
		CanResume:         j.canResume(),
		Error:             j.lastErr,
		CreatedAt:         j.createdAt,
	}
	if j.startedAt != nil {
		t := *j.startedAt
		p.DownloadStartedAt = &t
	}
	return p
}

// completedIndices returns the sorted completed set for checkpoints.
func (j *job) completedIndices() []int {
	out := make([]int, 0, len(j.completed))
	for idx := range j.completed {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
