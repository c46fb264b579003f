// SPDX-License-Identifier: MIT
package scheduler

import (
	"time"

	"github.com/strmforge/vodpull/internal/metrics"
)

// Progress is the snapshot emitted to subscribers and returned by the
// query operations. Every event carries the job's full observable state,
// so a consumer that missed an intermediate event converges on the next
// one.
type Progress struct {
	JobID             string     `json:"jobId"`
	Title             string     `json:"title,omitempty"`
	Filename          string     `json:"filename,omitempty"`
	Status            Status     `json:"status"`
	Progress          float64    `json:"progress"`
	CompletedSegments int        `json:"completedSegments"`
	TotalSegments     int        `json:"totalSegments"`
	BytesDownloaded   int64      `json:"bytesDownloaded,omitempty"`
	DownloadStartedAt *time.Time `json:"downloadStartedAt,omitempty"`
	QueuePosition     int        `json:"queuePosition,omitempty"`
	CanResume         bool       `json:"canResume,omitempty"`
	Error             *ErrorInfo `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// emitTriggered reports whether a trigger field differs between two
// snapshots. Emission is suppressed for mutations that leave all of
// them unchanged.
func emitTriggered(prev *Progress, next Progress) bool {
	if prev == nil {
		return true
	}
	if prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		prev.CompletedSegments != next.CompletedSegments ||
		prev.TotalSegments != next.TotalSegments ||
		prev.QueuePosition != next.QueuePosition ||
		prev.BytesDownloaded != next.BytesDownloaded {
		return true
	}
	if (prev.DownloadStartedAt == nil) != (next.DownloadStartedAt == nil) {
		return true
	}
	if prev.DownloadStartedAt != nil && !prev.DownloadStartedAt.Equal(*next.DownloadStartedAt) {
		return true
	}
	if (prev.Error == nil) != (next.Error == nil) {
		return true
	}
	if prev.Error != nil && *prev.Error != *next.Error {
		return true
	}
	return false
}

// subscriberBuffer bounds each observer's channel. A full buffer drops
// the oldest event to make room; snapshots are self-contained, so the
// consumer still converges on the latest state.
const subscriberBuffer = 16

type subscriber struct {
	jobID string // empty subscribes to every job
	ch    chan Progress
}

func (s *subscriber) deliver(p Progress) {
	select {
	case s.ch <- p:
		return
	default:
	}
	metrics.RecordProgressDrop("subscriber")
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- p:
	default:
	}
}
