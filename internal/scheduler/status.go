// SPDX-License-Identifier: MIT

// Package scheduler owns the download job lifecycle: the queue, the
// concurrency-limited active set, per-job checkpoints, the retry policy
// and progress fan-out to subscribers.
package scheduler

import (
	"encoding/json"
	"fmt"
)

// Status represents the current state of a download job.
//
// Status provides type safety for job state management, preventing
// string-based typos and enabling exhaustive switch statements.
type Status string

const (
	// StatusQueued indicates the job is waiting for an admission slot.
	StatusQueued Status = "queued"

	// StatusPaused indicates the job holds its queue position but is
	// skipped by admission until unpaused.
	StatusPaused Status = "paused"

	// StatusTranscoding indicates the job is resolving its playlist and
	// the upstream server is preparing the stream.
	StatusTranscoding Status = "transcoding"

	// StatusDownloading indicates segment files are being fetched.
	StatusDownloading Status = "downloading"

	// StatusProcessing indicates all segments are on disk and the muxer
	// is producing the final artifact.
	StatusProcessing Status = "processing"

	// StatusCompleted indicates the final artifact exists.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the job stopped on an error. Failed jobs
	// with a partial download can be resumed.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the job was cancelled by the user.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is one of the defined constants.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusPaused, StatusTranscoding, StatusDownloading,
		StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the status is final for queue purposes.
// A failed job can still re-enter the queue via resume.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive checks whether the job occupies an admission slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusTranscoding, StatusDownloading, StatusProcessing:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status can transition to the
// target status.
//
// Valid transitions:
//   - Queued → Transcoding, Paused, Cancelled
//   - Paused → Queued, Cancelled
//   - Transcoding → Downloading, Failed, Cancelled
//   - Downloading → Processing, Failed, Cancelled
//   - Processing → Completed, Failed, Cancelled
//   - Failed → Queued (resume)
//   - Completed and Cancelled do not transition
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusQueued:
		return target == StatusTranscoding || target == StatusPaused || target == StatusCancelled
	case StatusPaused:
		return target == StatusQueued || target == StatusCancelled
	case StatusTranscoding:
		return target == StatusDownloading || target == StatusFailed || target == StatusCancelled
	case StatusDownloading:
		return target == StatusProcessing || target == StatusFailed || target == StatusCancelled
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed || target == StatusCancelled
	case StatusFailed:
		return target == StatusQueued
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for Status.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for Status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := Status(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %q", str)
	}

	*s = status
	return nil
}

// ParseStatus parses a string into a Status, returning an error if invalid.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q", s)
	}
	return status, nil
}

// AllStatuses returns all defined job statuses.
func AllStatuses() []Status {
	return []Status{
		StatusQueued,
		StatusPaused,
		StatusTranscoding,
		StatusDownloading,
		StatusProcessing,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	}
}
