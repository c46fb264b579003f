// SPDX-License-Identifier: MIT
package fetch

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrEmptyResponse         = errors.New("fetch: response body below minimum segment size")
	ErrUnexpectedContentType = errors.New("fetch: unexpected content type")
	ErrUpstream              = errors.New("fetch: upstream error")
	ErrTimeout               = errors.New("fetch: request timed out")
	ErrNetwork               = errors.New("fetch: network failure")
	ErrValidationFailed      = errors.New("fetch: segment validation failed")

	// ErrStopped reports that the caller's ShouldStop hook ended a
	// download run early. It marks a requested stop, not a failure.
	ErrStopped = errors.New("fetch: download stopped")
)

// Error wraps the sentinel errors with request context. URL is sanitized
// before storage and safe to log.
type Error struct {
	Sentinel error
	URL      string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v", e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// SegmentError marks a pipeline abort caused by one unrecoverable segment.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}
