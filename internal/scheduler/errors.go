// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/strmforge/vodpull/internal/fetch"
	"github.com/strmforge/vodpull/internal/mux"
	"github.com/strmforge/vodpull/internal/platform/fs"
	"github.com/strmforge/vodpull/internal/playlist"
	"github.com/strmforge/vodpull/internal/retention"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/upstream"
)

var (
	// ErrNotFound means no job with the given id exists.
	ErrNotFound = errors.New("scheduler: job not found")

	// ErrWrongState means the operation does not apply to the job's
	// current status.
	ErrWrongState = errors.New("scheduler: job is in the wrong state")

	// ErrNotRemovable means the job is running and must be cancelled
	// before removal.
	ErrNotRemovable = errors.New("scheduler: running job cannot be removed")

	// ErrBadPosition means a reorder target is not a positive position.
	ErrBadPosition = errors.New("scheduler: position must be >= 1")
)

// Kind is the compact error category exposed to API callers and carried
// in progress events.
type Kind string

const (
	KindInvalidPreset         Kind = "InvalidPreset"
	KindBadPosition           Kind = "BadPosition"
	KindBadRetention          Kind = "BadRetention"
	KindPathEscape            Kind = "PathEscape"
	KindNoMediaPlaylist       Kind = "NoMediaPlaylist"
	KindNoMediaSource         Kind = "NoMediaSource"
	KindUpstreamError         Kind = "UpstreamError"
	KindUnexpectedContentType Kind = "UnexpectedContentType"
	KindTimeout               Kind = "Timeout"
	KindNetworkError          Kind = "NetworkError"
	KindEmptyResponse         Kind = "EmptyResponse"
	KindValidationFailed      Kind = "ValidationFailed"
	KindSegmentFailed         Kind = "SegmentFailed"
	KindConcatIOError         Kind = "ConcatIOError"
	KindCheckpointWrite       Kind = "CheckpointWriteError"
	KindRemuxFailed           Kind = "RemuxFailed"
	KindToolMissing           Kind = "ToolMissing"
	KindWrongState            Kind = "WrongState"
	KindNotFound              Kind = "NotFound"
	KindNotRemovable          Kind = "NotRemovable"
	KindRateLimited           Kind = "RateLimited"
	KindInterrupted           Kind = "Interrupted"
	KindInternal              Kind = "InternalError"
)

// ErrorInfo is the {kind, message} pair callers see in progress events
// and API error responses.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Classify flattens any error produced by the pipeline or a scheduler
// operation into its ErrorInfo. Unknown errors map to KindInternal.
func Classify(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}

	var info ErrorInfo
	if errors.As(err, &info) {
		return info
	}

	var segErr *fetch.SegmentError
	if errors.As(err, &segErr) {
		return ErrorInfo{
			Kind:    KindSegmentFailed,
			Message: fmt.Sprintf("segment %d: %s", segErr.Index, Classify(segErr.Err).Message),
		}
	}

	var remuxErr *mux.RemuxError
	if errors.As(err, &remuxErr) {
		return ErrorInfo{Kind: KindRemuxFailed, Message: remuxErr.Error()}
	}

	return ErrorInfo{Kind: kindOf(err), Message: err.Error()}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, settings.ErrInvalidPreset):
		return KindInvalidPreset
	case errors.Is(err, ErrBadPosition):
		return KindBadPosition
	case errors.Is(err, retention.ErrBadRetention):
		return KindBadRetention
	case errors.Is(err, fs.ErrPathEscape):
		return KindPathEscape
	case errors.Is(err, playlist.ErrNoMediaPlaylist):
		return KindNoMediaPlaylist
	case errors.Is(err, upstream.ErrNoMediaSource):
		return KindNoMediaSource
	case errors.Is(err, upstream.ErrNotFound), errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, upstream.ErrUnavailable), errors.Is(err, fetch.ErrUpstream):
		return KindUpstreamError
	case errors.Is(err, fetch.ErrUnexpectedContentType):
		return KindUnexpectedContentType
	case errors.Is(err, fetch.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, fetch.ErrNetwork):
		return KindNetworkError
	case errors.Is(err, fetch.ErrEmptyResponse):
		return KindEmptyResponse
	case errors.Is(err, fetch.ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, mux.ErrConcatIO):
		return KindConcatIOError
	case errors.Is(err, mux.ErrRemuxFailed):
		return KindRemuxFailed
	case errors.Is(err, mux.ErrToolMissing):
		return KindToolMissing
	case errors.Is(err, ErrWrongState):
		return KindWrongState
	case errors.Is(err, ErrNotRemovable):
		return KindNotRemovable
	default:
		return KindInternal
	}
}
