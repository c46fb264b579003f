// SPDX-License-Identifier: MIT

// Package fetch downloads validated media segments and drives them in
// parallel across a segment list.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/platform/httpx"
	platformnet "github.com/strmforge/vodpull/internal/platform/net"
)

const (
	// DefaultRetryBudget is the per-segment attempt budget.
	DefaultRetryBudget = 8

	// SegmentTimeout bounds one fetch attempt end to end.
	SegmentTimeout = 60 * time.Second

	// minSegmentBytes rejects placeholder responses that are too small to
	// be a real media segment.
	minSegmentBytes = 100

	backoffStep = 3 * time.Second
	backoffCap  = 15 * time.Second
)

// Fetcher downloads single URLs to single files with validation. Calls are
// pure per invocation; the fetcher holds no per-download state.
type Fetcher struct {
	client  *http.Client
	logger  zerolog.Logger
	backoff func(attempt int) time.Duration
}

// NewFetcher builds a Fetcher around the given client. A nil client gets
// the download-tuned client from httpx.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = httpx.NewDownloadClient(SegmentTimeout)
	}
	return &Fetcher{
		client:  client,
		logger:  log.WithComponent("fetch"),
		backoff: backoffFor,
	}
}

// backoffFor returns the sleep before the next attempt: attempts back off
// linearly in 3 s steps and cap at 15 s.
func backoffFor(attempt int) time.Duration {
	d := time.Duration(attempt+1) * backoffStep
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// FetchSegment downloads url to outPath, retrying transient failures until
// the budget is exhausted. It returns the number of bytes written. The file
// appears atomically: a partial or invalid body is never visible at outPath.
func (f *Fetcher) FetchSegment(ctx context.Context, url, outPath string, retries int) (int64, error) {
	if retries < 1 {
		retries = DefaultRetryBudget
	}
	started := time.Now()
	safeURL := platformnet.SanitizeURL(url)

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, err := f.fetchOnce(ctx, url, outPath)
		if err == nil {
			metrics.RecordSegmentFetched(n, time.Since(started).Seconds())
			return n, nil
		}
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		lastErr = err

		log.WithContext(ctx, f.logger).Debug().
			Err(err).
			Str("url", safeURL).
			Int("attempt", attempt+1).
			Int("budget", retries).
			Msg("segment fetch failed")
		metrics.RecordSegmentRetry(retryCause(err))

		if attempt < retries-1 {
			if err := sleepWithContext(ctx, f.backoff(attempt)); err != nil {
				return 0, err
			}
		}
	}
	return 0, lastErr
}

// FetchPlaylist downloads a playlist body in one attempt. Errors carry
// the same sentinels as segment fetches so the caller classifies both
// paths uniformly; retrying is the caller's concern.
func (f *Fetcher) FetchPlaylist(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Sentinel: ErrNetwork, URL: platformnet.SanitizeURL(url), Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classifyTransport(url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.classifyTransport(url, err)
	}

	if resp.StatusCode >= 400 {
		msg, ok := jsonMessage(body)
		if !ok {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{
			Sentinel: ErrUpstream,
			URL:      platformnet.SanitizeURL(url),
			Status:   resp.StatusCode,
			Message:  msg,
		}
	}
	return body, nil
}

// fetchOnce performs a single validated GET.
func (f *Fetcher) fetchOnce(ctx context.Context, url, outPath string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Error{Sentinel: ErrNetwork, URL: platformnet.SanitizeURL(url), Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, f.classifyTransport(url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, f.classifyTransport(url, err)
	}

	if err := validateSegmentBody(resp.StatusCode, resp.Header.Get("Content-Type"), body, platformnet.SanitizeURL(url)); err != nil {
		return 0, err
	}

	if err := renameio.WriteFile(outPath, body, 0o644); err != nil {
		return 0, fmt.Errorf("write segment file: %w", err)
	}
	return int64(len(body)), nil
}

// validateSegmentBody enforces the media-segment contract on a response.
// The upstream transcoder produces segments just-in-time, so early requests
// commonly return placeholder JSON errors that must never reach disk as
// media.
func validateSegmentBody(status int, contentType string, body []byte, safeURL string) error {
	if status >= 400 {
		msg, ok := jsonMessage(body)
		if !ok {
			msg = http.StatusText(status)
		}
		return &Error{Sentinel: ErrUpstream, URL: safeURL, Status: status, Message: msg}
	}

	if len(body) < minSegmentBytes {
		return &Error{
			Sentinel: ErrEmptyResponse,
			URL:      safeURL,
			Message:  fmt.Sprintf("%d bytes", len(body)),
		}
	}

	if isTextLike(contentType) {
		if msg, ok := jsonMessage(body); ok {
			return &Error{Sentinel: ErrUpstream, URL: safeURL, Status: status, Message: msg}
		}
		return &Error{Sentinel: ErrUnexpectedContentType, URL: safeURL, Message: contentType}
	}

	if !looksLikeFragmentedMP4(body) {
		if looksLikeJSON(body) {
			if msg, ok := jsonMessage(body); ok {
				return &Error{Sentinel: ErrUpstream, URL: safeURL, Status: status, Message: msg}
			}
		}
		return &Error{
			Sentinel: ErrValidationFailed,
			URL:      safeURL,
			Message:  fmt.Sprintf("body does not start with a known fragment box (content type %q)", contentType),
		}
	}
	return nil
}

// classifyTransport maps client errors onto the timeout/network sentinels.
// Cancellation passes through untouched so the retry loop stops instead of
// counting it as a transport failure.
func (f *Fetcher) classifyTransport(url string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	safeURL := platformnet.SanitizeURL(url)
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Sentinel: ErrTimeout, URL: safeURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Sentinel: ErrTimeout, URL: safeURL, Err: err}
	}
	return &Error{Sentinel: ErrNetwork, URL: safeURL, Err: err}
}

// retryCause buckets an error for the retry metric.
func retryCause(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrUnexpectedContentType):
		return "upstream"
	default:
		return "validation"
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
