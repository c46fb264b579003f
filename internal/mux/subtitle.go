// SPDX-License-Identifier: MIT
package mux

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// subtitleFormats is the probe order. The first format with a non-empty
// body wins.
var subtitleFormats = []string{"srt", "vtt", "ass", "sub"}

const (
	subtitleProbeTimeout    = 10 * time.Second
	subtitleDownloadTimeout = 30 * time.Second
)

// SubtitleDownloader fetches one subtitle track from the upstream server.
// The URL builder and auth header come from the upstream adapter; this
// package treats both as opaque.
type SubtitleDownloader struct {
	Client *http.Client
	URLFor func(format string) string
	Header http.Header
}

// FetchFirst probes the candidate formats in order and downloads the first
// available track. It returns the track bytes and the winning format.
func (d *SubtitleDownloader) FetchFirst(ctx context.Context) ([]byte, string, error) {
	var lastErr error
	for _, format := range subtitleFormats {
		if !d.probe(ctx, format) {
			continue
		}
		data, err := d.download(ctx, format)
		if err != nil {
			lastErr = err
			continue
		}
		if len(data) == 0 {
			continue
		}
		return data, format, nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("no subtitle track available: %w", lastErr)
	}
	return nil, "", fmt.Errorf("no subtitle track available in formats %v", subtitleFormats)
}

// probe checks cheaply whether a format yields a non-empty body.
func (d *SubtitleDownloader) probe(ctx context.Context, format string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, subtitleProbeTimeout)
	defer cancel()

	resp, err := d.get(probeCtx, format)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	one := make([]byte, 1)
	n, _ := resp.Body.Read(one)
	return n > 0
}

// download fetches the full track.
func (d *SubtitleDownloader) download(ctx context.Context, format string) ([]byte, error) {
	dlCtx, cancel := context.WithTimeout(ctx, subtitleDownloadTimeout)
	defer cancel()

	resp, err := d.get(dlCtx, format)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subtitle download: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *SubtitleDownloader) get(ctx context.Context, format string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URLFor(format), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range d.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return d.Client.Do(req)
}
