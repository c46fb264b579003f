// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/fetch"
	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/mux"
	"github.com/strmforge/vodpull/internal/playlist"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/upstream"
)

// errCancelled marks a run ended by the soft cancel flag. It never
// reaches the retry path.
var errCancelled = errors.New("scheduler: job cancelled")

func (m *Manager) runJob(ctx context.Context, j *job) {
	logger := log.WithContext(ctx, m.logger)
	logger.Info().
		Str("event", "scheduler.job.started").
		Str("title", j.desc.Title).
		Msg("pipeline started")

	started := time.Now()
	err := m.executeJob(ctx, j, logger)
	m.finishRun(j, err, started, logger)
}

// executeJob drives one pipeline attempt: resolve the playlist, fetch
// segments, mux, record retention. The soft cancel flag is checked at
// every stage boundary.
func (m *Manager) executeJob(ctx context.Context, j *job, logger zerolog.Logger) error {
	if j.cancelled.Load() {
		return errCancelled
	}

	m.mu.Lock()
	segments := j.segments
	initURL := j.initURL
	m.mu.Unlock()

	// A retried or resumed job reuses its cached segment list.
	if len(segments) == 0 {
		var err error
		segments, initURL, err = m.resolvePlaylists(ctx, j, logger)
		if err != nil {
			return err
		}
	}

	if j.cancelled.Load() {
		return errCancelled
	}

	m.mu.Lock()
	indices := j.completedIndices()
	m.mu.Unlock()
	stale := staleIndices(j.tempDir, indices, len(segments))

	now := time.Now()
	m.mu.Lock()
	j.segments = segments
	j.initURL = initURL
	for _, idx := range stale {
		delete(j.completed, idx)
	}
	j.status = StatusDownloading
	if j.startedAt == nil {
		t := now
		j.startedAt = &t
	}
	completed := make(map[int]bool, len(j.completed))
	for idx := range j.completed {
		completed[idx] = true
	}
	cp := checkpointFromJob(j, now)
	m.emitLocked(j)
	m.mu.Unlock()

	m.writeCheckpointLogged(j, cp, logger)

	res, err := fetch.DownloadAll(ctx, m.cfg.Fetcher, fetch.Request{
		Segments:    segments,
		InitURL:     initURL,
		TempDir:     j.tempDir,
		Concurrency: m.cfg.SegmentConcurrency,
		RetryBudget: m.cfg.SegmentRetries,
		Completed:   completed,
		OnProgress: func(_, _ int, bytes int64) {
			m.mu.Lock()
			j.bytes = bytes
			m.emitLocked(j)
			m.mu.Unlock()
		},
		OnSegment: func(idx int) {
			m.mu.Lock()
			j.completed[idx] = true
			cp := checkpointFromJob(j, time.Now())
			m.mu.Unlock()
			m.writeCheckpointLogged(j, cp, logger)
		},
		ShouldStop: func() bool { return j.cancelled.Load() },
	})
	if err != nil {
		if errors.Is(err, fetch.ErrStopped) {
			return errCancelled
		}
		return err
	}

	if j.cancelled.Load() {
		return errCancelled
	}

	m.mu.Lock()
	j.status = StatusProcessing
	m.emitLocked(j)
	m.mu.Unlock()

	finalPath := filepath.Join(m.cfg.DownloadsRoot, j.id, j.filename)
	if err := m.cfg.Muxer.Produce(ctx, mux.Request{
		InitPath:     res.InitPath,
		SegmentPaths: res.SegmentPaths,
		TempDir:      j.tempDir,
		OutputPath:   finalPath,
		Subtitle:     m.subtitleTrack(j, logger),
		ShouldStop:   func() bool { return j.cancelled.Load() },
	}); err != nil {
		return err
	}

	if m.cfg.Retention != nil {
		if err := m.cfg.Retention.CreateOnComplete(j.id); err != nil {
			logger.Warn().Err(err).Msg("failed to write retention record")
		}
	}

	// Produce removed the temp directory; delete state.json explicitly
	// in case that removal failed, so a restart cannot resurrect a
	// finished job.
	if err := deleteCheckpoint(j.tempDir); err != nil {
		logger.Warn().Err(err).Msg("failed to delete checkpoint")
	}

	m.mu.Lock()
	j.status = StatusCompleted
	j.finalPath = finalPath
	j.lastErr = nil
	m.emitLocked(j)
	m.mu.Unlock()
	return nil
}

// resolvePlaylists fetches the master playlist, follows its first
// variant and parses the media playlist into the segment list.
func (m *Manager) resolvePlaylists(ctx context.Context, j *job, logger zerolog.Logger) ([]playlist.Segment, string, error) {
	master, err := m.cfg.Fetcher.FetchPlaylist(ctx, j.desc.PlaylistURL)
	if err != nil {
		return nil, "", fmt.Errorf("master playlist: %w", err)
	}
	variant, err := playlist.ParseMaster(master, j.desc.PlaylistURL)
	if err != nil {
		return nil, "", err
	}

	body, err := m.cfg.Fetcher.FetchPlaylist(ctx, variant.URL)
	if err != nil {
		return nil, "", fmt.Errorf("media playlist: %w", err)
	}
	media, err := playlist.ParseMedia(body, variant.URL)
	if err != nil {
		return nil, "", err
	}

	logger.Debug().
		Str("event", "scheduler.playlist.resolved").
		Int("segments", len(media.Segments)).
		Float64("total_duration", media.TotalDuration).
		Bool("complete", media.Complete).
		Msg("media playlist resolved")
	return media.Segments, media.InitSegmentURL, nil
}

// staleIndices returns completed indices whose segment files have gone
// missing or that fall outside the segment list; they are refetched
// instead of trusted.
func staleIndices(tempDir string, completed []int, total int) []int {
	var stale []int
	for _, idx := range completed {
		if idx < 0 || idx >= total {
			stale = append(stale, idx)
			continue
		}
		path := filepath.Join(tempDir, strconv.Itoa(idx)+".mp4")
		if _, err := os.Stat(path); err != nil {
			stale = append(stale, idx)
		}
	}
	return stale
}

// writeCheckpointLogged persists a checkpoint; a write failure is
// logged and never fails the download.
func (m *Manager) writeCheckpointLogged(j *job, cp *checkpoint, logger zerolog.Logger) {
	if err := writeCheckpoint(j.tempDir, cp); err != nil {
		info := ErrorInfo{Kind: KindCheckpointWrite, Message: err.Error()}
		logger.Warn().Err(err).Str("kind", string(info.Kind)).Msg("checkpoint write failed")
	}
}

// subtitleTrack builds the optional subtitle step from the descriptor.
// Any wiring failure skips subtitles rather than failing the job.
func (m *Manager) subtitleTrack(j *job, logger zerolog.Logger) *mux.SubtitleTrack {
	spec := j.desc.Subtitle
	if spec == nil {
		return nil
	}

	client, err := upstream.New(settings.Server{
		ID:      "subtitle-source",
		BaseURL: spec.BaseURL,
		Token:   spec.Token,
	}, upstream.Options{AllowPrivateHosts: m.cfg.AllowPrivateUpstreams})
	if err != nil {
		logger.Warn().Err(err).Msg("subtitle source rejected, continuing without subtitles")
		return nil
	}

	itemID, sourceID, index := j.desc.ItemID, j.desc.MediaSourceID, spec.StreamIndex
	return &mux.SubtitleTrack{
		Download: &mux.SubtitleDownloader{
			Client: m.cfg.SubtitleHTTP,
			URLFor: func(format string) string {
				return client.SubtitleURL(itemID, sourceID, index, format)
			},
			Header: client.AuthHeader(),
		},
		Language: spec.Language,
	}
}

// finishRun releases the admission slot and settles the job: retry or
// fail on error, file cleanup on cancel, metrics either way. During
// shutdown the job state is left as-is for the next startup's recovery
// scan.
func (m *Manager) finishRun(j *job, err error, started time.Time, logger zerolog.Logger) {
	seconds := time.Since(started).Seconds()

	var cleanup bool
	m.mu.Lock()
	delete(m.active, j.id)

	switch {
	case m.shutdown:
		// Checkpoint stays on disk; recovery picks the job up.

	case err == nil:
		metrics.RecordJobFinished("completed", seconds)
		logger.Info().
			Str("event", "scheduler.job.completed").
			Str("path", j.finalPath).
			Float64("duration_s", seconds).
			Msg("job completed")

	case errors.Is(err, errCancelled) || j.cancelled.Load():
		metrics.RecordJobFinished("cancelled", seconds)
		cleanup = true

	default:
		if !m.retryOrFailLocked(j, Classify(err), logger) {
			metrics.RecordJobFinished("failed", seconds)
		}
	}

	m.updateDepthsLocked()
	m.admitLocked()
	m.mu.Unlock()

	if cleanup {
		m.removeJobFiles(j)
	}
}

// retryOrFailLocked applies the retry policy and reports whether the
// job was re-enqueued. Retried jobs go to the queue head and become
// eligible after the retry delay; a missing external tool fails
// immediately since waiting cannot install it.
func (m *Manager) retryOrFailLocked(j *job, info ErrorInfo, logger zerolog.Logger) bool {
	if info.Kind == KindToolMissing {
		m.failLocked(j, info, logger)
		return false
	}

	j.retries++
	if j.retries > m.cfg.MaxRetries {
		m.failLocked(j, ErrorInfo{
			Kind:    info.Kind,
			Message: fmt.Sprintf("Failed after %d retries: %s", m.cfg.MaxRetries, info.Message),
		}, logger)
		return false
	}

	metrics.RecordJobRetry()
	j.status = StatusQueued
	j.lastErr = &ErrorInfo{
		Kind:    info.Kind,
		Message: fmt.Sprintf("Retry %d/%d: %s", j.retries, m.cfg.MaxRetries, info.Message),
	}
	j.eligibleAt = time.Now().Add(m.cfg.RetryDelay)
	m.q.pushHead(j.id)
	m.recomputePositionsLocked()
	m.emitLocked(j)

	logger.Warn().
		Str("event", "scheduler.job.retry").
		Int("attempt", j.retries).
		Int("budget", m.cfg.MaxRetries).
		Str("error_kind", string(info.Kind)).
		Msg("job re-enqueued for retry")

	j.retryTimer = time.AfterFunc(m.cfg.RetryDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.shutdown {
			return
		}
		m.admitLocked()
	})
	return true
}

func (m *Manager) failLocked(j *job, info ErrorInfo, logger zerolog.Logger) {
	j.status = StatusFailed
	j.lastErr = &info
	m.emitLocked(j)

	logger.Error().
		Str("event", "scheduler.job.failed").
		Str("error_kind", string(info.Kind)).
		Str("error", info.Message).
		Bool("can_resume", j.canResume()).
		Msg("job failed")
}
