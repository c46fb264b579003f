// SPDX-License-Identifier: MIT
package mux

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/platform/fs"
)

// SubtitleTrack describes the optional subtitle embed step.
type SubtitleTrack struct {
	Download *SubtitleDownloader
	Language string
}

// Request names the inputs of one mux run.
type Request struct {
	InitPath     string
	SegmentPaths []string
	TempDir      string
	OutputPath   string
	Subtitle     *SubtitleTrack

	// ShouldStop, when set, is consulted before the subtitle pass. A
	// true return skips it; the remuxed file stands as the result.
	ShouldStop func() bool
}

// Muxer drives concat, remux and the optional subtitle pass.
type Muxer struct {
	runner *Runner
	logger zerolog.Logger
}

// New builds a Muxer around the given tool runner.
func New(runner *Runner) *Muxer {
	return &Muxer{
		runner: runner,
		logger: log.WithComponent("mux"),
	}
}

// Probe reports whether the external tool is available.
func (m *Muxer) Probe() error {
	return m.runner.Probe()
}

// Produce concatenates the segment files, remuxes the result for fast
// start, embeds a subtitle track when requested, and cleans up the temp
// segment directory. A subtitle failure never fails the run; the file is
// emitted without subtitles.
func (m *Muxer) Produce(ctx context.Context, req Request) error {
	logger := log.WithContext(ctx, m.logger)

	if err := fs.EnsureDir(filepath.Dir(req.OutputPath)); err != nil {
		return fmt.Errorf("%w: output directory: %v", ErrConcatIO, err)
	}

	concatPath := filepath.Join(req.TempDir, "concat.mp4")
	total, err := Concat(req.InitPath, req.SegmentPaths, concatPath)
	if err != nil {
		return err
	}
	logger.Debug().Int64("bytes", total).Int("segments", len(req.SegmentPaths)).Msg("segments concatenated")

	started := time.Now()
	if err := m.runner.Run(ctx, remuxArgs(concatPath, req.OutputPath)...); err != nil {
		metrics.ObserveRemux("failure", time.Since(started).Seconds())
		return err
	}
	metrics.ObserveRemux("success", time.Since(started).Seconds())

	if req.Subtitle != nil && (req.ShouldStop == nil || !req.ShouldStop()) {
		m.embedSubtitle(ctx, req)
	}

	_ = os.Remove(concatPath)
	if err := os.RemoveAll(req.TempDir); err != nil {
		logger.Warn().Err(err).Str("dir", req.TempDir).Msg("failed to remove temp segment directory")
	}
	return nil
}

// embedSubtitle fetches and muxes one subtitle track. All failures are
// logged and swallowed.
func (m *Muxer) embedSubtitle(ctx context.Context, req Request) {
	logger := log.WithContext(ctx, m.logger)

	data, format, err := req.Subtitle.Download.FetchFirst(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("subtitle track unavailable, emitting file without subtitles")
		metrics.RecordSubtitleMux("skipped")
		return
	}

	subtitlePath := filepath.Join(req.TempDir, "subtitle."+format)
	if err := os.WriteFile(subtitlePath, data, 0o644); err != nil {
		logger.Warn().Err(err).Msg("failed to write subtitle work file")
		metrics.RecordSubtitleMux("failure")
		return
	}

	dir, base := filepath.Split(req.OutputPath)
	withSubsPath := filepath.Join(dir, "subbed-"+base)
	if err := m.runner.Run(ctx, subtitleArgs(req.OutputPath, subtitlePath, req.Subtitle.Language, withSubsPath)...); err != nil {
		logger.Warn().Err(err).Str("format", format).Msg("subtitle mux failed, keeping file without subtitles")
		_ = os.Remove(withSubsPath)
		metrics.RecordSubtitleMux("failure")
		return
	}

	// Same-directory rename keeps the replacement atomic.
	if err := os.Rename(withSubsPath, req.OutputPath); err != nil {
		logger.Warn().Err(err).Msg("failed to swap in subtitled output")
		_ = os.Remove(withSubsPath)
		metrics.RecordSubtitleMux("failure")
		return
	}
	logger.Info().Str("format", format).Str("language", req.Subtitle.Language).Msg("subtitle track embedded")
	metrics.RecordSubtitleMux("success")
}
