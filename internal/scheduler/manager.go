// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/fetch"
	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/mux"
	"github.com/strmforge/vodpull/internal/platform/fs"
	"github.com/strmforge/vodpull/internal/platform/httpx"
	"github.com/strmforge/vodpull/internal/retention"
	"github.com/strmforge/vodpull/internal/settings"
)

const (
	// DefaultMaxRetries is the job-level retry budget after the first
	// failed run.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the wait before a retried job becomes
	// eligible for re-admission.
	DefaultRetryDelay = 5 * time.Second

	// DefaultSegmentConcurrency caps parallel segment fetches per job.
	DefaultSegmentConcurrency = 4

	defaultCleanupInterval = time.Hour
	defaultCleanupMaxAge   = 24 * time.Hour

	// The subtitle downloader applies its own per-request deadlines;
	// the client timeout is only a backstop behind them.
	subtitleClientTimeout = 35 * time.Second
)

// Config wires the manager's collaborators and policy knobs. Zero
// values fall back to the documented defaults.
type Config struct {
	// TempRoot holds one working directory per job: segment files,
	// init.mp4 and the state.json checkpoint.
	TempRoot string

	// DownloadsRoot receives one directory per completed job with the
	// final artifact and its retention record. It is fixed at startup;
	// a changed settings value applies after a restart so the retention
	// store and the artifacts never point at different roots.
	DownloadsRoot string

	// MaxConcurrent returns the admission limit. Wire the settings
	// store's accessor here so changes apply without a restart. Nil
	// falls back to the settings default.
	MaxConcurrent func() int

	Retention *retention.Store
	Fetcher   *fetch.Fetcher
	Muxer     *mux.Muxer

	// SubtitleHTTP fetches subtitle tracks. Nil gets a download-tuned
	// client.
	SubtitleHTTP *http.Client

	// AllowPrivateUpstreams permits subtitle fetches from private
	// address space, for servers on the local network.
	AllowPrivateUpstreams bool

	MaxRetries         int
	RetryDelay         time.Duration
	SegmentConcurrency int
	SegmentRetries     int
	CleanupInterval    time.Duration
	CleanupMaxAge      time.Duration
}

// QueueInfo is the queue summary returned by the info operation.
type QueueInfo struct {
	ActiveCount   int `json:"activeCount"`
	QueuedCount   int `json:"queuedCount"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Manager owns every job record, the queue and the active set. One
// mutex guards all of it; pipeline goroutines re-enter through the
// progress hooks for short critical sections, so state reads are
// always consistent snapshots.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	q       queue
	active  map[string]struct{}
	subs    map[int]*subscriber
	nextSub int

	initialized bool
	shutdown    bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Manager. Call Initialize before use.
func New(cfg Config) *Manager {
	if cfg.MaxConcurrent == nil {
		cfg.MaxConcurrent = func() int { return settings.DefaultConcurrentDownloads }
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = fetch.NewFetcher(nil)
	}
	if cfg.SubtitleHTTP == nil {
		cfg.SubtitleHTTP = httpx.NewDownloadClient(subtitleClientTimeout)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SegmentConcurrency <= 0 {
		cfg.SegmentConcurrency = DefaultSegmentConcurrency
	}
	if cfg.SegmentRetries <= 0 {
		cfg.SegmentRetries = fetch.DefaultRetryBudget
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.CleanupMaxAge <= 0 {
		cfg.CleanupMaxAge = defaultCleanupMaxAge
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		logger:    log.WithComponent("scheduler"),
		jobs:      make(map[string]*job),
		active:    make(map[string]struct{}),
		subs:      make(map[int]*subscriber),
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Initialize scans the temp root for interrupted jobs and starts the
// cleanup loop. Recovered jobs surface as failed with their completed
// set intact; nothing auto-resumes. Idempotent.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	if m.initialized || m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	if err := fs.EnsureDir(m.cfg.TempRoot); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}

	if err := m.recoverCheckpoints(); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.cleanupLoop()
	return nil
}

func (m *Manager) recoverCheckpoints() error {
	entries, err := os.ReadDir(m.cfg.TempRoot)
	if err != nil {
		return fmt.Errorf("scan temp root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.cfg.TempRoot, entry.Name())
		cp, err := readCheckpoint(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			m.logger.Warn().Err(err).Str("event", "scheduler.recover.skip").Str("dir", dir).Msg("unreadable checkpoint skipped")
			continue
		}
		if cp.JobID != entry.Name() {
			m.logger.Warn().Str("event", "scheduler.recover.skip").Str("dir", dir).Str("job_id", cp.JobID).Msg("checkpoint does not match its directory")
			continue
		}
		if cp.Status == StatusCompleted || cp.Status == StatusCancelled {
			// Crash after the terminal transition but before cleanup.
			_ = os.RemoveAll(dir)
			continue
		}

		j := jobFromCheckpoint(cp, m.cfg.TempRoot)
		m.mu.Lock()
		m.jobs[j.id] = j
		m.mu.Unlock()
		m.logger.Info().
			Str("event", "scheduler.recover").
			Str("job_id", j.id).
			Str("title", j.desc.Title).
			Int("completed_segments", len(j.completed)).
			Msg("interrupted job recovered as failed")
	}
	return nil
}

func jobFromCheckpoint(cp *checkpoint, tempRoot string) *job {
	j := newJob(cp.JobID, cp.Descriptor, tempRoot, cp.CreatedAt)
	if cp.Filename != "" {
		j.filename = cp.Filename
	}
	j.segments = cp.playlistSegments()
	j.initURL = cp.InitSegmentURL
	for _, idx := range cp.CompletedIndexes {
		if idx >= 0 {
			j.completed[idx] = true
		}
	}
	j.status = StatusFailed
	j.lastErr = &ErrorInfo{Kind: KindInterrupted, Message: "download interrupted by shutdown; resume to continue"}
	return j
}

// Shutdown stops the cleanup loop, aborts running pipelines and waits
// for them up to the context deadline. On-disk checkpoints stay, so the
// next Initialize recovers interrupted jobs. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	for _, j := range m.jobs {
		if j.retryTimer != nil {
			j.retryTimer.Stop()
			j.retryTimer = nil
		}
	}
	m.mu.Unlock()

	m.runCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	for h, s := range m.subs {
		delete(m.subs, h)
		close(s.ch)
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) maxConcurrent() int {
	limit := m.cfg.MaxConcurrent()
	if limit < 1 {
		limit = 1
	}
	return limit
}

// admitLocked promotes queued jobs into free admission slots: earliest
// eligible queued job first, one pipeline goroutine each. Jobs waiting
// out a retry delay are skipped until their deadline passes.
func (m *Manager) admitLocked() {
	if m.shutdown {
		return
	}
	now := time.Now()
	for len(m.active) < m.maxConcurrent() {
		id := m.nextEligibleLocked(now)
		if id == "" {
			return
		}
		j := m.jobs[id]
		m.q.remove(id)
		m.recomputePositionsLocked()
		m.active[id] = struct{}{}
		j.status = StatusTranscoding
		j.position = 0
		m.emitLocked(j)
		m.updateDepthsLocked()
		m.launchLocked(j)
	}
}

func (m *Manager) nextEligibleLocked(now time.Time) string {
	for _, id := range m.q.ids {
		j := m.jobs[id]
		if j == nil || j.status != StatusQueued {
			continue
		}
		if j.eligibleAt.After(now) {
			continue
		}
		return id
	}
	return ""
}

func (m *Manager) launchLocked(j *job) {
	ctx := log.ContextWithJobID(m.runCtx, j.id)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runJob(ctx, j)
	}()
}

// recomputePositionsLocked reassigns 1-based positions in queue order
// and emits for every job whose position changed.
func (m *Manager) recomputePositionsLocked() {
	for i, id := range m.q.ids {
		j := m.jobs[id]
		if j == nil {
			continue
		}
		if pos := i + 1; j.position != pos {
			j.position = pos
			m.emitLocked(j)
		}
	}
}

// emitLocked delivers the job's snapshot to its subscribers when a
// trigger field changed since the last emission.
func (m *Manager) emitLocked(j *job) {
	snap := j.snapshot()
	if !emitTriggered(j.lastEmitted, snap) {
		return
	}
	last := snap
	j.lastEmitted = &last
	for _, s := range m.subs {
		if s.jobID == "" || s.jobID == j.id {
			s.deliver(snap)
		}
	}
}

func (m *Manager) closeSubscribersLocked(jobID string) {
	for h, s := range m.subs {
		if s.jobID == jobID {
			delete(m.subs, h)
			close(s.ch)
		}
	}
}

func (m *Manager) updateDepthsLocked() {
	var queued, paused int
	for _, id := range m.q.ids {
		j := m.jobs[id]
		if j == nil {
			continue
		}
		switch j.status {
		case StatusQueued:
			queued++
		case StatusPaused:
			paused++
		}
	}
	metrics.SetQueueDepths(len(m.active), queued, paused)
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.runCleanup()
		}
	}
}

// runCleanup drops stale non-running records from memory and runs the
// retention sweep. Stale means older than the cleanup age and not in an
// active pipeline stage; on-disk artifacts are the retention store's
// concern, not this sweep's.
func (m *Manager) runCleanup() {
	cutoff := time.Now().Add(-m.cfg.CleanupMaxAge)

	m.mu.Lock()
	removed := 0
	for id, j := range m.jobs {
		if j.status.IsActive() || j.createdAt.After(cutoff) {
			continue
		}
		delete(m.jobs, id)
		m.q.remove(id)
		if j.retryTimer != nil {
			j.retryTimer.Stop()
			j.retryTimer = nil
		}
		m.closeSubscribersLocked(id)
		removed++
	}
	if removed > 0 {
		m.recomputePositionsLocked()
		m.updateDepthsLocked()
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info().Str("event", "scheduler.cleanup").Int("removed", removed).Msg("stale job records removed")
	}

	if m.cfg.Retention != nil {
		if n, err := m.cfg.Retention.Sweep(m.runCtx); err != nil {
			m.logger.Warn().Err(err).Str("event", "scheduler.cleanup.sweep").Msg("retention sweep failed")
		} else if n > 0 {
			m.logger.Info().Str("event", "scheduler.cleanup.sweep").Int("deleted", n).Msg("expired artifacts removed")
		}
	}
}
