// SPDX-License-Identifier: MIT
package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strmforge/vodpull/internal/metrics"
)

// StartJob validates the preset, enqueues a new job at the tail and
// tries to admit it. The returned snapshot reflects the state after
// admission, so a free slot shows the job already transcoding.
func (m *Manager) StartJob(desc Descriptor) (Progress, error) {
	if err := desc.Preset.Validate(); err != nil {
		return Progress{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return Progress{}, fmt.Errorf("%w: scheduler stopped", ErrWrongState)
	}

	j := newJob(uuid.NewString(), desc, m.cfg.TempRoot, time.Now())
	m.jobs[j.id] = j
	m.q.pushTail(j.id)
	m.recomputePositionsLocked()
	m.emitLocked(j)
	m.updateDepthsLocked()
	metrics.RecordJobStarted()

	m.logger.Info().
		Str("event", "scheduler.job.enqueued").
		Str("job_id", j.id).
		Str("title", desc.Title).
		Str("preset", desc.Preset.Name).
		Msg("job enqueued")

	m.admitLocked()
	return j.snapshot(), nil
}

// ResumeFailed re-enqueues a failed job at the tail with a fresh retry
// budget. The completed set survives, so only missing segments are
// fetched again.
func (m *Manager) ResumeFailed(id string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.status != StatusFailed {
		return Progress{}, fmt.Errorf("%w: resume requires a failed job, not %s", ErrWrongState, j.status)
	}
	if m.shutdown {
		return Progress{}, fmt.Errorf("%w: scheduler stopped", ErrWrongState)
	}

	j.status = StatusQueued
	j.lastErr = nil
	j.retries = 0
	j.eligibleAt = time.Time{}
	j.cancelled.Store(false)
	m.q.pushTail(j.id)
	m.recomputePositionsLocked()
	m.emitLocked(j)
	m.updateDepthsLocked()

	m.logger.Info().Str("event", "scheduler.job.resumed").Str("job_id", id).Msg("failed job re-enqueued")

	m.admitLocked()
	return j.snapshot(), nil
}

// Pause moves a queued job to paused in place. On an active job it only
// records intent; the running pipeline completes undisturbed.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch {
	case j.status == StatusQueued:
		now := time.Now()
		j.status = StatusPaused
		j.pausedAt = &now
		m.emitLocked(j)
		m.updateDepthsLocked()
	case j.status.IsActive():
		now := time.Now()
		j.pausedAt = &now
	case j.status == StatusPaused:
		// Already paused.
	default:
		return fmt.Errorf("%w: cannot pause a %s job", ErrWrongState, j.status)
	}
	return nil
}

// Unpause moves a paused job back to queued at the tail of the queue.
func (m *Manager) Unpause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.status != StatusPaused {
		return fmt.Errorf("%w: cannot unpause a %s job", ErrWrongState, j.status)
	}

	m.unpauseLocked(j)
	m.admitLocked()
	return nil
}

func (m *Manager) unpauseLocked(j *job) {
	j.status = StatusQueued
	j.pausedAt = nil
	m.q.remove(j.id)
	m.q.pushTail(j.id)
	m.recomputePositionsLocked()
	m.emitLocked(j)
	m.updateDepthsLocked()
}

// MoveToFront puts a queued or paused job at position 1.
func (m *Manager) MoveToFront(id string) error {
	return m.Reorder(id, 1)
}

// Reorder inserts a queued or paused job at the given 1-based position.
// Positions beyond the queue tail clamp to the tail; positions below 1
// are rejected with BadPosition.
func (m *Manager) Reorder(id string, position int) error {
	if position < 1 {
		return fmt.Errorf("%w: %d", ErrBadPosition, position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.status != StatusQueued && j.status != StatusPaused {
		return fmt.Errorf("%w: cannot reorder a %s job", ErrWrongState, j.status)
	}

	m.q.moveTo(id, position)
	m.recomputePositionsLocked()
	m.admitLocked()
	return nil
}

// Cancel stops a job wherever it is. Queued and paused jobs clean up
// immediately; an active job's pipeline notices the flag at its next
// await point and cleans up then. In-flight transfers are not aborted.
// Cancelling a terminal or unknown job is a no-op.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.status.IsTerminal() {
		m.mu.Unlock()
		return
	}

	wasActive := m.cancelLocked(j)
	m.admitLocked()
	m.mu.Unlock()

	if !wasActive {
		m.removeJobFiles(j)
	}
}

// cancelLocked flips the job to cancelled and returns whether a
// pipeline goroutine still owns its files.
func (m *Manager) cancelLocked(j *job) bool {
	wasActive := j.status.IsActive()

	j.cancelled.Store(true)
	if j.retryTimer != nil {
		j.retryTimer.Stop()
		j.retryTimer = nil
	}
	m.q.remove(j.id)
	delete(m.active, j.id)
	j.status = StatusCancelled
	j.position = 0
	j.pausedAt = nil
	m.recomputePositionsLocked()
	m.emitLocked(j)
	m.updateDepthsLocked()

	m.logger.Info().Str("event", "scheduler.job.cancelled").Str("job_id", j.id).Bool("was_active", wasActive).Msg("job cancelled")
	return wasActive
}

// CancelByItems cancels every non-terminal job for the given source
// items and purges all matching records. Calling it again with the same
// items finds nothing left and reports zero.
func (m *Manager) CancelByItems(itemIDs []string) (cancelled, removed int) {
	match := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		match[id] = true
	}

	m.mu.Lock()
	var cleanups []*job
	for id, j := range m.jobs {
		if !match[j.desc.ItemID] {
			continue
		}
		if !j.status.IsTerminal() {
			if !m.cancelLocked(j) {
				cleanups = append(cleanups, j)
			}
			cancelled++
		}
		delete(m.jobs, id)
		m.closeSubscribersLocked(id)
		removed++
	}
	if removed > 0 {
		m.updateDepthsLocked()
	}
	m.admitLocked()
	m.mu.Unlock()

	for _, j := range cleanups {
		m.removeJobFiles(j)
	}
	return cancelled, removed
}

// Remove purges a non-running job: its record, its subscribers and its
// temp directory. The final artifact, when one exists, stays on disk
// under the retention policy. Running jobs return NotRemovable.
func (m *Manager) Remove(id string) (bool, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.status.IsActive() {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: job is %s", ErrNotRemovable, j.status)
	}

	delete(m.jobs, id)
	if m.q.remove(id) {
		m.recomputePositionsLocked()
	}
	if j.retryTimer != nil {
		j.retryTimer.Stop()
		j.retryTimer = nil
	}
	m.closeSubscribersLocked(id)
	m.updateDepthsLocked()
	m.admitLocked()
	m.mu.Unlock()

	_ = os.RemoveAll(j.tempDir)
	return true, nil
}

// PauseAllQueued pauses every queued job in place and reports how many
// it touched.
func (m *Manager) PauseAllQueued() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for _, id := range m.q.ids {
		j := m.jobs[id]
		if j == nil || j.status != StatusQueued {
			continue
		}
		t := now
		j.status = StatusPaused
		j.pausedAt = &t
		m.emitLocked(j)
		count++
	}
	if count > 0 {
		m.updateDepthsLocked()
	}
	return count
}

// ResumeAllPaused unpauses every paused job, preserving their relative
// order at the tail of the queue, and reports how many it touched.
func (m *Manager) ResumeAllPaused() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paused []*job
	for _, id := range m.q.ids {
		j := m.jobs[id]
		if j != nil && j.status == StatusPaused {
			paused = append(paused, j)
		}
	}
	for _, j := range paused {
		m.unpauseLocked(j)
	}
	if len(paused) > 0 {
		m.admitLocked()
	}
	return len(paused)
}

// ClearCompleted drops the records of completed jobs. Their artifacts
// stay on disk; the retention sweep governs those.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, j := range m.jobs {
		if j.status != StatusCompleted {
			continue
		}
		delete(m.jobs, id)
		m.closeSubscribersLocked(id)
		count++
	}
	return count
}

// QueueInfo reports the current admission picture.
func (m *Manager) QueueInfo() QueueInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := 0
	for _, id := range m.q.ids {
		if j := m.jobs[id]; j != nil && j.status == StatusQueued {
			queued++
		}
	}
	return QueueInfo{
		ActiveCount:   len(m.active),
		QueuedCount:   queued,
		MaxConcurrent: m.maxConcurrent(),
	}
}

// GetAll returns snapshots of every job: running first, then queued by
// position, then paused by position, then terminal jobs newest first.
func (m *Manager) GetAll() []Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	var running, terminal []*job
	for _, j := range m.jobs {
		switch {
		case j.status.IsActive():
			running = append(running, j)
		case j.status.IsTerminal():
			terminal = append(terminal, j)
		}
	}
	sort.Slice(running, func(a, b int) bool {
		if !running[a].createdAt.Equal(running[b].createdAt) {
			return running[a].createdAt.Before(running[b].createdAt)
		}
		return running[a].id < running[b].id
	})
	sort.Slice(terminal, func(a, b int) bool {
		if !terminal[a].createdAt.Equal(terminal[b].createdAt) {
			return terminal[a].createdAt.After(terminal[b].createdAt)
		}
		return terminal[a].id < terminal[b].id
	})

	out := make([]Progress, 0, len(m.jobs))
	for _, j := range running {
		out = append(out, j.snapshot())
	}
	for _, id := range m.q.ids {
		if j := m.jobs[id]; j != nil && j.status == StatusQueued {
			out = append(out, j.snapshot())
		}
	}
	for _, id := range m.q.ids {
		if j := m.jobs[id]; j != nil && j.status == StatusPaused {
			out = append(out, j.snapshot())
		}
	}
	for _, j := range terminal {
		out = append(out, j.snapshot())
	}
	return out
}

// GetProgress returns the snapshot for one job.
func (m *Manager) GetProgress(id string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.snapshot(), nil
}

// Subscribe registers a per-job observer. The current snapshot is
// delivered once immediately; afterwards every emission for the job
// arrives in order. The returned function unsubscribes and closes the
// channel; calling it more than once is safe.
func (m *Manager) Subscribe(id string) (<-chan Progress, func(), error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.shutdown {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: scheduler stopped", ErrWrongState)
	}
	sub := &subscriber{jobID: id, ch: make(chan Progress, subscriberBuffer)}
	handle := m.nextSub
	m.nextSub++
	m.subs[handle] = sub
	sub.ch <- j.snapshot()
	m.mu.Unlock()

	return sub.ch, m.unsubscribeFunc(handle), nil
}

// SubscribeAll registers an observer for every job's emissions. No
// snapshots are replayed on subscribe; pair it with GetAll for the
// starting state.
func (m *Manager) SubscribeAll() (<-chan Progress, func()) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		ch := make(chan Progress)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{ch: make(chan Progress, subscriberBuffer)}
	handle := m.nextSub
	m.nextSub++
	m.subs[handle] = sub
	m.mu.Unlock()

	return sub.ch, m.unsubscribeFunc(handle)
}

func (m *Manager) unsubscribeFunc(handle int) func() {
	return func() {
		m.mu.Lock()
		if s, ok := m.subs[handle]; ok {
			delete(m.subs, handle)
			close(s.ch)
		}
		m.mu.Unlock()
	}
}

// removeJobFiles deletes the temp directory and any partial artifact.
// Never called for completed jobs.
func (m *Manager) removeJobFiles(j *job) {
	if err := os.RemoveAll(j.tempDir); err != nil {
		m.logger.Warn().Err(err).Str("job_id", j.id).Msg("failed to remove temp directory")
	}
	if m.cfg.DownloadsRoot == "" {
		return
	}
	artifactDir := filepath.Join(m.cfg.DownloadsRoot, j.id)
	if err := os.RemoveAll(artifactDir); err != nil {
		m.logger.Warn().Err(err).Str("job_id", j.id).Msg("failed to remove partial artifact")
	}
}
