// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/log"
)

// Holder hands out the current configuration and hot-reloads it from
// the file. A reload either applies a fully valid config or keeps the
// old one; there is no partial state.
type Holder struct {
	mu      sync.RWMutex
	current Config

	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []chan<- Config
}

// NewHolder wraps an already-loaded configuration. path may be empty
// when the config came from environment only; Watch is then a no-op.
func NewHolder(initial Config, path string) *Holder {
	return &Holder{
		current: initial,
		path:    path,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-runs the full load (file + environment + validation) and
// swaps the result in. On any failure the previous configuration stays
// in effect and the error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload").Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload.rejected").Msg("keeping previous configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)
	h.logger.Info().Str("event", "config.reload.applied").Msg("configuration reloaded")
	return nil
}

// Watch follows the config file until the context ends, reloading after
// writes with a debounce so editors that write in bursts trigger one
// reload. Without a file path it does nothing.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().Str("event", "config.watch.disabled").Msg("no config file, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().Str("event", "config.watch.started").Str("path", h.path).Msg("watching config file")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	const debounce = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = h.watcher.Close()
			h.logger.Info().Str("event", "config.watch.stopped").Msg("config watcher stopped")
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover plain writes and the
			// rename-into-place editors do.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Str("event", "config.watch.reload_failed").Msg("automatic reload failed")
				}
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "config.watch.error").Msg("config watcher error")
		}
	}
}

// Stop closes the watcher when one is running.
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener adds a channel that receives every successfully
// applied configuration. Delivery is non-blocking; a full channel is
// skipped. The caller owns the channel.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg Config) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.reload.listener_skipped").Msg("listener channel full")
		}
	}
}

// logChanges records which fields changed; fields the daemon only reads
// at startup are flagged as needing a restart.
func (h *Holder) logChanges(old, next Config) {
	if old.LogLevel != next.LogLevel {
		h.logger.Info().Str("old", old.LogLevel).Str("new", next.LogLevel).Msg("config changed: logLevel")
	}
	if old.APIRateLimit != next.APIRateLimit {
		h.logger.Info().Int("old", old.APIRateLimit).Int("new", next.APIRateLimit).Msg("config changed: apiRateLimit")
	}
	if old.AllowPrivateUpstreams != next.AllowPrivateUpstreams {
		h.logger.Info().Bool("old", old.AllowPrivateUpstreams).Bool("new", next.AllowPrivateUpstreams).Msg("config changed: allowPrivateUpstreams")
	}
	if old.Listen != next.Listen {
		h.logger.Warn().Str("old", old.Listen).Str("new", next.Listen).Msg("config changed: listen (applies after restart)")
	}
	if old.DataDir != next.DataDir {
		h.logger.Warn().Str("old", old.DataDir).Str("new", next.DataDir).Msg("config changed: dataDir (applies after restart)")
	}
	if old.FFmpegBin != next.FFmpegBin {
		h.logger.Info().Str("old", old.FFmpegBin).Str("new", next.FFmpegBin).Msg("config changed: ffmpegBin (applies after restart)")
	}
	if old.Telemetry != next.Telemetry {
		h.logger.Warn().Msg("config changed: telemetry (applies after restart)")
	}
}
