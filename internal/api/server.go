// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP control surface: the download
// queue verbs, the artifact cache, runtime settings and the WebSocket
// progress stream.
package api

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/config"
	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/retention"
	"github.com/strmforge/vodpull/internal/scheduler"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/upstream"
)

// Queue is the slice of the scheduler the handlers drive. *scheduler.Manager
// satisfies it.
type Queue interface {
	StartJob(desc scheduler.Descriptor) (scheduler.Progress, error)
	ResumeFailed(id string) (scheduler.Progress, error)
	Pause(id string) error
	Unpause(id string) error
	MoveToFront(id string) error
	Reorder(id string, position int) error
	Cancel(id string)
	CancelByItems(itemIDs []string) (cancelled, removed int)
	Remove(id string) (bool, error)
	PauseAllQueued() int
	ResumeAllPaused() int
	ClearCompleted() int
	QueueInfo() scheduler.QueueInfo
	GetAll() []scheduler.Progress
	GetProgress(id string) (scheduler.Progress, error)
	SubscribeAll() (<-chan scheduler.Progress, func())
}

// Upstream is the media-server client surface the start handlers need.
// *upstream.Client satisfies it. Subtitle URLs are not built here; the
// scheduler derives them from the descriptor's subtitle spec at mux time.
type Upstream interface {
	Item(ctx context.Context, itemID string) (*upstream.Item, error)
	MasterURL(req upstream.PlaybackRequest) string
}

// Options wires the server's collaborators. Queue, Settings and Retention
// are required; the rest falls back to defaults.
type Options struct {
	Queue     Queue
	Settings  *settings.Store
	Retention *retention.Store

	// NewUpstream builds a media-server client for a saved server. Nil
	// uses upstream.New with default options, which refuses private
	// address space; the daemon injects its policy here.
	NewUpstream func(srv settings.Server) (Upstream, error)

	// RateLimit caps requests per client IP per minute on the /api group.
	// Non-positive falls back to the config default.
	RateLimit int

	Version string
}

// Server carries the handler dependencies and the WebSocket hub. Build it
// with New and shut it down with Close.
type Server struct {
	queue       Queue
	settings    *settings.Store
	retention   *retention.Store
	newUpstream func(srv settings.Server) (Upstream, error)
	rateLimit   int
	version     string
	logger      zerolog.Logger

	hub      *wsHub
	stopFeed func()

	ready     atomic.Bool
	closeOnce sync.Once
}

// New builds the server and starts the progress hub. The hub subscribes to
// the queue's global feed immediately so no events are lost between daemon
// start and the first client.
func New(opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = config.DefaultAPIRateLimit
	}
	if opts.NewUpstream == nil {
		opts.NewUpstream = func(srv settings.Server) (Upstream, error) {
			return upstream.New(srv, upstream.Options{})
		}
	}

	s := &Server{
		queue:       opts.Queue,
		settings:    opts.Settings,
		retention:   opts.Retention,
		newUpstream: opts.NewUpstream,
		rateLimit:   opts.RateLimit,
		version:     opts.Version,
		logger:      log.WithComponent("api"),
	}

	s.hub = newWSHub(s.logger)
	go s.hub.run()

	events, stop := s.queue.SubscribeAll()
	s.stopFeed = stop
	go s.hub.pump(events)

	return s
}

// SetReady flips the readiness probe. The daemon marks the server ready
// once the scheduler is initialized and not-ready when shutdown begins.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Close detaches from the progress feed and disconnects every WebSocket
// client. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.ready.Store(false)
		s.stopFeed()
		s.hub.Close()
	})
}
