// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strmforge/vodpull/internal/scheduler"
)

const rateLimitWindow = time.Minute

// Handler returns the daemon's HTTP surface: health and metrics endpoints
// at the root, the JSON API and the progress WebSocket under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(tracing)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.apiRateLimiter())

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", s.handleListDownloads)
			r.Post("/", s.handleStartDownload)
			r.Post("/batch", s.handleStartBatch)
			r.Post("/cancel-items", s.handleCancelItems)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDownload)
				r.Delete("/", s.handleRemoveDownload)
				r.Post("/cancel", s.handleCancelDownload)
				r.Post("/resume", s.handleResumeDownload)
				r.Post("/pause", s.handlePauseDownload)
				r.Post("/unpause", s.handleUnpauseDownload)
				r.Post("/front", s.handleMoveToFront)
				r.Post("/position", s.handleReorderDownload)
			})
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueueInfo)
			r.Post("/pause-all", s.handlePauseAll)
			r.Post("/resume-all", s.handleResumeAll)
			r.Post("/clear-completed", s.handleClearCompleted)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/", s.handleListCache)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteCache)
				r.Put("/retention", s.handleUpdateRetention)
				r.Get("/file", s.handleCacheFile)
			})
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Get("/servers", s.handleGetServers)
		r.Put("/servers", s.handleUpdateServers)

		r.Get("/ws/progress", s.handleProgressWS)
	})

	return r
}

// apiRateLimiter builds the per-IP sliding window limiter for the /api
// group. The 429 body reuses the standard error envelope.
func (s *Server) apiRateLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.rateLimit,
		rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			writeError(w, r, http.StatusTooManyRequests, scheduler.ErrorInfo{
				Kind:    scheduler.KindRateLimited,
				Message: "request rate limit exceeded, retry later",
			})
		}),
	)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleReadyz reports readiness: the scheduler has recovered persisted
// jobs and the server is accepting work.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
