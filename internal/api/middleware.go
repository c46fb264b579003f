// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/metrics"
)

// tracing wraps the mux with OpenTelemetry HTTP instrumentation. When
// telemetry is disabled the installed provider is a noop and the wrapper
// stays inert.
func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "vodpull.http",
		otelhttp.WithFilter(traceFilter),
		otelhttp.WithSpanNameFormatter(spanName),
	)
}

// traceFilter keeps probe and scrape noise out of the trace stream.
func traceFilter(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}

// spanName builds "vodpull.http GET /api/downloads" style names. Query
// values never appear in the name.
func spanName(operation string, r *http.Request) string {
	return operation + " " + r.Method + " " + r.URL.Path
}

// requestLogger emits one structured line per request and feeds the HTTP
// metrics. It runs after chi's RequestID middleware so the id can travel on
// the context into handler and scheduler logs.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		done := metrics.HTTPRequestStarted()
		defer done()

		ctx := r.Context()
		if reqID := chimw.GetReqID(ctx); reqID != "" {
			ctx = log.ContextWithRequestID(ctx, reqID)
		}

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		// A hijacked connection (the WebSocket upgrade) never writes a
		// status through the wrapper; report it as the 101 it was.
		status := ww.Status()
		if status == 0 {
			status = http.StatusSwitchingProtocols
		}

		elapsed := time.Since(start)
		path := routePattern(r)
		metrics.ObserveHTTPRequest(r.Method, path, status, elapsed.Seconds(), ww.BytesWritten())

		log.WithContext(ctx, s.logger).Info().
			Str("event", "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Int("bytes", ww.BytesWritten()).
			Str("remote", r.RemoteAddr).
			Msg("request completed")
	})
}

// routePattern returns the matched chi pattern ("/api/downloads/{id}") so the
// metric label stays bounded no matter how many job ids pass through.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
