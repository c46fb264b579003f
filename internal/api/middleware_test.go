// SPDX-License-Identifier: MIT
package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strmforge/vodpull/internal/scheduler"
)

func TestRequestLogger_EmitsStructuredLine(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.srv.logger = zerolog.New(&buf)

	rec := env.doJSON(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	line := buf.String()
	assert.Contains(t, line, `"event":"http.request"`)
	assert.Contains(t, line, `"method":"GET"`)
	assert.Contains(t, line, `"path":"/api/queue"`)
	assert.Contains(t, line, `"status":200`)
	assert.Contains(t, line, `"request_id":`)
}

func TestRequestLogger_MetricsUseRoutePattern(t *testing.T) {
	env := newTestEnv(t)
	env.queue.snapshots = []scheduler.Progress{
		{JobID: "job-777", Status: scheduler.StatusQueued},
	}

	rec := env.doJSON(t, http.MethodGet, "/api/downloads/job-777", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `path="/api/downloads/{id}"`,
		"metric labels must use the route pattern, not the raw path")
	assert.NotContains(t, body, `path="/api/downloads/job-777"`)
}

func TestRoutePattern_FallsBackToRawPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/not-routed", nil)
	assert.Equal(t, "/not-routed", routePattern(req))
}

func TestTraceFilter_SkipsProbes(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.False(t, traceFilter(req), path)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	assert.True(t, traceFilter(req))
}

func TestSpanName_OmitsQueryValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/downloads?secret=1", nil)
	assert.Equal(t, "vodpull.http GET /api/downloads", spanName("vodpull.http", req))
}
