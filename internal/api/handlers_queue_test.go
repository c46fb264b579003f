// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strmforge/vodpull/internal/scheduler"
)

func TestQueueInfo(t *testing.T) {
	env := newTestEnv(t)
	env.queue.queueInfo = scheduler.QueueInfo{ActiveCount: 2, QueuedCount: 5, MaxConcurrent: 3}

	rec := env.doJSON(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info scheduler.QueueInfo
	decodeJSON(t, rec, &info)
	assert.Equal(t, 2, info.ActiveCount)
	assert.Equal(t, 5, info.QueuedCount)
	assert.Equal(t, 3, info.MaxConcurrent)
}

func TestQueueBulkVerbs(t *testing.T) {
	env := newTestEnv(t)
	env.queue.pauseAllCount = 4
	env.queue.resumeAllCount = 2
	env.queue.clearedCount = 7

	var counts map[string]int

	rec := env.doJSON(t, http.MethodPost, "/api/queue/pause-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &counts)
	assert.Equal(t, 4, counts["paused"])

	rec = env.doJSON(t, http.MethodPost, "/api/queue/resume-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &counts)
	assert.Equal(t, 2, counts["resumed"])

	rec = env.doJSON(t, http.MethodPost, "/api/queue/clear-completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &counts)
	assert.Equal(t, 7, counts["cleared"])
}
