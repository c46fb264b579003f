// SPDX-License-Identifier: MIT
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/scheduler"
)

// wsTestEnv wraps a test env in a real listener so the gorilla dialer can
// connect. Cleanup order matters: connections, then listener, then the
// server, then the leak check.
func wsTestEnv(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	ignorePre := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignorePre) })

	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)
	return env, ts
}

func dialProgressWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return conn
}

func readProgress(t *testing.T, conn *websocket.Conn, timeout time.Duration) scheduler.Progress {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var p scheduler.Progress
	require.NoError(t, json.Unmarshal(data, &p), "raw: %s", data)
	return p
}

func TestProgressWS_SnapshotOnConnect(t *testing.T) {
	env, ts := wsTestEnv(t)
	env.queue.snapshots = []scheduler.Progress{
		{JobID: "job-1", Status: scheduler.StatusDownloading, Progress: 0.25},
		{JobID: "job-2", Status: scheduler.StatusQueued, QueuePosition: 1},
	}

	conn := dialProgressWS(t, ts)
	defer conn.Close()

	seen := map[string]scheduler.Status{}
	for range 2 {
		p := readProgress(t, conn, 2*time.Second)
		seen[p.JobID] = p.Status
	}
	assert.Equal(t, scheduler.StatusDownloading, seen["job-1"])
	assert.Equal(t, scheduler.StatusQueued, seen["job-2"])
}

func TestProgressWS_BroadcastsEvents(t *testing.T) {
	env, ts := wsTestEnv(t)

	conn := dialProgressWS(t, ts)
	defer conn.Close()

	env.queue.emit(scheduler.Progress{
		JobID:    "job-9",
		Status:   scheduler.StatusDownloading,
		Progress: 0.5,
	})

	p := readProgress(t, conn, 2*time.Second)
	assert.Equal(t, "job-9", p.JobID)
	assert.Equal(t, scheduler.StatusDownloading, p.Status)
	assert.InDelta(t, 0.5, p.Progress, 0.001)
}

func TestProgressWS_FansOutToAllClients(t *testing.T) {
	env, ts := wsTestEnv(t)

	first := dialProgressWS(t, ts)
	defer first.Close()
	second := dialProgressWS(t, ts)
	defer second.Close()

	require.Eventually(t, func() bool {
		return env.srv.hub.clientCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	env.queue.emit(scheduler.Progress{JobID: "job-1", Status: scheduler.StatusCompleted, Progress: 1})

	assert.Equal(t, "job-1", readProgress(t, first, 2*time.Second).JobID)
	assert.Equal(t, "job-1", readProgress(t, second, 2*time.Second).JobID)
}

func TestProgressWS_CloseDisconnectsClients(t *testing.T) {
	env, ts := wsTestEnv(t)

	conn := dialProgressWS(t, ts)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.srv.hub.clientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.srv.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got: %v", err)
}

func TestProgressWS_RejectsPlainGET(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/api/ws/progress", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// The slow-client path is exercised directly against the hub: a client
// whose send buffer is full when a broadcast arrives gets dropped instead
// of stalling the fan-out.
func TestWSHub_DropsSlowClient(t *testing.T) {
	hub := newWSHub(log.WithComponent("api"))
	go hub.run()

	fast := &wsClient{hub: hub, send: make(chan []byte, 8)}
	slow := &wsClient{hub: hub, send: make(chan []byte, 1)}
	hub.register <- fast
	hub.register <- slow

	require.Eventually(t, func() bool { return hub.clientCount() == 2 },
		time.Second, 5*time.Millisecond)

	// fills slow's buffer, second broadcast forces the drop
	hub.broadcast <- []byte(`{"jobId":"a"}`)
	hub.broadcast <- []byte(`{"jobId":"b"}`)

	require.Eventually(t, func() bool { return hub.clientCount() == 1 },
		time.Second, 5*time.Millisecond)

	assert.Len(t, fast.send, 2)

	// fake clients have no conn, so detach them before stopping the hub
	hub.unregister <- fast
	require.Eventually(t, func() bool { return hub.clientCount() == 0 },
		time.Second, 5*time.Millisecond)
	hub.Close()
}

func TestWSHub_BufferedEventDropKeepsPumpAlive(t *testing.T) {
	hub := newWSHub(log.WithComponent("api"))

	events := make(chan scheduler.Progress, wsBroadcastBuffer+8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.pump(events)
	}()

	// nothing drains broadcast, so the buffer fills and the overflow is
	// dropped without blocking the pump
	for i := 0; i < wsBroadcastBuffer+4; i++ {
		events <- scheduler.Progress{JobID: "job-1", CompletedSegments: i}
	}
	close(events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit after the feed closed")
	}
	assert.Len(t, hub.broadcast, wsBroadcastBuffer)
}
