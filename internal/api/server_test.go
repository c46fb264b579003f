// SPDX-License-Identifier: MIT
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strmforge/vodpull/internal/retention"
	"github.com/strmforge/vodpull/internal/scheduler"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/upstream"
)

// fakeQueue is a canned scheduler for handler tests. The zero value from
// newFakeQueue answers every verb successfully; tests preload snapshots
// or force errors through the fields, and read back what the handlers
// did through the accessor methods.
type fakeQueue struct {
	mu sync.Mutex

	snapshots []scheduler.Progress
	startErr  error
	verbErr   error
	queueInfo scheduler.QueueInfo

	started   []scheduler.Descriptor
	cancelled []string
	removed   []string
	reordered map[string]int
	fronted   []string

	pauseAllCount   int
	resumeAllCount  int
	clearedCount    int
	cancelItemsSeen []string
	cancelResult    [2]int

	events   chan scheduler.Progress
	stopOnce sync.Once
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		reordered: make(map[string]int),
		events:    make(chan scheduler.Progress, 16),
	}
}

func (q *fakeQueue) StartJob(desc scheduler.Descriptor) (scheduler.Progress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.startErr != nil {
		return scheduler.Progress{}, q.startErr
	}
	q.started = append(q.started, desc)
	return scheduler.Progress{
		JobID:         fmt.Sprintf("job-%d", len(q.started)),
		Title:         desc.Title,
		Status:        scheduler.StatusQueued,
		QueuePosition: len(q.started),
		CreatedAt:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (q *fakeQueue) find(id string) (scheduler.Progress, error) {
	for _, p := range q.snapshots {
		if p.JobID == id {
			return p, nil
		}
	}
	return scheduler.Progress{}, scheduler.ErrNotFound
}

func (q *fakeQueue) ResumeFailed(id string) (scheduler.Progress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.verbErr != nil {
		return scheduler.Progress{}, q.verbErr
	}
	p, err := q.find(id)
	if err != nil {
		return scheduler.Progress{}, err
	}
	p.Status = scheduler.StatusQueued
	p.Error = nil
	return p, nil
}

func (q *fakeQueue) Pause(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.verbErr != nil {
		return q.verbErr
	}
	_, err := q.find(id)
	return err
}

func (q *fakeQueue) Unpause(id string) error { return q.Pause(id) }

func (q *fakeQueue) MoveToFront(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.verbErr != nil {
		return q.verbErr
	}
	if _, err := q.find(id); err != nil {
		return err
	}
	q.fronted = append(q.fronted, id)
	return nil
}

func (q *fakeQueue) Reorder(id string, position int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.verbErr != nil {
		return q.verbErr
	}
	if position < 1 {
		return scheduler.ErrBadPosition
	}
	if _, err := q.find(id); err != nil {
		return err
	}
	q.reordered[id] = position
	return nil
}

func (q *fakeQueue) Cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
}

func (q *fakeQueue) CancelByItems(itemIDs []string) (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelItemsSeen = append(q.cancelItemsSeen, itemIDs...)
	return q.cancelResult[0], q.cancelResult[1]
}

func (q *fakeQueue) Remove(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.verbErr != nil {
		return false, q.verbErr
	}
	if _, err := q.find(id); err != nil {
		return false, err
	}
	q.removed = append(q.removed, id)
	return true, nil
}

func (q *fakeQueue) PauseAllQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pauseAllCount
}

func (q *fakeQueue) ResumeAllPaused() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resumeAllCount
}

func (q *fakeQueue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearedCount
}

func (q *fakeQueue) QueueInfo() scheduler.QueueInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queueInfo
}

// GetAll returns a non-nil slice like the real manager, so empty lists
// serialize as [] rather than null.
func (q *fakeQueue) GetAll() []scheduler.Progress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append(make([]scheduler.Progress, 0, len(q.snapshots)), q.snapshots...)
}

func (q *fakeQueue) GetProgress(id string) (scheduler.Progress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.find(id)
}

// SubscribeAll hands out the fake's event channel. Stop closes it, the
// way the real manager's unsubscribe does, so the hub pump exits.
func (q *fakeQueue) SubscribeAll() (<-chan scheduler.Progress, func()) {
	return q.events, func() {
		q.stopOnce.Do(func() { close(q.events) })
	}
}

func (q *fakeQueue) emit(p scheduler.Progress) { q.events <- p }

func (q *fakeQueue) startedDescriptors() []scheduler.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]scheduler.Descriptor(nil), q.started...)
}

func (q *fakeQueue) cancelledIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.cancelled...)
}

func (q *fakeQueue) reorderedPosition(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos, ok := q.reordered[id]
	return pos, ok
}

// fakeUpstream serves one canned item for any id and records the playback
// requests it was asked to turn into master URLs.
type fakeUpstream struct {
	mu sync.Mutex

	item    *upstream.Item
	itemErr error
	master  string

	playbacks []upstream.PlaybackRequest
}

func (u *fakeUpstream) Item(_ context.Context, _ string) (*upstream.Item, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.itemErr != nil {
		return nil, u.itemErr
	}
	return u.item, nil
}

func (u *fakeUpstream) MasterURL(req upstream.PlaybackRequest) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.playbacks = append(u.playbacks, req)
	return u.master
}

func (u *fakeUpstream) lastPlayback(t *testing.T) upstream.PlaybackRequest {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	require.NotEmpty(t, u.playbacks)
	return u.playbacks[len(u.playbacks)-1]
}

// testItem is a movie with two sources: the default one carries an
// embedded and an external subtitle stream, the second has no runtime so
// the item-level fallback kicks in.
func testItem() *upstream.Item {
	return &upstream.Item{
		ID:           "item-1",
		Name:         "Test Movie",
		Type:         "Movie",
		RunTimeTicks: 54_000_000_000, // 90 min
		MediaSources: []upstream.MediaSource{
			{
				ID:           "src-1",
				Name:         "1080p",
				Container:    "mkv",
				RunTimeTicks: 54_000_000_000,
				MediaStreams: []upstream.MediaStream{
					{Index: 0, Type: "Video", Codec: "h264"},
					{Index: 1, Type: "Audio", Codec: "aac", Language: "eng", IsDefault: true},
					{Index: 2, Type: "Subtitle", Codec: "subrip", Language: "eng"},
					{Index: 3, Type: "Subtitle", Codec: "subrip", Language: "ger", IsExternal: true},
				},
			},
			{
				ID:        "src-2",
				Name:      "720p",
				Container: "mp4",
			},
		},
	}
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	queue     *fakeQueue
	up        *fakeUpstream
	settings  *settings.Store
	retention *retention.Store
	root      string
}

// newTestEnv builds a server on real settings and retention stores in a
// temp dir, with the queue and the media server faked out. One server
// "srv-1" and the default presets are pre-seeded.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "downloads")

	store, err := settings.Load(filepath.Join(dir, "settings.json"), settings.Settings{
		MaxConcurrentDownloads: 3,
		DownloadsDir:           root,
		Presets:                settings.DefaultPresets(),
	})
	require.NoError(t, err)

	st := store.Get()
	st.SavedServers = []settings.Server{
		{ID: "srv-1", Name: "Main", BaseURL: "http://media.example", Token: "tok-1"},
	}
	_, err = store.Update(st)
	require.NoError(t, err)

	ret := retention.NewStore(root, store.DefaultRetentionDays)
	queue := newFakeQueue()
	up := &fakeUpstream{
		item:   testItem(),
		master: "http://media.example/videos/item-1/master.m3u8?api_key=tok-1",
	}

	srv := New(Options{
		Queue:       queue,
		Settings:    store,
		Retention:   ret,
		NewUpstream: func(settings.Server) (Upstream, error) { return up, nil },
		RateLimit:   10_000,
		Version:     "test",
	})
	srv.SetReady(true)
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:       srv,
		handler:   srv.Handler(),
		queue:     queue,
		up:        up,
		settings:  store,
		retention: ret,
		root:      root,
	}
}

// doJSON runs one request through the router with an optional JSON body.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	return e.doRaw(t, method, path, rd)
}

func (e *testEnv) doRaw(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// requireErrorKind asserts the response carries the error envelope with
// the given status and kind.
func requireErrorKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind scheduler.Kind) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	var body errorBody
	decodeJSON(t, rec, &body)
	require.Equal(t, kind, body.Error.Kind)
	require.NotEmpty(t, body.Error.Message)
}
