// SPDX-License-Identifier: MIT
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/strmforge/vodpull/internal/playlist"
)

// segmentServer serves /seg/{index} with valid fragment bodies and counts
// hits per path.
type segmentServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	fail map[string]bool
}

func newSegmentServer(t *testing.T) *segmentServer {
	t.Helper()
	ss := &segmentServer{hits: make(map[string]int), fail: make(map[string]bool)}
	ss.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ss.mu.Lock()
		ss.hits[r.URL.Path]++
		shouldFail := ss.fail[r.URL.Path]
		ss.mu.Unlock()

		if shouldFail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"gone"}`))
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(segmentBody("moof", 150))
	}))
	t.Cleanup(ss.Server.Close)
	return ss
}

func (s *segmentServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *segmentServer) segments(n int) []playlist.Segment {
	segs := make([]playlist.Segment, n)
	for i := range segs {
		segs[i] = playlist.Segment{URL: s.URL + "/seg/" + strconv.Itoa(i), Duration: 4}
	}
	return segs
}

func TestDownloadAll_FetchesAllSegments(t *testing.T) {
	srv := newSegmentServer(t)
	f := newTestFetcher(srv.Server)
	tempDir := filepath.Join(t.TempDir(), "job1")

	var (
		mu   sync.Mutex
		done []int
	)
	res, err := DownloadAll(context.Background(), f, Request{
		Segments:    srv.segments(5),
		TempDir:     tempDir,
		Concurrency: 3,
		RetryBudget: 2,
		OnSegment: func(idx int) {
			mu.Lock()
			done = append(done, idx)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalBytes != 5*150 {
		t.Errorf("expected %d total bytes, got %d", 5*150, res.TotalBytes)
	}
	for i := range 5 {
		want := filepath.Join(tempDir, strconv.Itoa(i)+".mp4")
		if res.SegmentPaths[i] != want {
			t.Errorf("segment %d: expected path %q, got %q", i, want, res.SegmentPaths[i])
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("segment %d file missing: %v", i, err)
		}
	}
	sort.Ints(done)
	if len(done) != 5 {
		t.Fatalf("expected 5 checkpoint callbacks, got %d", len(done))
	}
	for i, idx := range done {
		if idx != i {
			t.Errorf("checkpoint callbacks missing index %d", i)
		}
	}
}

func TestDownloadAll_SkipsCompleted(t *testing.T) {
	srv := newSegmentServer(t)
	f := newTestFetcher(srv.Server)
	tempDir := t.TempDir()

	// Segment 0 was fetched by a previous attempt.
	onDisk := []byte(strings.Repeat("d", 222))
	if err := os.WriteFile(filepath.Join(tempDir, "0.mp4"), onDisk, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := DownloadAll(context.Background(), f, Request{
		Segments:    srv.segments(3),
		TempDir:     tempDir,
		Concurrency: 2,
		RetryBudget: 2,
		Completed:   map[int]bool{0: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := srv.hitCount("/seg/0"); got != 0 {
		t.Errorf("completed segment must not be refetched, got %d hits", got)
	}
	if want := int64(222 + 2*150); res.TotalBytes != want {
		t.Errorf("expected %d total bytes including on-disk size, got %d", want, res.TotalBytes)
	}
}

func TestDownloadAll_RefetchesMissingCompleted(t *testing.T) {
	srv := newSegmentServer(t)
	f := newTestFetcher(srv.Server)

	// Index 0 is checkpointed but its file is gone.
	res, err := DownloadAll(context.Background(), f, Request{
		Segments:    srv.segments(2),
		TempDir:     t.TempDir(),
		Concurrency: 1,
		RetryBudget: 2,
		Completed:   map[int]bool{0: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := srv.hitCount("/seg/0"); got != 1 {
		t.Errorf("expected missing checkpointed segment to be refetched once, got %d hits", got)
	}
	if res.TotalBytes != 2*150 {
		t.Errorf("expected %d bytes, got %d", 2*150, res.TotalBytes)
	}
}

func TestDownloadAll_AbortsOnFailure(t *testing.T) {
	srv := newSegmentServer(t)
	srv.fail["/seg/2"] = true
	f := newTestFetcher(srv.Server)

	// Idle keep-alive connections hold transport goroutines; drop them
	// before the leak check runs.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	defer srv.Client().CloseIdleConnections()

	_, err := DownloadAll(context.Background(), f, Request{
		Segments:    srv.segments(6),
		TempDir:     t.TempDir(),
		Concurrency: 2,
		RetryBudget: 1,
	})
	if err == nil {
		t.Fatal("expected pipeline failure")
	}
	var se *SegmentError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SegmentError, got %T: %v", err, err)
	}
	if se.Index != 2 {
		t.Errorf("expected failing index 2, got %d", se.Index)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected cause to unwrap to ErrUpstream, got %v", err)
	}
}

func TestDownloadAll_InitSegment(t *testing.T) {
	srv := newSegmentServer(t)
	f := newTestFetcher(srv.Server)
	tempDir := t.TempDir()

	req := Request{
		Segments:    srv.segments(2),
		InitURL:     srv.URL + "/init",
		TempDir:     tempDir,
		Concurrency: 1,
		RetryBudget: 2,
	}
	res, err := DownloadAll(context.Background(), f, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.InitPath != filepath.Join(tempDir, "init.mp4") {
		t.Errorf("unexpected init path %q", res.InitPath)
	}
	if _, err := os.Stat(res.InitPath); err != nil {
		t.Fatalf("init segment missing: %v", err)
	}
	if res.TotalBytes != 3*150 {
		t.Errorf("expected init bytes counted, got %d", res.TotalBytes)
	}

	// A second run reuses the on-disk init segment.
	if _, err := DownloadAll(context.Background(), f, req); err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if got := srv.hitCount("/init"); got != 1 {
		t.Errorf("expected init fetched exactly once across runs, got %d", got)
	}
}

func TestDownloadAll_ProgressMonotone(t *testing.T) {
	srv := newSegmentServer(t)
	f := newTestFetcher(srv.Server)

	type snapshot struct {
		completed int
		total     int
		bytes     int64
	}
	var (
		mu   sync.Mutex
		seen []snapshot
	)
	_, err := DownloadAll(context.Background(), f, Request{
		Segments:    srv.segments(4),
		TempDir:     t.TempDir(),
		Concurrency: 4,
		RetryBudget: 2,
		OnProgress: func(completed, total int, bytes int64) {
			mu.Lock()
			seen = append(seen, snapshot{completed, total, bytes})
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) == 0 {
		t.Fatal("expected progress callbacks")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].completed < seen[i-1].completed || seen[i].bytes < seen[i-1].bytes {
			t.Fatalf("progress went backwards at %d: %+v -> %+v", i, seen[i-1], seen[i])
		}
	}
	last := seen[len(seen)-1]
	if last.completed != 4 || last.total != 4 {
		t.Errorf("expected final progress 4/4, got %+v", last)
	}
}

func TestDownloadAll_EmptySegmentList(t *testing.T) {
	srv := newSegmentServer(t)
	f := newTestFetcher(srv.Server)

	res, err := DownloadAll(context.Background(), f, Request{
		Segments: nil,
		TempDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalBytes != 0 || len(res.SegmentPaths) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}
