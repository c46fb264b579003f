// SPDX-License-Identifier: MIT
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/platform/fs"
	"github.com/strmforge/vodpull/internal/playlist"
)

// Request describes one parallel download run over a segment list.
type Request struct {
	Segments    []playlist.Segment
	InitURL     string
	TempDir     string
	Concurrency int
	RetryBudget int

	// Completed holds indices already fetched by a previous attempt. Their
	// on-disk sizes count toward the byte total without refetching.
	Completed map[int]bool

	// OnProgress is invoked after the initial skip accounting and after
	// every segment completion, under the pipeline's mutation lock, so a
	// subscriber observes monotone counters.
	OnProgress func(completed, total int, bytes int64)

	// OnSegment is the checkpoint hook, invoked once per newly fetched
	// segment after its file is fully written.
	OnSegment func(index int)

	// ShouldStop, when set, is polled between segments. A true return
	// stops the run with ErrStopped after in-flight requests finish;
	// it never aborts a transfer mid-segment.
	ShouldStop func() bool
}

// Result reports where the pipeline put its files.
type Result struct {
	InitPath     string
	SegmentPaths []string
	TotalBytes   int64
}

// DownloadAll fans the fetcher out across all pending segments with the
// requested concurrency. Workers consume pending segments in index order.
// The first unrecoverable fetch aborts the remaining work and is surfaced
// as a SegmentError carrying the failing index.
func DownloadAll(ctx context.Context, f *Fetcher, req Request) (*Result, error) {
	if err := fs.EnsureDir(req.TempDir); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	total := len(req.Segments)
	res := &Result{SegmentPaths: make([]string, total)}

	var (
		mu        sync.Mutex
		completed int
		bytes     int64
	)
	emitLocked := func() {
		if req.OnProgress != nil {
			req.OnProgress(completed, total, bytes)
		}
	}

	if req.InitURL != "" {
		initPath := filepath.Join(req.TempDir, "init.mp4")
		if info, err := os.Stat(initPath); err == nil {
			bytes += info.Size()
		} else {
			n, err := f.FetchSegment(ctx, req.InitURL, initPath, req.RetryBudget)
			if err != nil {
				return nil, fmt.Errorf("init segment: %w", err)
			}
			bytes += n
		}
		res.InitPath = initPath
	}

	// Partition pending work. A checkpointed index whose file has gone
	// missing is refetched rather than trusted.
	var pending []int
	for i := range req.Segments {
		path := filepath.Join(req.TempDir, strconv.Itoa(i)+".mp4")
		res.SegmentPaths[i] = path
		if req.Completed[i] {
			if info, err := os.Stat(path); err == nil {
				completed++
				bytes += info.Size()
				metrics.RecordSegmentSkipped()
				continue
			}
		}
		pending = append(pending, i)
	}

	mu.Lock()
	emitLocked()
	mu.Unlock()

	if len(pending) == 0 {
		res.TotalBytes = bytes
		return res, nil
	}

	workers := req.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan int)

	// Hand-out is the soft-stop point. Stopping here closes the work
	// channel without cancelling the group, so segments already handed
	// to a worker finish their transfer undisturbed.
	var stopped bool
	g.Go(func() error {
		defer close(work)
		for _, idx := range pending {
			if req.ShouldStop != nil && req.ShouldStop() {
				stopped = true
				return nil
			}
			select {
			case work <- idx:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			for idx := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := f.FetchSegment(gctx, req.Segments[idx].URL, res.SegmentPaths[idx], req.RetryBudget)
				if err != nil {
					return &SegmentError{Index: idx, Err: err}
				}

				mu.Lock()
				completed++
				bytes += n
				if req.OnSegment != nil {
					req.OnSegment(idx)
				}
				emitLocked()
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if stopped {
		return nil, ErrStopped
	}
	res.TotalBytes = bytes
	return res, nil
}
