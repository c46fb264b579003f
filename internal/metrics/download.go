// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_segments_fetched_total",
		Help: "Total number of media segments fetched successfully",
	})

	segmentRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodpull_segment_retries_total",
		Help: "Total number of segment fetch retries, by cause",
	}, []string{"cause"}) // cause=timeout|network|upstream|validation

	segmentsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_segments_skipped_total",
		Help: "Total number of segments skipped because a resume found them on disk",
	})

	bytesDownloadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_bytes_downloaded_total",
		Help: "Total number of media bytes written to segment files",
	})

	segmentFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vodpull_segment_fetch_duration_seconds",
		Help:    "Time to fetch and persist a single segment, including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	})
)

// RecordSegmentFetched counts one persisted segment and its payload size.
func RecordSegmentFetched(bytes int64, seconds float64) {
	segmentsFetchedTotal.Inc()
	bytesDownloadedTotal.Add(float64(bytes))
	segmentFetchDuration.Observe(seconds)
}

// RecordSegmentRetry increments the retry counter for the given cause.
func RecordSegmentRetry(cause string) {
	segmentRetriesTotal.WithLabelValues(cause).Inc()
}

// RecordSegmentSkipped counts a segment satisfied from a previous attempt.
func RecordSegmentSkipped() {
	segmentsSkippedTotal.Inc()
}
