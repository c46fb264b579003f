// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepDeletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_retention_sweep_deletions_total",
		Help: "Total number of downloads deleted by the retention sweeper",
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_retention_sweep_errors_total",
		Help: "Total number of retention sweep failures",
	})

	progressDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodpull_progress_drop_total",
		Help: "Total number of progress events dropped on slow subscribers",
	}, []string{"transport"}) // transport=websocket|internal
)

// RecordSweepDeletion counts one download removed by the sweeper.
func RecordSweepDeletion() {
	sweepDeletionsTotal.Inc()
}

// RecordSweepError counts one failed sweep pass.
func RecordSweepError() {
	sweepErrorsTotal.Inc()
}

// RecordProgressDrop counts a progress event dropped due to backpressure.
func RecordProgressDrop(transport string) {
	progressDropsTotal.WithLabelValues(transport).Inc()
}
