// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remuxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodpull_remux_duration_seconds",
		Help:    "Time spent in the ffmpeg faststart remux, by outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320},
	}, []string{"outcome"}) // outcome=success|failure

	concatBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_concat_bytes_total",
		Help: "Total number of bytes written during segment concatenation",
	})

	subtitleMuxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodpull_subtitle_mux_total",
		Help: "Subtitle fetch and mux attempts, by outcome",
	}, []string{"outcome"}) // outcome=success|skipped|failure
)

// ObserveRemux records one remux run.
func ObserveRemux(outcome string, seconds float64) {
	remuxDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordConcatBytes counts bytes streamed into the concatenated output.
func RecordConcatBytes(n int64) {
	concatBytesTotal.Add(float64(n))
}

// RecordSubtitleMux increments the subtitle outcome counter.
func RecordSubtitleMux(outcome string) {
	subtitleMuxTotal.WithLabelValues(outcome).Inc()
}
