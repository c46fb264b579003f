// SPDX-License-Identifier: MIT
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodpull_upstream_requests_total",
		Help: "Total number of media-server API request attempts, by status class and retry flag",
	}, []string{"status", "retry"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vodpull_upstream_request_duration_seconds",
		Help:    "Duration of individual media-server API request attempts",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})
)

// RecordUpstreamAttempt counts one media-server request attempt. Status 0
// means the request never produced a response.
func RecordUpstreamAttempt(status int, retried bool, seconds float64) {
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	upstreamRequestsTotal.WithLabelValues(class, strconv.FormatBool(retried)).Inc()
	upstreamRequestDuration.Observe(seconds)
}
