// SPDX-License-Identifier: MIT

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodpull_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodpull_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodpull_http_response_size_bytes",
		Help:    "HTTP response sizes in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path", "status"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodpull_ws_clients",
		Help: "Current number of connected progress WebSocket clients",
	})
)

// ObserveHTTPRequest records one served request. path should be the route
// pattern, not the raw URL, to keep cardinality bounded.
func ObserveHTTPRequest(method, path string, status int, seconds float64, responseBytes int) {
	code := strconv.Itoa(status)
	httpRequestDuration.WithLabelValues(method, path, code).Observe(seconds)
	if responseBytes > 0 {
		httpResponseSize.WithLabelValues(method, path, code).Observe(float64(responseBytes))
	}
}

// HTTPRequestStarted marks a request in flight; the returned func ends it.
func HTTPRequestStarted() func() {
	httpRequestsInFlight.Inc()
	return httpRequestsInFlight.Dec
}

// SetWSClients updates the connected WebSocket client gauge.
func SetWSClients(n int) {
	wsClients.Set(float64(n))
}
