// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the vodpull daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_jobs_started_total",
		Help: "Total number of download jobs started",
	})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodpull_jobs_finished_total",
		Help: "Total number of download jobs finished, by outcome",
	}, []string{"outcome"}) // outcome=completed|failed|cancelled

	jobRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodpull_job_retries_total",
		Help: "Total number of automatic job retries",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodpull_job_duration_seconds",
		Help:    "Wall-clock time from download start to terminal state",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400, 4800},
	}, []string{"outcome"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodpull_active_jobs",
		Help: "Current number of running download jobs",
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodpull_queue_length",
		Help: "Current number of queued download jobs",
	})

	pausedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodpull_paused_jobs",
		Help: "Current number of paused download jobs",
	})
)

// RecordJobStarted increments the started counter.
func RecordJobStarted() {
	jobsStartedTotal.Inc()
}

// RecordJobFinished increments the finished counter and observes the job
// duration for the given terminal outcome (completed, failed or cancelled).
func RecordJobFinished(outcome string, seconds float64) {
	jobsFinishedTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		jobDuration.WithLabelValues(outcome).Observe(seconds)
	}
}

// RecordJobRetry increments the retry counter.
func RecordJobRetry() {
	jobRetriesTotal.Inc()
}

// SetQueueDepths updates the scheduler occupancy gauges.
func SetQueueDepths(active, queued, paused int) {
	activeJobs.Set(float64(active))
	queueLength.Set(float64(queued))
	pausedJobs.Set(float64(paused))
}
