package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_jobs_submitted_total",
			Help: "Total number of accepted job submissions",
		},
		[]string{"language"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_verdicts_total",
			Help: "Total number of test case verdicts recorded",
		},
		[]string{"outcome"},
	)

	TestCaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_test_case_duration_ms",
			Help:    "Sandbox execution duration per test case in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crucible_queue_depth",
			Help: "Number of jobs waiting for assignment",
		},
	)

	LiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crucible_live_workers",
			Help: "Number of workers currently registered and heartbeating",
		},
	)

	SchedulerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_scheduler_retries_total",
			Help: "Total number of job assignment retries after worker failure",
		},
	)
)
