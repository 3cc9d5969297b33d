// Package metrics exposes Prometheus collectors for the live-query poller
// core: one poll tick's shape (snapshot/batch/push durations), how much
// change-suppression is doing its job, and steady-state population sizes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollerActive tracks the number of live Pollers in the PollerMap.
	PollerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livequery_pollers_active",
		Help: "Number of pollers currently registered in the poller map.",
	})

	// CohortActive tracks the total number of live cohorts across all
	// pollers.
	CohortActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livequery_cohorts_active",
		Help: "Number of cohorts currently registered across all pollers.",
	})

	// SubscriberActive tracks the total number of live subscribers across
	// all cohorts.
	SubscriberActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livequery_subscribers_active",
		Help: "Number of subscribers currently registered across all cohorts.",
	})

	// TickDuration observes total tick wall-clock time.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livequery_tick_duration_seconds",
		Help:    "Total wall-clock duration of one poll tick.",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotDuration observes the snapshot phase of a tick.
	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livequery_snapshot_duration_seconds",
		Help:    "Duration of the snapshot-and-promote phase of a poll tick.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})

	// BatchExecutionDuration observes one batch's database round trip.
	BatchExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livequery_batch_execution_duration_seconds",
		Help:    "Duration of one batch's multiplexed query execution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "role"})

	// PushDuration observes one batch's fan-out to subscribers.
	PushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livequery_push_duration_seconds",
		Help:    "Duration of one batch's push-to-subscribers phase.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"source", "role"})

	// PushesTotal counts subscriber deliveries, split by whether the
	// payload carried an error ("pushed" or "pushed_error").
	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_pushes_total",
		Help: "Total subscriber pushes, labeled by result.",
	}, []string{"result"})

	// IgnoredTotal counts subscribers skipped because the payload was
	// unchanged (change suppression working as intended).
	IgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequery_ignored_total",
		Help: "Total subscriber notifications skipped due to unchanged response hash.",
	})

	// BatchErrorsTotal counts whole-batch execution failures.
	BatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_batch_errors_total",
		Help: "Total batch execution failures.",
	}, []string{"source", "role"})

	// InconsistentCohortsTotal counts cohort ids returned by the database
	// that did not correspond to any snapshot in the batch.
	InconsistentCohortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequery_inconsistent_cohorts_total",
		Help: "Total cohort ids returned by a source that were not part of the requesting batch.",
	})

	// CallbackErrorsTotal counts subscriber callback failures.
	CallbackErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequery_callback_errors_total",
		Help: "Total subscriber on_change_callback failures, isolated from the tick.",
	})

	// WorkerPanicsTotal counts recovered panics in a poller's tick loop.
	WorkerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequery_worker_panics_total",
		Help: "Total panics recovered from a poller worker's tick loop.",
	})
)
