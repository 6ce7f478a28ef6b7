// Package metrics exports batcher activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rshade/coalesce/internal/batch"
)

// Namespace prefixes every metric name.
const Namespace = "coalesce"

// Request outcomes.
const (
	outcomeNew          = "new"
	outcomeDeduplicated = "deduplicated"
)

// BatchMetrics holds the batcher metric vectors. Each vector is labelled by
// batcher name so several batchers can share one registry.
type BatchMetrics struct {
	requests *prometheus.CounterVec
	flushes  *prometheus.CounterVec
	failures *prometheus.CounterVec
	aborted  *prometheus.CounterVec
	size     *prometheus.HistogramVec
	waiters  *prometheus.HistogramVec
	duration *prometheus.HistogramVec
}

// NewBatchMetrics registers the batcher metrics with reg. A nil reg
// registers nothing, which is useful in tests.
func NewBatchMetrics(reg prometheus.Registerer) *BatchMetrics {
	f := promauto.With(reg)
	return &BatchMetrics{
		// requests tracks submissions by whether they joined a pending key
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "batch_requests_total",
				Help:      "Total submitted requests by batcher and outcome",
			},
			[]string{"batcher", "outcome"},
		),

		// flushes tracks executor calls by trigger
		flushes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "batch_flushes_total",
				Help:      "Total executor calls by batcher and trigger",
			},
			[]string{"batcher", "trigger"},
		),

		// failures tracks executor calls that failed as a whole
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "batch_failures_total",
				Help:      "Total failed executor calls by batcher",
			},
			[]string{"batcher"},
		),

		// aborted tracks groups resolved without calling the executor
		aborted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "batch_aborted_total",
				Help:      "Total groups aborted before execution by batcher and trigger",
			},
			[]string{"batcher", "trigger"},
		),

		size: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "batch_size_keys",
				Help:      "Distinct keys per executor call",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"batcher"},
		),

		waiters: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "batch_waiters",
				Help:      "Requests resolved per executor call",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"batcher"},
		),

		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "batch_execute_duration_seconds",
				Help:      "Executor call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"batcher"},
		),
	}
}

// For returns an Observer that records under the given batcher name.
func (m *BatchMetrics) For(name string) batch.Observer {
	return &observer{m: m, name: name}
}

type observer struct {
	m    *BatchMetrics
	name string
}

func (o *observer) ObserveSubmit(deduplicated bool) {
	outcome := outcomeNew
	if deduplicated {
		outcome = outcomeDeduplicated
	}
	o.m.requests.WithLabelValues(o.name, outcome).Inc()
}

func (o *observer) ObserveFlush(trigger batch.Trigger, size, waiters int, elapsed time.Duration, err error) {
	o.m.flushes.WithLabelValues(o.name, string(trigger)).Inc()
	o.m.size.WithLabelValues(o.name).Observe(float64(size))
	o.m.waiters.WithLabelValues(o.name).Observe(float64(waiters))
	o.m.duration.WithLabelValues(o.name).Observe(elapsed.Seconds())
	if err != nil {
		o.m.failures.WithLabelValues(o.name).Inc()
	}
}

func (o *observer) ObserveAbort(trigger batch.Trigger, _, _ int) {
	o.m.aborted.WithLabelValues(o.name, string(trigger)).Inc()
}
