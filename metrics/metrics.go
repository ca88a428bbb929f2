// Package metrics records what the submitter does in Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "txsubmitter"

// Submission outcomes used as label values.
const (
	OutcomeSuccess   = "success"
	OutcomeReverted  = "reverted"
	OutcomeRejected  = "rejected"
	OutcomeTimeout   = "timeout"
	OutcomeLockBusy  = "lock_timeout"
	OutcomeCancelled = "cancelled"
)

type Metricer interface {
	RecordSubmission(outcome string, took time.Duration)
	RecordBroadcast()
	RecordResubmission()
	RecordLockWait(took time.Duration, timedOut bool)
	RecordFinalizationTimeout()
	RecordReorg()
}

type Metrics struct {
	Submissions          *prometheus.CounterVec
	SubmissionDuration   prometheus.Histogram
	Broadcasts           prometheus.Counter
	Resubmissions        prometheus.Counter
	LockWait             prometheus.Histogram
	LockTimeouts         prometheus.Counter
	FinalizationTimeouts prometheus.Counter
	ReorgsDetected       prometheus.Counter

	registry *prometheus.Registry
}

var _ Metricer = (*Metrics)(nil)

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	m.registry = reg
	return m
}

// NewMetricsWith registers all collectors on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "submissions_total",
				Help:      "number of logical submissions by outcome",
			},
			[]string{"outcome"},
		),
		SubmissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "submission_duration_seconds",
				Help:      "time from lock request to outcome of a submission",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		Broadcasts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "broadcasts_total",
				Help:      "number of physical transactions accepted by the node",
			},
		),
		Resubmissions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "resubmissions_total",
				Help:      "number of broadcasts after the first one of a submission",
			},
		),
		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "lock_wait_seconds",
				Help:      "time spent waiting for an address lock",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		LockTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "lock_timeouts_total",
				Help:      "number of address lock acquisitions that timed out",
			},
		),
		FinalizationTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "finalization_timeouts_total",
				Help:      "number of finalization waits that timed out",
			},
		),
		ReorgsDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "reorgs_detected_total",
				Help:      "number of times a nonce fell back while waiting for extra blocks",
			},
		),
	}
}

func (m *Metrics) RecordSubmission(outcome string, took time.Duration) {
	m.Submissions.WithLabelValues(outcome).Inc()
	m.SubmissionDuration.Observe(took.Seconds())
}

func (m *Metrics) RecordBroadcast() {
	m.Broadcasts.Inc()
}

func (m *Metrics) RecordResubmission() {
	m.Resubmissions.Inc()
}

func (m *Metrics) RecordLockWait(took time.Duration, timedOut bool) {
	m.LockWait.Observe(took.Seconds())
	if timedOut {
		m.LockTimeouts.Inc()
	}
}

func (m *Metrics) RecordFinalizationTimeout() {
	m.FinalizationTimeouts.Inc()
}

func (m *Metrics) RecordReorg() {
	m.ReorgsDetected.Inc()
}

// Handler serves the metrics of a registry created by NewMetrics. It returns
// nil for metrics registered elsewhere.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
