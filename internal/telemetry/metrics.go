// Package telemetry holds the Prometheus metrics, the metrics HTTP server
// and the OpenTelemetry tracer setup shared by every pipeline component.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

var (
	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Subsystem: "scheduler",
		Name:      "tasks_total",
		Help:      "Tasks processed by the stage scheduler, labelled by consumed stage and outcome.",
	}, []string{"stage", "outcome"})

	SchedulerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quill",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one RunOnce invocation.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	// ─── Similarity gate ─────────────────────────────────────────────────────────

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Duplicate gate decisions: accepted, rejected or error.",
	}, []string{"outcome"})

	// ─── External calls ──────────────────────────────────────────────────────────

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "retry_attempts_total",
		Help:      "Failed attempts that were retried, labelled by operation.",
	}, []string{"operation"})

	ExternalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quill",
		Name:      "external_call_duration_seconds",
		Help:      "Latency of calls to the model, embedding and retrieval endpoints.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})
)

// ObserveExternalCall records the time since start for endpoint.
func ObserveExternalCall(endpoint string, start time.Time) {
	ExternalCallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
