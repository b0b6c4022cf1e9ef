// Package telemetry records resilience events for external alerting.
// Recording is fire-and-forget: implementations must never block or fail
// the operation they are measuring.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event names emitted by the resilience layer.
const (
	EventAttempt           = "attempt"
	EventOutcome           = "outcome"
	EventCircuitTransition = "circuit.transition"
	EventJobCompleted      = "queue.job.completed"
	EventJobRetried        = "queue.job.retried"
	EventJobDeadLetter     = "queue.job.dead_letter"
	EventDedupe            = "queue.dedupe"
	EventStorageDegraded   = "storage.degraded"
)

// Recorder is the telemetry sink consumed by the executor, the queue, and
// the circuit breaker wiring.
type Recorder interface {
	Record(event string, d time.Duration, tags map[string]string)
}

// Nop discards all events. Used in tests.
type Nop struct{}

func (Nop) Record(string, time.Duration, map[string]string) {}

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_attempts_total",
			Help: "Total call attempts against external dependencies",
		},
		[]string{"key", "result"},
	)

	attemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_attempt_latency_seconds",
			Help:    "Latency of individual call attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"key"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_outcomes_total",
			Help: "Terminal outcomes of retried operations",
		},
		[]string{"key", "result"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_circuit_state",
			Help: "Circuit state per dependency key (0=closed, 1=half_open, 2=open)",
		},
		[]string{"key"},
	)

	circuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_circuit_transitions_total",
			Help: "Circuit state transitions",
		},
		[]string{"key", "to"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_queue_jobs_total",
			Help: "Webhook jobs by terminal disposition per processing pass",
		},
		[]string{"kind", "result"},
	)

	jobLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_queue_job_latency_seconds",
			Help:    "Webhook job processing latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	dedupeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dedupe_total",
			Help: "Webhook ingestion deduplication checks",
		},
		[]string{"result"},
	)

	storageDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_queue_storage_degraded_total",
			Help: "Persistence failures absorbed in degraded mode",
		},
	)

	// DBConnectionPoolUsage tracks connection pool utilization percentage.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connection_pool_usage_percent",
			Help: "Database connection pool utilization",
		},
	)
)

// Prometheus routes events into package-level collectors.
type Prometheus struct{}

func NewPrometheus() *Prometheus { return &Prometheus{} }

func (p *Prometheus) Record(event string, d time.Duration, tags map[string]string) {
	switch event {
	case EventAttempt:
		attemptsTotal.WithLabelValues(tags["key"], tags["result"]).Inc()
		attemptLatency.WithLabelValues(tags["key"]).Observe(d.Seconds())
	case EventOutcome:
		outcomesTotal.WithLabelValues(tags["key"], tags["result"]).Inc()
	case EventCircuitTransition:
		circuitTransitionsTotal.WithLabelValues(tags["key"], tags["to"]).Inc()
		circuitState.WithLabelValues(tags["key"]).Set(stateValue(tags["to"]))
	case EventJobCompleted:
		jobsTotal.WithLabelValues(tags["kind"], "completed").Inc()
		jobLatency.WithLabelValues(tags["kind"]).Observe(d.Seconds())
	case EventJobRetried:
		jobsTotal.WithLabelValues(tags["kind"], "retried").Inc()
		jobLatency.WithLabelValues(tags["kind"]).Observe(d.Seconds())
	case EventJobDeadLetter:
		jobsTotal.WithLabelValues(tags["kind"], "dead_letter").Inc()
	case EventDedupe:
		dedupeTotal.WithLabelValues(tags["result"]).Inc()
	case EventStorageDegraded:
		storageDegradedTotal.Inc()
	}
}

func stateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 2
	case "HALF_OPEN":
		return 1
	default:
		return 0
	}
}
