package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	violations prometheus.Counter
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyledger",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		}, []string{"op", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyledger",
			Subsystem: "ledger",
			Name:      "conflict_retries_total",
			Help:      "Transactions retried after a conflict on the same topic.",
		}, []string{"op"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "studyledger",
			Subsystem: "ledger",
			Name:      "consistency_violations_total",
			Help:      "Retractions refused because the aggregate disagreed with history.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studyledger",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) observe(op string, err error, start time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) retried(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) violation() {
	if m == nil {
		return
	}
	m.violations.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrConsistencyViolation):
		return "consistency_violation"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
