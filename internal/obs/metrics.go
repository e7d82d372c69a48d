package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the fire-and-forget metrics side channel consumed by the core
// components. Implementations must never return errors or panic into the
// caller; a broken sink must not change an operation's outcome.
type Sink interface {
	// Count increments a counter for the named operation with a status
	// label, conventionally "success" or "error".
	Count(operation, status string)
	// Observe records a duration (in seconds) for the named operation.
	Observe(operation string, seconds float64)
}

var (
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total number of auth core operations by outcome.",
		},
		[]string{"operation", "status"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Latency of auth core operations in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"operation"},
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"name", "to"},
	)
)

// Init registers the core metrics in the default registry.
func Init() {
	prometheus.MustRegister(opsTotal, opDuration, breakerTransitions)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PromSink reports into the package-level Prometheus collectors.
type PromSink struct{}

func (PromSink) Count(operation, status string) {
	opsTotal.WithLabelValues(operation, status).Inc()
}

func (PromSink) Observe(operation string, seconds float64) {
	opDuration.WithLabelValues(operation).Observe(seconds)
}

// BreakerTransition records a circuit breaker state change.
func BreakerTransition(name, to string) {
	breakerTransitions.WithLabelValues(name, to).Inc()
}

// NopSink discards all measurements. Useful default for tests.
type NopSink struct{}

func (NopSink) Count(string, string)    {}
func (NopSink) Observe(string, float64) {}
