// Package metrics exposes the engine's prometheus counters/histograms.
// Wires github.com/prometheus/client_golang for player-loop observability,
// since gasoline-mcp carries no metrics library of its own.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// StepsExecuted counts dispatched playback steps by eventType and
	// outcome ("ok", "failed").
	StepsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoqa_steps_executed_total",
		Help: "Total playback steps dispatched, labeled by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// LocatorAttempts counts P2 cascade attempts by strategy and outcome.
	LocatorAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoqa_locator_attempts_total",
		Help: "Total locator cascade attempts, labeled by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// HealingAttempts counts H2 healing invocations by stage and outcome.
	HealingAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoqa_healing_attempts_total",
		Help: "Total healing interceptor invocations, labeled by stage and outcome.",
	}, []string{"stage", "outcome"})

	// StepDuration observes per-step dispatch latency in seconds.
	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoqa_step_duration_seconds",
		Help:    "Per-step dispatch duration in seconds, labeled by event type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	// ErrorsByKind counts terminal errors by apierrors.Kind.
	ErrorsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoqa_errors_total",
		Help: "Total terminal errors, labeled by error kind.",
	}, []string{"kind"})
)

// Registry returns a prometheus registry with every engine collector
// registered, ready to be served by a caller-supplied promhttp handler.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(StepsExecuted, LocatorAttempts, HealingAttempts, StepDuration, ErrorsByKind)
	return reg
}
