// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bukoai"

var (
	// Resilience layer

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total retry attempts against the generation service",
		},
		[]string{"dependency", "kind"},
	)

	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"dependency", "to"},
	)

	BreakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_rejections_total",
			Help:      "Calls rejected fast while the breaker was open",
		},
		[]string{"dependency"},
	)

	// Job lifecycle

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobsDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "deferred_total",
			Help:      "Jobs requeued due to rate limits or open breakers",
		},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "End-to-end job duration",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 2400, 3600, 7200},
		},
	)

	// Generation

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed per phase",
		},
		[]string{"phase", "type"}, // type: prompt/completion/reasoning
	)

	ChunkCompliance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coherence",
			Name:      "chunk_compliance_ratio",
			Help:      "Measured/target page ratio per accepted chunk",
			Buckets:   []float64{0.5, 0.7, 0.8, 0.9, 0.95, 1.0, 1.05, 1.1, 1.25, 1.5},
		},
	)

	ExpansionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coherence",
			Name:      "expansions_total",
			Help:      "Organic expansion calls issued to close page shortfalls",
		},
	)
)
