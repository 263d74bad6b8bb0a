// Package metrics exposes Prometheus instrumentation for the orchestration
// core. Collectors are registered on the default registry; serve them with
// Handler on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openrelay_dispatch_total",
		Help: "Capability dispatches by platform, function and status.",
	}, []string{"platform", "function", "status"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openrelay_dispatch_duration_seconds",
		Help:    "Capability handler execution time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform", "function"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openrelay_sessions_total",
		Help: "Completed sessions by terminal state.",
	}, []string{"state"})

	ModelTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openrelay_model_turns_total",
		Help: "Completion service invocations.",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openrelay_cache_hits_total",
		Help: "Capability result cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openrelay_cache_misses_total",
		Help: "Capability result cache misses.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
