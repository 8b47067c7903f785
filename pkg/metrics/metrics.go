// Package metrics provides Prometheus instrumentation for botflow components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for botflow components.
type Registry struct {
	// Token Bucket Metrics
	RateLimitAcquires   *prometheus.CounterVec
	RateLimitReturned   *prometheus.CounterVec
	RateLimitWaitTime   *prometheus.HistogramVec
	RateLimitRemaining  *prometheus.GaugeVec
	RateLimitReconciles *prometheus.CounterVec

	// Dual Bucket Metrics
	DualAcquires        *prometheus.CounterVec
	DualStrandedReturns *prometheus.CounterVec

	// Backoff Metrics
	BackoffWaits *prometheus.CounterVec
	BackoffDelay *prometheus.GaugeVec

	// Keyed Registry Metrics
	RegistryBuckets *prometheus.GaugeVec
	RegistrySweeps  *prometheus.CounterVec
	RegistrySwept   *prometheus.CounterVec

	// Distributed Limiter Metrics
	DistributedErrors    *prometheus.CounterVec
	DistributedFallbacks *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by botflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		// Token Bucket Metrics
		RateLimitAcquires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "ratelimit",
				Name:      "acquires_total",
				Help:      "Total number of token acquire attempts by outcome",
			},
			[]string{"limiter_name", "outcome"},
		),

		RateLimitReturned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "ratelimit",
				Name:      "tokens_returned_total",
				Help:      "Total number of tokens returned to the bucket",
			},
			[]string{"limiter_name"},
		),

		RateLimitWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "botflow",
				Subsystem: "ratelimit",
				Name:      "wait_duration_seconds",
				Help:      "Time spent waiting for a token",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"limiter_name"},
		),

		RateLimitRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "botflow",
				Subsystem: "ratelimit",
				Name:      "tokens_remaining",
				Help:      "Number of tokens currently available",
			},
			[]string{"limiter_name"},
		),

		RateLimitReconciles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "ratelimit",
				Name:      "reconciles_total",
				Help:      "Total number of bucket fields updated from response headers",
			},
			[]string{"limiter_name", "field"},
		),

		// Dual Bucket Metrics
		DualAcquires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "dual",
				Name:      "pair_acquires_total",
				Help:      "Total number of dual-bucket acquire attempts by outcome",
			},
			[]string{"pair_name", "outcome"},
		),

		DualStrandedReturns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "dual",
				Name:      "stranded_returns_total",
				Help:      "Total number of tokens returned because the other side failed",
			},
			[]string{"pair_name", "side"},
		),

		// Backoff Metrics
		BackoffWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "backoff",
				Name:      "waits_total",
				Help:      "Total number of backoff waits",
			},
			[]string{"policy_name"},
		),

		BackoffDelay: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "botflow",
				Subsystem: "backoff",
				Name:      "current_delay_seconds",
				Help:      "Next backoff delay in seconds",
			},
			[]string{"policy_name"},
		),

		// Keyed Registry Metrics
		RegistryBuckets: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "botflow",
				Subsystem: "registry",
				Name:      "buckets_active",
				Help:      "Number of per-key limiters currently tracked",
			},
			[]string{"registry_name"},
		),

		RegistrySweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "registry",
				Name:      "sweeps_total",
				Help:      "Total number of idle sweeps performed",
			},
			[]string{"registry_name"},
		),

		RegistrySwept: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "registry",
				Name:      "buckets_swept_total",
				Help:      "Total number of idle per-key limiters removed",
			},
			[]string{"registry_name"},
		),

		// Distributed Limiter Metrics
		DistributedErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "distributed",
				Name:      "redis_errors_total",
				Help:      "Total number of Redis operation failures",
			},
			[]string{"key", "op"},
		),

		DistributedFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botflow",
				Subsystem: "distributed",
				Name:      "fallbacks_total",
				Help:      "Total number of requests served by the local fallback bucket",
			},
			[]string{"key"},
		),
	}
}
