package dual

import (
	"context"
	"time"

	"github.com/botflow/botflow/pkg/metrics"
)

// MetricsLimiter wraps a dual Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	limiter  *Limiter
	name     string
	registry *metrics.Registry
	enabled  bool
}

// NewWithMetrics creates a dual limiter with metrics collection.
func NewWithMetrics(local, global Bucket, name string, metricsConfig metrics.Config) (*MetricsLimiter, error) {
	limiter, err := New(local, global)
	if err != nil {
		return nil, err
	}

	registry := metrics.DefaultRegistry
	if metricsConfig.Registry != nil {
		registry = metrics.NewRegistry(metricsConfig.Registry)
	}

	return &MetricsLimiter{
		limiter:  limiter,
		name:     name,
		registry: registry,
		enabled:  metricsConfig.Enabled,
	}, nil
}

// Local returns the per-channel bucket.
func (ml *MetricsLimiter) Local() Bucket {
	return ml.limiter.Local()
}

// Global returns the shared bucket.
func (ml *MetricsLimiter) Global() Bucket {
	return ml.limiter.Global()
}

// Wait acquires a token from both buckets, blocking until both grant or
// ctx ends.
func (ml *MetricsLimiter) Wait(ctx context.Context) bool {
	return ml.observeAcquire(func(b Bucket) error {
		return b.Wait(ctx)
	})
}

// WaitTimeout acquires like Wait but gives each side the same timeout
// budget.
func (ml *MetricsLimiter) WaitTimeout(ctx context.Context, timeout time.Duration) bool {
	return ml.observeAcquire(func(b Bucket) error {
		return b.WaitTimeout(ctx, timeout)
	})
}

func (ml *MetricsLimiter) observeAcquire(wait func(Bucket) error) bool {
	if !ml.enabled {
		return ml.limiter.acquire(wait)
	}

	acquired := ml.limiter.acquireObserved(wait, func(side string) {
		ml.registry.DualStrandedReturns.WithLabelValues(ml.name, side).Inc()
	})

	if acquired {
		ml.registry.DualAcquires.WithLabelValues(ml.name, "acquired").Inc()
	} else {
		ml.registry.DualAcquires.WithLabelValues(ml.name, "rejected").Inc()
	}
	return acquired
}

// Allow reports whether a token was acquired from both buckets without
// blocking.
func (ml *MetricsLimiter) Allow() bool {
	if !ml.enabled {
		return ml.limiter.Allow()
	}

	if !ml.limiter.local.Allow() {
		ml.registry.DualAcquires.WithLabelValues(ml.name, "rejected").Inc()
		return false
	}
	if !ml.limiter.global.Allow() {
		ml.registry.DualStrandedReturns.WithLabelValues(ml.name, "local").Inc()
		ml.limiter.local.ReturnToken()
		ml.registry.DualAcquires.WithLabelValues(ml.name, "rejected").Inc()
		return false
	}
	ml.registry.DualAcquires.WithLabelValues(ml.name, "acquired").Inc()
	return true
}

// IsBothFull reports whether both buckets are at capacity.
func (ml *MetricsLimiter) IsBothFull() bool {
	return ml.limiter.IsBothFull()
}

// EnableMetrics enables metrics collection.
func (ml *MetricsLimiter) EnableMetrics(config metrics.Config) error {
	ml.enabled = config.Enabled

	if config.Registry != nil {
		ml.registry = metrics.NewRegistry(config.Registry)
	}

	return nil
}

// DisableMetrics disables metrics collection.
func (ml *MetricsLimiter) DisableMetrics() {
	ml.enabled = false
}

// MetricsEnabled returns true if metrics are currently enabled.
func (ml *MetricsLimiter) MetricsEnabled() bool {
	return ml.enabled
}
