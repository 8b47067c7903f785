package tokenbucket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	bferrors "github.com/botflow/botflow/pkg/common/errors"
	"github.com/botflow/botflow/pkg/metrics"
)

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	limiter  Limiter
	name     string
	registry *metrics.Registry
	enabled  bool
}

// NewWithMetrics creates a token bucket limiter with metrics enabled.
func NewWithMetrics(limit int, period time.Duration, name string) Limiter {
	// Use a separate registry for each metrics-enabled component to avoid conflicts
	registry := prometheus.NewRegistry()
	config := metrics.Config{
		Enabled:  true,
		Registry: registry,
	}

	return NewWithConfigAndMetrics(Config{
		Limit:         limit,
		Period:        period,
		InitialTokens: -1,
	}, name, config)
}

// NewWithConfigAndMetrics creates a token bucket limiter with custom config and metrics.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) Limiter {
	return WrapWithMetrics(NewWithConfig(config), name, metricsConfig)
}

// WrapWithMetrics decorates an existing limiter with metrics collection.
func WrapWithMetrics(inner Limiter, name string, metricsConfig metrics.Config) Limiter {
	if !metricsConfig.Enabled {
		return inner
	}

	registry := metrics.DefaultRegistry
	if metricsConfig.Registry != nil {
		registry = metrics.NewRegistry(metricsConfig.Registry)
	}

	return &MetricsLimiter{
		limiter:  inner,
		name:     name,
		registry: registry,
		enabled:  true,
	}
}

// Allow reports whether an event may happen now.
func (ml *MetricsLimiter) Allow() bool {
	allowed := ml.limiter.Allow()

	if ml.enabled {
		if allowed {
			ml.registry.RateLimitAcquires.WithLabelValues(ml.name, "acquired").Inc()
		} else {
			ml.registry.RateLimitAcquires.WithLabelValues(ml.name, "rejected").Inc()
		}
		ml.registry.RateLimitRemaining.WithLabelValues(ml.name).Set(float64(ml.limiter.Remaining()))
	}

	return allowed
}

// Wait blocks until a token is acquired or ctx ends.
func (ml *MetricsLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := ml.limiter.Wait(ctx)
	ml.observeWait(start, err)
	return err
}

// WaitTimeout blocks like Wait but gives up after the timeout budget.
func (ml *MetricsLimiter) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	err := ml.limiter.WaitTimeout(ctx, timeout)
	ml.observeWait(start, err)
	return err
}

func (ml *MetricsLimiter) observeWait(start time.Time, err error) {
	if !ml.enabled {
		return
	}

	ml.registry.RateLimitWaitTime.WithLabelValues(ml.name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		ml.registry.RateLimitAcquires.WithLabelValues(ml.name, "acquired").Inc()
	case errors.Is(err, bferrors.ErrTimeout):
		ml.registry.RateLimitAcquires.WithLabelValues(ml.name, "timeout").Inc()
	default:
		ml.registry.RateLimitAcquires.WithLabelValues(ml.name, "cancelled").Inc()
	}

	ml.registry.RateLimitRemaining.WithLabelValues(ml.name).Set(float64(ml.limiter.Remaining()))
}

// ReturnToken gives one token back, clamped at the bucket limit.
func (ml *MetricsLimiter) ReturnToken() {
	ml.limiter.ReturnToken()

	if ml.enabled {
		ml.registry.RateLimitReturned.WithLabelValues(ml.name).Inc()
		ml.registry.RateLimitRemaining.WithLabelValues(ml.name).Set(float64(ml.limiter.Remaining()))
	}
}

// UpdateLimit sets the window capacity.
func (ml *MetricsLimiter) UpdateLimit(limit int) {
	ml.limiter.UpdateLimit(limit)
}

// UpdateRemaining sets the remaining token count.
func (ml *MetricsLimiter) UpdateRemaining(remaining int) {
	ml.limiter.UpdateRemaining(remaining)
}

// UpdatePeriod sets the window length.
func (ml *MetricsLimiter) UpdatePeriod(period time.Duration) {
	ml.limiter.UpdatePeriod(period)
}

// UpdateNextReset sets the absolute end of the current window.
func (ml *MetricsLimiter) UpdateNextReset(at time.Time) {
	ml.limiter.UpdateNextReset(at)
}

// ParseHeaders reconciles bucket state from rate-limit response headers,
// counting each field the reconciliation changed.
func (ml *MetricsLimiter) ParseHeaders(h http.Header, m HeaderMapping) error {
	if !ml.enabled {
		return ml.limiter.ParseHeaders(h, m)
	}

	beforeLimit := ml.limiter.Limit()
	beforeRemaining := ml.limiter.Remaining()
	beforeReset := ml.limiter.NextReset()

	err := ml.limiter.ParseHeaders(h, m)
	if err != nil {
		return err
	}

	if ml.limiter.Limit() != beforeLimit {
		ml.registry.RateLimitReconciles.WithLabelValues(ml.name, "limit").Inc()
	}
	if ml.limiter.Remaining() != beforeRemaining {
		ml.registry.RateLimitReconciles.WithLabelValues(ml.name, "remaining").Inc()
	}
	if !ml.limiter.NextReset().Equal(beforeReset) {
		ml.registry.RateLimitReconciles.WithLabelValues(ml.name, "next_reset").Inc()
	}
	ml.registry.RateLimitRemaining.WithLabelValues(ml.name).Set(float64(ml.limiter.Remaining()))

	return nil
}

// Limit returns the window capacity.
func (ml *MetricsLimiter) Limit() int {
	return ml.limiter.Limit()
}

// Remaining returns the number of tokens currently available.
func (ml *MetricsLimiter) Remaining() int {
	remaining := ml.limiter.Remaining()

	if ml.enabled {
		ml.registry.RateLimitRemaining.WithLabelValues(ml.name).Set(float64(remaining))
	}

	return remaining
}

// Period returns the window length.
func (ml *MetricsLimiter) Period() time.Duration {
	return ml.limiter.Period()
}

// NextReset returns the absolute end of the current window.
func (ml *MetricsLimiter) NextReset() time.Time {
	return ml.limiter.NextReset()
}

// IsFull reports whether the bucket currently holds Limit tokens.
func (ml *MetricsLimiter) IsFull() bool {
	return ml.limiter.IsFull()
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
