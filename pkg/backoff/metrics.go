package backoff

import (
	"context"
	"time"

	"github.com/botflow/botflow/pkg/metrics"
)

// MetricsBackoff wraps a Backoff with Prometheus metrics collection.
type MetricsBackoff struct {
	backoff  Backoff
	name     string
	registry *metrics.Registry
	enabled  bool
}

// NewWithConfigAndMetrics creates a backoff with custom config and metrics.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) Backoff {
	return WrapWithMetrics(NewWithConfig(config), name, metricsConfig)
}

// WrapWithMetrics decorates an existing backoff with metrics collection.
func WrapWithMetrics(inner Backoff, name string, metricsConfig metrics.Config) Backoff {
	if !metricsConfig.Enabled {
		return inner
	}

	registry := metrics.DefaultRegistry
	if metricsConfig.Registry != nil {
		registry = metrics.NewRegistry(metricsConfig.Registry)
	}

	return &MetricsBackoff{
		backoff:  inner,
		name:     name,
		registry: registry,
		enabled:  true,
	}
}

// Wait sleeps for the current delay, then grows the next delay.
func (mb *MetricsBackoff) Wait(ctx context.Context) error {
	err := mb.backoff.Wait(ctx)

	if mb.enabled && err == nil {
		mb.registry.BackoffWaits.WithLabelValues(mb.name).Inc()
		mb.registry.BackoffDelay.WithLabelValues(mb.name).Set(mb.backoff.Duration().Seconds())
	}

	return err
}

// Reset puts the next delay back to the initial delay.
func (mb *MetricsBackoff) Reset() {
	mb.backoff.Reset()

	if mb.enabled {
		mb.registry.BackoffDelay.WithLabelValues(mb.name).Set(mb.backoff.Duration().Seconds())
	}
}

// Duration returns the delay the next Wait will sleep.
func (mb *MetricsBackoff) Duration() time.Duration {
	return mb.backoff.Duration()
}

// Initial returns the first delay of the sequence.
func (mb *MetricsBackoff) Initial() time.Duration {
	return mb.backoff.Initial()
}

// Max returns the upper bound of the sequence.
func (mb *MetricsBackoff) Max() time.Duration {
	return mb.backoff.Max()
}

// IsReset reports whether the next delay equals the initial delay.
func (mb *MetricsBackoff) IsReset() bool {
	return mb.backoff.IsReset()
}

// IsAtMax reports whether the next delay equals the max delay.
func (mb *MetricsBackoff) IsAtMax() bool {
	return mb.backoff.IsAtMax()
}

// EnableMetrics enables metrics collection.
func (mb *MetricsBackoff) EnableMetrics(config metrics.Config) error {
	mb.enabled = config.Enabled

	if config.Registry != nil {
		mb.registry = metrics.NewRegistry(config.Registry)
	}

	return nil
}

// DisableMetrics disables metrics collection.
func (mb *MetricsBackoff) DisableMetrics() {
	mb.enabled = false
}

// MetricsEnabled returns true if metrics are currently enabled.
func (mb *MetricsBackoff) MetricsEnabled() bool {
	return mb.enabled
}
