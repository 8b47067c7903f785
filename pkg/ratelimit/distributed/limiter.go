package distributed

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/botflow/botflow/pkg/metrics"
	"github.com/botflow/botflow/pkg/ratelimit/dual"
)

// Config holds configuration for a Redis-backed shared bucket.
type Config struct {
	// Redis is the client used for coordination. The limiter never
	// closes it; the caller owns its lifecycle.
	Redis redis.UniversalClient

	// Key is the Redis key prefix shared by every instance of this
	// bucket.
	Key string

	// Limit is the number of tokens granted per window.
	Limit int

	// Period is the window length.
	Period time.Duration

	// InstanceID identifies this process in the shared instance set.
	// Defaults to hostname plus a random UUID.
	InstanceID string

	// RedisTimeout bounds each Redis operation. Defaults to 100ms.
	RedisTimeout time.Duration

	// KeyTTL is how long idle state survives in Redis before it
	// evaporates. Defaults to ten periods.
	KeyTTL time.Duration

	// Fallback serves requests when Redis is unreachable. Optional;
	// without it Redis failures fail closed.
	Fallback dual.Bucket

	// Logger receives warnings about Redis failures. Defaults to a
	// no-op logger.
	Logger *zap.Logger

	// Metrics configures instrumentation for this limiter.
	Metrics metrics.Config
}

// applyDefaults fills the optional fields.
func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = generateInstanceID()
	}
	if c.RedisTimeout <= 0 {
		c.RedisTimeout = 100 * time.Millisecond
	}
	if c.KeyTTL <= 0 {
		c.KeyTTL = 10 * c.Period
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// validate rejects configurations the limiter cannot run with.
func (c *Config) validate() error {
	if c.Redis == nil {
		return &ConfigError{"redis client is required"}
	}
	if c.Key == "" {
		return &ConfigError{"key is required"}
	}
	if c.Limit < 1 {
		return &ConfigError{"limit must be positive"}
	}
	if c.Period < time.Nanosecond {
		return &ConfigError{"period must be positive"}
	}
	return nil
}

// Stats is a point-in-time snapshot of the shared bucket.
type Stats struct {
	Limit           int
	Remaining       int
	NextReset       time.Time
	Period          time.Duration
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	ActiveInstances []string
}

// ConfigError reports an invalid limiter configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "distributed limiter config: " + e.Message
}

// RedisError wraps a failed Redis operation. These failures are
// transient: callers may retry, and the context-free operations degrade
// to the fallback bucket instead of surfacing them.
type RedisError struct {
	Op  string
	Err error
}

func (e *RedisError) Error() string {
	return "redis error in " + e.Op + ": " + e.Err.Error()
}

func (e *RedisError) Unwrap() error {
	return e.Err
}
