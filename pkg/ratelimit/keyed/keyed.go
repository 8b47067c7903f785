// Package keyed maintains one dual limiter per key, typically one per
// chat channel, with every pair sharing a single global bucket. Entries
// are created on first use and swept on a cron schedule once they have
// sat idle at full capacity.
package keyed

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/botflow/botflow/pkg/common/errors"
	"github.com/botflow/botflow/pkg/metrics"
	"github.com/botflow/botflow/pkg/ratelimit/dual"
	"github.com/botflow/botflow/pkg/ratelimit/tokenbucket"
)

// Config holds configuration options for creating a Registry.
type Config struct {
	// LocalLimit is the per-key bucket capacity.
	LocalLimit int

	// LocalPeriod is the per-key bucket window length.
	LocalPeriod time.Duration

	// Global is the bucket shared by every key. Required.
	Global dual.Bucket

	// IdleAfter is how long an entry must sit unused before the sweeper
	// may remove it. Defaults to 15 minutes.
	IdleAfter time.Duration

	// SweepSchedule is a cron expression for the idle sweeper.
	// Defaults to "@every 5m".
	SweepSchedule string

	// Clock provides the current time. If nil, the system clock is used.
	Clock tokenbucket.Clock

	// Logger receives sweep and lifecycle events. If nil, logging is off.
	Logger *zap.Logger

	// Metrics configures metrics collection for the registry.
	Metrics metrics.Config

	// Name labels this registry in logs and metrics. Defaults to "keyed".
	Name string
}

func (c *Config) applyDefaults() {
	if c.IdleAfter <= 0 {
		c.IdleAfter = 15 * time.Minute
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 5m"
	}
	if c.Clock == nil {
		c.Clock = tokenbucket.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Name == "" {
		c.Name = "keyed"
	}
}

func (c *Config) validate() error {
	if c.Global == nil {
		return errors.NewValidationError("keyed", "global", nil, "shared bucket is required")
	}
	if c.LocalLimit < 1 {
		return errors.NewValidationError("keyed", "local_limit", c.LocalLimit, "must be positive")
	}
	if c.LocalPeriod < 1 {
		return errors.NewValidationError("keyed", "local_period", c.LocalPeriod, "must be positive")
	}
	return nil
}

// entry tracks one key's pair and when it was last requested.
type entry struct {
	limiter  *dual.Limiter
	local    tokenbucket.Limiter
	lastUsed time.Time
}

// Registry hands out one dual limiter per key and sweeps idle entries
// in the background. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	config   Config
	schedule cron.Schedule

	metricsReg *metrics.Registry
	metricsOn  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a registry and starts its sweeper.
func New(config Config) (*Registry, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(config.SweepSchedule)
	if err != nil {
		return nil, errors.NewValidationError("keyed", "sweep_schedule", config.SweepSchedule, "invalid cron expression").
			WithHint("standard cron fields or descriptors like @every 5m")
	}

	metricsReg := metrics.DefaultRegistry
	if config.Metrics.Registry != nil {
		metricsReg = metrics.NewRegistry(config.Metrics.Registry)
	}

	r := &Registry{
		entries:    make(map[string]*entry),
		config:     config,
		schedule:   schedule,
		metricsReg: metricsReg,
		metricsOn:  config.Metrics.Enabled,
		stop:       make(chan struct{}),
	}

	r.wg.Add(1)
	go r.sweeperLoop()

	return r, nil
}

// Get returns the limiter pair for key, creating it on first use. The
// entry's idle timer restarts on every call.
func (r *Registry) Get(key string) *dual.Limiter {
	now := r.config.Clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.lastUsed = now
		return e.limiter
	}

	local := tokenbucket.NewWithConfig(tokenbucket.Config{
		Limit:         r.config.LocalLimit,
		Period:        r.config.LocalPeriod,
		Clock:         r.config.Clock,
		InitialTokens: -1,
	})
	pair, _ := dual.New(local, r.config.Global) // global is validated at construction

	r.entries[key] = &entry{limiter: pair, local: local, lastUsed: now}
	size := len(r.entries)

	r.config.Logger.Debug("created keyed limiter",
		zap.String("registry", r.config.Name),
		zap.String("key", key),
		zap.Int("active", size))
	if r.metricsOn {
		r.metricsReg.RegistryBuckets.WithLabelValues(r.config.Name).Set(float64(size))
	}

	return pair
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the tracked keys in no particular order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	return keys
}

// Remove drops the entry for key, reporting whether one existed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	_, existed := r.entries[key]
	delete(r.entries, key)
	size := len(r.entries)
	r.mu.Unlock()

	if existed && r.metricsOn {
		r.metricsReg.RegistryBuckets.WithLabelValues(r.config.Name).Set(float64(size))
	}
	return existed
}

// Close stops the sweeper. It is idempotent, and Get keeps working after
// Close; entries simply stop being swept.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
	return nil
}

// sweeperLoop waits out the schedule and sweeps until Close.
func (r *Registry) sweeperLoop() {
	defer r.wg.Done()

	for {
		next := r.schedule.Next(r.config.Clock.Now())
		timer := time.NewTimer(next.Sub(r.config.Clock.Now()))

		select {
		case <-timer.C:
			r.sweep()
		case <-r.stop:
			timer.Stop()
			return
		}
	}
}

// sweep removes entries that have been idle for at least IdleAfter and
// whose local bucket is back at capacity. An idle key with tokens still
// missing keeps its entry so the partial window is not forgotten.
func (r *Registry) sweep() {
	now := r.config.Clock.Now()

	r.mu.Lock()
	swept := 0
	for key, e := range r.entries {
		if now.Sub(e.lastUsed) >= r.config.IdleAfter && e.local.IsFull() {
			delete(r.entries, key)
			swept++
		}
	}
	size := len(r.entries)
	r.mu.Unlock()

	r.config.Logger.Debug("swept idle keyed limiters",
		zap.String("registry", r.config.Name),
		zap.Int("swept", swept),
		zap.Int("active", size))
	if r.metricsOn {
		r.metricsReg.RegistrySweeps.WithLabelValues(r.config.Name).Inc()
		r.metricsReg.RegistrySwept.WithLabelValues(r.config.Name).Add(float64(swept))
		r.metricsReg.RegistryBuckets.WithLabelValues(r.config.Name).Set(float64(size))
	}
}
