// Package backoff provides escalating retry delays with exponential and
// linear growth policies, an upper bound, and a reset hook.
package backoff

import (
	"context"
	"sync"
	"time"
)

// Backoff produces a deterministic, increasing delay sequence for retry
// loops. Implementations are safe for concurrent use.
type Backoff interface {
	// Wait sleeps for the current delay, then grows the next delay by
	// the policy, clamped to Max. A wait interrupted by ctx returns
	// ctx.Err() and leaves the escalation state unchanged.
	Wait(ctx context.Context) error

	// Reset puts the next delay back to Initial.
	Reset()

	// Duration returns the delay the next Wait will sleep.
	Duration() time.Duration

	// Initial returns the first delay of the sequence.
	Initial() time.Duration

	// Max returns the upper bound of the sequence.
	Max() time.Duration

	// IsReset reports whether the next delay equals Initial.
	IsReset() bool

	// IsAtMax reports whether the next delay equals Max.
	IsAtMax() bool
}

// Strategy selects how the delay grows after each wait.
type Strategy int

const (
	// StrategyExponential doubles the delay after each wait.
	StrategyExponential Strategy = iota

	// StrategyLinear adds a fixed step after each wait.
	StrategyLinear
)

// String returns the config-file name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyExponential:
		return "exponential"
	case StrategyLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// Config holds configuration options for creating a Backoff.
type Config struct {
	// Initial is the first delay of the sequence.
	Initial time.Duration

	// Max is the upper bound of the sequence.
	Max time.Duration

	// Step is the increment added per wait. Only used by StrategyLinear.
	Step time.Duration

	// Strategy selects the growth policy.
	Strategy Strategy
}

// policy implements Backoff for all growth strategies.
type policy struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	next    time.Duration
	grow    func(time.Duration) time.Duration
}

// NewExponential creates a backoff that doubles from initial up to max.
// Out-of-range values are clamped: initial to a minimum of one
// nanosecond, max to a minimum of initial.
func NewExponential(initial, max time.Duration) Backoff {
	return NewWithConfig(Config{
		Initial:  initial,
		Max:      max,
		Strategy: StrategyExponential,
	})
}

// NewLinear creates a backoff that grows by step from initial up to max,
// clamping the same way NewExponential does. A negative step is clamped
// to zero.
func NewLinear(initial, max, step time.Duration) Backoff {
	return NewWithConfig(Config{
		Initial:  initial,
		Max:      max,
		Step:     step,
		Strategy: StrategyLinear,
	})
}

// NewWithConfig creates a backoff from config, clamping out-of-range
// values the same way NewExponential does.
func NewWithConfig(config Config) Backoff {
	if config.Initial < 1 {
		config.Initial = 1
	}
	if config.Max < config.Initial {
		config.Max = config.Initial
	}
	if config.Step < 0 {
		config.Step = 0
	}

	var grow func(time.Duration) time.Duration
	switch config.Strategy {
	case StrategyLinear:
		step := config.Step
		grow = func(d time.Duration) time.Duration { return d + step }
	default:
		grow = func(d time.Duration) time.Duration { return d * 2 }
	}

	return &policy{
		initial: config.Initial,
		max:     config.Max,
		next:    config.Initial,
		grow:    grow,
	}
}

// Wait sleeps for the current delay, then grows the next delay.
func (p *policy) Wait(ctx context.Context) error {
	// Check if context is already canceled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.mu.Lock()
	d := p.next
	p.mu.Unlock()

	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	p.escalate()
	return nil
}

// escalate grows the next delay by the policy, clamped to max. Already
// being at max is a no-op.
func (p *policy) escalate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= p.max {
		return
	}
	next := p.grow(p.next)
	if next > p.max || next <= 0 { // non-positive means the growth overflowed
		next = p.max
	}
	p.next = next
}

// Reset puts the next delay back to the initial delay.
func (p *policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = p.initial
}

// Duration returns the delay the next Wait will sleep.
func (p *policy) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Initial returns the first delay of the sequence.
func (p *policy) Initial() time.Duration {
	return p.initial
}

// Max returns the upper bound of the sequence.
func (p *policy) Max() time.Duration {
	return p.max
}

// IsReset reports whether the next delay equals the initial delay.
func (p *policy) IsReset() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next == p.initial
}

// IsAtMax reports whether the next delay equals the max delay.
func (p *policy) IsAtMax() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next == p.max
}
