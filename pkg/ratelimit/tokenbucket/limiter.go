package tokenbucket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/botflow/botflow/pkg/common/errors"
)

// Limiter controls how frequently events are allowed to happen using a
// window-anchored token bucket. The bucket holds Limit tokens per Period,
// trickles tokens back in as the window elapses, and snaps to full when
// the window resets. Its state can be reconciled from server rate-limit
// headers so the local view tracks the server's.
type Limiter interface {
	// Allow reports whether an event may happen now. It does not block.
	Allow() bool

	// Wait blocks until a token is acquired or ctx ends. A cancelled
	// wait never consumes a token.
	Wait(ctx context.Context) error

	// WaitTimeout blocks like Wait but gives up after the timeout
	// budget, returning errors.ErrTimeout. ctx ending returns ctx.Err()
	// and is a distinct condition from budget exhaustion.
	WaitTimeout(ctx context.Context, timeout time.Duration) error

	// ReturnToken gives one token back, clamped at the bucket limit.
	// Use it when the guarded operation was abandoned after acquiring.
	ReturnToken()

	// UpdateLimit sets the window capacity. Values below 1 and values
	// equal to the current limit are ignored. Shrinking the limit also
	// clamps the remaining count down.
	UpdateLimit(limit int)

	// UpdateRemaining sets the remaining token count, clamped to the
	// current limit. Negative and unchanged values are ignored.
	UpdateRemaining(remaining int)

	// UpdatePeriod sets the window length. Values below 1 and values
	// equal to the current period are ignored.
	UpdatePeriod(period time.Duration)

	// UpdateNextReset sets the absolute end of the current window.
	// Timestamps not after the current time, and unchanged values,
	// are ignored.
	UpdateNextReset(at time.Time)

	// ParseHeaders reconciles bucket state from rate-limit response
	// headers according to the mapping. Absent or unparseable values
	// are skipped per field; an unknown reset format is an error.
	ParseHeaders(h http.Header, m HeaderMapping) error

	// Limit returns the window capacity.
	Limit() int

	// Remaining returns the number of tokens currently available,
	// after crediting any refill the elapsed window owes.
	Remaining() int

	// Period returns the window length.
	Period() time.Duration

	// NextReset returns the absolute end of the current window.
	NextReset() time.Time

	// IsFull reports whether the bucket currently holds Limit tokens.
	IsFull() bool
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Limit is the number of tokens available per window.
	Limit int

	// Period is the length of the rate-limit window.
	Period time.Duration

	// Clock provides the current time. If nil, SystemClock is used.
	Clock Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int
}

// bucket implements the Limiter interface.
type bucket struct {
	mu        sync.RWMutex
	limit     int
	remaining int
	period    time.Duration
	nextReset time.Time
	// credited counts the trickle tokens already granted in the current
	// window, so repeated refill passes at the same instant do not grant
	// the same window credit twice. Always in [0, limit].
	credited int
	clock    Clock
}

// New creates a token bucket with limit tokens per period. Out-of-range
// values are clamped: limit to a minimum of 1, period to a minimum of
// one nanosecond. The bucket starts full.
func New(limit int, period time.Duration) Limiter {
	return NewWithConfig(Config{
		Limit:         limit,
		Period:        period,
		InitialTokens: -1,
	})
}

// NewWithConfig creates a token bucket from config, clamping out-of-range
// values the same way New does.
func NewWithConfig(config Config) Limiter {
	if config.Limit < 1 {
		config.Limit = 1
	}
	if config.Period < 1 {
		config.Period = 1
	}
	return newBucket(config)
}

// NewWithConfigSafe creates a token bucket from config, returning a
// validation error instead of clamping.
func NewWithConfigSafe(config Config) (Limiter, error) {
	if config.Limit < 1 {
		return nil, errors.NewValidationError("tokenbucket", "limit", config.Limit, "must be positive").
			WithHint("limit is the number of tokens per window")
	}
	if config.Period < 1 {
		return nil, errors.NewValidationError("tokenbucket", "period", config.Period, "must be positive").
			WithHint("period is the length of the rate-limit window")
	}
	return newBucket(config), nil
}

func newBucket(config Config) *bucket {
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}

	remaining := config.InitialTokens
	if remaining < 0 || remaining > config.Limit {
		remaining = config.Limit
	}

	return &bucket{
		limit:     config.Limit,
		remaining: remaining,
		period:    config.Period,
		nextReset: config.Clock.Now().Add(config.Period),
		clock:     config.Clock,
	}
}
