// Package dual pairs a per-channel token bucket with a shared global
// bucket and acquires from both as one unit. A send proceeds only when
// both sides grant a token; if exactly one side grants, its token is
// handed back so a half-acquired pair never leaks budget.
package dual

import (
	"context"
	"sync"
	"time"

	"github.com/botflow/botflow/pkg/common/errors"
)

// Bucket is the slice of a token bucket the pair needs. Both
// tokenbucket.Limiter and distributed.Limiter satisfy it.
type Bucket interface {
	// Wait blocks until a token is acquired or ctx ends.
	Wait(ctx context.Context) error

	// WaitTimeout blocks like Wait but gives up after the timeout budget.
	WaitTimeout(ctx context.Context, timeout time.Duration) error

	// Allow reports whether a token was acquired without blocking.
	Allow() bool

	// ReturnToken gives one token back.
	ReturnToken()

	// IsFull reports whether the bucket is at capacity.
	IsFull() bool
}

// Limiter acquires from a local and a global bucket as one unit.
type Limiter struct {
	local  Bucket
	global Bucket
}

// New creates a dual limiter over a local and a global bucket.
func New(local, global Bucket) (*Limiter, error) {
	if local == nil {
		return nil, errors.NewValidationError("dual", "local", nil, "bucket must not be nil")
	}
	if global == nil {
		return nil, errors.NewValidationError("dual", "global", nil, "bucket must not be nil")
	}
	return &Limiter{local: local, global: global}, nil
}

// Local returns the per-channel bucket.
func (l *Limiter) Local() Bucket {
	return l.local
}

// Global returns the shared bucket.
func (l *Limiter) Global() Bucket {
	return l.global
}

// Wait acquires a token from both buckets, blocking until both grant or
// ctx ends. It reports whether the pair was acquired.
func (l *Limiter) Wait(ctx context.Context) bool {
	return l.acquire(func(b Bucket) error {
		return b.Wait(ctx)
	})
}

// WaitTimeout acquires like Wait but gives each side the same timeout
// budget. A one-side timeout is an ordinary false, not an error.
func (l *Limiter) WaitTimeout(ctx context.Context, timeout time.Duration) bool {
	return l.acquire(func(b Bucket) error {
		return b.WaitTimeout(ctx, timeout)
	})
}

// acquire runs one wait per side concurrently and reconciles the
// outcome. Sides progress independently; one side failing or timing out
// never cuts the other side's attempt short. A token stranded by the
// other side's failure is returned to the bucket that granted it.
func (l *Limiter) acquire(wait func(Bucket) error) bool {
	return l.acquireObserved(wait, nil)
}

// acquireObserved is acquire with a hook invoked when a stranded token
// is returned, naming the side that granted it.
func (l *Limiter) acquireObserved(wait func(Bucket) error, stranded func(side string)) bool {
	var localErr, globalErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		localErr = wait(l.local)
	}()
	go func() {
		defer wg.Done()
		globalErr = wait(l.global)
	}()
	wg.Wait()

	switch {
	case localErr == nil && globalErr == nil:
		return true
	case localErr == nil:
		if stranded != nil {
			stranded("local")
		}
		l.local.ReturnToken()
		return false
	case globalErr == nil:
		if stranded != nil {
			stranded("global")
		}
		l.global.ReturnToken()
		return false
	default:
		return false
	}
}

// Allow reports whether a token was acquired from both buckets without
// blocking. A local token is returned when the global side refuses.
func (l *Limiter) Allow() bool {
	if !l.local.Allow() {
		return false
	}
	if !l.global.Allow() {
		l.local.ReturnToken()
		return false
	}
	return true
}

// IsBothFull reports whether both buckets are at capacity.
func (l *Limiter) IsBothFull() bool {
	return l.local.IsFull() && l.global.IsFull()
}
