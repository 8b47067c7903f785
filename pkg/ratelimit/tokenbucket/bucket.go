package tokenbucket

import (
	"context"
	"time"

	"github.com/botflow/botflow/pkg/common/errors"
)

// minSleep bounds how short a wait-loop sleep can be, so a delay estimate
// of zero never turns the loop into a busy spin.
const minSleep = time.Millisecond

// Allow reports whether an event may happen now.
func (b *bucket) Allow() bool {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if b.remaining > 0 {
		b.remaining--
		return true
	}
	return false
}

// Wait blocks until a token is acquired or ctx ends.
func (b *bucket) Wait(ctx context.Context) error {
	return b.wait(ctx, time.Time{})
}

// WaitTimeout blocks until a token is acquired, ctx ends, or the timeout
// budget elapses.
func (b *bucket) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	return b.wait(ctx, b.clock.Now().Add(timeout))
}

// wait is the shared acquire loop. A zero deadline means the wait is
// bounded only by ctx. Each pass refills the bucket, takes a token when
// one is available, and otherwise sleeps until the trickle should grant
// the next token. Timing out or being cancelled never consumes a token.
func (b *bucket) wait(ctx context.Context, deadline time.Time) error {
	// Check if context is already canceled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for {
		now := b.clock.Now()

		b.mu.Lock()
		b.refillLocked(now)
		if b.remaining > 0 {
			b.remaining--
			b.mu.Unlock()
			return nil
		}
		delay := b.nextTokenDelayLocked(now)
		b.mu.Unlock()

		if !deadline.IsZero() {
			budget := deadline.Sub(now)
			if budget <= 0 {
				return errors.ErrTimeout
			}
			if delay > budget {
				delay = budget
			}
		}
		if delay < minSleep {
			delay = minSleep
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ReturnToken gives one token back, clamped at the bucket limit.
func (b *bucket) ReturnToken() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remaining < b.limit {
		b.remaining++
	}
}

// UpdateLimit sets the window capacity, ignoring values below 1 and
// values equal to the current limit.
func (b *bucket) UpdateLimit(limit int) {
	if limit < 1 {
		return
	}

	b.mu.RLock()
	same := limit == b.limit
	b.mu.RUnlock()
	if same {
		return
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if limit == b.limit {
		return
	}
	b.limit = limit
	if b.remaining > limit {
		b.remaining = limit
	}
	b.credited = b.owedLocked(now)
}

// UpdateRemaining sets the remaining token count, clamped to the current
// limit. Negative and unchanged values are ignored.
func (b *bucket) UpdateRemaining(remaining int) {
	if remaining < 0 {
		return
	}

	b.mu.RLock()
	same := remaining == b.remaining
	b.mu.RUnlock()
	if same {
		return
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining > b.limit {
		remaining = b.limit
	}
	b.remaining = remaining
	b.credited = b.owedLocked(now)
}

// UpdatePeriod sets the window length, ignoring values below 1 and values
// equal to the current period.
func (b *bucket) UpdatePeriod(period time.Duration) {
	if period < 1 {
		return
	}

	b.mu.RLock()
	same := period == b.period
	b.mu.RUnlock()
	if same {
		return
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.period = period
	b.credited = b.owedLocked(now)
}

// UpdateNextReset sets the absolute end of the current window, ignoring
// timestamps not after the current time and unchanged values.
func (b *bucket) UpdateNextReset(at time.Time) {
	now := b.clock.Now()
	if !at.After(now) {
		return
	}

	b.mu.RLock()
	same := at.Equal(b.nextReset)
	b.mu.RUnlock()
	if same {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextReset = at
	b.credited = b.owedLocked(now)
}

// Limit returns the window capacity.
func (b *bucket) Limit() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limit
}

// Remaining returns the number of tokens currently available, after
// crediting any refill the elapsed window owes.
func (b *bucket) Remaining() int {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	return b.remaining
}

// Period returns the window length.
func (b *bucket) Period() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.period
}

// NextReset returns the absolute end of the current window.
func (b *bucket) NextReset() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextReset
}

// IsFull reports whether the bucket currently holds Limit tokens.
func (b *bucket) IsFull() bool {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	return b.remaining == b.limit
}

// refillLocked credits the tokens the elapsed window owes. Past the
// window boundary the bucket snaps to full and a new window starts;
// inside the window tokens trickle in proportionally to elapsed time.
// Each window increment is granted exactly once, tracked by credited.
// Must be called with the write lock held.
func (b *bucket) refillLocked(now time.Time) {
	if b.remaining == b.limit {
		// Nothing to grant, but keep the credit marker current so
		// tokens notionally trickled while full are not granted again
		// after the next consumption.
		b.credited = b.owedLocked(now)
		return
	}

	if !now.Before(b.nextReset) {
		b.remaining = b.limit
		b.nextReset = now.Add(b.period)
		b.credited = 0
		return
	}

	owed := b.owedLocked(now)
	if owed <= b.credited {
		return
	}
	b.remaining += owed - b.credited
	if b.remaining > b.limit {
		b.remaining = b.limit
	}
	b.credited = owed
}

// owedLocked returns the cumulative number of trickle tokens the current
// window owes by now, clamped to [0, limit]. Must be called with the
// lock held.
func (b *bucket) owedLocked(now time.Time) int {
	elapsed := now.Sub(b.nextReset.Add(-b.period))
	if elapsed <= 0 {
		return 0
	}
	owed := int(elapsed.Seconds() / b.period.Seconds() * float64(b.limit))
	if owed > b.limit {
		owed = b.limit
	}
	return owed
}

// nextTokenDelayLocked estimates how long until the trickle grants the
// next token, capped at the window reset. Must be called with the lock
// held, immediately after a refill pass.
func (b *bucket) nextTokenDelayLocked(now time.Time) time.Duration {
	untilReset := b.nextReset.Sub(now)
	if untilReset <= 0 {
		return 0
	}

	elapsed := now.Sub(b.nextReset.Add(-b.period))
	if elapsed < 0 {
		elapsed = 0
	}

	nextAt := time.Duration(float64(b.credited+1) / float64(b.limit) * float64(b.period))
	delay := nextAt - elapsed
	if delay > untilReset {
		delay = untilReset
	}
	return delay
}
