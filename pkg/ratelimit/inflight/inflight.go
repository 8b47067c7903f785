package inflight

import (
	"context"
	"sync"
)

// Gate caps the number of deliveries in flight at once. It complements
// the window buckets: a bucket spends send budget, the gate bounds how
// many of those sends may be outstanding simultaneously.
//
// Waiters are granted permits in arrival order.
type Gate struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters []chan struct{}
}

// New creates a gate allowing limit concurrent holders. A limit below
// one is clamped to one.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: limit}
}

// TryAcquire takes a permit if one is free. It never blocks.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inUse >= g.limit {
		return false
	}
	g.inUse++
	return true
}

// Acquire blocks until a permit is free or ctx ends. On cancellation the
// gate's count is left unchanged, even when a grant raced the cancel.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	g.mu.Lock()
	if g.inUse < g.limit {
		g.inUse++
		g.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		removed := g.removeWaiterLocked(ready)
		g.mu.Unlock()
		if !removed {
			// The grant won the race: the permit is ours, hand it on.
			g.Release()
		}
		return ctx.Err()
	}
}

// Release returns a permit. It panics when no permit is held, the same
// way a sync.WaitGroup rejects a negative counter.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inUse <= 0 {
		panic("inflight: Release without a held permit")
	}
	g.inUse--
	g.notifyLocked()
}

// Do runs fn while holding a permit. The permit is released when fn
// returns or panics.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// SetLimit changes the concurrency cap. Raising it wakes waiters; after
// lowering it below the current in-flight count, permits drain until the
// count fits. A non-positive limit is ignored.
func (g *Gate) SetLimit(limit int) {
	if limit < 1 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.limit = limit
	g.notifyLocked()
}

// Limit returns the concurrency cap.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// InFlight returns the number of permits currently held.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Available returns the number of free permits.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inUse >= g.limit {
		return 0
	}
	return g.limit - g.inUse
}

// Waiting returns the number of goroutines blocked in Acquire.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// notifyLocked grants permits to waiters in arrival order while there is
// room. Must be called with g.mu held.
func (g *Gate) notifyLocked() {
	for len(g.waiters) > 0 && g.inUse < g.limit {
		ready := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.inUse++
		close(ready)
	}
}

// removeWaiterLocked drops ready from the queue, reporting whether it
// was still queued. Must be called with g.mu held.
func (g *Gate) removeWaiterLocked(ready chan struct{}) bool {
	for i, w := range g.waiters {
		if w == ready {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return true
		}
	}
	return false
}
