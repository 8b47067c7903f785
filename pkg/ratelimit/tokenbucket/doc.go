/*
Package tokenbucket provides a window-anchored token bucket rate limiter
for chat and API traffic.

Unlike a classic refill-per-second bucket, this limiter models the fixed
rate windows used by chat servers and web APIs: a bucket holds limit
tokens per period, refills trickle in proportionally as the window
elapses, and the bucket snaps back to full when the window resets. The
window boundary (NextReset) is part of the observable state and can be
overwritten from server responses, so the local bucket converges on the
server's view of the window rather than drifting alongside it.

Basic usage:

	limiter := tokenbucket.New(20, 30*time.Second) // 20 messages per 30s window
	if err := limiter.Wait(ctx); err != nil {
		// Handle cancellation
	}
	// Send message

Bounded waits:

	err := limiter.WaitTimeout(ctx, 5*time.Second)
	if errors.Is(err, bferrors.ErrTimeout) {
		// Budget elapsed before a token freed up
	}

Reconciling with server headers:

	resp, _ := client.Do(req)
	_ = limiter.ParseHeaders(resp.Header, tokenbucket.DefaultHeaderMapping())

Header reconciliation feeds each value through a conditional setter:
out-of-range values, stale reset timestamps, and unchanged values are
silently dropped, so a delayed or reordered response can never corrupt
the bucket.

Tokens can be handed back when the guarded operation is abandoned:

	limiter.ReturnToken()

Configuration Options:

	config := tokenbucket.Config{
		Limit:         20,              // Tokens per window
		Period:        30 * time.Second, // Window length
		InitialTokens: -1,              // Negative means start full
		Clock:         clock,           // Custom time source (for testing)
	}
	limiter := tokenbucket.NewWithConfig(config)

Thread Safety:

All operations are safe for concurrent use. A single RWMutex protects the
bucket; a timed-out or cancelled wait never consumes a token, so there is
no partial state to unwind.
*/
package tokenbucket
