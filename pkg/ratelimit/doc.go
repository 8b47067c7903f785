/*
Package ratelimit holds the rate-limiting primitives of botflow.

The subpackages cover the layers a chat bot needs between "I want to
send" and the wire:

  - tokenbucket: window-anchored token bucket, the core primitive
  - dual: all-or-nothing acquisition across a local and a global bucket
  - keyed: per-channel registry of dual pairs with idle sweeping
  - distributed: Redis-shared global bucket for multi-instance bots
  - inflight: cap on concurrent deliveries, independent of the window

A single channel is paced with a token bucket:

	limiter := tokenbucket.New(20, 30*time.Second)
	if err := limiter.Wait(ctx); err == nil {
		// budget spent, send the message
	}

A bot with an account-wide budget pairs every channel bucket with the
shared one:

	global := tokenbucket.New(100, 30*time.Second)
	pair, _ := dual.New(tokenbucket.New(20, 30*time.Second), global)
	_ = pair.Wait(ctx) // takes from both or neither

Buckets reconcile against server rate-limit headers (see ParseHeaders in
tokenbucket) so the local count tracks what the service actually
enforces. Every limiter is safe for concurrent use, blocks through
context, and has a Prometheus decorator.
*/
package ratelimit
