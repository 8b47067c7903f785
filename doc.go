/*
Package botflow provides the rate-limiting core for chat bots: window
token buckets, paired local/global budgets, retry backoff, and the
plumbing that keeps them honest against a real API.

Rate limiting (pkg/ratelimit):
  - tokenbucket: window-anchored token bucket with header reconciliation
  - dual: all-or-nothing acquisition across a channel and account budget
  - keyed: per-channel registry with cron-driven idle sweeping
  - distributed: Redis-shared account budget across bot instances
  - inflight: cap on concurrent deliveries

Retry pacing (pkg/backoff):
  - exponential and linear escalation with context-aware waits

Plumbing:
  - httplimit: rate-limit-aware http.RoundTripper with 429 retries
  - config: YAML limits file loaded into runtime objects
  - metrics: Prometheus registry shared by the limiter decorators

Example usage:

	import (
		"github.com/botflow/botflow/pkg/ratelimit/dual"
		"github.com/botflow/botflow/pkg/ratelimit/tokenbucket"
	)

	global := tokenbucket.New(100, 30*time.Second)
	pair, _ := dual.New(tokenbucket.New(20, 30*time.Second), global)

	if pair.Wait(ctx) {
		send(msg) // both budgets agreed
	}
*/
package botflow
