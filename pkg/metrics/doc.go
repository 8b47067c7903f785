// Package metrics provides Prometheus instrumentation for botflow components.
//
// This package enables monitoring and observability for botflow's token
// buckets, dual-bucket pairs, backoff policies, keyed registries, and the
// Redis-backed distributed limiter through Prometheus metrics.
//
// # Overview
//
// The metrics package provides automatic instrumentation for:
//   - Token bucket operations (acquires by outcome, returned tokens, wait times, remaining tokens)
//   - Header reconciliation (fields updated from API responses)
//   - Dual-bucket pairs (pair acquires, stranded-token returns)
//   - Backoff policies (wait counts, current delay)
//   - Keyed registries (active buckets, sweeps, swept buckets)
//   - Distributed limiting (Redis errors, local fallbacks)
//
// # Quick Start
//
// Enable metrics by wrapping a limiter with the metrics-enabled constructors:
//
//	limiter := tokenbucket.NewWithMetrics(tokenbucket.New(20, 30*time.Second), "chat_global", metrics.DefaultConfig())
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// # Custom Registry
//
// Use a custom Prometheus registry for isolation:
//
//	registry := prometheus.NewRegistry()
//	config := metrics.Config{
//		Enabled:  true,
//		Registry: registry,
//	}
//
//	limiter := tokenbucket.NewWithMetrics(inner, "custom_limiter", config)
//
// # Available Metrics
//
// ## Token Bucket Metrics
//
//   - botflow_ratelimit_acquires_total: Total number of token acquire attempts by outcome
//   - botflow_ratelimit_tokens_returned_total: Total number of tokens returned to the bucket
//   - botflow_ratelimit_wait_duration_seconds: Time spent waiting for a token
//   - botflow_ratelimit_tokens_remaining: Number of tokens currently available
//   - botflow_ratelimit_reconciles_total: Total number of bucket fields updated from response headers
//
// ## Dual Bucket Metrics
//
//   - botflow_dual_pair_acquires_total: Total number of dual-bucket acquire attempts by outcome
//   - botflow_dual_stranded_returns_total: Total number of tokens returned because the other side failed
//
// ## Backoff Metrics
//
//   - botflow_backoff_waits_total: Total number of backoff waits
//   - botflow_backoff_current_delay_seconds: Next backoff delay in seconds
//
// ## Keyed Registry Metrics
//
//   - botflow_registry_buckets_active: Number of per-key limiters currently tracked
//   - botflow_registry_sweeps_total: Total number of idle sweeps performed
//   - botflow_registry_buckets_swept_total: Total number of idle per-key limiters removed
//
// ## Distributed Limiter Metrics
//
//   - botflow_distributed_redis_errors_total: Total number of Redis operation failures
//   - botflow_distributed_fallbacks_total: Total number of requests served by the local fallback bucket
//
// # Labels
//
// Metrics include relevant labels for filtering and aggregation:
//
//   - limiter_name: User-provided name for the limiter instance
//   - outcome: "acquired", "timeout", "cancelled", or "rejected"
//   - field: Bucket field updated during reconciliation ("limit", "remaining", "next_reset")
//   - pair_name, side: Dual-bucket pair name and the side ("local", "global")
//   - policy_name: User-provided name for the backoff policy
//   - registry_name: User-provided name for the keyed registry
//   - key, op: Redis key and operation for the distributed limiter
//
// # Configuration
//
// Metrics can be configured globally or per-component:
//
//	config := metrics.Config{
//		Enabled:   true,                         // Enable/disable metrics
//		Registry:  prometheus.DefaultRegisterer, // Custom registry
//		Namespace: "mybot",                      // Override default "botflow"
//		Labels:    prometheus.Labels{"version": "1.0"}, // Additional labels
//	}
//
// # Performance
//
// Metrics collection is designed for minimal overhead:
//   - Metrics are updated only when operations occur
//   - No background goroutines or timers
//   - Conditional metrics updates based on enabled state
package metrics
