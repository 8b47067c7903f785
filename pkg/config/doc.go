// Package config loads rate-limit settings from a YAML limits file and
// turns them into runtime objects.
//
// A limits file names the account-wide bucket, per-channel bucket
// profiles, the reconnect backoff policy, the response headers the
// buckets reconcile against, and the per-channel registry tuning:
//
//	global:
//	  limit: 100
//	  period: 30s
//
//	buckets:
//	  default:
//	    limit: 20
//	    period: 30s
//	  verified:
//	    limit: 7500
//	    period: 30s
//
//	backoff:
//	  strategy: exponential
//	  initial: 1s
//	  max: 2m
//
//	headers:
//	  remaining: Ratelimit-Remaining
//	  reset: Ratelimit-Reset
//	  format: unix
//
//	registry:
//	  bucket: default
//	  idle_after: 15m
//	  sweep_schedule: "@every 5m"
//
// Load and Parse apply defaults and validate before returning, so every
// section of a loaded File is ready to build from:
//
//	file, err := config.Load("limits.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	global := file.Global.Build()
//	pacing, err := file.Backoff.Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	cfg, err := file.KeyedConfig(global)
//	if err != nil {
//		log.Fatal(err)
//	}
//	registry, err := keyed.New(cfg)
//
// Durations are written as Go duration strings ("30s", "2m", "1h30m").
// Validation failures carry the offending section in the error, matched
// with errors.IsValidationError.
package config
