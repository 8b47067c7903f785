package config_test

import (
	"fmt"
	"time"

	"github.com/botflow/botflow/pkg/config"
	"github.com/botflow/botflow/pkg/ratelimit/keyed"
)

// Example parses a limits file and builds the runtime objects from it.
func Example() {
	const limits = `
global:
  limit: 100
  period: 30s

buckets:
  default:
    limit: 20
    period: 30s

backoff:
  strategy: exponential
  initial: 1s
  max: 2m
`

	file, err := config.Parse([]byte(limits))
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	global := file.Global.Build()
	pacing, err := file.Backoff.Build()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	mapping, err := file.Headers.Mapping()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Println("global limit:", global.Limit())
	fmt.Println("first delay:", pacing.Duration())
	fmt.Println("reset header:", mapping.Reset)
	// Output:
	// global limit: 100
	// first delay: 1s
	// reset header: Ratelimit-Reset
}

// Example_registry wires a parsed file into a per-channel registry.
func Example_registry() {
	file, err := config.Parse(nil)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	global := file.Global.Build()
	cfg, err := file.KeyedConfig(global)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	registry, err := keyed.New(cfg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer func() { _ = registry.Close() }()

	pair := registry.Get("#channel")
	fmt.Println("allowed:", pair.Allow())
	fmt.Println("tracked channels:", registry.Len())
	// Output:
	// allowed: true
	// tracked channels: 1
}

// Example_durations shows the duration forms a limits file accepts.
func Example_durations() {
	file, err := config.Parse([]byte("global:\n  limit: 10\n  period: 1h30m\n"))
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Println("period:", file.Global.Period)
	fmt.Println("as time.Duration:", file.Global.Period.Duration() == 90*time.Minute)
	// Output:
	// period: 1h30m0s
	// as time.Duration: true
}
