package tokenbucket

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/botflow/botflow/pkg/metrics"
)

// Example_metricsBasic demonstrates basic metrics collection for the token bucket.
func Example_metricsBasic() {
	// Create a separate registry to avoid conflicts
	customRegistry := prometheus.NewRegistry()
	metricsConfig := metrics.Config{
		Enabled:  true,
		Registry: customRegistry,
	}

	// 10 messages per 10 second window, starting full
	limiter := NewWithConfigAndMetrics(Config{
		Limit:         10,
		Period:        10 * time.Second,
		InitialTokens: -1,
	}, "chat_messages", metricsConfig)

	// Send a burst past the window capacity
	for i := 0; i < 15; i++ {
		if limiter.Allow() {
			fmt.Printf("Message %d: Allowed\n", i+1)
		} else {
			fmt.Printf("Message %d: Denied\n", i+1)
		}
	}

	fmt.Printf("Remaining tokens: %d\n", limiter.Remaining())

	// Output:
	// Message 1: Allowed
	// Message 2: Allowed
	// Message 3: Allowed
	// Message 4: Allowed
	// Message 5: Allowed
	// Message 6: Allowed
	// Message 7: Allowed
	// Message 8: Allowed
	// Message 9: Allowed
	// Message 10: Allowed
	// Message 11: Denied
	// Message 12: Denied
	// Message 13: Denied
	// Message 14: Denied
	// Message 15: Denied
	// Remaining tokens: 0
}

// Example_metricsCustomRegistry demonstrates using a custom Prometheus registry.
func Example_metricsCustomRegistry() {
	customRegistry := prometheus.NewRegistry()

	metricsConfig := metrics.Config{
		Enabled:  true,
		Registry: customRegistry,
	}

	limiter := NewWithConfigAndMetrics(Config{
		Limit:         5,
		Period:        10 * time.Second,
		InitialTokens: 3, // Start with 3 tokens
	}, "custom_limiter", metricsConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	fmt.Printf("Initial tokens: %d\n", limiter.Remaining())

	fmt.Printf("Allow(): %v\n", limiter.Allow())
	fmt.Printf("Allow(): %v\n", limiter.Allow())
	fmt.Printf("Allow(): %v\n", limiter.Allow())
	fmt.Printf("Allow(): %v\n", limiter.Allow()) // Should be denied

	// Wait operation (should time out due to context)
	err := limiter.Wait(ctx)
	if err != nil {
		fmt.Printf("Wait failed: %v\n", err)
	}

	fmt.Printf("Final tokens: %d\n", limiter.Remaining())

	// Output:
	// Initial tokens: 3
	// Allow(): true
	// Allow(): true
	// Allow(): true
	// Allow(): false
	// Wait failed: context deadline exceeded
	// Final tokens: 0
}

// Example_metricsHTTPServer demonstrates exposing metrics via HTTP.
func Example_metricsHTTPServer() {
	customRegistry := prometheus.NewRegistry()
	metricsConfig := metrics.Config{
		Enabled:  true,
		Registry: customRegistry,
	}

	limiter := NewWithConfigAndMetrics(Config{
		Limit:         20,
		Period:        30 * time.Second,
		InitialTokens: -1,
	}, "helix_requests", metricsConfig)

	// Simulate API requests - ensure deterministic output
	allowed := 0
	for i := 0; i < 25; i++ {
		if limiter.Allow() {
			allowed++
		}
	}

	// In a real application, you would start an HTTP server like this:
	//
	// http.Handle("/metrics", promhttp.Handler())
	// log.Fatal(http.ListenAndServe(":8080", nil))
	//
	// This would expose metrics at http://localhost:8080/metrics

	fmt.Printf("Allowed %d out of 25 requests\n", allowed)
	fmt.Println("Metrics server would be available at /metrics endpoint")

	// Output:
	// Allowed 20 out of 25 requests
	// Metrics server would be available at /metrics endpoint
}

// Example_metricsConfiguration demonstrates different metrics configurations.
func Example_metricsConfiguration() {
	// Limiter with metrics disabled
	disabledConfig := metrics.Config{
		Enabled: false,
	}
	limiterDisabled := NewWithConfigAndMetrics(Config{
		Limit:         5,
		Period:        10 * time.Second,
		InitialTokens: -1,
	}, "disabled_limiter", disabledConfig)

	// Limiter with metrics enabled on a separate registry
	customRegistry := prometheus.NewRegistry()
	enabledConfig := metrics.Config{
		Enabled:  true,
		Registry: customRegistry,
	}
	limiterEnabled := NewWithConfigAndMetrics(Config{
		Limit:         5,
		Period:        10 * time.Second,
		InitialTokens: -1,
	}, "enabled_limiter", enabledConfig)

	fmt.Printf("Disabled limiter allows: %v\n", limiterDisabled.Allow())
	fmt.Printf("Enabled limiter allows: %v\n", limiterEnabled.Allow())

	if ml, ok := limiterEnabled.(*MetricsLimiter); ok {
		fmt.Printf("Enabled limiter has metrics: %v\n", ml.MetricsEnabled())
	}

	if ml, ok := limiterDisabled.(*MetricsLimiter); ok {
		fmt.Printf("Disabled limiter has metrics: %v\n", ml.MetricsEnabled())
	} else {
		fmt.Println("Disabled limiter has metrics: false")
	}

	// Output:
	// Disabled limiter allows: true
	// Enabled limiter allows: true
	// Enabled limiter has metrics: true
	// Disabled limiter has metrics: false
}
