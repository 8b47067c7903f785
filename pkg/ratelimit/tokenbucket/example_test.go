package tokenbucket_test

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/botflow/botflow/pkg/ratelimit/tokenbucket"
)

// Example demonstrates basic usage of the window-anchored token bucket
func Example() {
	// Allow 20 chat messages per 30 second window
	limiter := tokenbucket.New(20, 30*time.Second)

	// Check if a message may be sent (non-blocking)
	if limiter.Allow() {
		fmt.Println("Message allowed")
	} else {
		fmt.Println("Message denied")
	}

	// Output: Message allowed
}

// Example_wait demonstrates blocking until a token is available
func Example_wait() {
	// One message per 10 second window
	limiter := tokenbucket.New(1, 10*time.Second)

	ctx := context.Background()

	// First message goes out immediately
	if err := limiter.Wait(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Println("First message sent")

	// The second would block until the window resets; cap the wait
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err != nil {
		fmt.Printf("Second message failed: %v\n", err)
	}

	// Output:
	// First message sent
	// Second message failed: context deadline exceeded
}

// Example_waitTimeout demonstrates budget-bounded waits
func Example_waitTimeout() {
	limiter := tokenbucket.New(1, 10*time.Second)
	limiter.Allow()

	// A timeout budget is independent of the caller's context
	err := limiter.WaitTimeout(context.Background(), 50*time.Millisecond)
	if err != nil {
		fmt.Printf("Gave up: %v\n", err)
	}

	// Output: Gave up: operation timed out
}

// Example_headers demonstrates reconciling with server rate-limit headers
func Example_headers() {
	limiter := tokenbucket.New(20, 30*time.Second)

	// Helix-style headers from a response
	h := http.Header{}
	h.Set("Ratelimit-Limit", "120")
	h.Set("Ratelimit-Remaining", "119")
	h.Set("Ratelimit-Reset", "4102444800")

	if err := limiter.ParseHeaders(h, tokenbucket.DefaultHeaderMapping()); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Limit: %d\n", limiter.Limit())
	fmt.Printf("Remaining: %d\n", limiter.Remaining())

	// Output:
	// Limit: 120
	// Remaining: 119
}

// Example_returnToken demonstrates handing back an unused token
func Example_returnToken() {
	limiter := tokenbucket.New(5, 10*time.Second)

	limiter.Allow()
	limiter.Allow()
	fmt.Printf("After two sends: %d\n", limiter.Remaining())

	// The second send was abandoned; give its token back
	limiter.ReturnToken()
	fmt.Printf("After return: %d\n", limiter.Remaining())

	// Output:
	// After two sends: 3
	// After return: 4
}

// Example_configuration demonstrates advanced configuration
func Example_configuration() {
	config := tokenbucket.Config{
		Limit:         20,
		Period:        30 * time.Second,
		InitialTokens: 2, // Start nearly drained instead of full
	}

	limiter, err := tokenbucket.NewWithConfigSafe(config)
	if err != nil {
		panic(fmt.Sprintf("Failed to create limiter: %v", err))
	}

	fmt.Printf("Initial tokens: %d\n", limiter.Remaining())
	fmt.Printf("Window capacity: %d\n", limiter.Limit())
	fmt.Printf("Window length: %v\n", limiter.Period())

	// Output:
	// Initial tokens: 2
	// Window capacity: 20
	// Window length: 30s
}

// Example_dynamicConfiguration demonstrates changing limits at runtime
func Example_dynamicConfiguration() {
	limiter := tokenbucket.New(20, 30*time.Second)
	fmt.Printf("Original limit: %d\n", limiter.Limit())

	// The server granted a higher tier mid-session
	limiter.UpdateLimit(100)
	limiter.UpdatePeriod(time.Minute)
	limiter.UpdateRemaining(50)

	fmt.Printf("Updated limit: %d, remaining: %d, period: %v\n",
		limiter.Limit(), limiter.Remaining(), limiter.Period())

	// Output:
	// Original limit: 20
	// Updated limit: 100, remaining: 50, period: 1m0s
}
