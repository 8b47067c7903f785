package tokenbucket

import (
	"context"
	"net/http"
	"testing"
	"time"
)

// mustNewSafe creates a new limiter or panics on error (for benchmarks only)
func mustNewSafe(limit int, period time.Duration) Limiter {
	limiter, err := NewWithConfigSafe(Config{Limit: limit, Period: period})
	if err != nil {
		panic(err)
	}
	return limiter
}

// BenchmarkAllow measures the performance of Allow calls
func BenchmarkAllow(b *testing.B) {
	limiter := mustNewSafe(1000000, time.Second) // High limit to avoid exhaustion

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.Allow()
		}
	})
}

// BenchmarkWait measures the performance of Wait calls that succeed immediately
func BenchmarkWait(b *testing.B) {
	limiter := mustNewSafe(1000000, time.Second)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.Wait(ctx)
		}
	})
}

// BenchmarkRemaining measures the performance of Remaining calls
func BenchmarkRemaining(b *testing.B) {
	limiter := mustNewSafe(1000000, time.Second)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.Remaining()
		}
	})
}

// BenchmarkReturnToken measures the consume-then-return cycle
func BenchmarkReturnToken(b *testing.B) {
	limiter := mustNewSafe(1000000, time.Second)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if limiter.Allow() {
				limiter.ReturnToken()
			}
		}
	})
}

// BenchmarkUpdateLimit measures the performance of UpdateLimit calls
func BenchmarkUpdateLimit(b *testing.B) {
	limiter := mustNewSafe(100, time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.UpdateLimit(100 + i%100)
	}
}

// BenchmarkParseHeaders measures the header reconciliation path
func BenchmarkParseHeaders(b *testing.B) {
	limiter := mustNewSafe(120, time.Minute)
	mapping := DefaultHeaderMapping()

	h := http.Header{}
	h.Set("Ratelimit-Limit", "120")
	h.Set("Ratelimit-Remaining", "119")
	h.Set("Ratelimit-Reset", "4102444800")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = limiter.ParseHeaders(h, mapping)
	}
}

// BenchmarkHighContention simulates high contention on a small bucket
func BenchmarkHighContention(b *testing.B) {
	limiter := mustNewSafe(10, 100*time.Millisecond)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.Allow()
		}
	})
}

// BenchmarkRefill measures the cost of the refill pass on each attempt
func BenchmarkRefill(b *testing.B) {
	clock := &MockClock{now: time.Now()}
	limiter := NewWithConfig(Config{
		Limit:         100,
		Period:        time.Second,
		Clock:         clock,
		InitialTokens: 0,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Advance time so each pass has window credit to grant
		clock.Advance(10 * time.Millisecond)
		limiter.Allow()
	}
}

// BenchmarkMemoryAllocation measures memory allocation patterns
func BenchmarkMemoryAllocation(b *testing.B) {
	b.ReportAllocs()

	limiter := mustNewSafe(1000, time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if limiter.Allow() {
			// Token consumed
		}
	}
}
