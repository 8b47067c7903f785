package httplimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/botflow/botflow/internal/testutil"
	"github.com/botflow/botflow/pkg/backoff"
	"github.com/botflow/botflow/pkg/common/errors"
	"github.com/botflow/botflow/pkg/ratelimit/dual"
	"github.com/botflow/botflow/pkg/ratelimit/tokenbucket"
)

var _ Limiter = tokenbucket.Limiter(nil)
var _ HeaderReconciler = tokenbucket.Limiter(nil)

// countingLimiter grants every acquisition and counts the calls.
type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingLimiter) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingLimiter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingReconciler captures every push from the transport.
type recordingReconciler struct {
	mu        sync.Mutex
	parsed    int
	remaining []int
	resets    []time.Time
	parseErr  error
}

func (r *recordingReconciler) ParseHeaders(h http.Header, m tokenbucket.HeaderMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsed++
	return r.parseErr
}

func (r *recordingReconciler) UpdateRemaining(remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = append(r.remaining, remaining)
}

func (r *recordingReconciler) UpdateNextReset(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, at)
}

func response(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h, Body: http.NoBody}
}

func newTestTransport(t *testing.T, config Config) *Transport {
	t.Helper()

	transport, err := New(config)
	testutil.AssertNoError(t, err)
	return transport
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	testutil.AssertError(t, err)
	if !errors.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	config := Config{Limiter: &countingLimiter{}}
	config.applyDefaults()

	if config.Base == nil {
		t.Error("expected default base transport")
	}
	testutil.AssertEqual(t, config.AcquireTimeout, 30*time.Second)
	testutil.AssertEqual(t, config.MaxAttempts, 3)
	testutil.AssertEqual(t, config.Mapping, tokenbucket.DefaultHeaderMapping())
	if config.Logger == nil {
		t.Error("expected default logger")
	}
}

func TestRoundTripSuccess(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusOK, nil))
	limiter := &countingLimiter{}

	transport := newTestTransport(t, Config{Base: mock, Limiter: limiter})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEqual(t, mock.CallCount(), 1)
	testutil.AssertEqual(t, limiter.count(), 1)

	sent := mock.Requests()[0]
	if sent.Header.Get("X-Request-Id") == "" {
		t.Error("expected the sent request to carry an X-Request-Id")
	}
	// The caller's request stays untouched
	testutil.AssertEqual(t, req.Header.Get("X-Request-Id"), "")
}

func TestRoundTripKeepsCallerRequestID(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusOK, nil))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	req.Header.Set("X-Request-Id", "caller-chosen")

	_, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, mock.Requests()[0].Header.Get("X-Request-Id"), "caller-chosen")
}

func TestAcquireFailureShortCircuits(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	limiter := &countingLimiter{err: errors.ErrRateLimited}

	transport := newTestTransport(t, Config{Base: mock, Limiter: limiter})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	_, err := transport.RoundTrip(req)
	if !stderrors.Is(err, errors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	testutil.AssertEqual(t, mock.CallCount(), 0)
}

func TestReconcilesEveryResponse(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusOK, map[string]string{
		"Ratelimit-Limit":     "120",
		"Ratelimit-Remaining": "119",
	}))
	rec := &recordingReconciler{}

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, Reconciler: rec})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	_, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rec.parsed, 1)
	testutil.AssertEqual(t, len(rec.remaining), 0)
}

func TestReconcilesIntoRealBucket(t *testing.T) {
	base := time.Unix(1700000000, 0)
	clock := testutil.NewMockClock(base)
	bucket := tokenbucket.NewWithConfig(tokenbucket.Config{
		Limit:  5,
		Period: 10 * time.Second,
		Clock:  clock,
	})

	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusOK, map[string]string{
		"Ratelimit-Remaining": "2",
		"Ratelimit-Reset":     fmt.Sprintf("%d", base.Add(10*time.Second).Unix()),
	}))

	transport := newTestTransport(t, Config{
		Base:       mock,
		Limiter:    bucket,
		Reconciler: bucket,
	})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	_, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)

	// One token taken for the request itself, then the server's count wins
	testutil.AssertEqual(t, bucket.Remaining(), 2)
}

func TestRetryOn429HonorsRetryAfter(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}))
	mock.Queue(response(http.StatusOK, nil))
	rec := &recordingReconciler{}

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, Reconciler: rec})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEqual(t, mock.CallCount(), 2)

	// The 429 pushed an empty bucket and the server's retry instant
	testutil.AssertEqual(t, len(rec.remaining), 1)
	testutil.AssertEqual(t, rec.remaining[0], 0)
	testutil.AssertEqual(t, len(rec.resets), 1)
}

func TestRetryAfterWinsOverBackoff(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}))
	mock.Queue(response(http.StatusOK, nil))

	// A backoff this slow would dominate the test if it ever ran
	slow := backoff.NewExponential(10*time.Second, time.Minute)
	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, Backoff: slow})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)

	start := time.Now()
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Retry-After pacing took %v, backoff must have run", elapsed)
	}
}

func Test429WithoutHeaderPacedByBackoff(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, nil))
	mock.Queue(response(http.StatusTooManyRequests, nil))
	mock.Queue(response(http.StatusOK, nil))

	pacing := backoff.NewLinear(time.Millisecond, 5*time.Millisecond, time.Millisecond)
	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, Backoff: pacing})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEqual(t, mock.CallCount(), 3)

	// Success hands the escalation back to the start
	testutil.AssertEqual(t, pacing.IsReset(), true)
}

func TestMaxAttemptsExhausted(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, MaxAttempts: 2})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusTooManyRequests)
	testutil.AssertEqual(t, mock.CallCount(), 2)
}

func TestServerErrorNotRetriedWithoutBackoff(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusInternalServerError, nil))
	mock.Queue(response(http.StatusOK, nil))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusInternalServerError)
	testutil.AssertEqual(t, mock.CallCount(), 1)
}

func TestServerErrorRetriedWithBackoff(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusBadGateway, nil))
	mock.Queue(response(http.StatusOK, nil))

	pacing := backoff.NewLinear(time.Millisecond, 5*time.Millisecond, time.Millisecond)
	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, Backoff: pacing})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEqual(t, mock.CallCount(), 2)
}

func TestUnreplayableBodyNotRetried(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	req, _ := http.NewRequest(http.MethodPost, "https://api.example.com/messages", strings.NewReader("payload"))
	req.GetBody = nil // a one-shot body cannot be replayed

	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusTooManyRequests)
	testutil.AssertEqual(t, mock.CallCount(), 1)
}

func TestReplayableBodyRewoundOnRetry(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}))
	mock.Queue(response(http.StatusOK, nil))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	req, _ := http.NewRequest(http.MethodPost, "https://api.example.com/messages", strings.NewReader("payload"))
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
	testutil.AssertEqual(t, mock.CallCount(), 2)

	retried := mock.Requests()[1]
	body, err := io.ReadAll(retried.Body)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(body), "payload")
}

func TestRequestIDStableAcrossRetries(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}))
	mock.Queue(response(http.StatusOK, nil))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	_, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)

	requests := mock.Requests()
	first := requests[0].Header.Get("X-Request-Id")
	testutil.AssertNotEqual(t, first, "")
	testutil.AssertEqual(t, requests[1].Header.Get("X-Request-Id"), first)
}

func TestParseHeadersFailureDoesNotFailRequest(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusOK, nil))
	rec := &recordingReconciler{parseErr: errors.NewValidationError("tokenbucket", "format", 99, "unknown reset format")}

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}, Reconciler: rec})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	resp, err := transport.RoundTrip(req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK)
}

func TestContextEndsDuringPause(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	mock.Queue(response(http.StatusTooManyRequests, map[string]string{"Retry-After": "2"}))

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com/messages", nil)
	_, err := transport.RoundTrip(req)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	testutil.AssertEqual(t, mock.CallCount(), 1)
}

func TestTransportErrorPassesThrough(t *testing.T) {
	mock := testutil.NewMockRoundTripper()
	cause := stderrors.New("connection reset")
	mock.QueueError(cause)

	transport := newTestTransport(t, Config{Base: mock, Limiter: &countingLimiter{}})

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/messages", nil)
	_, err := transport.RoundTrip(req)
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected the transport error, got %v", err)
	}
	testutil.AssertEqual(t, mock.CallCount(), 1)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		value string
		want  time.Time
		ok    bool
	}{
		{"seconds", "5", now.Add(5 * time.Second), true},
		{"zero seconds", "0", now, true},
		{"http date", now.Add(30 * time.Second).UTC().Format(http.TimeFormat), now.Add(30 * time.Second), true},
		{"negative", "-1", time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"garbage", "soon", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, ok := parseRetryAfter(tt.value, now)
			testutil.AssertEqual(t, ok, tt.ok)
			if ok && !at.Equal(tt.want) {
				t.Errorf("got %v, want %v", at, tt.want)
			}
		})
	}
}

func TestDualAdapter(t *testing.T) {
	local := tokenbucket.New(5, time.Hour)
	global := tokenbucket.New(5, time.Hour)
	pair, err := dual.New(local, global)
	testutil.AssertNoError(t, err)

	limiter := Dual(pair)
	testutil.AssertNoError(t, limiter.WaitTimeout(context.Background(), time.Second))
	testutil.AssertEqual(t, local.Remaining(), 4)
	testutil.AssertEqual(t, global.Remaining(), 4)
}

func TestDualAdapterRefusal(t *testing.T) {
	local := tokenbucket.New(5, time.Hour)
	global := tokenbucket.NewWithConfig(tokenbucket.Config{
		Limit:         5,
		Period:        time.Hour,
		InitialTokens: 0,
	})
	pair, err := dual.New(local, global)
	testutil.AssertNoError(t, err)

	err = Dual(pair).WaitTimeout(context.Background(), 20*time.Millisecond)
	if !stderrors.Is(err, errors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// The local token taken during the attempt was handed back
	testutil.AssertEqual(t, local.Remaining(), 5)
}

func TestDualAdapterContextError(t *testing.T) {
	pair, err := dual.New(tokenbucket.New(5, time.Hour), tokenbucket.New(5, time.Hour))
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Dual(pair).WaitTimeout(ctx, time.Second)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
