package httplimit

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botflow/botflow/pkg/backoff"
	"github.com/botflow/botflow/pkg/common/errors"
	"github.com/botflow/botflow/pkg/ratelimit/dual"
	"github.com/botflow/botflow/pkg/ratelimit/tokenbucket"
)

// drainLimit caps how much of a retried response body is read before
// the connection is released.
const drainLimit = 64 << 10

// Limiter is the acquisition surface the transport needs before each
// attempt. tokenbucket.Limiter satisfies it directly; dual pairs go
// through the Dual adapter.
type Limiter interface {
	WaitTimeout(ctx context.Context, timeout time.Duration) error
}

// HeaderReconciler is the slice of a bucket the transport pushes
// server-reported state into.
type HeaderReconciler interface {
	ParseHeaders(h http.Header, m tokenbucket.HeaderMapping) error
	UpdateRemaining(remaining int)
	UpdateNextReset(at time.Time)
}

// Dual adapts a local/global pair to the transport's Limiter surface. A
// refused acquisition surfaces as ErrRateLimited, or the context's own
// error when it ended first.
func Dual(pair *dual.Limiter) Limiter {
	return dualLimiter{pair}
}

type dualLimiter struct {
	pair *dual.Limiter
}

func (d dualLimiter) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	if d.pair.WaitTimeout(ctx, timeout) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.ErrRateLimited
}

// Config holds configuration for the rate-limited transport.
type Config struct {
	// Base performs the actual requests. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// Limiter gates each attempt. Required.
	Limiter Limiter

	// AcquireTimeout bounds the wait for a token per attempt.
	// Defaults to 30s.
	AcquireTimeout time.Duration

	// Reconciler receives server-reported bucket state from response
	// headers and 429s. Optional.
	Reconciler HeaderReconciler

	// Mapping names the rate-limit headers to reconcile from.
	// Defaults to tokenbucket.DefaultHeaderMapping.
	Mapping tokenbucket.HeaderMapping

	// Backoff paces retries. Optional; without it server errors are
	// not retried and 429s are paced by Retry-After alone.
	Backoff backoff.Backoff

	// MaxAttempts caps the total tries per request. Defaults to 3.
	MaxAttempts int

	// Logger records retries and reconciliation problems. Defaults to
	// a no-op logger.
	Logger *zap.Logger
}

// applyDefaults fills the optional fields.
func (c *Config) applyDefaults() {
	if c.Base == nil {
		c.Base = http.DefaultTransport
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.Mapping == (tokenbucket.HeaderMapping{}) {
		c.Mapping = tokenbucket.DefaultHeaderMapping()
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Transport is an http.RoundTripper that takes a token before each
// request, reconciles bucket state from each response, and retries rate
// limited and failing requests under the configured pacing.
type Transport struct {
	config Config
}

// New creates a rate-limited transport.
func New(config Config) (*Transport, error) {
	config.applyDefaults()
	if config.Limiter == nil {
		return nil, errors.NewValidationError("httplimit", "limiter", nil, "limiter must not be nil").
			WithHint("pass a tokenbucket.Limiter or wrap a pair with Dual")
	}
	return &Transport{config: config}, nil
}

// RoundTrip implements http.RoundTripper. The original request is never
// modified; each attempt sends a clone tagged with an X-Request-Id that
// stays stable across retries of the same call.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	requestID := req.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	// Requests with a consumed-once body cannot be replayed
	replayable := req.Body == nil || req.GetBody != nil

	for attempt := 1; ; attempt++ {
		if err := t.config.Limiter.WaitTimeout(ctx, t.config.AcquireTimeout); err != nil {
			return nil, err
		}

		attemptReq := req.Clone(ctx)
		attemptReq.Header.Set("X-Request-Id", requestID)
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}

		resp, err := t.config.Base.RoundTrip(attemptReq)
		if err != nil {
			return nil, err
		}

		t.reconcile(resp, requestID)

		if !t.retryable(resp.StatusCode) {
			if resp.StatusCode < http.StatusBadRequest && t.config.Backoff != nil {
				t.config.Backoff.Reset()
			}
			return resp, nil
		}
		if attempt >= t.config.MaxAttempts || !replayable {
			return resp, nil
		}

		drainBody(resp)
		t.config.Logger.Debug("retrying request",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", t.config.MaxAttempts))

		if err := t.pause(ctx, resp); err != nil {
			return nil, err
		}
	}
}

// reconcile pushes server-reported bucket state into the reconciler: the
// regular rate-limit headers on every response, and an empty bucket with
// the Retry-After instant on a 429.
func (t *Transport) reconcile(resp *http.Response, requestID string) {
	if t.config.Reconciler == nil {
		return
	}

	if err := t.config.Reconciler.ParseHeaders(resp.Header, t.config.Mapping); err != nil {
		t.config.Logger.Warn("header reconciliation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		t.config.Reconciler.UpdateRemaining(0)
		if at, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			t.config.Reconciler.UpdateNextReset(at)
		}
	}
}

// retryable reports whether a status merits another attempt. Server
// errors are only retried when a backoff paces them.
func (t *Transport) retryable(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= http.StatusInternalServerError && t.config.Backoff != nil
}

// pause waits before the next attempt: until the server's Retry-After
// instant when given, on the backoff schedule otherwise.
func (t *Transport) pause(ctx context.Context, resp *http.Response) error {
	if at, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		return sleepUntil(ctx, at)
	}
	if t.config.Backoff != nil {
		return t.config.Backoff.Wait(ctx)
	}
	return nil
}

// parseRetryAfter decodes a Retry-After value as either a delay in
// whole seconds or an HTTP-date, returning the absolute retry instant.
func parseRetryAfter(value string, now time.Time) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(seconds) * time.Second), true
	}
	if at, err := http.ParseTime(value); err == nil {
		return at, true
	}
	return time.Time{}, false
}

// sleepUntil parks until the given instant or ctx ends.
func sleepUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainBody discards a retried response's body so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}
