package testutil

import (
	"net/http"
	"sync"
	"time"
)

// MockClock implements Clock interface for testing with controllable time.
// This is used across multiple rate limiter tests to avoid actual time delays.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// MockRoundTripper is a scripted http.RoundTripper for transport tests.
// Each call pops the next queued response (or error); captured requests
// can be inspected afterwards.
type MockRoundTripper struct {
	mu        sync.Mutex
	responses []*http.Response
	errs      []error
	delay     time.Duration
	requests  []*http.Request
}

// NewMockRoundTripper creates an empty MockRoundTripper.
func NewMockRoundTripper() *MockRoundTripper {
	return &MockRoundTripper{}
}

// Queue appends a response to be returned by a future RoundTrip call.
func (m *MockRoundTripper) Queue(resp *http.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
}

// QueueError appends a transport error to be returned by a future RoundTrip call.
func (m *MockRoundTripper) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
}

// SetDelay configures a delay applied to every RoundTrip call.
func (m *MockRoundTripper) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// RoundTrip implements http.RoundTripper. When the queue is exhausted it
// keeps returning the last queued entry.
func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	if i < 0 {
		m.mu.Unlock()
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: http.NoBody, Request: req}, nil
	}
	resp, err := m.responses[i], m.errs[i]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	out := *resp
	out.Request = req
	if out.Body == nil {
		out.Body = http.NoBody
	}
	return &out, nil
}

// Requests returns a copy of all captured requests.
func (m *MockRoundTripper) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of RoundTrip calls.
func (m *MockRoundTripper) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
