// These tests exercise the HTTP datasource client, focusing on:
//   - Default configuration and TLS settings.
//   - Retry behavior on transient failures.
//   - Handling of non-retryable statuses.
//   - Use of custom transports.
//   - Context cancellation during backoff.

package httpds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fastConfig keeps backoff waits in the low milliseconds.
func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

// TestNewClient_Defaults verifies that NewClient applies sensible defaults
// and correctly sets TLS behavior when no custom Transport is supplied.
func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{InsecureSkipVerify: true})

	if c.httpClient.Timeout <= 0 {
		t.Fatalf("expected non-zero timeout, got %v", c.httpClient.Timeout)
	}
	if c.retry.MaxRetries != 1 {
		t.Fatalf("expected a single attempt by default, got %d", c.retry.MaxRetries)
	}
	if c.retry.MinBackoff <= 0 || c.retry.MaxBackoff <= 0 {
		t.Fatalf("expected positive backoff bounds, got %+v", c.retry)
	}

	transport, ok := c.httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.httpClient.Transport)
	}
	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("expected InsecureSkipVerify=true when configured")
	}
}

// TestDo_Success_NoRetry verifies that a successful 200 response returns
// immediately without retries, even when MaxRetries > 0.
func TestDo_Success_NoRetry(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := NewClient(fastConfig(3)).Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
}

// TestDo_RetryOn5xxThenSuccess verifies that the client retries on a 5xx
// status and returns the successful response once the server recovers.
func TestDo_RetryOn5xxThenSuccess(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := NewClient(fastConfig(3)).Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer resp.Body.Close()

	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts (2x500 + 1x200), got %d", got)
	}
}

// TestDo_StopsAfterMaxRetries verifies that the client gives up after the
// configured retries when every response stays retryable.
func TestDo_StopsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := NewClient(fastConfig(2)).Get(context.Background(), srv.URL, nil)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("expected error after exhausting retries, got nil")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("error should carry the last status, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts (1 initial + 2 retries), got %d", got)
	}
}

// TestDo_NonRetryableStatus verifies that a 400 is returned as-is.
func TestDo_NonRetryableStatus(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := NewClient(fastConfig(3)).Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("status=%d hits=%d; want 400 and 1", resp.StatusCode, hits)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	t.Parallel()

	tests := map[int]bool{
		200: false, 204: false, 400: false, 404: false,
		429: true, 500: true, 502: true, 503: true, 599: true,
	}
	for code, want := range tests {
		if got := isRetryableStatus(code); got != want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TestCustomTransport verifies a supplied RoundTripper is used and that
// base headers are merged with per-request headers.
func TestCustomTransport(t *testing.T) {
	t.Parallel()

	var gotAuth, gotTrace string
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace")
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok")), Header: http.Header{}}, nil
	})

	c := NewClient(Config{
		Transport:   rt,
		BaseHeaders: http.Header{"Authorization": {"Bearer base"}, "X-Trace": {"base"}},
	})
	resp, err := c.Get(context.Background(), "http://example.invalid/x", http.Header{"X-Trace": {"override"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer base" || gotTrace != "override" {
		t.Fatalf("headers auth=%q trace=%q", gotAuth, gotTrace)
	}
}

// TestDo_ContextCancelledDuringBackoff ensures a cancelled context ends the
// retry loop with the context error.
func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		cancel()
		return nil, errors.New("connection refused")
	})
	c := NewClient(Config{Transport: rt, MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: time.Second})

	start := time.Now()
	_, err := c.Get(ctx, "http://example.invalid/", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancellation should interrupt the backoff wait")
	}
}

func TestDo_Validation(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	if _, err := c.Do(context.Background(), "", "http://x", nil, nil); err == nil {
		t.Fatalf("empty method must fail")
	}
	if _, err := c.Do(context.Background(), http.MethodGet, "", nil, nil); err == nil {
		t.Fatalf("empty url must fail")
	}
}
