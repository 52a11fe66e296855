package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func noSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleepFunc
	fetchSleepFunc = func(context.Context, time.Duration) {}
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func TestFetchWithRetry_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body>OK</body></html>")
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20)
	resp, err := fetcher.FetchWithRetry(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(resp.Body) != "<html><body>OK</body></html>" {
		t.Errorf("Unexpected body: %s", resp.Body)
	}
	if resp.ContentType != "text/html" {
		t.Errorf("Unexpected content type: %s", resp.ContentType)
	}
}

func TestFetchWithRetry_TransientThenSuccess(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "OK")
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20)
	resp, err := fetcher.FetchWithRetry(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(resp.Body) != "OK" {
		t.Errorf("Unexpected body: %s", resp.Body)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_PermanentFailure(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20)
	_, err := fetcher.FetchWithRetry(context.Background(), server.URL, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 StatusError, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("404 should not be retried, got %d attempts", attempts.Load())
	}
}

func TestFetchWithRetry_AllRetriesExhausted(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20, WithMaxRetries(4))
	if _, err := fetcher.FetchWithRetry(context.Background(), server.URL, nil); err == nil {
		t.Fatal("Expected error after all retries exhausted")
	}
	if attempts.Load() != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_429Retried(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, "OK")
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20)
	if _, err := fetcher.FetchWithRetry(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Expected success after 429 retry, got %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
}

func TestFetch_BodyCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "0123456789")
	}))
	defer server.Close()

	fetcher := NewFetcher(5*time.Second, "test-agent", 4)
	resp, err := fetcher.Fetch(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "0123" {
		t.Errorf("body = %q, want first 4 bytes", resp.Body)
	}
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"dados":[{"id":204554}]}`)
	}))
	defer server.Close()

	var out struct {
		Dados []struct {
			ID int `json:"id"`
		} `json:"dados"`
	}
	fetcher := NewFetcher(5*time.Second, "test-agent", 1<<20)
	if err := fetcher.GetJSON(context.Background(), server.URL, map[string]string{"X-Key": "secret"}, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(out.Dados) != 1 || out.Dados[0].ID != 204554 {
		t.Errorf("decoded %+v", out)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableFetchError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"503", &StatusError{Code: 503, Status: "503 Service Unavailable"}, true},
		{"500", &StatusError{Code: 500}, true},
		{"429", &StatusError{Code: 429}, true},
		{"404", &StatusError{Code: 404}, false},
		{"403 wrapped", fmt.Errorf("camara: %w", &StatusError{Code: 403}), false},
		{"connection refused", fmt.Errorf("fetch: %w", syscall.ECONNREFUSED), true},
		{"connection reset", fmt.Errorf("fetch: %w", syscall.ECONNRESET), true},
		{"timeout", fmt.Errorf("fetch: %w", timeoutErr{}), true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("no route")}, true},
		{"unexpected EOF", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"cancelled", fmt.Errorf("fetch: %w", context.Canceled), false},
		{"bad request", errors.New("create request: invalid URL"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableFetchError(tt.err); got != tt.retryable {
				t.Errorf("isRetryableFetchError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if got := redact("https://api.example.com/search?q=x&key=secret"); got != "https://api.example.com/search" {
		t.Errorf("redact() = %q", got)
	}
}
