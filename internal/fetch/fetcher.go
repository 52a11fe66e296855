// Package fetch performs outbound HTTP requests for connectors and ingestion.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/promessa/internal/util"
	"github.com/ppiankov/promessa/internal/worker"
)

// fetchSleepFunc is swapped out in tests to skip backoff delays
var fetchSleepFunc = func(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// Retryable reports whether the status is worth retrying (5xx and 429)
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Response is a fetched body with the metadata callers dispatch on
type Response struct {
	Body         []byte
	ContentType  string
	StatusCode   int
	FinalURL     string
	LastModified string
}

// Fetcher performs GET requests with a size cap, redirect cap and retries
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	maxRetries int
	limiter    *worker.Limiter
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithProxy routes requests through explicit proxies, falling back to the
// environment when both are empty
func WithProxy(httpProxy, httpsProxy, noProxy string) Option {
	return func(f *Fetcher) {
		if t, ok := f.httpClient.Transport.(*http.Transport); ok {
			t.Proxy = util.NewProxyFunc(httpProxy, httpsProxy, noProxy)
		}
	}
}

// WithLimiter applies per-domain rate limiting before every attempt
func WithLimiter(l *worker.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithMaxRetries sets the total number of attempts for retryable failures
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxRetries = n
		}
	}
}

// NewFetcher creates a Fetcher
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, opts ...Option) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		maxRetries: 3,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch performs a single GET request
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		StatusCode:   resp.StatusCode,
		FinalURL:     resp.Request.URL.String(),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// FetchWithRetry retries transient failures (5xx, 429, connection errors)
// with linear backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		resp, err := f.Fetch(ctx, rawURL, headers)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryableFetchError(err) || attempt == f.maxRetries || ctx.Err() != nil {
			break
		}
		fetchSleepFunc(ctx, time.Duration(attempt)*time.Second)
	}
	return nil, lastErr
}

// GetJSON fetches rawURL with retries and decodes the body into out
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out interface{}) error {
	h := map[string]string{"Accept": "application/json"}
	for k, v := range headers {
		h[k] = v
	}

	resp, err := f.FetchWithRetry(ctx, rawURL, h)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", redact(rawURL), err)
	}
	return nil
}

func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// redact strips the query string, which may carry API keys
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "?")
}
