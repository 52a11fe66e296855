package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ppiankov/promessa/internal/model"
)

// Limiter rate-limits outbound requests per host. Hosts covered by a
// configured quota share one bucket with their subdomains, so
// dadosabertos.camara.leg.br and www.camara.leg.br draw from the same budget.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	quotas   []model.HostQuota
	fallback model.HostQuota
}

// NewLimiter builds a limiter from the rate limiting config
func NewLimiter(cfg model.RateLimitingConfig) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 5
	}
	l := &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		fallback: model.HostQuota{RequestsPerSecond: cfg.RequestsPerSecond, BurstSize: burst},
	}
	for _, q := range cfg.HostQuotas {
		q.Host = strings.ToLower(strings.TrimPrefix(q.Host, "."))
		if q.Host == "" {
			continue
		}
		if q.BurstSize <= 0 {
			q.BurstSize = burst
		}
		l.quotas = append(l.quotas, q)
	}
	return l
}

// Wait blocks until a request to rawURL may proceed
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	b, err := l.bucketFor(rawURL)
	if err != nil {
		return err
	}
	return b.Wait(ctx)
}

// Allow reports whether a request to rawURL may proceed now, spending a
// token when it can
func (l *Limiter) Allow(rawURL string) bool {
	b, err := l.bucketFor(rawURL)
	if err != nil {
		return false
	}
	return b.Allow()
}

func (l *Limiter) bucketFor(rawURL string) (*rate.Limiter, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return nil, err
	}
	quota := l.quotaFor(host)
	key := host
	if quota.Host != "" {
		key = quota.Host
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(quota.RequestsPerSecond), quota.BurstSize)
		l.buckets[key] = b
	}
	return b, nil
}

// quotaFor picks the most specific quota covering host
func (l *Limiter) quotaFor(host string) model.HostQuota {
	best := l.fallback
	for _, q := range l.quotas {
		if host != q.Host && !strings.HasSuffix(host, "."+q.Host) {
			continue
		}
		if len(q.Host) > len(best.Host) {
			best = q
		}
	}
	return best
}

// hostOf returns the lowercase hostname without port
func hostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return strings.ToLower(parsed.Hostname()), nil
}
