package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/promessa/internal/metrics"
)

// Intelligent is a get-or-produce cache. Concurrent requests for the same
// key share one producer run; values carry their own expiry so every
// backend honours the caller's TTL.
type Intelligent struct {
	backend     Cache
	group       singleflight.Group
	now         func() time.Time
	loadTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// DefaultLoadTimeout bounds a producer run when no WithLoadTimeout is given
const DefaultLoadTimeout = 2 * time.Minute

type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// IntelligentOption configures an Intelligent cache
type IntelligentOption func(*Intelligent)

// WithCacheClock sets a custom clock function (for testing)
func WithCacheClock(fn func() time.Time) IntelligentOption {
	return func(ic *Intelligent) { ic.now = fn }
}

// WithLoadTimeout bounds each producer run. The run is detached from the
// caller that started it, so this is its only deadline.
func WithLoadTimeout(d time.Duration) IntelligentOption {
	return func(ic *Intelligent) {
		if d > 0 {
			ic.loadTimeout = d
		}
	}
}

// WithCacheLogger sets the logger
func WithCacheLogger(l *slog.Logger) IntelligentOption {
	return func(ic *Intelligent) { ic.logger = l }
}

// WithCacheMetrics records hits and misses
func WithCacheMetrics(m *metrics.Metrics) IntelligentOption {
	return func(ic *Intelligent) { ic.metrics = m }
}

// NewIntelligent wraps a backend cache
func NewIntelligent(backend Cache, opts ...IntelligentOption) *Intelligent {
	ic := &Intelligent{
		backend:     backend,
		now:         time.Now,
		loadTimeout: DefaultLoadTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(ic)
	}
	return ic
}

// Invalidate drops a key
func (ic *Intelligent) Invalidate(key string) error {
	if ic == nil {
		return nil
	}
	return ic.backend.Delete(key)
}

// GetOrLoad returns the cached value for key when present and unexpired.
// Otherwise it runs producer once for all concurrent callers of the same
// key, stores the result for ttl and returns it. Producer errors are not
// cached. A nil cache always runs producer.
//
// The producer runs under the first caller's context values but not its
// deadline or cancellation: a caller that gives up gets ctx.Err() while
// the run continues for the others, bounded by the load timeout. A run
// that hits the load timeout is never stored.
func GetOrLoad[T any](ctx context.Context, ic *Intelligent, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	var zero T
	if ic == nil {
		return producer(ctx)
	}

	if v, ok := lookup[T](ic, key); ok {
		ic.metrics.CacheResult("hit")
		return v, nil
	}

	ch := ic.group.DoChan(key, func() (interface{}, error) {
		// Another flight may have stored it between our lookup and now.
		if v, ok := lookup[T](ic, key); ok {
			return v, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ic.loadTimeout)
		defer cancel()

		v, err := producer(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := loadCtx.Err(); err != nil {
			ic.logger.Warn("discarding load cut short", "component", "cache", "key", key, "error", err)
			return nil, err
		}
		ic.store(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			ic.metrics.CacheResult("shared")
		} else {
			ic.metrics.CacheResult("miss")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

func lookup[T any](ic *Intelligent, key string) (T, bool) {
	var zero T

	raw, found := ic.backend.Get(key)
	if !found {
		return zero, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		ic.logger.Debug("discarding corrupt cache entry", "component", "cache", "key", key, "error", err)
		_ = ic.backend.Delete(key)
		return zero, false
	}
	if !ic.now().Before(env.ExpiresAt) {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(env.Value, &v); err != nil {
		ic.logger.Debug("discarding undecodable cache value", "component", "cache", "key", key, "error", err)
		_ = ic.backend.Delete(key)
		return zero, false
	}
	return v, true
}

func (ic *Intelligent) store(key string, v interface{}, ttl time.Duration) {
	value, err := json.Marshal(v)
	if err != nil {
		ic.logger.Warn("cache encode failed", "component", "cache", "key", key, "error", err)
		return
	}
	raw, err := json.Marshal(envelope{Value: value, ExpiresAt: ic.now().Add(ttl)})
	if err != nil {
		return
	}
	if err := ic.backend.Set(key, raw, ttl); err != nil {
		ic.logger.Warn("cache write failed", "component", "cache", "key", key, "error", err)
	}
}
