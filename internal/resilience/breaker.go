// Package resilience guards calls to unreliable external services.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/promessa/internal/metrics"
	"github.com/ppiankov/promessa/internal/model"
)

// State is the circuit breaker state
type State int

const (
	StateClosed   State = iota // Calls pass through
	StateOpen                  // Calls are short-circuited to the fallback
	StateHalfOpen              // One probe call tests recovery
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// ErrCircuitOpen is handed to the fallback when a breaker rejects a call
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("resilience: circuit open: %s", e.Service)
}

// Breaker tracks failures of a single service
type Breaker struct {
	mu           sync.Mutex
	service      string
	state        State
	failures     int
	lastFailure  time.Time
	probing      bool
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	onChange     func(service string, from, to State)
}

// allow reports whether a call may proceed. In half-open state only the
// first caller is admitted; the rest are rejected until the probe resolves.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeTransition()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.setState(StateClosed)
			b.failures = 0
			b.probing = false
		case StateClosed:
			b.failures = 0
		}
		return
	}

	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.failures++
		b.probing = false
		b.setState(StateOpen)
	}
}

// maybeTransition moves an open breaker to half-open once the reset timeout
// has elapsed. Must be called with mu held.
func (b *Breaker) maybeTransition() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.probing = false
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(b.service, from, to)
	}
}

func (b *Breaker) snapshot() model.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return model.CircuitState{
		Service:      b.service,
		State:        b.state.String(),
		FailureCount: b.failures,
		LastFailure:  b.lastFailure,
	}
}

func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.lastFailure = time.Time{}
	b.setState(StateClosed)
}

// Registry holds one breaker per service name, created on first use
type Registry struct {
	mu           sync.Mutex
	breakers     map[string]*Breaker
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Registry
type Option func(*Registry)

// WithFailureThreshold sets the consecutive failures that open a breaker
func WithFailureThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// WithResetTimeout sets how long a breaker stays open before probing
func WithResetTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.resetTimeout = d
		}
	}
}

// WithClock sets a custom clock function (for testing)
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// WithLogger sets the logger used for state transitions
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics publishes breaker state to Prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a registry. Defaults: 5 failures, 30s reset timeout.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		breakers:     make(map[string]*Breaker),
		threshold:    5,
		resetTimeout: 30 * time.Second,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) breaker(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[service]
	if !ok {
		b = &Breaker{
			service:      service,
			threshold:    r.threshold,
			resetTimeout: r.resetTimeout,
			now:          r.now,
			onChange:     r.stateChanged,
		}
		r.breakers[service] = b
	}
	return b
}

func (r *Registry) stateChanged(service string, from, to State) {
	r.metrics.BreakerState(service, int(to))
	r.logger.Warn("circuit breaker transition",
		"component", "resilience",
		"service", service,
		"from", from.String(),
		"to", to.String())
}

// Snapshot returns the current state of a service breaker
func (r *Registry) Snapshot(service string) model.CircuitState {
	return r.breaker(service).snapshot()
}

// Snapshots returns every known breaker, sorted by service name
func (r *Registry) Snapshots() []model.CircuitState {
	r.mu.Lock()
	services := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		services = append(services, name)
	}
	r.mu.Unlock()

	sort.Strings(services)
	out := make([]model.CircuitState, 0, len(services))
	for _, s := range services {
		out = append(out, r.Snapshot(s))
	}
	return out
}

// Reset forces a service breaker back to closed
func (r *Registry) Reset(service string) {
	r.breaker(service).reset()
}

// ResetAll closes every breaker
func (r *Registry) ResetAll() {
	r.mu.Lock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.Unlock()

	for _, b := range all {
		b.reset()
	}
}

// Call runs op through the service breaker. When the breaker is open, or op
// fails, fallback receives the cause and its result is returned instead.
// A nil fallback returns the cause. If ctx itself is done, ctx.Err() is
// returned without consulting the fallback.
//
// A nil registry runs op unguarded.
func Call[T any](
	ctx context.Context,
	r *Registry,
	service string,
	op func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	var zero T

	if r == nil {
		v, err := op(ctx)
		if err != nil && fallback != nil && ctx.Err() == nil {
			return fallback(ctx, err)
		}
		return v, err
	}

	b := r.breaker(service)
	if !b.allow() {
		r.metrics.ShortCircuit(service)
		cause := &ErrCircuitOpen{Service: service}
		if fallback == nil {
			return zero, cause
		}
		return fallback(ctx, cause)
	}

	v, err := op(ctx)
	b.record(err)
	if err == nil {
		return v, nil
	}

	if ctx.Err() != nil {
		return zero, ctx.Err()
	}

	r.logger.WarnContext(ctx, "call failed, using fallback",
		"component", "resilience",
		"service", service,
		"error", err)

	if fallback == nil {
		return zero, err
	}
	return fallback(ctx, err)
}

// Empty is a fallback that returns the zero value without error
func Empty[T any](context.Context, error) (T, error) {
	var zero T
	return zero, nil
}
