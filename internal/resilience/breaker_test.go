package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func failing(context.Context) (string, error) { return "", errBoom }
func working(context.Context) (string, error) { return "live", nil }

func fallbackValue(_ context.Context, _ error) (string, error) { return "fallback", nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewRegistry(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := Call(ctx, reg, "camara", failing, fallbackValue)
		if err != nil || got != "fallback" {
			t.Fatalf("call %d: got (%q, %v), want fallback", i, got, err)
		}
	}

	snap := reg.Snapshot("camara")
	if snap.State != "OPEN" {
		t.Fatalf("state = %s, want OPEN", snap.State)
	}
	if snap.FailureCount != 5 {
		t.Errorf("failure count = %d, want 5", snap.FailureCount)
	}

	var calls int32
	op := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "live", nil
	}
	got, _ := Call(ctx, reg, "camara", op, fallbackValue)
	if got != "fallback" {
		t.Errorf("open breaker returned %q, want fallback", got)
	}
	if calls != 0 {
		t.Errorf("op ran %d times while open, want 0", calls)
	}
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewRegistry(WithClock(clock.Now), WithFailureThreshold(2))
	ctx := context.Background()

	_, _ = Call(ctx, reg, "budget", failing, fallbackValue)
	_, _ = Call(ctx, reg, "budget", failing, fallbackValue)
	if s := reg.Snapshot("budget").State; s != "OPEN" {
		t.Fatalf("state = %s, want OPEN", s)
	}

	clock.Advance(30 * time.Second)
	if s := reg.Snapshot("budget").State; s != "HALF_OPEN" {
		t.Fatalf("state after reset timeout = %s, want HALF_OPEN", s)
	}

	got, err := Call(ctx, reg, "budget", working, fallbackValue)
	if err != nil || got != "live" {
		t.Fatalf("probe got (%q, %v), want live", got, err)
	}

	snap := reg.Snapshot("budget")
	if snap.State != "CLOSED" || snap.FailureCount != 0 {
		t.Errorf("after probe: %+v, want CLOSED with 0 failures", snap)
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewRegistry(WithClock(clock.Now), WithFailureThreshold(1), WithResetTimeout(10*time.Second))
	ctx := context.Background()

	_, _ = Call(ctx, reg, "votes", failing, fallbackValue)
	clock.Advance(10 * time.Second)

	_, _ = Call(ctx, reg, "votes", failing, fallbackValue)
	snap := reg.Snapshot("votes")
	if snap.State != "OPEN" {
		t.Fatalf("state = %s, want OPEN", snap.State)
	}
	if !snap.LastFailure.Equal(clock.Now()) {
		t.Errorf("last failure = %v, want refreshed to %v", snap.LastFailure, clock.Now())
	}

	// Still open until another full reset timeout elapses.
	clock.Advance(5 * time.Second)
	if s := reg.Snapshot("votes").State; s != "OPEN" {
		t.Errorf("state = %s, want OPEN", s)
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewRegistry(WithClock(clock.Now), WithFailureThreshold(1))
	ctx := context.Background()

	_, _ = Call(ctx, reg, "web", failing, fallbackValue)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	var probes int32
	slowProbe := func(context.Context) (string, error) {
		atomic.AddInt32(&probes, 1)
		<-release
		return "live", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = Call(ctx, reg, "web", slowProbe, fallbackValue)
	}()

	// Wait until the probe is in flight.
	for atomic.LoadInt32(&probes) == 0 {
		time.Sleep(time.Millisecond)
	}

	for i := 1; i < 5; i++ {
		results[i], _ = Call(ctx, reg, "web", slowProbe, fallbackValue)
	}
	close(release)
	wg.Wait()

	if probes != 1 {
		t.Errorf("probes = %d, want 1", probes)
	}
	if results[0] != "live" {
		t.Errorf("probe result = %q, want live", results[0])
	}
	for i := 1; i < 5; i++ {
		if results[i] != "fallback" {
			t.Errorf("concurrent caller %d got %q, want fallback", i, results[i])
		}
	}
}

func TestCallSuccessResetsFailures(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = Call(ctx, reg, "gazette", failing, fallbackValue)
	}
	_, _ = Call(ctx, reg, "gazette", working, fallbackValue)

	if n := reg.Snapshot("gazette").FailureCount; n != 0 {
		t.Errorf("failure count = %d, want 0 after success", n)
	}
}

func TestCallNilFallbackReturnsCause(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(1))
	ctx := context.Background()

	_, err := Call[string](ctx, reg, "llm", failing, nil)
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}

	_, err = Call[string](ctx, reg, "llm", working, nil)
	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Service != "llm" {
		t.Errorf("err = %v, want ErrCircuitOpen for llm", err)
	}
}

func TestCallCancelledContextSkipsFallback(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := func(ctx context.Context) (string, error) { return "", ctx.Err() }
	_, err := Call(ctx, reg, "web", op, fallbackValue)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRegistryIsolationAndReset(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(1))
	ctx := context.Background()

	_, _ = Call(ctx, reg, "a", failing, fallbackValue)
	if s := reg.Snapshot("b").State; s != "CLOSED" {
		t.Errorf("unrelated service state = %s, want CLOSED", s)
	}

	reg.ResetAll()
	if s := reg.Snapshot("a").State; s != "CLOSED" {
		t.Errorf("state after ResetAll = %s, want CLOSED", s)
	}

	snaps := reg.Snapshots()
	if len(snaps) != 2 || snaps[0].Service != "a" || snaps[1].Service != "b" {
		t.Errorf("snapshots = %+v, want [a b]", snaps)
	}
}

func TestCallNilRegistry(t *testing.T) {
	got, err := Call(context.Background(), nil, "x", failing, Empty[string])
	if err != nil || got != "" {
		t.Errorf("got (%q, %v), want empty fallback", got, err)
	}
}
