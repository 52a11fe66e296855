package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p1 := NewPool[int](context.Background(), 5)
	if p1.workers != 5 {
		t.Errorf("expected 5 workers, got %d", p1.workers)
	}

	p2 := NewPool[int](context.Background(), 0)
	if p2.workers != 1 {
		t.Errorf("expected default 1 worker for 0 input, got %d", p2.workers)
	}

	p3 := NewPool[int](context.Background(), -1)
	if p3.workers != 1 {
		t.Errorf("expected default 1 worker for negative input, got %d", p3.workers)
	}
}

func TestPool_ResultsInSubmissionOrder(t *testing.T) {
	pool := NewPool[int](context.Background(), 4)
	pool.Start()

	count := 20
	for i := 0; i < count; i++ {
		pool.Submit(func(context.Context) int {
			// Later tasks finish first
			time.Sleep(time.Duration(count-i) * time.Millisecond)
			return i
		})
	}

	results := pool.Wait()
	if len(results) != count {
		t.Fatalf("expected %d results, got %d", count, len(results))
	}
	for i, r := range results {
		if r != i {
			t.Errorf("results[%d] = %d, want %d", i, r, i)
		}
	}
}

func TestPool_Concurrency(t *testing.T) {
	workers := 3
	pool := NewPool[error](context.Background(), workers)
	pool.Start()

	var mu sync.Mutex
	active, maxActive := 0, 0

	for i := 0; i < 12; i++ {
		pool.Submit(func(context.Context) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return nil
		})
	}
	pool.Wait()

	if maxActive > workers {
		t.Errorf("max concurrent tasks = %d, want at most %d", maxActive, workers)
	}
	if maxActive < 2 {
		t.Errorf("max concurrent tasks = %d, expected parallel execution", maxActive)
	}
}

func TestPool_ErrorHandling(t *testing.T) {
	pool := NewPool[error](context.Background(), 2)
	pool.Start()

	for i := 0; i < 6; i++ {
		pool.Submit(func(context.Context) error {
			if i%2 == 0 {
				return errors.New("task error")
			}
			return nil
		})
	}

	errCount := 0
	for _, err := range pool.Wait() {
		if err != nil {
			errCount++
		}
	}
	if errCount != 3 {
		t.Errorf("expected 3 errors, got %d", errCount)
	}
}

func TestPool_PanicBecomesResult(t *testing.T) {
	pool := NewPool[error](context.Background(), 1)
	pool.OnPanic(func(_ int, r any) error { return &PanicError{Value: r} })
	pool.Start()

	pool.Submit(func(context.Context) error { panic("boom") })
	pool.Submit(func(context.Context) error { return nil })

	results := pool.Wait()
	var pe *PanicError
	if !errors.As(results[0], &pe) || pe.Value != "boom" {
		t.Errorf("results[0] = %v, want PanicError(boom)", results[0])
	}
	if results[1] != nil {
		t.Errorf("results[1] = %v, want nil; a panic must not stop the worker", results[1])
	}
}

func TestPool_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool[error](ctx, 1)
	pool.Start()

	var executed int32
	started := make(chan struct{})
	pool.Submit(func(ctx context.Context) error {
		atomic.AddInt32(&executed, 1)
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	cancel()

	if pool.Submit(func(context.Context) error { atomic.AddInt32(&executed, 1); return nil }) {
		t.Error("Submit() after cancellation should report false")
	}

	done := make(chan []error)
	go func() { done <- pool.Wait() }()
	select {
	case results := <-done:
		if !errors.Is(results[0], context.Canceled) {
			t.Errorf("results[0] = %v, want context.Canceled", results[0])
		}
		if results[1] != nil {
			t.Errorf("results[1] = %v, want zero value for an unrun task", results[1])
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after the parent was cancelled")
	}
	if n := atomic.LoadInt32(&executed); n != 1 {
		t.Errorf("executed %d tasks, want 1", n)
	}
}

func TestPool_Shutdown(t *testing.T) {
	pool := NewPool[error](context.Background(), 2)
	pool.Start()

	for i := 0; i < 2; i++ {
		pool.Submit(func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil
		})
	}

	start := time.Now()
	pool.Shutdown()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Shutdown took %v, expected prompt cancellation", elapsed)
	}
}
