package worker

import (
	"context"
	"fmt"
	"sync"
)

// Task is one unit of work; it receives the pool's context
type Task[T any] func(ctx context.Context) T

// Pool runs tasks on a fixed number of goroutines under a shared context.
// Results come back in submission order.
type Pool[T any] struct {
	workers    int
	tasks      chan indexedTask[T]
	results    []T
	resultsMu  sync.Mutex
	submitted  int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
	onPanic    func(index int, recovered any) T
}

type indexedTask[T any] struct {
	index int
	run   Task[T]
}

// NewPool creates a pool bound to parent. Cancelling parent stops the
// workers; tasks still queued are not run and leave zero values behind.
func NewPool[T any](parent context.Context, workers int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)

	return &Pool[T]{
		workers:    workers,
		tasks:      make(chan indexedTask[T], workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// OnPanic converts a panicking task into a result instead of crashing the
// process. It must be set before Start.
func (p *Pool[T]) OnPanic(fn func(index int, recovered any) T) {
	p.onPanic = fn
}

// Start launches the workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.store(t.index, p.run(t))
		}
	}
}

func (p *Pool[T]) run(t indexedTask[T]) (result T) {
	if p.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				result = p.onPanic(t.index, r)
			}
		}()
	}
	return t.run(p.ctx)
}

func (p *Pool[T]) store(index int, result T) {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	p.results[index] = result
}

// Submit queues a task. It returns false when the pool was cancelled.
// Submit must not be called concurrently with itself or after Wait.
func (p *Pool[T]) Submit(task Task[T]) bool {
	p.resultsMu.Lock()
	index := p.submitted
	p.submitted++
	var zero T
	p.results = append(p.results, zero)
	p.resultsMu.Unlock()

	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.tasks <- indexedTask[T]{index: index, run: task}:
		return true
	}
}

// Wait closes the pool to new tasks, waits for the workers and returns one
// result per submitted task
func (p *Pool[T]) Wait() []T {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
	p.cancelFunc()

	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	return p.results
}

// Shutdown cancels running tasks and waits for the workers to exit
func (p *Pool[T]) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
}

// PanicError wraps a value recovered from a panicking task
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
