package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/promessa/internal/metrics"
	"github.com/ppiankov/promessa/internal/model"
)

// Dispatch reports how a job was accepted
type Dispatch struct {
	JobID  string
	Async  bool
	Status *model.JobStatus
}

// Dispatcher enqueues analyses or runs them inline
type Dispatcher struct {
	queue      Queue
	status     StatusStore
	analyzer   Analyzer
	cfg        model.QueueConfig
	now        func() time.Time
	newID      func() string
	analysisID func() string
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu            sync.Mutex
	fallbackUntil time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithClock sets a custom clock function (for testing)
func WithClock(fn func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = fn }
}

// WithIDFunc sets the job id generator (for testing)
func WithIDFunc(fn func() string) DispatcherOption {
	return func(d *Dispatcher) { d.newID = fn }
}

// WithAnalysisIDFunc sets the generator for analysis ids assigned at
// dispatch (for testing)
func WithAnalysisIDFunc(fn func() string) DispatcherOption {
	return func(d *Dispatcher) { d.analysisID = fn }
}

// WithMetrics counts dispatches by outcome: async, sync, timeout or error
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher. A nil queue always runs inline.
func NewDispatcher(q Queue, status StatusStore, analyzer Analyzer, cfg model.QueueConfig, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:      q,
		status:     status,
		analyzer:   analyzer,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		analysisID: uuid.NewString,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.cfg.EnqueueTimeout <= 0 {
		d.cfg.EnqueueTimeout = 3 * time.Second
	}
	if d.cfg.FallbackWindow <= 0 {
		d.cfg.FallbackWindow = 5 * time.Minute
	}
	if d.cfg.SyncTimeout <= 0 {
		d.cfg.SyncTimeout = 45 * time.Second
	}
	return d
}

// Dispatch records a pending job and enqueues it. When no queue is
// configured, or enqueueing fails, the analysis runs inline under the
// synchronous limit; an enqueue failure also keeps later jobs off the queue
// for the fallback window. The analysis id is fixed here so the job record
// points at the analysis even when the run fails or times out.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.AnalysisRequest) (*Dispatch, error) {
	if req.ExistingAnalysisID == "" {
		req.ExistingAnalysisID = d.analysisID()
	}
	status := &model.JobStatus{ID: d.newID(), State: model.JobPending, AnalysisID: req.ExistingAnalysisID}
	if err := d.status.SaveJob(ctx, status); err != nil {
		d.metrics.Dispatch("error")
		return nil, fmt.Errorf("queue: save job: %w", err)
	}
	logger := d.logger.With("component", "queue", "job_id", status.ID)

	if d.queue != nil && !d.inFallback() {
		enqueueCtx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
		err := d.queue.Enqueue(enqueueCtx, Job{ID: status.ID, Request: req, EnqueuedAt: d.now().UTC()})
		cancel()
		if err == nil {
			d.metrics.Dispatch("async")
			logger.Info("job enqueued")
			return &Dispatch{JobID: status.ID, Async: true, Status: status}, nil
		}
		d.enterFallback()
		logger.Warn("enqueue failed, running inline",
			"error", err,
			"fallback_window", d.cfg.FallbackWindow)
	}

	return d.runSync(ctx, logger, status, req)
}

func (d *Dispatcher) runSync(ctx context.Context, logger *slog.Logger, status *model.JobStatus, req model.AnalysisRequest) (*Dispatch, error) {
	// Status writes must land even when the caller gives up.
	record := context.WithoutCancel(ctx)

	status.State = model.JobProcessing
	if err := d.status.UpdateJob(record, status); err != nil {
		d.metrics.Dispatch("error")
		return nil, fmt.Errorf("queue: update job: %w", err)
	}

	syncCtx, cancel := context.WithTimeout(ctx, d.cfg.SyncTimeout)
	defer cancel()
	result, err := runBounded(syncCtx, d.analyzer, req)

	var returned error
	switch {
	case err == nil:
		d.metrics.Dispatch("sync")
		finish(status, result, nil, "")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		d.metrics.Dispatch("timeout")
		returned = &ErrTimeoutSync{JobID: status.ID, Timeout: d.cfg.SyncTimeout}
		finish(status, nil, returned, CodeTimeoutSync)
	default:
		d.metrics.Dispatch("error")
		returned = err
		finish(status, nil, err, "")
	}

	if uerr := d.status.UpdateJob(record, status); uerr != nil {
		logger.Error("recording job outcome failed", "state", string(status.State), "error", uerr)
	}
	if returned != nil {
		logger.Warn("inline analysis failed", "error", returned, "code", status.ErrorCode)
		return nil, returned
	}
	logger.Info("inline analysis completed", "analysis_id", status.AnalysisID)
	return &Dispatch{JobID: status.ID, Status: status}, nil
}

// CheckStatus returns the job's status record
func (d *Dispatcher) CheckStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	return d.status.GetJob(ctx, jobID)
}

func (d *Dispatcher) inFallback() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.fallbackUntil)
}

func (d *Dispatcher) enterFallback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbackUntil = d.now().Add(d.cfg.FallbackWindow)
}
