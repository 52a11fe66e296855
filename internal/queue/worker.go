package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/promessa/internal/model"
)

// Worker consumes queued jobs and runs them through the analyzer
type Worker struct {
	queue       Queue
	status      StatusStore
	analyzer    Analyzer
	jobTimeout  time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a queue consumer
func NewWorker(q Queue, status StatusStore, analyzer Analyzer, cfg model.QueueConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		queue:       q,
		status:      status,
		analyzer:    analyzer,
		jobTimeout:  cfg.JobTimeout,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 5 * time.Minute
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	return w
}

// Run starts the consumers and blocks until ctx is done or one of them
// fails
func (w *Worker) Run(ctx context.Context) error {
	if w.queue == nil {
		return errors.New("queue: no queue backend configured")
	}
	w.logger.Info("worker started", "component", "queue", "consumers", w.concurrency, "job_timeout", w.jobTimeout)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.queue.Consume(gctx, w.Handle)
		})
	}
	return g.Wait()
}

// Handle runs one job under the job timeout and records its terminal state.
// The record never stays in processing once Handle returns.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	logger := w.logger.With("component", "queue", "job_id", job.ID)
	record := context.WithoutCancel(ctx)

	status, err := w.status.GetJob(record, job.ID)
	if err != nil {
		logger.Warn("job status missing, recreating", "error", err)
		status = &model.JobStatus{ID: job.ID, State: model.JobPending, AnalysisID: job.Request.ExistingAnalysisID}
		if err := w.status.SaveJob(record, status); err != nil {
			return fmt.Errorf("queue: save job %s: %w", job.ID, err)
		}
	}
	if status.Done() {
		logger.Info("skipping finished job", "state", string(status.State))
		return nil
	}

	status.State = model.JobProcessing
	if err := w.status.UpdateJob(record, status); err != nil {
		return fmt.Errorf("queue: update job %s: %w", job.ID, err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()
	result, err := runBounded(jobCtx, w.analyzer, job.Request)

	switch {
	case err == nil:
		finish(status, result, nil, "")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		finish(status, nil, fmt.Errorf("job exceeded the worker limit of %s", w.jobTimeout), CodeTimeoutWorker)
	default:
		finish(status, nil, err, "")
	}

	if err := w.status.UpdateJob(record, status); err != nil {
		return fmt.Errorf("queue: record job %s: %w", job.ID, err)
	}
	logger.Info("job finished",
		"state", string(status.State),
		"error_code", status.ErrorCode,
		"analysis_id", status.AnalysisID)
	return nil
}
