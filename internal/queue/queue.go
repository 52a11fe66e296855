// Package queue dispatches analyses to a background queue, falling back to
// running them inline when no queue is reachable.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/promessa/internal/model"
)

// Error codes stored on failed job status records
const (
	CodeTimeoutSync   = "TIMEOUT_SYNC"
	CodeTimeoutWorker = "TIMEOUT_WORKER"
)

// Job is the message carried by a queue backend
type Job struct {
	ID         string                `json:"id"`
	Request    model.AnalysisRequest `json:"request"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
}

// Handler processes one consumed job
type Handler func(ctx context.Context, job Job) error

// Queue is a durable job queue
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume delivers jobs to h until ctx is done
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// StatusStore persists the job status records clients poll
type StatusStore interface {
	SaveJob(ctx context.Context, j *model.JobStatus) error
	UpdateJob(ctx context.Context, j *model.JobStatus) error
	GetJob(ctx context.Context, id string) (*model.JobStatus, error)
}

// Analyzer runs one analysis
type Analyzer interface {
	RunAnalysis(ctx context.Context, req model.AnalysisRequest) (*model.ScoreResult, error)
}

// ErrTimeoutSync is returned when an inline analysis exceeds the
// synchronous wall-clock limit
type ErrTimeoutSync struct {
	JobID   string
	Timeout time.Duration
}

func (e *ErrTimeoutSync) Error() string {
	return fmt.Sprintf("queue: job %s exceeded the synchronous limit of %s", e.JobID, e.Timeout)
}

// Code returns the error code stored on the job record
func (e *ErrTimeoutSync) Code() string { return CodeTimeoutSync }

type outcome struct {
	result *model.ScoreResult
	err    error
}

// runBounded runs the analysis and returns when it finishes or when ctx is
// done, whichever comes first. An analysis that ignores its context keeps
// running in the background but its outcome is discarded.
func runBounded(ctx context.Context, a Analyzer, req model.AnalysisRequest) (*model.ScoreResult, error) {
	done := make(chan outcome, 1)
	go func() {
		r, err := a.RunAnalysis(ctx, req)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish moves status to its terminal state
func finish(status *model.JobStatus, result *model.ScoreResult, err error, code string) {
	if err != nil {
		status.State = model.JobFailed
		status.Error = err.Error()
		status.ErrorCode = code
		return
	}
	status.State = model.JobCompleted
	status.Result = result
	if result != nil && result.AnalysisID != "" {
		status.AnalysisID = result.AnalysisID
	}
}
