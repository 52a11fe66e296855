package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ppiankov/promessa/internal/brain"
	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/model"
)

// ErrInsufficientData means collection found no evidence about the target.
// It is a user-facing outcome, not an internal failure.
var ErrInsufficientData = errors.New("insufficient data: no sources found for target")

// Request carries the inputs of one analysis run
type Request = model.AnalysisRequest

// Collector gathers raw evidence about a target
type Collector interface {
	Collect(ctx context.Context, target model.Target, deep bool) ([]model.RawSource, error)
}

// Filter keeps the sources relevant to the target
type Filter interface {
	Filter(ctx context.Context, target model.Target, sources []model.RawSource, lenient bool) []model.FilteredSource
}

// Synthesizer turns filtered evidence into a scored, persisted analysis
type Synthesizer interface {
	Synthesize(ctx context.Context, target model.Target, evidence []model.FilteredSource, p brain.Params) (*model.ScoreResult, error)
}

// FailureRecorder persists analyses that did not complete
type FailureRecorder interface {
	MarkAnalysisFailed(ctx context.Context, id, targetName, author, msg string) error
}

// StatusReader loads job status records
type StatusReader interface {
	GetJob(ctx context.Context, id string) (*model.JobStatus, error)
}

// Analyzer orchestrates collect → filter → synthesize for one target
type Analyzer struct {
	collector   Collector
	filter      Filter
	synthesizer Synthesizer
	failures    FailureRecorder
	status      StatusReader
	newID       func() string
	logger      *slog.Logger
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithFailureRecorder persists failed runs
func WithFailureRecorder(r FailureRecorder) Option {
	return func(a *Analyzer) { a.failures = r }
}

// WithStatus enables CheckStatus
func WithStatus(s StatusReader) Option {
	return func(a *Analyzer) { a.status = s }
}

// WithIDFunc sets the analysis id generator (for testing)
func WithIDFunc(fn func() string) Option {
	return func(a *Analyzer) { a.newID = fn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// NewAnalyzer wires the three pipeline stages
func NewAnalyzer(c Collector, f Filter, s Synthesizer, opts ...Option) *Analyzer {
	a := &Analyzer{
		collector:   c,
		filter:      f,
		synthesizer: s,
		newID:       uuid.NewString,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RunAnalysis scores one target. A run that collects nothing fails with
// ErrInsufficientData; every failed run is recorded against its analysis id.
func (a *Analyzer) RunAnalysis(ctx context.Context, req Request) (*model.ScoreResult, error) {
	if req.Target.Name == "" && req.Text == "" {
		return nil, errors.New("pipeline: target name is required")
	}

	id := req.ExistingAnalysisID
	if id == "" {
		id = a.newID()
	}
	logger := a.logger.With("component", "pipeline", "analysis_id", id, "target", req.Target.Name)

	var evidence []model.FilteredSource
	if req.Text != "" {
		evidence = []model.FilteredSource{manualSource(req.Text)}
		logger.Info("analysing supplied statement", "chars", len(req.Text))
	} else {
		sources, err := a.collector.Collect(ctx, req.Target, req.DeepSearch)
		if err != nil {
			a.markFailed(ctx, logger, id, req, err)
			return nil, fmt.Errorf("pipeline: collect: %w", err)
		}
		if len(sources) == 0 {
			a.markFailed(ctx, logger, id, req, ErrInsufficientData)
			return nil, ErrInsufficientData
		}
		logger.Info("sources collected", "count", len(sources))

		evidence = a.filter.Filter(ctx, req.Target, sources, req.Lenient)
		if len(evidence) == 0 && !req.Lenient {
			logger.Info("strict filter kept nothing, retrying lenient")
			evidence = a.filter.Filter(ctx, req.Target, sources, true)
		}
		logger.Info("sources filtered", "kept", len(evidence), "collected", len(sources))
	}

	result, err := a.synthesizer.Synthesize(ctx, req.Target, evidence, brain.Params{
		Author:             req.Author(),
		Category:           req.Category,
		ExistingAnalysisID: id,
	})
	if err != nil {
		a.markFailed(ctx, logger, id, req, err)
		return nil, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	logger.Info("analysis completed",
		"score", result.Score,
		"risk_level", string(result.RiskLevel),
		"promises", len(result.Promises))
	return result, nil
}

// CheckStatus returns the status record of a dispatched job
func (a *Analyzer) CheckStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	if a.status == nil {
		return nil, errors.New("pipeline: no status store configured")
	}
	return a.status.GetJob(ctx, jobID)
}

func (a *Analyzer) markFailed(ctx context.Context, logger *slog.Logger, id string, req Request, cause error) {
	logger.Warn("analysis failed", "error", cause)
	if a.failures == nil {
		return
	}
	if err := a.failures.MarkAnalysisFailed(context.WithoutCancel(ctx), id, req.Target.Name, req.Author(), cause.Error()); err != nil {
		logger.Error("recording failed analysis", "error", err)
	}
}

func manualSource(text string) model.FilteredSource {
	return model.FilteredSource{
		RawSource: model.RawSource{
			Title:      "Declaração informada",
			Content:    text,
			Origin:     "manual",
			Kind:       model.KindSocial,
			Confidence: model.ConfidenceMedium,
		},
		RelevanceScore:   1,
		IsPromiseBearing: extract.HasCommitment(text),
		Justification:    "supplied by the caller",
	}
}
