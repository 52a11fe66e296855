package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/model"
)

// Analyzer runs one analysis
type Analyzer interface {
	RunAnalysis(ctx context.Context, req model.AnalysisRequest) (*model.ScoreResult, error)
}

// Outcome is the result of analysing one target
type Outcome struct {
	Target   model.Target
	Result   *model.ScoreResult
	Error    error
	Duration time.Duration
}

// BatchProcessor analyses many targets with bounded concurrency
type BatchProcessor struct {
	analyzer      Analyzer
	concurrency   int
	targetTimeout time.Duration
	deep          bool
	lenient       bool
	logger        *slog.Logger
}

// BatchOption configures a BatchProcessor
type BatchOption func(*BatchProcessor)

// WithTargetTimeout bounds each analysis
func WithTargetTimeout(d time.Duration) BatchOption {
	return func(b *BatchProcessor) { b.targetTimeout = d }
}

// WithSearchMode sets deep search and lenient filtering for every target
func WithSearchMode(deep, lenient bool) BatchOption {
	return func(b *BatchProcessor) {
		b.deep = deep
		b.lenient = lenient
	}
}

// WithBatchLogger sets the logger
func WithBatchLogger(l *slog.Logger) BatchOption {
	return func(b *BatchProcessor) { b.logger = l }
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(analyzer Analyzer, concurrency int, opts ...BatchOption) *BatchProcessor {
	b := &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// ProcessTargets analyses the targets concurrently. Outcomes follow the
// input order; targets left unprocessed when ctx ends carry ctx's error.
func (b *BatchProcessor) ProcessTargets(ctx context.Context, targets []model.Target) []*Outcome {
	if len(targets) == 0 {
		return []*Outcome{}
	}

	pool := NewPool[*Outcome](ctx, b.concurrency)
	pool.OnPanic(func(i int, r any) *Outcome {
		return &Outcome{Target: targets[i], Error: &PanicError{Value: r}}
	})
	pool.Start()

	for _, target := range targets {
		submitted := pool.Submit(func(ctx context.Context) *Outcome {
			return b.analyze(ctx, target)
		})
		if !submitted {
			break
		}
	}

	results := pool.Wait()
	outcomes := make([]*Outcome, len(targets))
	for i, target := range targets {
		if i < len(results) && results[i] != nil {
			outcomes[i] = results[i]
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		outcomes[i] = &Outcome{Target: target, Error: fmt.Errorf("not analysed: %w", err)}
	}
	return outcomes
}

func (b *BatchProcessor) analyze(ctx context.Context, target model.Target) *Outcome {
	if b.targetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.targetTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := b.analyzer.RunAnalysis(ctx, model.AnalysisRequest{
		Target:     target,
		DeepSearch: b.deep,
		Lenient:    b.lenient,
	})
	out := &Outcome{Target: target, Result: res, Error: err, Duration: time.Since(start)}
	if err != nil {
		b.logger.Warn("batch target failed", "component", "batch", "target", target.Name, "error", err)
	}
	return out
}

// ProcessFile reads targets from a file and analyses them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*Outcome, error) {
	targets, err := ReadTargetsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return b.ProcessTargets(ctx, targets), nil
}

// ReadTargetsFromFile reads one target per line in the form
// name|office|state|city. Only the name is required; blank lines and
// lines starting with # are skipped, repeated targets are dropped.
func ReadTargetsFromFile(filePath string) ([]model.Target, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var targets []model.Target
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		target, err := ParseTarget(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		key := extract.CollapseSpace(extract.Fold(strings.Join([]string{target.Name, target.Office, target.State, target.City}, "|")))
		if !seen[key] {
			seen[key] = true
			targets = append(targets, target)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return targets, nil
}

// ParseTarget parses name|office|state|city
func ParseTarget(line string) (model.Target, error) {
	fields := strings.Split(line, "|")
	if len(fields) > 4 {
		return model.Target{}, fmt.Errorf("too many fields in %q (want name|office|state|city)", line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	for len(fields) < 4 {
		fields = append(fields, "")
	}
	if fields[0] == "" {
		return model.Target{}, fmt.Errorf("missing name in %q", line)
	}
	return model.Target{
		Name:   fields[0],
		Office: fields[1],
		State:  strings.ToUpper(fields[2]),
		City:   fields[3],
	}, nil
}
