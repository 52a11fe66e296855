// Package filter keeps the collected sources that plausibly carry promises.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/llm"
	"github.com/ppiankov/promessa/internal/model"
)

const fallbackScore = 0.5

// Classifier scores a batch of items for promise relevance
type Classifier interface {
	Classify(ctx context.Context, target string, items []llm.ClassifyItem) (map[string]llm.Classification, error)
}

// Filter applies the keyword gate and the batched relevance classifier
type Filter struct {
	cfg        model.FilterConfig
	classifier Classifier
	logger     *slog.Logger
}

// New creates a filter. A nil classifier accepts every keyword survivor
// with the fallback score.
func New(cfg model.FilterConfig, classifier Classifier, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 40
	}
	if cfg.MaxItemChars <= 0 {
		cfg.MaxItemChars = 1500
	}
	return &Filter{cfg: cfg, classifier: classifier, logger: logger}
}

type candidate struct {
	src           model.RawSource
	hasCommitment bool
}

// Filter returns the sources that pass the keyword gate and the classifier,
// in input order. Lenient mode admits policy nouns without a commitment
// keyword and lowers the relevance threshold.
func (f *Filter) Filter(ctx context.Context, target model.Target, sources []model.RawSource, lenient bool) []model.FilteredSource {
	logger := f.logger.With("component", "filter", "lenient", lenient)

	var survivors []candidate
	for _, s := range sources {
		if utf8.RuneCountInString(strings.TrimSpace(s.Content)) < f.cfg.MinContentChars {
			continue
		}
		text := s.Title + "\n" + s.Content
		commitment := extract.HasCommitment(text)
		if !commitment && !(lenient && extract.HasPolicyNoun(text)) {
			continue
		}
		survivors = append(survivors, candidate{src: s, hasCommitment: commitment})
	}
	logger.Debug("keyword gate", "in", len(sources), "out", len(survivors))
	if len(survivors) == 0 {
		return nil
	}

	if f.classifier == nil {
		return fallback(survivors, llm.ErrDisabled.Error())
	}

	items := make([]llm.ClassifyItem, len(survivors))
	for i, c := range survivors {
		items[i] = llm.ClassifyItem{
			ID:      strconv.Itoa(i),
			Title:   c.src.Title,
			Content: extract.Truncate(c.src.Content, f.cfg.MaxItemChars),
		}
	}

	verdicts, err := f.classifier.Classify(ctx, target.Name, items)
	if err != nil {
		logger.Warn("classifier failed, accepting keyword survivors", "error", err)
		return fallback(survivors, err.Error())
	}

	threshold := f.cfg.MinRelevance
	if lenient {
		threshold = f.cfg.LenientMinRelevance
	}

	var out []model.FilteredSource
	missing := 0
	for i, c := range survivors {
		v, ok := verdicts[items[i].ID]
		if !ok {
			missing++
			out = append(out, fallbackSource(c, "missing from response"))
			continue
		}
		if !v.IsPromise && v.Score < threshold {
			continue
		}
		out = append(out, model.FilteredSource{
			RawSource:        c.src,
			RelevanceScore:   v.Score,
			IsPromiseBearing: v.IsPromise && c.hasCommitment,
			Justification:    v.Reason,
		})
	}
	logger.Info("sources filtered", "candidates", len(survivors), "kept", len(out), "unanswered", missing)
	return out
}

func fallback(survivors []candidate, reason string) []model.FilteredSource {
	out := make([]model.FilteredSource, len(survivors))
	for i, c := range survivors {
		out[i] = fallbackSource(c, reason)
	}
	return out
}

func fallbackSource(c candidate, reason string) model.FilteredSource {
	return model.FilteredSource{
		RawSource:        c.src,
		RelevanceScore:   fallbackScore,
		IsPromiseBearing: c.hasCommitment,
		Justification:    fmt.Sprintf("fallback: classifier unavailable (%s)", reason),
	}
}
