// Package brain turns filtered evidence into scored, persisted promises.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/connector"
	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/llm"
	"github.com/ppiankov/promessa/internal/metrics"
	"github.com/ppiankov/promessa/internal/model"
	"github.com/ppiankov/promessa/internal/resilience"
	"github.com/ppiankov/promessa/internal/score"
)

const (
	historyLimit  = 20
	evidenceChars = 2000
)

// Store is the persistence the synthesizer needs
type Store interface {
	PriorAnalyses(ctx context.Context, author, excludeID string, limit int) ([]model.Analysis, error)
	SaveAnalysis(ctx context.Context, a *model.Analysis) error
}

// Extractor pulls promises out of the assembled evidence context
type Extractor interface {
	Extract(ctx context.Context, evidence string) (*llm.Extraction, error)
}

// IDResolver finds a legislator's registry id from name and state
type IDResolver interface {
	ResolveID(ctx context.Context, target model.Target) (string, error)
}

// Params are the per-run inputs besides the target and evidence
type Params struct {
	Author             string         // Defaults to the target name
	Category           model.Category // Empty means detect from evidence
	ExistingAnalysisID string         // Overwrite this analysis instead of creating one
}

// Synthesizer extracts, cross-checks and scores promises
type Synthesizer struct {
	store     Store
	extractor Extractor
	local     *extract.PromiseExtractor
	budget    connector.BudgetSource
	votes     connector.VoteSource
	engine    *score.Engine
	breakers  *resilience.Registry
	cache     *cache.Intelligent
	budgetTTL time.Duration
	votesTTL  time.Duration
	metrics   *metrics.Metrics
	newID     func() string
	logger    *slog.Logger
}

// Option configures a Synthesizer
type Option func(*Synthesizer)

// WithExtractor sets the language-model extractor
func WithExtractor(e Extractor) Option {
	return func(s *Synthesizer) { s.extractor = e }
}

// WithBudget sets the live budget source; the static table backs it
func WithBudget(b connector.BudgetSource) Option {
	return func(s *Synthesizer) { s.budget = b }
}

// WithVotes sets the roll-call source used for incoherence checks
func WithVotes(v connector.VoteSource) Option {
	return func(s *Synthesizer) { s.votes = v }
}

// WithEngine replaces the default scoring engine
func WithEngine(e *score.Engine) Option {
	return func(s *Synthesizer) { s.engine = e }
}

// WithBreakers guards the budget and vote lookups
func WithBreakers(r *resilience.Registry) Option {
	return func(s *Synthesizer) { s.breakers = r }
}

// WithCache caches budget verdicts and vote lists
func WithCache(ic *cache.Intelligent, budgetTTL, votesTTL time.Duration) Option {
	return func(s *Synthesizer) {
		s.cache = ic
		s.budgetTTL = budgetTTL
		s.votesTTL = votesTTL
	}
}

// WithMetrics records produced scores
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithIDFunc sets the analysis id generator (for testing)
func WithIDFunc(fn func() string) Option {
	return func(s *Synthesizer) { s.newID = fn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// New creates a synthesizer persisting to store
func New(store Store, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		store:  store,
		local:  extract.NewPromiseExtractor(),
		budget: connector.StaticBudget{},
		engine: score.NewEngine(),
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize extracts the target's promises from the evidence, checks them
// against budget execution and recorded votes, scores them and persists the
// analysis
func (s *Synthesizer) Synthesize(ctx context.Context, target model.Target, evidence []model.FilteredSource, p Params) (*model.ScoreResult, error) {
	author := p.Author
	if author == "" {
		author = target.Name
	}
	logger := s.logger.With("component", "brain", "target", target.Name)

	priors, err := s.store.PriorAnalyses(ctx, author, p.ExistingAnalysisID, historyLimit)
	if err != nil {
		logger.Warn("history lookup failed", "error", err)
		priors = nil
	}

	category := p.Category
	if category == "" {
		category = dominantCategory(evidence)
	}

	budget := s.budgetVerdict(ctx, category, target)

	evidenceContext := buildContext(historyLine(author, priors), budget, evidence)

	var promises []model.PromiseStatement
	var credibility *float64
	sentiment := ""
	extraction, err := s.extract(ctx, evidenceContext)
	if err != nil {
		if !errors.Is(err, llm.ErrDisabled) {
			logger.Warn("extraction failed, using keyword rules", "error", err)
		}
		promises = s.localPromises(evidence)
	} else {
		promises = extraction.Promises
		credibility = extraction.CredibilityScore
		sentiment = extraction.OverallSentiment
	}
	extract.ApplyCategory(promises, p.Category)

	findings := CheckIncoherence(promises, s.recentVotes(ctx, target))
	for _, f := range findings {
		logger.Info("legislative incoherence",
			"topic", string(f.TopicMatched),
			"vote", f.Vote.PropositionID,
			"value", f.Vote.VoteValue)
	}

	result := s.engine.Score(promises, budget, authorTrack(credibility, priors))

	id := p.ExistingAnalysisID
	if id == "" {
		id = s.newID()
	}
	result.AnalysisID = id

	analysis := &model.Analysis{
		ID:          id,
		TargetName:  target.Name,
		Author:      author,
		Category:    category,
		Status:      model.AnalysisCompleted,
		Score:       result.Score,
		RiskLevel:   result.RiskLevel,
		Confidence:  result.Confidence,
		Factors:     result.Factors,
		SourceCount: len(evidence),
		Summary:     summary(len(promises), len(findings), sentiment),
		Promises:    result.Promises,
	}
	if err := s.store.SaveAnalysis(ctx, analysis); err != nil {
		logger.Error("persisting analysis failed", "analysis_id", id, "error", err)
		return nil, fmt.Errorf("brain: persist analysis %s: %w", id, err)
	}

	s.metrics.Score(result.Score)
	logger.Info("analysis scored",
		"analysis_id", id,
		"promises", len(promises),
		"score", result.Score,
		"risk", string(result.RiskLevel))
	return &result, nil
}

func (s *Synthesizer) extract(ctx context.Context, evidenceContext string) (*llm.Extraction, error) {
	if s.extractor == nil {
		return nil, llm.ErrDisabled
	}
	return s.extractor.Extract(ctx, evidenceContext)
}

// localPromises runs the keyword extractor over every source, in order
func (s *Synthesizer) localPromises(evidence []model.FilteredSource) []model.PromiseStatement {
	var out []model.PromiseStatement
	seen := make(map[string]bool)
	for _, e := range evidence {
		name := e.Title
		if name == "" {
			name = e.URL
		}
		for _, p := range s.local.Extract(e.Content, name) {
			key := extract.Normalize(p.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

// budgetVerdict asks the live source behind the breaker and cache and falls
// back to the static table
func (s *Synthesizer) budgetVerdict(ctx context.Context, category model.Category, target model.Target) model.BudgetVerdict {
	if s.budget == nil {
		return connector.StaticVerdict(category)
	}
	key := cache.Key("budget", string(category), strings.ToUpper(target.State), target.IBGECode)
	v, err := resilience.Call(ctx, s.breakers, "budget",
		func(ctx context.Context) (model.BudgetVerdict, error) {
			v, err := cache.GetOrLoad(ctx, s.cache, key, s.budgetTTL, func(ctx context.Context) (model.BudgetVerdict, error) {
				return s.budget.Viability(ctx, category, target)
			})
			// An unconfigured source is not an outage
			if errors.Is(err, connector.ErrNotConfigured) {
				return connector.StaticVerdict(category), nil
			}
			return v, err
		},
		func(context.Context, error) (model.BudgetVerdict, error) {
			return connector.StaticVerdict(category), nil
		})
	if err != nil {
		return connector.StaticVerdict(category)
	}
	return v
}

// recentVotes resolves the target's legislative id when needed and lists
// its votes, most recent first. Any failure yields no votes.
func (s *Synthesizer) recentVotes(ctx context.Context, target model.Target) []model.VoteRecord {
	if s.votes == nil {
		return nil
	}

	id := target.LegislativeID
	if id == "" {
		resolver, ok := s.votes.(IDResolver)
		if !ok {
			return nil
		}
		resolved, err := resilience.Call(ctx, s.breakers, "votes",
			func(ctx context.Context) (string, error) { return resolver.ResolveID(ctx, target) },
			resilience.Empty[string])
		if err != nil || resolved == "" {
			return nil
		}
		id = resolved
	}

	votes, err := resilience.Call(ctx, s.breakers, "votes",
		func(ctx context.Context) ([]model.VoteRecord, error) {
			return cache.GetOrLoad(ctx, s.cache, cache.Key("votes", id), s.votesTTL, func(ctx context.Context) ([]model.VoteRecord, error) {
				return s.votes.RecentVotes(ctx, id)
			})
		},
		resilience.Empty[[]model.VoteRecord])
	if err != nil {
		return nil
	}
	return votes
}

// CheckIncoherence marks each positive commitment with the most recent vote
// against a shared theme. votes must be ordered most recent first.
func CheckIncoherence(promises []model.PromiseStatement, votes []model.VoteRecord) []model.IncoherenceFinding {
	if len(votes) == 0 {
		return nil
	}

	var findings []model.IncoherenceFinding
	for i := range promises {
		p := &promises[i]
		if p.Negated || !extract.IsPositiveCommitment(p.Text) {
			continue
		}
		for _, v := range votes {
			if !extract.IsNegativeVote(v.VoteValue) {
				continue
			}
			theme, ok := extract.SharedTheme(p.Text, v.BallotText)
			if !ok {
				continue
			}

			explanation := fmt.Sprintf("Promise on %s contradicts vote %q of %s: %s",
				theme, v.VoteValue, v.Date, extract.Truncate(v.BallotText, 200))
			p.LegislativeIncoherence = &model.Incoherence{
				Text:      explanation,
				SourceURL: v.URL,
				VoteID:    v.PropositionID,
			}
			findings = append(findings, model.IncoherenceFinding{
				Promise:                     p,
				Vote:                        v,
				TopicMatched:                theme,
				PromiseIsPositiveCommitment: true,
				VoteIsAgainst:               true,
				Explanation:                 explanation,
			})
			break
		}
	}
	return findings
}

// authorTrack prefers the model's credibility score, then the author's
// average past score
func authorTrack(credibility *float64, priors []model.Analysis) *float64 {
	if credibility != nil {
		return credibility
	}
	if len(priors) == 0 {
		return nil
	}
	var sum float64
	for _, a := range priors {
		sum += a.Score
	}
	avg := sum / float64(len(priors)) / 100
	return &avg
}

func dominantCategory(evidence []model.FilteredSource) model.Category {
	texts := make([]string, len(evidence))
	for i, e := range evidence {
		texts[i] = e.Title + "\n" + e.Content
	}
	return extract.DominantCategory(texts)
}

func historyLine(author string, priors []model.Analysis) string {
	if len(priors) == 0 {
		return fmt.Sprintf("Histórico: nenhuma análise anterior de %s.", author)
	}
	var sum float64
	for _, a := range priors {
		sum += a.Score
	}
	return fmt.Sprintf("Histórico: %d análises anteriores de %s, pontuação média %.1f.",
		len(priors), author, sum/float64(len(priors)))
}

func buildContext(history string, budget model.BudgetVerdict, evidence []model.FilteredSource) string {
	var b strings.Builder
	b.WriteString(history)
	b.WriteString("\n")

	viable := "não"
	if budget.Viable {
		viable = "sim"
	}
	fmt.Fprintf(&b, "Orçamento (%s): viável=%s, confiança %.2f, fonte %s. %s\n\n",
		budget.Category, viable, budget.Confidence, budget.Source, budget.Reason)

	b.WriteString("Evidências:\n")
	for i, e := range evidence {
		fmt.Fprintf(&b, "\n[%d] %s\nURL: %s\nCredibilidade: %s (%s)\n%s\n",
			i+1, e.Title, e.URL, e.Confidence, e.Kind, extract.Truncate(e.Content, evidenceChars))
	}
	return b.String()
}

func summary(promises, incoherent int, sentiment string) string {
	s := fmt.Sprintf("%d promises, %d contradicted by votes", promises, incoherent)
	if sentiment != "" {
		s += ", sentiment " + sentiment
	}
	return s
}
