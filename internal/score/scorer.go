// Package score turns extracted promises into the 0-100 viability score.
package score

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/model"
)

// Factor weights; they sum to 1
const (
	weightSpecificity = 0.20
	weightCompliance  = 0.25
	weightBudget      = 0.25
	weightTimeline    = 0.10
	weightAuthorTrack = 0.20
)

const defaultAuthorTrack = 0.5

var (
	durationRe  = regexp.MustCompile(`\b(\d+|um|uma|dois|duas|tres|quatro|cinco|seis|sete|oito|nove|dez|doze|quinze|vinte|trinta|sessenta|noventa|cem)\s+(dia|dias|semana|semanas|mes|meses|ano|anos)\b`)
	yearRe      = regexp.MustCompile(`\b(20\d{2})\b`)
	firstYearRe = regexp.MustCompile(`\b(primeiro ano|primeiros (100|cem) dias|(100|cem) dias|primeiro semestre|primeiros meses)\b`)
	mandateRe   = regexp.MustCompile(`\b(4|quatro) anos\b|\bmandato\b|\b(fim|final) do governo\b|\bquadrienio\b`)
	constructRe = regexp.MustCompile(`\b(constru\w*|obras?|hospita\w*|pontes?|viadutos?|rodovias?|estradas?|metro|pavimenta\w*|duplica\w*|saneamento|aeroportos?|portos?)\b`)

	numberWords = map[string]int{
		"um": 1, "uma": 1, "dois": 2, "duas": 2, "tres": 3, "quatro": 4, "cinco": 5,
		"seis": 6, "sete": 7, "oito": 8, "nove": 9, "dez": 10, "doze": 12, "quinze": 15,
		"vinte": 20, "trinta": 30, "sessenta": 60, "noventa": 90, "cem": 100,
	}

	unitDays = map[string]int{
		"dia": 1, "dias": 1, "semana": 7, "semanas": 7,
		"mes": 30, "meses": 30, "ano": 365, "anos": 365,
	}
)

// Engine calculates the viability score and generates signals
type Engine struct {
	now func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets a custom clock function (for testing)
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// NewEngine creates a new scoring engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score computes the five factors per promise, averages them and combines
// them with fixed weights. authorTrack is nil when no credibility lookup
// succeeded.
func (e *Engine) Score(promises []model.PromiseStatement, budget model.BudgetVerdict, authorTrack *float64) model.ScoreResult {
	b := budget
	result := model.ScoreResult{
		Promises: promises,
		Budget:   &b,
	}

	if len(promises) == 0 {
		result.RiskLevel = model.RiskHigh
		result.Signals = []model.Signal{{
			Type:        model.SignalNoPromises,
			Severity:    model.SeverityCritical,
			Description: "No promises extracted",
			Data:        map[string]interface{}{"promises": 0},
		}}
		return result
	}

	track := defaultAuthorTrack
	trackSource := "default"
	if authorTrack != nil {
		track = clamp01(*authorTrack)
		trackSource = "lookup"
	}

	compliance := clamp01(budget.Confidence)
	feasibility := 0.3
	if budget.Viable {
		feasibility = 0.8
	}

	var specSum, timeSum, confSum float64
	conditional, incoherent := 0, 0
	for _, p := range promises {
		specSum += Specificity(p.Text)
		timeSum += e.Timeline(p)
		confSum += p.Confidence
		if p.Conditional {
			conditional++
		}
		if p.LegislativeIncoherence != nil {
			incoherent++
		}
	}
	n := float64(len(promises))

	factors := model.FactorSet{
		PromiseSpecificity:   specSum / n,
		HistoricalCompliance: compliance,
		BudgetaryFeasibility: feasibility,
		TimelineFeasibility:  timeSum / n,
		AuthorTrack:          track,
	}

	aggregate := factors.PromiseSpecificity*weightSpecificity +
		factors.HistoricalCompliance*weightCompliance +
		factors.BudgetaryFeasibility*weightBudget +
		factors.TimelineFeasibility*weightTimeline +
		factors.AuthorTrack*weightAuthorTrack

	result.Factors = factors
	result.Score = math.Round(clamp01(aggregate)*1000) / 10
	result.RiskLevel = RiskFor(result.Score)
	result.Confidence = clamp01(confSum / n)

	result.Signals = []model.Signal{
		{
			Type:        model.SignalSpecificity,
			Severity:    severityAbove(factors.PromiseSpecificity, 0.6, 0.4),
			Description: fmt.Sprintf("Average specificity %.2f over %d promises", factors.PromiseSpecificity, len(promises)),
			Data: map[string]interface{}{
				"value":   factors.PromiseSpecificity,
				"weight":  weightSpecificity,
				"formula": "min(1, 0.2 + 0.2*numeric + 0.2*time_reference + 0.2*action_verb + 0.2*(length>120))",
			},
		},
		{
			Type:        model.SignalCompliance,
			Severity:    severityAbove(compliance, 0.6, 0.4),
			Description: fmt.Sprintf("Budget execution confidence for %s: %.2f (%s)", budget.Category, compliance, budget.Source),
			Data: map[string]interface{}{
				"value":   compliance,
				"weight":  weightCompliance,
				"source":  budget.Source,
				"formula": "budget.confidence",
			},
		},
		{
			Type:        model.SignalBudget,
			Severity:    severityAbove(feasibility, 0.6, 0.6),
			Description: budget.Reason,
			Data: map[string]interface{}{
				"value":   feasibility,
				"weight":  weightBudget,
				"viable":  budget.Viable,
				"formula": "viable ? 0.8 : 0.3",
			},
		},
		{
			Type:        model.SignalTimeline,
			Severity:    severityAbove(factors.TimelineFeasibility, 0.5, 0.3),
			Description: fmt.Sprintf("Average timeline feasibility %.2f", factors.TimelineFeasibility),
			Data: map[string]interface{}{
				"value":   factors.TimelineFeasibility,
				"weight":  weightTimeline,
				"formula": "clamp(0.5 - 0.3*large_work_short_deadline + 0.2*mandate_framing +/- duration_adjustment, 0, 1)",
			},
		},
		{
			Type:        model.SignalAuthorTrack,
			Severity:    severityAbove(track, 0.5, 0.3),
			Description: fmt.Sprintf("Author track record %.2f (%s)", track, trackSource),
			Data: map[string]interface{}{
				"value":  track,
				"weight": weightAuthorTrack,
				"source": trackSource,
			},
		},
	}

	if incoherent > 0 {
		result.Signals = append(result.Signals, model.Signal{
			Type:        model.SignalIncoherence,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d of %d promises contradict recorded votes", incoherent, len(promises)),
			Data:        map[string]interface{}{"incoherent": incoherent, "promises": len(promises)},
		})
	}
	if conditional > 0 {
		result.Signals = append(result.Signals, model.Signal{
			Type:        model.SignalConditional,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("%d of %d promises are conditional", conditional, len(promises)),
			Data:        map[string]interface{}{"conditional": conditional, "promises": len(promises)},
		})
	}

	return result
}

// RiskFor buckets a 0-100 score
func RiskFor(score float64) model.RiskLevel {
	switch {
	case score >= 60:
		return model.RiskLow
	case score >= 35:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// Specificity rewards numbers, dates, concrete verbs and detail
func Specificity(text string) float64 {
	s := 0.2
	if extract.HasNumber(text) {
		s += 0.2
	}
	if extract.HasTimeReference(text) {
		s += 0.2
	}
	if extract.HasActionVerb(text) {
		s += 0.2
	}
	if len([]rune(text)) > 120 {
		s += 0.2
	}
	return math.Min(1, s)
}

// Timeline judges whether the promised deadline is plausible for the kind
// of work promised
func (e *Engine) Timeline(p model.PromiseStatement) float64 {
	text := extract.Normalize(p.Text)
	t := 0.5

	days, hasDuration := explicitDays(text)

	largeWork := p.Category == model.CategoryInfrastructure ||
		p.Category == model.CategoryHealth ||
		constructRe.MatchString(text)
	if largeWork && e.subYearDeadline(text, days, hasDuration) {
		t -= 0.3
	}

	if mandateRe.MatchString(text) {
		t += 0.2
	}

	if hasDuration {
		switch {
		case days < 30:
			t -= 0.2
		case days > 1460:
			t -= 0.2
		default:
			t += 0.1
		}
	}

	return clamp01(t)
}

func (e *Engine) subYearDeadline(text string, days int, hasDuration bool) bool {
	if hasDuration && days < 365 {
		return true
	}
	if firstYearRe.MatchString(text) {
		return true
	}
	limit := e.now().Year() + 1
	for _, m := range yearRe.FindAllStringSubmatch(text, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && y <= limit {
			return true
		}
	}
	return false
}

// explicitDays converts the first "N unit" duration in normalized text to
// days
func explicitDays(text string) (int, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		n = numberWords[m[1]]
	}
	if n <= 0 {
		return 0, false
	}
	return n * unitDays[m[2]], true
}

func severityAbove(v, info, warning float64) model.SignalSeverity {
	switch {
	case v >= info:
		return model.SeverityInfo
	case v >= warning:
		return model.SeverityWarning
	default:
		return model.SeverityCritical
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
