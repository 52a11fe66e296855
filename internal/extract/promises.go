package extract

import (
	"strings"

	"github.com/ppiankov/promessa/internal/model"
)

const maxLocalPromises = 25

// PromiseExtractor finds commitments in plain text with keyword rules. It is
// the fallback when no language model is configured or the model fails.
type PromiseExtractor struct {
	max int
}

// NewPromiseExtractor creates a new promise extractor
func NewPromiseExtractor() *PromiseExtractor {
	return &PromiseExtractor{max: maxLocalPromises}
}

// Extract returns one PromiseStatement per committing sentence in text
func (e *PromiseExtractor) Extract(text, sourceName string) []model.PromiseStatement {
	var promises []model.PromiseStatement
	for _, sentence := range SplitSentences(text) {
		keyword := CommitmentKeyword(sentence)
		if keyword == "" {
			continue
		}

		promises = append(promises, model.PromiseStatement{
			Text:            sentence,
			Category:        Categorize(sentence),
			Confidence:      localConfidence(sentence),
			Negated:         IsNegated(sentence),
			Conditional:     IsConditional(sentence),
			Reasoning:       "keyword:" + keyword,
			EvidenceSnippet: Truncate(sentence, 200),
			SourceName:      sourceName,
		})
	}

	promises = dedupePromises(promises)
	if len(promises) > e.max {
		promises = promises[:e.max]
	}
	return promises
}

// localConfidence rates how concrete a sentence is
func localConfidence(sentence string) float64 {
	c := 0.4
	if HasNumber(sentence) {
		c += 0.15
	}
	if HasTimeReference(sentence) {
		c += 0.15
	}
	if HasActionVerb(sentence) {
		c += 0.1
	}
	if IsFirstPerson(sentence) {
		c += 0.1
	}
	if IsConditional(sentence) {
		c -= 0.2
	}
	return clamp(c, 0.05, 0.95)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyCategory replaces GENERAL categories with the caller's category
func ApplyCategory(promises []model.PromiseStatement, category model.Category) {
	if category == "" || category == model.CategoryGeneral {
		return
	}
	for i := range promises {
		if promises[i].Category == model.CategoryGeneral {
			promises[i].Category = category
		}
	}
}

// dedupePromises removes statements whose normalized text repeats
func dedupePromises(promises []model.PromiseStatement) []model.PromiseStatement {
	seen := make(map[string]bool)
	var unique []model.PromiseStatement

	for _, p := range promises {
		key := strings.TrimSpace(Normalize(p.Text))
		if !seen[key] {
			seen[key] = true
			unique = append(unique, p)
		}
	}

	return unique
}
