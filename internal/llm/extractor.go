package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/promessa/internal/model"
)

const extractSystemPrompt = `You extract political promises from evidence about a Brazilian politician.
Only report commitments actually made by the politician. Keep the original Portuguese wording.
Categories: INFRASTRUCTURE, EDUCATION, HEALTH, EMPLOYMENT, SECURITY, ENVIRONMENT, SOCIAL, ECONOMY, AGRICULTURE, CULTURE, GENERAL.
Answer ONLY with a JSON object in this exact shape:
{"promises": [{"text": "...", "category": "HEALTH", "confidence": 0.8, "negated": false, "conditional": false,
  "reasoning": "...", "evidenceSnippet": "...", "sourceName": "..."}],
 "overallSentiment": "positive|neutral|negative",
 "credibilityScore": 0.6}
credibilityScore is your 0-1 estimate of how reliably this politician has delivered on past promises, based only on the evidence.`

// Extraction is the structured result of promise extraction
type Extraction struct {
	Promises         []model.PromiseStatement
	OverallSentiment string
	// CredibilityScore is nil when the model did not provide one
	CredibilityScore *float64
}

// Extractor turns an evidence context into promise statements
type Extractor struct {
	provider Provider
}

// NewExtractor wraps provider; a nil provider yields ErrDisabled on use
func NewExtractor(provider Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract asks the model for the promises in evidence
func (e *Extractor) Extract(ctx context.Context, evidence string) (*Extraction, error) {
	if e == nil || e.provider == nil {
		return nil, ErrDisabled
	}

	raw, err := e.provider.Complete(ctx, extractSystemPrompt, evidence)
	if err != nil {
		return nil, err
	}
	return parseExtraction(raw)
}

type rawPromise struct {
	Text            string   `json:"text"`
	Category        string   `json:"category"`
	Confidence      *float64 `json:"confidence"`
	Negated         bool     `json:"negated"`
	Conditional     bool     `json:"conditional"`
	Reasoning       string   `json:"reasoning"`
	EvidenceSnippet string   `json:"evidenceSnippet"`
	SourceName      string   `json:"sourceName"`
}

type rawExtraction struct {
	Promises         *[]rawPromise `json:"promises"`
	OverallSentiment string        `json:"overallSentiment"`
	CredibilityScore *float64      `json:"credibilityScore"`
}

func parseExtraction(raw string) (*Extraction, error) {
	payload := jsonPayload(raw, '{', '}')
	if payload == "" {
		return nil, fmt.Errorf("extractor: no JSON object in response")
	}

	var re rawExtraction
	if err := json.Unmarshal([]byte(payload), &re); err != nil {
		return nil, fmt.Errorf("extractor: decode response: %w", err)
	}
	if re.Promises == nil {
		return nil, fmt.Errorf("extractor: response has no promises field")
	}

	out := &Extraction{OverallSentiment: strings.ToLower(strings.TrimSpace(re.OverallSentiment))}
	for _, p := range *re.Promises {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		confidence := 0.5
		if p.Confidence != nil {
			confidence = clamp01(*p.Confidence)
		}
		out.Promises = append(out.Promises, model.PromiseStatement{
			Text:            text,
			Category:        model.ParseCategory(p.Category),
			Confidence:      confidence,
			Negated:         p.Negated,
			Conditional:     p.Conditional,
			Reasoning:       strings.TrimSpace(p.Reasoning),
			EvidenceSnippet: strings.TrimSpace(p.EvidenceSnippet),
			SourceName:      strings.TrimSpace(p.SourceName),
		})
	}

	if re.CredibilityScore != nil {
		score := *re.CredibilityScore
		// Some models answer on a 0-100 scale
		if score > 1 && score <= 100 {
			score /= 100
		}
		score = clamp01(score)
		out.CredibilityScore = &score
	}
	return out, nil
}
