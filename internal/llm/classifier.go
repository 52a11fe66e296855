package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const classifySystemPrompt = `You screen evidence about Brazilian politicians for an audit of campaign promises.
For each item decide whether it contains a concrete political promise or commitment made by the person (isPromise),
and how relevant it is to auditing their promises (score between 0 and 1).
Answer ONLY with a JSON array, one object per item, in this exact shape:
[{"id": "<item id>", "isPromise": true, "score": 0.85, "reason": "<one short sentence>"}]
Do not add prose, markdown or extra fields.`

// ClassifyItem is one piece of evidence sent for relevance screening
type ClassifyItem struct {
	ID      string
	Title   string
	Content string
}

// Classification is the model's verdict for one item
type Classification struct {
	ID        string
	IsPromise bool
	Score     float64
	Reason    string
}

// Classifier screens evidence in one batched call
type Classifier struct {
	provider Provider
}

// NewClassifier wraps provider; a nil provider yields ErrDisabled on use
func NewClassifier(provider Provider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify returns the verdicts keyed by item ID. Items the model left out
// are simply absent from the map.
func (c *Classifier) Classify(ctx context.Context, target string, items []ClassifyItem) (map[string]Classification, error) {
	if c == nil || c.provider == nil {
		return nil, ErrDisabled
	}
	if len(items) == 0 {
		return map[string]Classification{}, nil
	}

	raw, err := c.provider.Complete(ctx, classifySystemPrompt, buildClassifyPrompt(target, items))
	if err != nil {
		return nil, err
	}
	return parseClassifications(raw)
}

func buildClassifyPrompt(target string, items []ClassifyItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Politician: %s\n\nItems:\n", target)
	for _, it := range items {
		fmt.Fprintf(&sb, "\n--- id: %s ---\nTitle: %s\n%s\n", it.ID, it.Title, it.Content)
	}
	return sb.String()
}

type rawClassification struct {
	ID        json.RawMessage `json:"id"`
	IsPromise *bool           `json:"isPromise"`
	Score     *float64        `json:"score"`
	Reason    string          `json:"reason"`
}

// parseClassifications decodes the model output strictly: a missing array,
// a malformed element or a missing required field fails the whole batch
func parseClassifications(raw string) (map[string]Classification, error) {
	payload := jsonPayload(raw, '[', ']')
	if payload == "" {
		return nil, fmt.Errorf("classifier: no JSON array in response")
	}

	var items []rawClassification
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("classifier: decode response: %w", err)
	}

	out := make(map[string]Classification, len(items))
	for i, it := range items {
		id := rawID(it.ID)
		if id == "" || it.IsPromise == nil || it.Score == nil {
			return nil, fmt.Errorf("classifier: element %d is missing id, isPromise or score", i)
		}
		out[id] = Classification{
			ID:        id,
			IsPromise: *it.IsPromise,
			Score:     clamp01(*it.Score),
			Reason:    strings.TrimSpace(it.Reason),
		}
	}
	return out, nil
}

// rawID accepts ids sent back as strings or as numbers
func rawID(b json.RawMessage) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(b)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
