package model

import "strings"

// PromiseStatement is a commitment extracted from the evidence
type PromiseStatement struct {
	Text                   string       `json:"text"`
	Category               Category     `json:"category"`
	Confidence             float64      `json:"confidence"`
	Negated                bool         `json:"negated"`
	Conditional            bool         `json:"conditional"`
	Reasoning              string       `json:"reasoning,omitempty"`
	EvidenceSnippet        string       `json:"evidence_snippet,omitempty"`
	SourceName             string       `json:"source_name,omitempty"`
	LegislativeIncoherence *Incoherence `json:"legislative_incoherence,omitempty"`
}

// Incoherence records a vote that contradicts a promise
type Incoherence struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url,omitempty"`
	VoteID    string `json:"vote_id,omitempty"`
}

// Category is the policy area a promise belongs to
type Category string

const (
	CategoryInfrastructure Category = "INFRASTRUCTURE"
	CategoryEducation      Category = "EDUCATION"
	CategoryHealth         Category = "HEALTH"
	CategoryEmployment     Category = "EMPLOYMENT"
	CategorySecurity       Category = "SECURITY"
	CategoryEnvironment    Category = "ENVIRONMENT"
	CategorySocial         Category = "SOCIAL"
	CategoryEconomy        Category = "ECONOMY"
	CategoryAgriculture    Category = "AGRICULTURE"
	CategoryCulture        Category = "CULTURE"
	CategoryGeneral        Category = "GENERAL"
)

// Categories lists every category in a stable order
var Categories = []Category{
	CategoryInfrastructure,
	CategoryEducation,
	CategoryHealth,
	CategoryEmployment,
	CategorySecurity,
	CategoryEnvironment,
	CategorySocial,
	CategoryEconomy,
	CategoryAgriculture,
	CategoryCulture,
	CategoryGeneral,
}

// ParseCategory maps a free-form label to a Category. Unknown labels are GENERAL.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryGeneral
}

// VoteRecord is one roll-call vote cast by the target
type VoteRecord struct {
	PropositionID string `json:"proposition_id"`
	Date          string `json:"date"`
	BallotText    string `json:"ballot_text"`
	VoteValue     string `json:"vote_value"`
	Chamber       string `json:"chamber"`
	URL           string `json:"url,omitempty"`
}

// IncoherenceFinding explains why a vote contradicts a promise
type IncoherenceFinding struct {
	Promise                     *PromiseStatement `json:"-"`
	Vote                        VoteRecord        `json:"vote"`
	TopicMatched                Category          `json:"topic_matched"`
	PromiseIsPositiveCommitment bool              `json:"promise_is_positive_commitment"`
	VoteIsAgainst               bool              `json:"vote_is_against"`
	Explanation                 string            `json:"explanation"`
}

// BudgetVerdict says whether a category's spending history supports new promises
type BudgetVerdict struct {
	Category   Category `json:"category"`
	Viable     bool     `json:"viable"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Source     string   `json:"source"` // "live" or "static"
}
