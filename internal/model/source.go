package model

import "time"

// RawSource is one piece of evidence as returned by a connector
type RawSource struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Content     string     `json:"content"`
	Origin      string     `json:"origin"`                 // Connector or outlet that produced it
	PublishedAt *time.Time `json:"published_at,omitempty"` // When known
	Kind        SourceKind `json:"kind"`
	Confidence  Confidence `json:"confidence"`
}

// FilteredSource is a RawSource that survived relevance filtering
type FilteredSource struct {
	RawSource
	RelevanceScore   float64 `json:"relevance_score"`
	IsPromiseBearing bool    `json:"is_promise_bearing"`
	Justification    string  `json:"justification"`
}

// SourceKind classifies where evidence comes from
type SourceKind string

const (
	KindNews     SourceKind = "news"
	KindSocial   SourceKind = "social"
	KindOfficial SourceKind = "official"
)

// Confidence is the credibility attached to a source
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// SearchHit is the generic result tuple returned by search providers
type SearchHit struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Jurisdiction is the government level a target operates in
type Jurisdiction string

const (
	JurisdictionNational  Jurisdiction = "national"
	JurisdictionState     Jurisdiction = "state"
	JurisdictionMunicipal Jurisdiction = "municipal"
)

// Target identifies the public figure whose promises are audited
type Target struct {
	Name          string `json:"name" yaml:"name"`
	Office        string `json:"office,omitempty" yaml:"office,omitempty"`
	State         string `json:"state,omitempty" yaml:"state,omitempty"` // UF, e.g. "SP"
	City          string `json:"city,omitempty" yaml:"city,omitempty"`
	IBGECode      string `json:"ibge_code,omitempty" yaml:"ibge_code,omitempty"`
	Party         string `json:"party,omitempty" yaml:"party,omitempty"`
	LegislativeID string `json:"legislative_id,omitempty" yaml:"legislative_id,omitempty"`
}
