// Package connector adapts external evidence providers (web search, news
// feeds, legislative registries, official gazettes and budget execution
// data) to a small set of uniform interfaces.
package connector

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ppiankov/promessa/internal/model"
)

// ErrNotConfigured is returned by a connector that lacks its endpoint or key
var ErrNotConfigured = errors.New("connector: not configured")

// Searcher runs a free-text query against a search provider
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]model.SearchHit, error)
}

// Registry is an official data source for one jurisdiction level. Every
// source it returns is tagged official with high confidence.
type Registry interface {
	Name() string
	Level() model.Jurisdiction
	Collect(ctx context.Context, target model.Target) ([]model.RawSource, error)
}

// VoteSource lists recent roll-call votes of a legislator
type VoteSource interface {
	RecentVotes(ctx context.Context, legislativeID string) ([]model.VoteRecord, error)
}

// BudgetSource judges whether a category's spending history supports new
// promises
type BudgetSource interface {
	Viability(ctx context.Context, category model.Category, target model.Target) (model.BudgetVerdict, error)
}

var strictPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from provider snippets and collapses whitespace
func sanitize(s string) string {
	clean := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(clean), " ")
}

func officialSource(title, url, content, origin string) model.RawSource {
	return model.RawSource{
		Title:      title,
		URL:        url,
		Content:    content,
		Origin:     origin,
		Kind:       model.KindOfficial,
		Confidence: model.ConfidenceHigh,
	}
}
