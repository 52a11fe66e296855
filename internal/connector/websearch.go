package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/model"
)

// WebSearch queries a JSON web-search API through a {query} URL template.
// Brave-style responses (web.results[].description) and SearXNG-style
// responses (results[].content) are both understood.
type WebSearch struct {
	fetcher      *fetch.Fetcher
	cache        *cache.Intelligent
	urlTemplate  string
	apiKey       string
	apiKeyHeader string
	maxResults   int
	ttl          time.Duration
}

// NewWebSearch creates a web search connector. A nil cache disables caching.
func NewWebSearch(f *fetch.Fetcher, cfg model.SearchConfig, c *cache.Intelligent, ttl time.Duration) *WebSearch {
	max := cfg.MaxResults
	if max <= 0 {
		max = 10
	}
	return &WebSearch{
		fetcher:      f,
		cache:        c,
		urlTemplate:  cfg.URLTemplate,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		maxResults:   max,
		ttl:          ttl,
	}
}

// Name returns the connector name
func (w *WebSearch) Name() string { return "web" }

type webSearchResponse struct {
	Web struct {
		Results []webSearchResult `json:"results"`
	} `json:"web"`
	Results []webSearchResult `json:"results"`
}

type webSearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// Search runs query and returns at most maxResults hits in rank order
func (w *WebSearch) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	if w.urlTemplate == "" {
		return nil, ErrNotConfigured
	}
	key := cache.Key("search", w.urlTemplate, query)
	return cache.GetOrLoad(ctx, w.cache, key, w.ttl, func(ctx context.Context) ([]model.SearchHit, error) {
		return w.search(ctx, query)
	})
}

func (w *WebSearch) search(ctx context.Context, query string) ([]model.SearchHit, error) {
	searchURL := strings.ReplaceAll(w.urlTemplate, "{query}", url.QueryEscape(query))

	var headers map[string]string
	if w.apiKey != "" && w.apiKeyHeader != "" {
		headers = map[string]string{w.apiKeyHeader: w.apiKey}
	}

	var resp webSearchResponse
	if err := w.fetcher.GetJSON(ctx, searchURL, headers, &resp); err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	results := resp.Web.Results
	if len(results) == 0 {
		results = resp.Results
	}

	hits := make([]model.SearchHit, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		hits = append(hits, model.SearchHit{
			Title:   sanitize(r.Title),
			URL:     r.URL,
			Snippet: sanitize(snippet),
			Source:  w.Name(),
		})
		if len(hits) == w.maxResults {
			break
		}
	}
	return hits, nil
}
