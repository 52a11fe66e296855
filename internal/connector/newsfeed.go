package connector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/model"
)

// NewsFeed searches news through an RSS or Atom search feed
type NewsFeed struct {
	fetcher     *fetch.Fetcher
	urlTemplate string
	maxResults  int
}

// NewNewsFeed creates a news feed connector for a {query} URL template
func NewNewsFeed(f *fetch.Fetcher, urlTemplate string, maxResults int) *NewsFeed {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &NewsFeed{fetcher: f, urlTemplate: urlTemplate, maxResults: maxResults}
}

// Name returns the connector name
func (n *NewsFeed) Name() string { return "news" }

// Search fetches and parses the feed for query
func (n *NewsFeed) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	if n.urlTemplate == "" {
		return nil, ErrNotConfigured
	}

	feedURL := strings.ReplaceAll(n.urlTemplate, "{query}", url.QueryEscape(query))
	resp, err := n.fetcher.FetchWithRetry(ctx, feedURL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, fmt.Errorf("news feed: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("news feed: parse: %w", err)
	}

	count := min(len(feed.Items), n.maxResults)
	hits := make([]model.SearchHit, 0, count)
	for _, item := range feed.Items[:count] {
		if item.Link == "" {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		hit := model.SearchHit{
			Title:   sanitize(item.Title),
			URL:     item.Link,
			Snippet: sanitize(summary),
			Source:  n.Name(),
		}
		if item.PublishedParsed != nil {
			hit.PublishedAt = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			hit.PublishedAt = item.UpdatedParsed
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
