// Package scout gathers raw evidence about a public figure from official
// registries, web search and news feeds.
package scout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/connector"
	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/ingest"
	"github.com/ppiankov/promessa/internal/metrics"
	"github.com/ppiankov/promessa/internal/model"
	"github.com/ppiankov/promessa/internal/resilience"
	"github.com/ppiankov/promessa/internal/validate"
)

// errNothingFound keeps empty collections out of the cache
var errNothingFound = errors.New("scout: nothing found")

// Ingester turns a URL into normalized document text
type Ingester interface {
	Ingest(ctx context.Context, rawURL string) (*ingest.Document, error)
}

// URLHistory records which URLs have been seen before
type URLHistory interface {
	MarkSeen(ctx context.Context, urls []string) (int, error)
	Known(ctx context.Context, urls []string) (map[string]bool, error)
}

// Collector runs the two collection phases for a target
type Collector struct {
	cfg         model.CollectorConfig
	web         connector.Searcher
	news        connector.Searcher
	gazette     connector.Registry
	registries  []connector.Registry
	ingester    Ingester
	credibility *validate.CredibilityClassifier
	breakers    *resilience.Registry
	cache       *cache.Intelligent
	cacheTTL    time.Duration
	history     URLHistory
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Collector
type Option func(*Collector)

// WithRegistries sets the official registries; each is used for targets at
// its own jurisdiction level
func WithRegistries(r ...connector.Registry) Option {
	return func(c *Collector) { c.registries = append(c.registries, r...) }
}

// WithNewsFeed adds a news search used in the deep phase
func WithNewsFeed(s connector.Searcher) Option {
	return func(c *Collector) { c.news = s }
}

// WithGazette sets the nationwide gazette search used in the deep phase
func WithGazette(r connector.Registry) Option {
	return func(c *Collector) { c.gazette = r }
}

// WithIngester sets how generic hits are turned into full text
func WithIngester(in Ingester) Option {
	return func(c *Collector) { c.ingester = in }
}

// WithCredibility replaces the default credibility classifier
func WithCredibility(cc *validate.CredibilityClassifier) Option {
	return func(c *Collector) { c.credibility = cc }
}

// WithBreakers guards every connector call with the given breakers
func WithBreakers(r *resilience.Registry) Option {
	return func(c *Collector) { c.breakers = r }
}

// WithCache memoizes whole collections per target for ttl
func WithCache(ic *cache.Intelligent, ttl time.Duration) Option {
	return func(c *Collector) {
		c.cache = ic
		c.cacheTTL = ttl
	}
}

// WithHistory records every collected URL and steers the ingestion budget
// towards URLs not collected before
func WithHistory(h URLHistory) Option {
	return func(c *Collector) { c.history = h }
}

// WithMetrics counts sources per connector
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a collector around the generic web search
func New(cfg model.CollectorConfig, web connector.Searcher, opts ...Option) *Collector {
	c := &Collector{
		cfg:         cfg,
		web:         web,
		credibility: validate.NewCredibilityClassifier(nil),
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.cfg.ConnectorTimeout <= 0 {
		c.cfg.ConnectorTimeout = 10 * time.Second
	}
	if c.cfg.IngestTimeout <= 0 {
		c.cfg.IngestTimeout = 12 * time.Second
	}
	return c
}

// DetectJurisdiction infers the government level from the office, falling
// back to municipal when only a city is known
func DetectJurisdiction(target model.Target) model.Jurisdiction {
	office := extract.Fold(target.Office)
	switch {
	case containsAny(office, "federal", "senador", "presidente", "ministr"):
		return model.JurisdictionNational
	case containsAny(office, "governador", "estadual", "distrital"):
		return model.JurisdictionState
	case containsAny(office, "prefeit", "vereador", "municipal"):
		return model.JurisdictionMunicipal
	case strings.TrimSpace(target.City) != "":
		return model.JurisdictionMunicipal
	default:
		return model.JurisdictionNational
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Collect returns the de-duplicated evidence for target: registry results
// first in registry order, then ingested hits in search rank order
func (c *Collector) Collect(ctx context.Context, target model.Target, deep bool) ([]model.RawSource, error) {
	key := cache.Key("collect", targetKey(target), strconv.FormatBool(deep))
	sources, err := cache.GetOrLoad(ctx, c.cache, key, c.cacheTTL, func(ctx context.Context) ([]model.RawSource, error) {
		out, err := c.collect(ctx, target, deep)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, errNothingFound
		}
		return out, nil
	})
	if errors.Is(err, errNothingFound) {
		return nil, ctx.Err()
	}
	return sources, err
}

// collect fails when ctx ends before both phases finish, so a partial
// collection is never cached
func (c *Collector) collect(ctx context.Context, target model.Target, deep bool) ([]model.RawSource, error) {
	level := DetectJurisdiction(target)
	logger := c.logger.With("component", "scout", "target", target.Name, "jurisdiction", string(level))

	seen := make(map[string]bool)
	official, hits := c.phaseOne(ctx, target, level)

	sufficient := len(official) >= c.cfg.OfficialSufficient && c.cfg.OfficialSufficient > 0
	out := c.merge(nil, official, seen)
	if sufficient {
		logger.Info("official registries sufficient, skipping generic hits", "official", len(official))
	} else {
		out = c.merge(out, c.ingestHits(ctx, c.freshHits(ctx, hits, seen)), seen)
	}

	if deep || (len(out) < c.cfg.MinSources && !sufficient) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scout: collection cut short: %w", err)
		}
		logger.Info("running deep search", "deep", deep, "sources", len(out))
		gazette, deepHits := c.phaseTwo(ctx, target)
		out = c.merge(out, gazette, seen)
		out = c.merge(out, c.ingestHits(ctx, c.freshHits(ctx, deepHits, seen)), seen)
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("collection cut short", "sources", len(out), "error", err)
		return nil, fmt.Errorf("scout: collection cut short: %w", err)
	}

	c.recordHistory(ctx, logger, out)
	logger.Info("collection finished", "sources", len(out))
	return out, nil
}

// phaseOne runs the level's registries and the generic web search
// concurrently. Registry results come back in registry order.
func (c *Collector) phaseOne(ctx context.Context, target model.Target, level model.Jurisdiction) ([]model.RawSource, []model.SearchHit) {
	var applicable []connector.Registry
	for _, r := range c.registries {
		if r.Level() == level {
			applicable = append(applicable, r)
		}
	}

	results := make([][]model.RawSource, len(applicable))
	var hits []model.SearchHit

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range applicable {
		g.Go(func() error {
			results[i] = c.collectRegistry(gctx, r, target)
			return nil
		})
	}
	if c.web != nil {
		g.Go(func() error {
			hits = c.search(gctx, c.web, webQuery(target))
			return nil
		})
	}
	_ = g.Wait()

	var official []model.RawSource
	for _, rs := range results {
		official = append(official, rs...)
	}
	return official, hits
}

// phaseTwo runs the broader queries: interviews and speeches, legal
// records and official gazettes
func (c *Collector) phaseTwo(ctx context.Context, target model.Target) ([]model.RawSource, []model.SearchHit) {
	name := strconv.Quote(target.Name)
	queries := []struct {
		searcher connector.Searcher
		query    string
	}{
		{c.web, name + " entrevista OR discurso OR promete"},
		{c.news, name + " promessa"},
		{c.web, name + " site:jusbrasil.com.br OR site:jus.br"},
		{c.web, name + ` "diário oficial"`},
	}

	hitLists := make([][]model.SearchHit, len(queries))
	var gazette []model.RawSource

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		if q.searcher == nil {
			continue
		}
		g.Go(func() error {
			hitLists[i] = c.search(gctx, q.searcher, q.query)
			return nil
		})
	}
	if c.gazette != nil {
		g.Go(func() error {
			gazette = c.collectRegistry(gctx, c.gazette, target)
			return nil
		})
	}
	_ = g.Wait()

	var hits []model.SearchHit
	for _, hl := range hitLists {
		hits = append(hits, hl...)
	}
	return gazette, hits
}

func (c *Collector) collectRegistry(ctx context.Context, r connector.Registry, target model.Target) []model.RawSource {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectorTimeout)
	defer cancel()

	out, err := resilience.Call(ctx, c.breakers, r.Name(),
		func(ctx context.Context) ([]model.RawSource, error) { return r.Collect(ctx, target) },
		resilience.Empty[[]model.RawSource])
	if err != nil {
		c.logger.Debug("registry gave up", "component", "scout", "registry", r.Name(), "error", err)
	}
	c.metrics.Sources(r.Name(), len(out))
	return out
}

func (c *Collector) search(ctx context.Context, s connector.Searcher, query string) []model.SearchHit {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectorTimeout)
	defer cancel()

	hits, err := resilience.Call(ctx, c.breakers, s.Name(),
		func(ctx context.Context) ([]model.SearchHit, error) { return s.Search(ctx, query) },
		resilience.Empty[[]model.SearchHit])
	if err != nil {
		c.logger.Debug("search gave up", "component", "scout", "searcher", s.Name(), "error", err)
	}
	c.metrics.Sources(s.Name(), len(hits))
	return hits
}

// freshHits drops invalid and already-collected URLs and caps the result at
// the ingestion budget. URLs absent from the history get the budget first;
// known ones fill what is left. The result keeps rank order.
func (c *Collector) freshHits(ctx context.Context, hits []model.SearchHit, seen map[string]bool) []model.SearchHit {
	var candidates []model.SearchHit
	var keys []string
	local := make(map[string]bool)
	for _, h := range hits {
		if !validate.IsHTTPURL(h.URL) {
			continue
		}
		key := validate.NormalizeURL(h.URL)
		if seen[key] || local[key] {
			continue
		}
		local[key] = true
		candidates = append(candidates, h)
		keys = append(keys, key)
	}

	limit := c.cfg.IngestTopN
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	if c.history == nil {
		return candidates[:limit]
	}
	known, err := c.history.Known(ctx, keys)
	if err != nil {
		c.logger.Warn("url history lookup failed", "component", "scout", "error", err)
		return candidates[:limit]
	}

	picked := make([]bool, len(candidates))
	n := 0
	for _, wantKnown := range []bool{false, true} {
		for i := range candidates {
			if n == limit {
				break
			}
			if !picked[i] && known[keys[i]] == wantKnown {
				picked[i] = true
				n++
			}
		}
	}
	out := make([]model.SearchHit, 0, limit)
	for i, h := range candidates {
		if picked[i] {
			out = append(out, h)
		}
	}
	return out
}

// ingestHits fetches every hit concurrently under the ingestion timeout.
// Hits that fail or time out are dropped; the rest keep their rank order.
func (c *Collector) ingestHits(ctx context.Context, hits []model.SearchHit) []model.RawSource {
	if len(hits) == 0 {
		return nil
	}

	docs := make([]*model.RawSource, len(hits))
	var wg sync.WaitGroup
	for i, h := range hits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs[i] = c.ingestHit(ctx, h)
		}()
	}
	wg.Wait()

	out := make([]model.RawSource, 0, len(hits))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func (c *Collector) ingestHit(ctx context.Context, h model.SearchHit) *model.RawSource {
	src := &model.RawSource{
		Title:       h.Title,
		URL:         h.URL,
		Origin:      h.Source,
		PublishedAt: h.PublishedAt,
	}
	if c.ingester == nil {
		if h.Snippet == "" {
			return nil
		}
		src.Content = h.Snippet
		return src
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.IngestTimeout)
	defer cancel()

	doc, err := c.ingester.Ingest(ctx, h.URL)
	if err != nil {
		c.logger.Debug("dropping hit", "component", "scout", "url", h.URL, "error", err)
		return nil
	}
	src.Content = doc.Text
	if src.Title == "" {
		src.Title = doc.Title
	}
	return src
}

// merge appends sources whose normalized URL is new, tagging credibility
// on the way
func (c *Collector) merge(out, sources []model.RawSource, seen map[string]bool) []model.RawSource {
	for _, s := range sources {
		if !validate.IsHTTPURL(s.URL) {
			continue
		}
		key := validate.NormalizeURL(s.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		c.credibility.Tag(&s)
		out = append(out, s)
	}
	return out
}

func (c *Collector) recordHistory(ctx context.Context, logger *slog.Logger, sources []model.RawSource) {
	if c.history == nil || len(sources) == 0 {
		return
	}
	urls := make([]string, len(sources))
	for i, s := range sources {
		urls[i] = validate.NormalizeURL(s.URL)
	}
	fresh, err := c.history.MarkSeen(ctx, urls)
	if err != nil {
		logger.Warn("url history update failed", "error", err)
		return
	}
	logger.Info("url history updated", "new", fresh, "known", len(urls)-fresh)
}

func webQuery(target model.Target) string {
	parts := []string{strconv.Quote(target.Name)}
	if target.Office != "" {
		parts = append(parts, target.Office)
	}
	if target.City != "" {
		parts = append(parts, target.City)
	} else if target.State != "" {
		parts = append(parts, target.State)
	}
	parts = append(parts, "promessa OR proposta OR compromisso")
	return strings.Join(parts, " ")
}

func targetKey(t model.Target) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		extract.Normalize(t.Name), extract.Normalize(t.Office),
		strings.ToUpper(t.State), extract.Normalize(t.City), t.LegislativeID)
}
