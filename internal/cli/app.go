package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/promessa/internal/brain"
	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/connector"
	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/filter"
	"github.com/ppiankov/promessa/internal/ingest"
	"github.com/ppiankov/promessa/internal/llm"
	"github.com/ppiankov/promessa/internal/metrics"
	"github.com/ppiankov/promessa/internal/model"
	"github.com/ppiankov/promessa/internal/pipeline"
	"github.com/ppiankov/promessa/internal/queue"
	"github.com/ppiankov/promessa/internal/resilience"
	"github.com/ppiankov/promessa/internal/scout"
	"github.com/ppiankov/promessa/internal/store"
	"github.com/ppiankov/promessa/internal/util"
	"github.com/ppiankov/promessa/internal/validate"
	"github.com/ppiankov/promessa/internal/worker"
)

// app holds the wired pipeline and everything that must be closed
type app struct {
	cfg        *model.Config
	store      *store.Store
	metrics    *metrics.Metrics
	analyzer   *pipeline.Analyzer
	queue      queue.Queue
	dispatcher *queue.Dispatcher
	closers    []io.Closer
	logger     *slog.Logger
}

// newApp builds every component from cfg. reg receives the metrics
// collectors; nil keeps them unregistered.
func newApp(cfg *model.Config, reg prometheus.Registerer) (*app, error) {
	logger := slog.Default()
	a := &app{cfg: cfg, metrics: metrics.New(reg), logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st)

	limiter := worker.NewLimiter(cfg.RateLimiting)
	fetcher := fetch.NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBodyBytes,
		fetch.WithProxy(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		fetch.WithLimiter(limiter),
		fetch.WithMaxRetries(cfg.HTTP.MaxRetries))

	ic := a.buildCache()
	breakers := resilience.NewRegistry(
		resilience.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		resilience.WithResetTimeout(cfg.Breaker.ResetTimeout),
		resilience.WithLogger(logger),
		resilience.WithMetrics(a.metrics))

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		logger.Warn("LLM provider unavailable, using local heuristics", "provider", cfg.LLM.Provider, "error", err)
		provider = nil
	}

	// Connectors
	web := connector.NewWebSearch(fetcher, cfg.Search, ic, cfg.Cache.SearchTTL)
	news := connector.NewNewsFeed(fetcher, cfg.Search.NewsFeedTemplate, cfg.Search.NewsFeedMaxResults)
	camara := connector.NewCamaraRegistry(fetcher, cfg.Registries.CamaraBaseURL, cfg.Registries.CamaraVotesPath, cfg.Registries.MaxResults)
	registries := []connector.Registry{
		camara,
		connector.NewAssemblyRegistry(web, cfg.Registries.StateAssemblyDomains),
		connector.NewCouncilRegistry(web, cfg.Registries.MunicipalCouncilDomains),
		connector.NewGazetteRegistry(fetcher, cfg.Registries.GazetteBaseURL, cfg.Registries.MaxResults, true),
	}
	var budget connector.BudgetSource = connector.StaticBudget{}
	if cfg.Registries.BudgetAPIKey != "" {
		budget = connector.NewTransparenciaBudget(fetcher, cfg.Registries.BudgetBaseURL, cfg.Registries.BudgetAPIKey)
	}

	ingestor := ingest.New(fetcher, a.ingestOptions(ic, provider)...)

	collector := scout.New(cfg.Collector, web,
		scout.WithRegistries(registries...),
		scout.WithNewsFeed(news),
		scout.WithGazette(connector.NewGazetteRegistry(fetcher, cfg.Registries.GazetteBaseURL, cfg.Registries.MaxResults, false)),
		scout.WithIngester(ingestor),
		scout.WithCredibility(validate.NewCredibilityClassifier(&cfg.Authority)),
		scout.WithBreakers(breakers),
		scout.WithCache(ic, cfg.Cache.CollectTTL),
		scout.WithHistory(st),
		scout.WithMetrics(a.metrics),
		scout.WithLogger(logger))

	synthesizer := brain.New(st,
		brain.WithExtractor(llm.NewExtractor(provider)),
		brain.WithBudget(budget),
		brain.WithVotes(camara),
		brain.WithBreakers(breakers),
		brain.WithCache(ic, cfg.Cache.BudgetTTL, cfg.Cache.VotesTTL),
		brain.WithMetrics(a.metrics),
		brain.WithLogger(logger))

	a.analyzer = pipeline.NewAnalyzer(collector,
		filter.New(cfg.Filter, llm.NewClassifier(provider), logger),
		synthesizer,
		pipeline.WithFailureRecorder(st),
		pipeline.WithStatus(st),
		pipeline.WithLogger(logger))

	q, err := openQueue(cfg.Queue, logger)
	if err != nil {
		logger.Warn("queue unavailable, analyses run inline", "backend", cfg.Queue.Backend, "error", err)
	} else if q != nil {
		a.queue = q
		a.closers = append(a.closers, q)
	}
	a.dispatcher = queue.NewDispatcher(a.queue, st, a.analyzer, cfg.Queue,
		queue.WithMetrics(a.metrics),
		queue.WithLogger(logger))

	return a, nil
}

// buildCache layers memory over Redis or disk. A disabled cache is nil,
// which every consumer treats as pass-through.
func (a *app) buildCache() *cache.Intelligent {
	cfg := a.cfg.Cache
	if !cfg.Enabled {
		return nil
	}

	var back cache.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DocumentTTL)
		if err != nil {
			a.logger.Warn("redis cache unavailable, using disk", "addr", cfg.RedisAddr, "error", err)
		} else {
			back = rc
			a.closers = append(a.closers, rc)
		}
	}
	if back == nil {
		disk := cache.NewDiskCache(cfg.Dir, cfg.DocumentTTL)
		if n, err := disk.Prune(); err != nil {
			a.logger.Warn("cache prune failed", "dir", cfg.Dir, "error", err)
		} else if n > 0 {
			a.logger.Debug("pruned expired cache entries", "count", n)
		}
		back = disk
	}

	front := cache.NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	return cache.NewIntelligent(cache.NewLayeredCache(front, back),
		cache.WithLoadTimeout(cfg.LoadTimeout),
		cache.WithCacheLogger(a.logger),
		cache.WithCacheMetrics(a.metrics))
}

func (a *app) ingestOptions(ic *cache.Intelligent, provider llm.Provider) []ingest.Option {
	cfg := a.cfg
	opts := []ingest.Option{
		ingest.WithCache(ic, cfg.Cache.DocumentTTL),
		ingest.WithMaxChars(cfg.Collector.MaxDocumentChars),
		ingest.WithLogger(a.logger),
	}
	if cfg.HTTP.RespectRobots {
		opts = append(opts, ingest.WithRobots(util.NewRobotsChecker(cfg.HTTP.UserAgent, cfg.HTTP.Timeout)))
	}
	if ocr, err := llm.NewVisionOCR(provider); err == nil {
		opts = append(opts, ingest.WithOCR(ocr, cfg.Collector.OCRMaxPages))
	}
	if cfg.Collector.RenderJS {
		r := ingest.NewRodRenderer(cfg.Collector.BrowserURL, cfg.Collector.RenderTimeout, a.logger)
		a.closers = append(a.closers, r)
		opts = append(opts, ingest.WithRenderer(r))
	}
	return opts
}

// openQueue connects the configured backend; an empty backend is nil
func openQueue(cfg model.QueueConfig, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("queue.redis_addr is not set")
		}
		return queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisKey, logger)
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("queue.kafka_brokers is not set")
		}
		return queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q (supported: redis, kafka)", cfg.Backend)
	}
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
