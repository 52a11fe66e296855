package model

import "time"

// Config holds every tunable of the pipeline
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Breaker      BreakerConfig      `yaml:"breaker" mapstructure:"breaker"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Queue        QueueConfig        `yaml:"queue" mapstructure:"queue"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Collector    CollectorConfig    `yaml:"collector" mapstructure:"collector"`
	Filter       FilterConfig       `yaml:"filter" mapstructure:"filter"`
	Search       SearchConfig       `yaml:"search" mapstructure:"search"`
	Registries   RegistriesConfig   `yaml:"registries" mapstructure:"registries"`
	Authority    AuthorityConfig    `yaml:"authority" mapstructure:"authority"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
}

// HTTPConfig configures outbound fetching
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RateLimitingConfig bounds per-domain request rates
type RateLimitingConfig struct {
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int         `yaml:"burst_size" mapstructure:"burst_size"`
	HostQuotas        []HostQuota `yaml:"host_quotas,omitempty" mapstructure:"host_quotas"`
}

// HostQuota is a published request quota. It covers the host and every
// subdomain of it.
type HostQuota struct {
	Host              string  `yaml:"host" mapstructure:"host"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size,omitempty" mapstructure:"burst_size"`
}

// BreakerConfig configures the per-service circuit breakers
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// CacheConfig configures cache layers and per-kind TTLs
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir           string        `yaml:"dir,omitempty" mapstructure:"dir"`
	RedisAddr     string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	MemoryTTL     time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	SearchTTL     time.Duration `yaml:"search_ttl" mapstructure:"search_ttl"`
	CollectTTL    time.Duration `yaml:"collect_ttl" mapstructure:"collect_ttl"`
	DocumentTTL   time.Duration `yaml:"document_ttl" mapstructure:"document_ttl"`
	VotesTTL      time.Duration `yaml:"votes_ttl" mapstructure:"votes_ttl"`
	BudgetTTL     time.Duration `yaml:"budget_ttl" mapstructure:"budget_ttl"`
	LoadTimeout   time.Duration `yaml:"load_timeout" mapstructure:"load_timeout"`
}

// QueueConfig configures background dispatch
type QueueConfig struct {
	Backend        string        `yaml:"backend" mapstructure:"backend"` // "", "redis", "kafka"
	RedisAddr      string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisKey       string        `yaml:"redis_key" mapstructure:"redis_key"`
	KafkaBrokers   []string      `yaml:"kafka_brokers,omitempty" mapstructure:"kafka_brokers"`
	KafkaTopic     string        `yaml:"kafka_topic" mapstructure:"kafka_topic"`
	KafkaGroup     string        `yaml:"kafka_group" mapstructure:"kafka_group"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" mapstructure:"enqueue_timeout"`
	FallbackWindow time.Duration `yaml:"fallback_window" mapstructure:"fallback_window"`
	SyncTimeout    time.Duration `yaml:"sync_timeout" mapstructure:"sync_timeout"`
	JobTimeout     time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
	Concurrency    int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// StoreConfig locates the SQLite database
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CollectorConfig tunes the two-phase source collection
type CollectorConfig struct {
	MinSources         int           `yaml:"min_sources" mapstructure:"min_sources"`
	OfficialSufficient int           `yaml:"official_sufficient" mapstructure:"official_sufficient"`
	IngestTopN         int           `yaml:"ingest_top_n" mapstructure:"ingest_top_n"`
	ConnectorTimeout   time.Duration `yaml:"connector_timeout" mapstructure:"connector_timeout"`
	IngestTimeout      time.Duration `yaml:"ingest_timeout" mapstructure:"ingest_timeout"`
	MaxDocumentChars   int           `yaml:"max_document_chars" mapstructure:"max_document_chars"`
	RenderJS           bool          `yaml:"render_js" mapstructure:"render_js"`
	BrowserURL         string        `yaml:"browser_url,omitempty" mapstructure:"browser_url"` // remote DevTools URL; empty launches Chrome
	RenderTimeout      time.Duration `yaml:"render_timeout" mapstructure:"render_timeout"`
	OCRMaxPages        int           `yaml:"ocr_max_pages" mapstructure:"ocr_max_pages"`
}

// FilterConfig tunes relevance filtering
type FilterConfig struct {
	MinRelevance        float64 `yaml:"min_relevance" mapstructure:"min_relevance"`
	LenientMinRelevance float64 `yaml:"lenient_min_relevance" mapstructure:"lenient_min_relevance"`
	MinContentChars     int     `yaml:"min_content_chars" mapstructure:"min_content_chars"`
	MaxItemChars        int     `yaml:"max_item_chars" mapstructure:"max_item_chars"`
}

// SearchConfig configures the generic search providers
type SearchConfig struct {
	URLTemplate        string `yaml:"url_template" mapstructure:"url_template"` // {query} is replaced
	APIKey             string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	APIKeyHeader       string `yaml:"api_key_header" mapstructure:"api_key_header"`
	MaxResults         int    `yaml:"max_results" mapstructure:"max_results"`
	NewsFeedTemplate   string `yaml:"news_feed_template" mapstructure:"news_feed_template"`
	NewsFeedMaxResults int    `yaml:"news_feed_max_results" mapstructure:"news_feed_max_results"`
}

// RegistriesConfig points at official data sources
type RegistriesConfig struct {
	CamaraBaseURL           string            `yaml:"camara_base_url" mapstructure:"camara_base_url"`
	CamaraVotesPath         string            `yaml:"camara_votes_path" mapstructure:"camara_votes_path"` // {id} is replaced
	GazetteBaseURL          string            `yaml:"gazette_base_url" mapstructure:"gazette_base_url"`
	BudgetBaseURL           string            `yaml:"budget_base_url" mapstructure:"budget_base_url"`
	BudgetAPIKey            string            `yaml:"budget_api_key,omitempty" mapstructure:"budget_api_key"`
	StateAssemblyDomains    map[string]string `yaml:"state_assembly_domains,omitempty" mapstructure:"state_assembly_domains"`
	MunicipalCouncilDomains map[string]string `yaml:"municipal_council_domains,omitempty" mapstructure:"municipal_council_domains"`
	MaxResults              int               `yaml:"max_results" mapstructure:"max_results"`
}

// AuthorityConfig extends the built-in credibility tables
type AuthorityConfig struct {
	OfficialDomains []string `yaml:"official_domains,omitempty" mapstructure:"official_domains"`
	TrustedDomains  []string `yaml:"trusted_domains,omitempty" mapstructure:"trusted_domains"`
}

// LLMConfig selects and tunes the language model provider
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, or empty
	Model       string        `yaml:"model,omitempty" mapstructure:"model"`
	VisionModel string        `yaml:"vision_model,omitempty" mapstructure:"vision_model"`
	APIKey      string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:       15 * time.Second,
			UserAgent:     "promessa/0.1 (+https://github.com/ppiankov/promessa)",
			MaxBodyBytes:  10 << 20,
			MaxRetries:    3,
			RespectRobots: true,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
			HostQuotas: []HostQuota{
				{Host: "portaldatransparencia.gov.br", RequestsPerSecond: 1, BurstSize: 1},
				{Host: "queridodiario.ok.org.br", RequestsPerSecond: 1, BurstSize: 2},
				{Host: "camara.leg.br", RequestsPerSecond: 5, BurstSize: 5},
			},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:     true,
			MemoryTTL:   time.Hour,
			SearchTTL:   6 * time.Hour,
			CollectTTL:  6 * time.Hour,
			DocumentTTL: 7 * 24 * time.Hour,
			VotesTTL:    24 * time.Hour,
			BudgetTTL:   24 * time.Hour,
			LoadTimeout: 2 * time.Minute,
		},
		Queue: QueueConfig{
			RedisKey:       "promessa:jobs",
			KafkaTopic:     "promessa.analyses",
			KafkaGroup:     "promessa-workers",
			EnqueueTimeout: 3 * time.Second,
			FallbackWindow: 5 * time.Minute,
			SyncTimeout:    45 * time.Second,
			JobTimeout:     5 * time.Minute,
			Concurrency:    2,
		},
		Collector: CollectorConfig{
			MinSources:         5,
			OfficialSufficient: 3,
			IngestTopN:         5,
			ConnectorTimeout:   10 * time.Second,
			IngestTimeout:      12 * time.Second,
			MaxDocumentChars:   20000,
			RenderTimeout:      20 * time.Second,
			OCRMaxPages:        5,
		},
		Filter: FilterConfig{
			MinRelevance:        0.4,
			LenientMinRelevance: 0.25,
			MinContentChars:     40,
			MaxItemChars:        1500,
		},
		Search: SearchConfig{
			URLTemplate:        "https://api.search.brave.com/res/v1/web/search?q={query}&country=BR&search_lang=pt-br",
			APIKeyHeader:       "X-Subscription-Token",
			MaxResults:         10,
			NewsFeedTemplate:   "https://news.google.com/rss/search?q={query}&hl=pt-BR&gl=BR&ceid=BR:pt-419",
			NewsFeedMaxResults: 10,
		},
		Registries: RegistriesConfig{
			CamaraBaseURL:   "https://dadosabertos.camara.leg.br/api/v2",
			CamaraVotesPath: "/deputados/{id}/votacoes",
			GazetteBaseURL:  "https://queridodiario.ok.org.br/api",
			BudgetBaseURL:   "https://api.portaldatransparencia.gov.br/api-de-dados",
			StateAssemblyDomains: map[string]string{
				"SP": "al.sp.gov.br",
				"RJ": "alerj.rj.gov.br",
				"MG": "almg.gov.br",
				"RS": "al.rs.gov.br",
				"PR": "assembleia.pr.leg.br",
				"BA": "al.ba.gov.br",
				"PE": "alepe.pe.gov.br",
				"CE": "al.ce.gov.br",
				"SC": "alesc.sc.gov.br",
				"GO": "al.go.leg.br",
				"DF": "cl.df.gov.br",
			},
			MaxResults: 10,
		},
		LLM: LLMConfig{
			Timeout:   60 * time.Second,
			MaxTokens: 2000,
		},
	}
}
