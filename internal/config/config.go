// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend names accepted by the index, cache, and storage sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Index    IndexConfig    `mapstructure:"index"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Registry RegistryConfig `mapstructure:"registry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs discovery, retries, and politeness.
type CrawlerConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	MaxHTML           int           `mapstructure:"max_html"`
	MaxPDF            int           `mapstructure:"max_pdf"`
	IncludePDFs       bool          `mapstructure:"include_pdfs"`
	Retries           int           `mapstructure:"retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	Concurrency       int           `mapstructure:"concurrency"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	TrustedDomains    []string      `mapstructure:"trusted_domains"`
}

// HTTPConfig holds the per-phase fetch timeouts.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout"`
}

// OCRConfig configures scanned-PDF recognition.
type OCRConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Pages            int    `mapstructure:"pages"`
	DPI              int    `mapstructure:"dpi"`
	Languages        string `mapstructure:"languages"`
	FallbackLanguage string `mapstructure:"fallback_language"`
}

// ExtractConfig tunes document extraction.
type ExtractConfig struct {
	MinPDFText  int `mapstructure:"min_pdf_text"`
	Concurrency int `mapstructure:"concurrency"`
}

// FilterConfig holds the relevance thresholds.
type FilterConfig struct {
	MinText     int `mapstructure:"min_text"`
	MinPositive int `mapstructure:"min_positive"`
	PDFBonus    int `mapstructure:"pdf_bonus"`
}

// PipelineConfig holds per-call caps and result limits.
type PipelineConfig struct {
	QAMaxHTML      int `mapstructure:"qa_max_html"`
	QAMaxPDF       int `mapstructure:"qa_max_pdf"`
	ReindexMaxHTML int `mapstructure:"reindex_max_html"`
	ReindexMaxPDF  int `mapstructure:"reindex_max_pdf"`
	TopK           int `mapstructure:"top_k"`
	CitationLimit  int `mapstructure:"citation_limit"`
	KeptURLLimit   int `mapstructure:"kept_url_limit"`
}

// IndexConfig selects and tunes the chunk index.
type IndexConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	Migrate    bool   `mapstructure:"migrate"`
	ChunkWords int    `mapstructure:"chunk_words"`
}

// CacheConfig selects the answer cache.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	RedisURL   string        `mapstructure:"redis_url"`
}

// StorageConfig selects where fetched PDFs are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run event notifications. Publishing is
// off unless both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether run events should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// ForecastConfig points at the predictor service.
type ForecastConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RegistryConfig optionally overrides the embedded company registry.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultTrustedDomains are hosts whose pages may be crawled from any seed.
var DefaultTrustedDomains = []string{
	"www.nepalstock.com.np",
	"nepalstock.com.np",
	"merolagani.com",
	"drive.google.com",
	"docs.google.com",
	"siteadmin.nabilbank.com",
	"nabilinvest.com.np",
}

// Load builds a Config from a .env file, disk, and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Crawler.TrustedDomains = splitList(cfg.Crawler.TrustedDomains)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 3*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.user_agent", "DisclosureMiner/1.0 (+contact@example.com)")
	v.SetDefault("crawler.max_html", 20)
	v.SetDefault("crawler.max_pdf", 12)
	v.SetDefault("crawler.include_pdfs", true)
	v.SetDefault("crawler.retries", 1)
	v.SetDefault("crawler.backoff_base", 500*time.Millisecond)
	v.SetDefault("crawler.backoff_multiplier", 2.0)
	v.SetDefault("crawler.backoff_max", 2*time.Second)
	v.SetDefault("crawler.concurrency", 16)
	v.SetDefault("crawler.max_body_bytes", 32<<20)
	v.SetDefault("crawler.rate_limit_rps", 0.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.trusted_domains", strings.Join(DefaultTrustedDomains, ","))

	v.SetDefault("http.connect_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.pool_timeout", 5*time.Second)

	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.pages", 3)
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.languages", "nep+eng")
	v.SetDefault("ocr.fallback_language", "eng")

	v.SetDefault("extract.min_pdf_text", 40)
	v.SetDefault("extract.concurrency", 4)

	v.SetDefault("filter.min_text", 200)
	v.SetDefault("filter.min_positive", 2)
	v.SetDefault("filter.pdf_bonus", 2)

	v.SetDefault("pipeline.qa_max_html", 30)
	v.SetDefault("pipeline.qa_max_pdf", 12)
	v.SetDefault("pipeline.reindex_max_html", 40)
	v.SetDefault("pipeline.reindex_max_pdf", 14)
	v.SetDefault("pipeline.top_k", 12)
	v.SetDefault("pipeline.citation_limit", 12)
	v.SetDefault("pipeline.kept_url_limit", 20)

	v.SetDefault("index.backend", BackendMemory)
	v.SetDefault("index.max_conns", 10)
	v.SetDefault("index.migrate", true)
	v.SetDefault("index.chunk_words", 200)

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_entries", 256)

	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.prefix", "documents")

	v.SetDefault("forecast.base_url", "http://localhost:5001")
	v.SetDefault("forecast.timeout", 10*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Retries < 0 {
		return fmt.Errorf("crawler.retries must be >= 0")
	}
	for name, v := range map[string]int{
		"crawler.max_html":          c.Crawler.MaxHTML,
		"crawler.max_pdf":           c.Crawler.MaxPDF,
		"pipeline.qa_max_html":      c.Pipeline.QAMaxHTML,
		"pipeline.qa_max_pdf":       c.Pipeline.QAMaxPDF,
		"pipeline.reindex_max_html": c.Pipeline.ReindexMaxHTML,
		"pipeline.reindex_max_pdf":  c.Pipeline.ReindexMaxPDF,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	for name, d := range map[string]time.Duration{
		"http.connect_timeout": c.HTTP.ConnectTimeout,
		"http.read_timeout":    c.HTTP.ReadTimeout,
		"http.write_timeout":   c.HTTP.WriteTimeout,
		"http.pool_timeout":    c.HTTP.PoolTimeout,
		"forecast.timeout":     c.Forecast.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	switch c.Index.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Index.DSN == "" {
			return fmt.Errorf("index.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}

	switch c.Cache.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}

	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// splitList accepts both YAML lists and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

