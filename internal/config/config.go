// Package config loads and validates ingest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/news-ingest/internal/crawler"
	"github.com/JakeFAU/news-ingest/internal/logging"
	"github.com/JakeFAU/news-ingest/internal/storage/gcs"
	"github.com/JakeFAU/news-ingest/internal/storage/local"
)

// EnvPrefix namespaces environment overrides, e.g. NEWSINGEST_STORE_POSTGRES_DSN.
const EnvPrefix = "NEWSINGEST"

// Supported backend names.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverBolt     = "bolt"

	ExportBackendLocal  = "local"
	ExportBackendGCS    = "gcs"
	ExportBackendMemory = "memory"

	PublishBackendPubSub = "pubsub"
	PublishBackendMemory = "memory"

	RetryExponential = "exponential"
	RetryFixed       = "fixed"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig   `mapstructure:"source"`
	Crawl   CrawlConfig    `mapstructure:"crawl"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Store   StoreConfig    `mapstructure:"store"`
	Export  ExportConfig   `mapstructure:"export"`
	Publish PublishConfig  `mapstructure:"publish"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging logging.Config `mapstructure:"logging"`
}

// SourceConfig describes the listing site.
type SourceConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	PageSize        int    `mapstructure:"page_size"`
	ListingEncoding string `mapstructure:"listing_encoding"`
	// Timezone is the IANA zone article timestamps are written in.
	Timezone string `mapstructure:"timezone"`
}

// CrawlConfig governs the stop condition and failure handling.
type CrawlConfig struct {
	Mode string `mapstructure:"mode"`
	// Cutoff is a date (2006-01-02) or local datetime (2006-01-02T15:04:05)
	// in the source timezone.
	Cutoff           string `mapstructure:"cutoff"`
	ExtractionPolicy string `mapstructure:"extraction_policy"`
	MaxPages         int    `mapstructure:"max_pages"`
}

// FetchConfig configures the HTTP client.
type FetchConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// RetryConfig selects the retry policy for transport errors.
type RetryConfig struct {
	Strategy string `mapstructure:"strategy"`
	// MaxAttempts of zero retries forever with the fixed strategy.
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	// FixedDelay is the pause between attempts of the fixed strategy.
	FixedDelay time.Duration `mapstructure:"fixed_delay"`
}

// StoreConfig selects the article store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Table  string `mapstructure:"table"`
	// KnownIDsLimit seeds the crawl with only the newest N ids; zero loads all.
	KnownIDsLimit int            `mapstructure:"known_ids_limit"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Bolt          BoltConfig     `mapstructure:"bolt"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BoltConfig points at the embedded database file.
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// ExportConfig selects where CSV exports are written.
type ExportConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// PublishConfig holds the run-completion event settings.
type PublishConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds a Config from an optional .env file, an optional config file
// and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load .env: %w", crawler.ErrConfiguration, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config: %w", crawler.ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", crawler.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", crawler.DefaultBaseURL)
	v.SetDefault("source.page_size", crawler.DefaultPageSize)
	v.SetDefault("source.listing_encoding", crawler.DefaultListingCharset)
	v.SetDefault("source.timezone", "Europe/Moscow")
	v.SetDefault("crawl.mode", string(crawler.ModeIncremental))
	v.SetDefault("crawl.cutoff", "2024-01-01")
	v.SetDefault("crawl.extraction_policy", string(crawler.ExtractionPolicySkip))
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("fetch.user_agent", "news-ingest/1.0")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.retry.strategy", RetryExponential)
	v.SetDefault("fetch.retry.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("fetch.retry.base_delay", crawler.DefaultBaseDelay.String())
	v.SetDefault("fetch.retry.max_delay", crawler.DefaultMaxDelay.String())
	v.SetDefault("fetch.retry.fixed_delay", crawler.DefaultFixedDelay.String())
	v.SetDefault("store.driver", StoreDriverPostgres)
	v.SetDefault("store.table", "fapl_news")
	v.SetDefault("store.known_ids_limit", 0)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")
	v.SetDefault("store.bolt.path", "data/news.db")
	v.SetDefault("export.backend", ExportBackendLocal)
	v.SetDefault("export.local.base_dir", "exports")
	v.SetDefault("export.gcs.bucket", "")
	v.SetDefault("export.gcs.prefix", "exports")
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.backend", PublishBackendPubSub)
	v.SetDefault("publish.project_id", "")
	v.SetDefault("publish.topic", "news-ingest-runs")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "news_ingest")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := c.CrawlerConfig(); err != nil {
		return err
	}
	if c.Fetch.Timeout <= 0 {
		return invalidf("fetch.timeout must be > 0")
	}
	switch c.Fetch.Retry.Strategy {
	case RetryExponential, RetryFixed:
	default:
		return invalidf("fetch.retry.strategy must be %s or %s, got %q", RetryExponential, RetryFixed, c.Fetch.Retry.Strategy)
	}
	if c.Fetch.Retry.MaxAttempts < 0 {
		return invalidf("fetch.retry.max_attempts must be >= 0")
	}
	if strings.TrimSpace(c.Store.Table) == "" {
		return invalidf("store.table is required")
	}
	if c.Store.KnownIDsLimit < 0 {
		return invalidf("store.known_ids_limit must be >= 0")
	}
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return invalidf("store.postgres.dsn is required for the postgres driver")
		}
	case StoreDriverBolt:
		if c.Store.Bolt.Path == "" {
			return invalidf("store.bolt.path is required for the bolt driver")
		}
	default:
		return invalidf("store.driver must be %s or %s, got %q", StoreDriverPostgres, StoreDriverBolt, c.Store.Driver)
	}
	switch c.Export.Backend {
	case ExportBackendLocal, ExportBackendMemory:
	case ExportBackendGCS:
		if c.Export.GCS.Bucket == "" {
			return invalidf("export.gcs.bucket is required for the gcs backend")
		}
	default:
		return invalidf("export.backend must be local, gcs or memory, got %q", c.Export.Backend)
	}
	if c.Publish.Enabled {
		if c.Publish.Topic == "" {
			return invalidf("publish.topic is required when publishing is enabled")
		}
		switch c.Publish.Backend {
		case PublishBackendMemory:
		case PublishBackendPubSub:
			if c.Publish.ProjectID == "" {
				return invalidf("publish.project_id is required for the pubsub backend")
			}
		default:
			return invalidf("publish.backend must be %s or %s, got %q", PublishBackendPubSub, PublishBackendMemory, c.Publish.Backend)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalidf("logging.level: %v", err)
	}
	return nil
}

// Location loads the source timezone.
func (c Config) Location() (*time.Location, error) {
	name := c.Source.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalidf("source.timezone %q: %v", name, err)
	}
	return loc, nil
}

// CrawlerConfig converts the source and crawl sections into a validated
// crawler.Config.
func (c Config) CrawlerConfig() (crawler.Config, error) {
	mode, err := crawler.ParseMode(c.Crawl.Mode)
	if err != nil {
		return crawler.Config{}, err
	}
	policy, err := crawler.ParseExtractionPolicy(c.Crawl.ExtractionPolicy)
	if err != nil {
		return crawler.Config{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return crawler.Config{}, err
	}
	cutoff, err := parseCutoff(c.Crawl.Cutoff, loc)
	if err != nil {
		return crawler.Config{}, err
	}
	out := crawler.Config{
		BaseURL:          c.Source.BaseURL,
		PageSize:         c.Source.PageSize,
		ListingCharset:   c.Source.ListingEncoding,
		Mode:             mode,
		Cutoff:           cutoff,
		ExtractionPolicy: policy,
		MaxPages:         c.Crawl.MaxPages,
	}
	if err := out.Validate(); err != nil {
		return crawler.Config{}, err
	}
	return out, nil
}

// RetryPolicy builds the configured fetch retry policy.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	r := c.Fetch.Retry
	if r.Strategy == RetryFixed {
		return crawler.NewFixedRetryPolicy(r.MaxAttempts, r.FixedDelay)
	}
	return crawler.NewExponentialRetryPolicy(r.MaxAttempts, r.BaseDelay, r.MaxDelay)
}

func parseCutoff(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, invalidf("crawl.cutoff %q is not a date", raw)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", crawler.ErrConfiguration, fmt.Sprintf(format, args...))
}
