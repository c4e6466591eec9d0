// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cron     CronConfig     `mapstructure:"cron"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Import   ImportConfig   `mapstructure:"import"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the admin surface. The
// import trigger endpoints stay unauthenticated by design.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CronConfig governs the scheduled trigger: the in-process ticker and the
// shared secret checked by the /cron endpoint.
type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Secret          string `mapstructure:"secret"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	MaxTasks        int    `mapstructure:"max_tasks"`
	MaxChapters     int    `mapstructure:"max_chapters"`
}

// HTTPConfig configures outbound page fetches.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	Referer        string `mapstructure:"referer"`
	RandomDelayMs  int    `mapstructure:"random_delay_ms"`
}

// ImportConfig governs the batch processor: retry, batch sizing, claims, and
// the politeness rate limit between chapter fetches.
type ImportConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffBaseMs    int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	BatchSize        int     `mapstructure:"batch_size"`
	MaxTasksPerCall  int     `mapstructure:"max_tasks_per_call"`
	ClaimTTLSeconds  int     `mapstructure:"claim_ttl_seconds"`
	FetchesPerSecond float64 `mapstructure:"fetches_per_second"`
}

// ScrapeConfig holds the structural selectors used against source sites.
type ScrapeConfig struct {
	ChapterListSelector string   `mapstructure:"chapter_list_selector"`
	TitleSelector       string   `mapstructure:"title_selector"`
	AuthorSelector      string   `mapstructure:"author_selector"`
	DescSelector        string   `mapstructure:"desc_selector"`
	CoverSelector       string   `mapstructure:"cover_selector"`
	ContentSelectors    []string `mapstructure:"content_selectors"`
	ChapterTitleSels    []string `mapstructure:"chapter_title_selectors"`
	MinContentChars     int      `mapstructure:"min_content_chars"`
	FallbackMinChars    int      `mapstructure:"fallback_min_chars"`
}

// HeadlessConfig configures the optional chromedp re-fetch used when the plain
// HTTP probe yields no recognizable chapter content.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational database. Provider is "postgres"
// or "memory".
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig sets the raw-HTML archive backend: "gcs", "memory", or "noop".
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for task completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOVELKEEPER")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("cron.enabled", false)
	v.SetDefault("cron.interval_seconds", 60)
	v.SetDefault("cron.max_tasks", 3)
	v.SetDefault("cron.max_chapters", 15)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.referer", "https://www.google.com/")
	v.SetDefault("http.random_delay_ms", 1000)
	v.SetDefault("import.max_attempts", 3)
	v.SetDefault("import.backoff_base_ms", 1000)
	v.SetDefault("import.backoff_max_ms", 10000)
	v.SetDefault("import.batch_size", 15)
	v.SetDefault("import.max_tasks_per_call", 5)
	v.SetDefault("import.claim_ttl_seconds", 600)
	v.SetDefault("import.fetches_per_second", 1.0)
	v.SetDefault("scrape.chapter_list_selector", "div.container ul a")
	v.SetDefault("scrape.title_selector", "div.info-main h1")
	v.SetDefault("scrape.author_selector", "div.info-main .w100.dispc span")
	v.SetDefault("scrape.desc_selector", "div.info-main .info-main-intro p")
	v.SetDefault("scrape.cover_selector", "div.info-main img")
	v.SetDefault("scrape.content_selectors", []string{
		".content", ".chapter-content", "#content", "#chapter-content", ".read-content", "article",
	})
	v.SetDefault("scrape.chapter_title_selectors", []string{"h1", ".chapter-title", "title"})
	v.SetDefault("scrape.min_content_chars", 100)
	v.SetDefault("scrape.fallback_min_chars", 200)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Import.MaxAttempts <= 0 {
		return fmt.Errorf("import.max_attempts must be > 0")
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be > 0")
	}
	if c.Import.BackoffMaxMs < c.Import.BackoffBaseMs {
		return fmt.Errorf("import.backoff_max_ms must be >= import.backoff_base_ms")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Archive.Provider {
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// FetchTimeout returns the outbound request timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase returns the initial retry delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Import.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Import.BackoffMaxMs) * time.Millisecond
}

// ClaimTTL returns how long a queue claim may sit before it is reclaimable.
func (c Config) ClaimTTL() time.Duration {
	return time.Duration(c.Import.ClaimTTLSeconds) * time.Second
}
