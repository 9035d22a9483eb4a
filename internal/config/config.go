// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	DB         DBConfig         `mapstructure:"db"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Seed       SeedConfig       `mapstructure:"seed"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DBConfig controls access to the registry database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// CrawlerConfig governs crawl batch behavior.
type CrawlerConfig struct {
	BatchSize      int    `mapstructure:"batch_size"`
	MaxDepth       int    `mapstructure:"max_depth"`
	Concurrency    int    `mapstructure:"concurrency"`
	DelayMs        int    `mapstructure:"delay_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	UserAgent      string `mapstructure:"user_agent"`
}

// FetcherConfig governs the trust-degrading document fetcher.
type FetcherConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
	OSCertDir      string `mapstructure:"os_cert_dir"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ClassifierConfig governs the document classification pool.
type ClassifierConfig struct {
	Workers            int `mapstructure:"workers"`
	ItemTimeoutSeconds int `mapstructure:"item_timeout_seconds"`
	MaxPages           int `mapstructure:"max_pages"`
}

// StorageConfig sets where downloaded documents land.
type StorageConfig struct {
	DocumentRoot string `mapstructure:"document_root"`
}

// SeedConfig holds credentials and limits for the search-based URL resolver.
// Queries are metered by the provider, so QueryLimit caps one pass.
type SeedConfig struct {
	GoogleAPIKey   string `mapstructure:"google_api_key"`
	GoogleEngineID string `mapstructure:"google_engine_id"`
	MaxResults     int    `mapstructure:"max_results"`
	QueryLimit     int    `mapstructure:"query_limit"`
}

// MetricsConfig controls the optional Prometheus endpoint. An empty listen
// address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SBCLOCATE")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("crawler.batch_size", 30)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_body_bytes", 20*1024*1024)
	v.SetDefault("crawler.user_agent", "sbclocate/1.0 (+https://github.com/govscan/sbclocate)")
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.max_body_bytes", 50*1024*1024)
	v.SetDefault("fetcher.os_cert_dir", "/etc/ssl/certs")
	v.SetDefault("fetcher.user_agent", "sbclocate/1.0 (+https://github.com/govscan/sbclocate)")
	v.SetDefault("classifier.workers", 4)
	v.SetDefault("classifier.item_timeout_seconds", 20)
	v.SetDefault("classifier.max_pages", 3)
	v.SetDefault("storage.document_root", "data/pdfs")
	v.SetDefault("seed.max_results", 5)
	v.SetDefault("seed.query_limit", 100)
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawler.max_body_bytes must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetcher.max_body_bytes must be > 0")
	}
	if c.Classifier.Workers <= 0 {
		return fmt.Errorf("classifier.workers must be > 0")
	}
	if c.Classifier.ItemTimeoutSeconds <= 0 {
		return fmt.Errorf("classifier.item_timeout_seconds must be > 0")
	}
	if c.Classifier.MaxPages <= 0 {
		return fmt.Errorf("classifier.max_pages must be > 0")
	}
	if c.Storage.DocumentRoot == "" {
		return fmt.Errorf("storage.document_root must be set")
	}
	return nil
}

// CrawlDelay converts the configured per-host delay into a duration.
func (c CrawlerConfig) CrawlDelay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Timeout converts the configured request timeout into a duration.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout converts the configured request timeout into a duration.
func (c FetcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ItemTimeout converts the configured per-item timeout into a duration.
func (c ClassifierConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSeconds) * time.Second
}
