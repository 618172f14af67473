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
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Store    StoreConfig    `mapstructure:"store"`
	Source   SourceConfig   `mapstructure:"source"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs the content fetch pipeline.
type ScraperConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	MaxRedirects  int    `mapstructure:"max_redirects"`
	MaxBodyBytes  int    `mapstructure:"max_body_bytes"`
	MaxParagraphs int    `mapstructure:"max_paragraphs"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	UserAgent     string `mapstructure:"user_agent"`
}

// PacingConfig controls per-domain request spacing and adaptive timeouts.
type PacingConfig struct {
	MinDelaySeconds  int `mapstructure:"min_delay_seconds"`
	JitterMinMs      int `mapstructure:"jitter_min_ms"`
	JitterMaxMs      int `mapstructure:"jitter_max_ms"`
	SlowAfterSeconds int `mapstructure:"slow_after_seconds"`
	TimeoutBaseSec   int `mapstructure:"timeout_base_seconds"`
	TimeoutMaxSec    int `mapstructure:"timeout_max_seconds"`
}

// RobotsConfig controls the robots.txt permission cache.
type RobotsConfig struct {
	TTLHours        int    `mapstructure:"ttl_hours"`
	StuckTimeoutSec int    `mapstructure:"stuck_timeout_seconds"`
	FlushEvery      int    `mapstructure:"flush_every"`
	CachePath       string `mapstructure:"cache_path"`
	FetchTimeoutSec int    `mapstructure:"fetch_timeout_seconds"`
}

// SafetyConfig controls the SSRF guard and its metadata IP set.
type SafetyConfig struct {
	MetadataSources   []string `mapstructure:"metadata_sources"`
	MetadataCachePath string   `mapstructure:"metadata_cache_path"`
	MetadataTTLHours  int      `mapstructure:"metadata_ttl_hours"`
}

// PoolConfig sizes the fetch session pool.
type PoolConfig struct {
	Size int    `mapstructure:"size"`
	Mode string `mapstructure:"mode"` // "headless" or "http"
}

// ClassifyConfig governs the classification orchestrator.
type ClassifyConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	MaxConcurrent int `mapstructure:"max_concurrent"`
	BatchPauseSec int `mapstructure:"batch_pause_seconds"`
	Retries       int `mapstructure:"retries"`
}

// BackendConfig points at the classification backend.
type BackendConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RequestsPerSec float64 `mapstructure:"requests_per_second"`
}

// StoreConfig selects and configures the domain record store.
type StoreConfig struct {
	Provider string `mapstructure:"provider"` // "postgres" or "memory"
	DSN      string `mapstructure:"dsn"`
}

// SourceConfig points at the ranked domain list.
type SourceConfig struct {
	Path  string `mapstructure:"path"`
	Limit int    `mapstructure:"limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBTAXON")
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
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.max_redirects", 5)
	v.SetDefault("scraper.max_body_bytes", 1_000_000)
	v.SetDefault("scraper.max_paragraphs", 3)
	v.SetDefault("scraper.retry_attempts", 2)
	v.SetDefault("scraper.user_agent", "webtaxon-bot/0.1")
	v.SetDefault("pacing.min_delay_seconds", 5)
	v.SetDefault("pacing.jitter_min_ms", 1500)
	v.SetDefault("pacing.jitter_max_ms", 3500)
	v.SetDefault("pacing.slow_after_seconds", 8)
	v.SetDefault("pacing.timeout_base_seconds", 15)
	v.SetDefault("pacing.timeout_max_seconds", 30)
	v.SetDefault("robots.ttl_hours", 24)
	v.SetDefault("robots.stuck_timeout_seconds", 30)
	v.SetDefault("robots.flush_every", 25)
	v.SetDefault("robots.cache_path", "resources/robots_cache.json")
	v.SetDefault("robots.fetch_timeout_seconds", 10)
	v.SetDefault("safety.metadata_cache_path", "resources/cloud_metadata.json")
	v.SetDefault("safety.metadata_ttl_hours", 24)
	v.SetDefault("pool.size", 4)
	v.SetDefault("pool.mode", "headless")
	v.SetDefault("classify.batch_size", 20)
	v.SetDefault("classify.max_concurrent", 10)
	v.SetDefault("classify.batch_pause_seconds", 1)
	v.SetDefault("classify.retries", 2)
	v.SetDefault("backend.model", "qwen:7b-chat-q4_0")
	v.SetDefault("backend.timeout_seconds", 60)
	v.SetDefault("backend.requests_per_second", 2)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("source.limit", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values. Configuration errors are fatal at
// startup; the pipeline never degrades silently.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.MaxRedirects <= 0 {
		return fmt.Errorf("scraper.max_redirects must be > 0")
	}
	if c.Scraper.MaxBodyBytes <= 0 {
		return fmt.Errorf("scraper.max_body_bytes must be > 0")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be > 0")
	}
	if c.Pool.Mode != "headless" && c.Pool.Mode != "http" {
		return fmt.Errorf("pool.mode must be \"headless\" or \"http\"")
	}
	if c.Classify.BatchSize <= 0 {
		return fmt.Errorf("classify.batch_size must be > 0")
	}
	if c.Classify.MaxConcurrent <= 0 {
		return fmt.Errorf("classify.max_concurrent must be > 0")
	}
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint must be set")
	}
	if c.Store.Provider == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.provider is postgres")
	}
	if c.Store.Provider != "postgres" && c.Store.Provider != "memory" {
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	return nil
}

// MinDelay returns the pacing minimum delay as a duration.
func (c PacingConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelaySeconds) * time.Second
}

// RobotsTTL returns the robots cache TTL as a duration.
func (c RobotsConfig) RobotsTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
