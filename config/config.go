// Package config loads roster configuration from TOML files and the
// environment using Viper.
//
// Precedence (lowest to highest): defaults < user config (~/.roster) <
// project config (roster.toml, found by walking up from cwd) < ROSTER_*
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rosterhq/roster/errors"
)

// Config is the full roster configuration tree.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Lifecycle    LifecycleConfig    `mapstructure:"lifecycle"`
	Sheet        SheetConfig        `mapstructure:"sheet"`
	Scraper      ScraperConfig      `mapstructure:"scraper"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PipelineConfig controls batch decomposition and aggregation.
type PipelineConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`             // accounts per scrape batch
	DefaultPerAccount   int           `mapstructure:"default_per_account"`    // followers per account when no total given
	ScrapeTimeout       time.Duration `mapstructure:"scrape_timeout"`         // per-attempt timeout against the scraper
	MaxAttempts         int           `mapstructure:"max_attempts"`           // scrape attempts per batch
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`       // first retry delay, doubles per attempt
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`        // backoff cap
	InsertChunkSize     int           `mapstructure:"insert_chunk_size"`      // max records per bulk sink insert
	ResultsDefaultLimit int           `mapstructure:"results_default_limit"`  // default page size for job results
	ResultsMaxLimit     int           `mapstructure:"results_max_limit"`      // hard cap for job results page size
}

type WorkerConfig struct {
	Count        int           `mapstructure:"count"`         // concurrent workers
	PollInterval time.Duration `mapstructure:"poll_interval"` // how often idle workers check the queue
	ReclaimAfter time.Duration `mapstructure:"reclaim_after"` // inflight messages older than this are re-queued
}

type DistributionConfig struct {
	Buckets    int `mapstructure:"buckets"`     // K: destination buckets per campaign
	BucketSize int `mapstructure:"bucket_size"` // M: slots per bucket
}

type LifecycleConfig struct {
	Interval          time.Duration `mapstructure:"interval"`            // sweep cadence
	UnfollowAfterDays int           `mapstructure:"unfollow_after_days"` // pending -> to_unfollow boundary
	PurgeAfterDays    int           `mapstructure:"purge_after_days"`    // delete boundary
}

type SheetConfig struct {
	MinPushInterval time.Duration `mapstructure:"min_push_interval"` // minimum delay between sink calls
	WebhookURL      string        `mapstructure:"webhook_url"`       // review sheet ingestion endpoint
	PushTimeout     time.Duration `mapstructure:"push_timeout"`      // per-push request timeout
}

// ScraperConfig points at the external scraping provider. The API key has no
// default and normally comes from ROSTER_SCRAPER_API_KEY.
type ScraperConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

var globalConfig *Config

// Load reads the roster configuration, caching the result.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path, bypassing the
// search and cache. Useful for tests and one-off tooling.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", path)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without touching disk or env.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "roster.db")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("pipeline.batch_size", 50)               // accounts per scrape batch
	v.SetDefault("pipeline.default_per_account", 5)       // followers per account
	v.SetDefault("pipeline.scrape_timeout", "2m")
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_base_delay", "2s")
	v.SetDefault("pipeline.retry_max_delay", "10m")
	v.SetDefault("pipeline.insert_chunk_size", 1000)      // sink bulk insert cap
	v.SetDefault("pipeline.results_default_limit", 1000)
	v.SetDefault("pipeline.results_max_limit", 5000)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.reclaim_after", "10m")

	v.SetDefault("distribution.buckets", 80)     // review buckets per campaign
	v.SetDefault("distribution.bucket_size", 180) // slots per bucket

	v.SetDefault("lifecycle.interval", "1h")
	v.SetDefault("lifecycle.unfollow_after_days", 7)
	v.SetDefault("lifecycle.purge_after_days", 8)

	v.SetDefault("sheet.min_push_interval", "1s")
	v.SetDefault("sheet.webhook_url", "")
	v.SetDefault("sheet.push_timeout", "30s")

	v.SetDefault("scraper.base_url", "https://api.scraper.invalid")
	v.SetDefault("scraper.api_key", "")
}

func initViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	mergeConfigFiles(v)

	return v
}

// findProjectConfig searches for roster.toml by walking up the directory
// tree from the working directory.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "roster.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order:
// user config < project config. Env vars override both via AutomaticEnv.
func mergeConfigFiles(v *viper.Viper) {
	var paths []string

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".roster", "config.toml"))
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		paths = append(paths, projectConfig)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}
		for key, value := range tempViper.AllSettings() {
			v.Set(key, value)
		}
	}
}
