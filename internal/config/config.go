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
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Resource   ResourceConfig   `mapstructure:"resource"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SchedulerConfig governs the job scheduler.
type SchedulerConfig struct {
	Concurrency          int                      `mapstructure:"concurrency"`
	PollInterval         time.Duration            `mapstructure:"poll_interval"`
	JobTimeout           time.Duration            `mapstructure:"job_timeout"`
	TimeoutCheckInterval time.Duration            `mapstructure:"timeout_check_interval"`
	MaxRetryDelay        time.Duration            `mapstructure:"max_retry_delay"`
	DefaultMaxRetries    int                      `mapstructure:"default_max_retries"`
	AutoJobs             map[string]time.Duration `mapstructure:"auto_jobs"`
	AutoCheckInterval    time.Duration            `mapstructure:"auto_check_interval"`
	ShutdownGrace        time.Duration            `mapstructure:"shutdown_grace"`
}

// BreakerConfig tunes the per-strategy circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	MaxCooldown      time.Duration `mapstructure:"max_cooldown"`
}

// ResourceConfig tunes the resource monitor and admission control.
type ResourceConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	HistorySize           int           `mapstructure:"history_size"`
	DiskPath              string        `mapstructure:"disk_path"`
	MaxMemoryPercent      float64       `mapstructure:"max_memory_percent"`
	MaxCPUPercent         float64       `mapstructure:"max_cpu_percent"`
	MemoryHeadroomFactor  float64       `mapstructure:"memory_headroom_factor"`
	MinDiskFree           uint64        `mapstructure:"min_disk_free"`
	CriticalMemoryPercent float64       `mapstructure:"critical_memory_percent"`
	CriticalDiskFree      uint64        `mapstructure:"critical_disk_free"`
	RecoveryMemoryPercent float64       `mapstructure:"recovery_memory_percent"`
	RecoveryDiskFree      uint64        `mapstructure:"recovery_disk_free"`
}

// ExtractionConfig governs the strategy chain.
type ExtractionConfig struct {
	Strategies     []string      `mapstructure:"strategies"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MinWordCount   int           `mapstructure:"min_word_count"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodySize    int           `mapstructure:"max_body_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// CacheConfig selects and tunes the result cache provider.
type CacheConfig struct {
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// StorageConfig selects persistence providers.
type StorageConfig struct {
	JobsProvider string `mapstructure:"jobs_provider"`
	BlobProvider string `mapstructure:"blob_provider"`
	LocalBaseDir string `mapstructure:"local_base_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
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
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.job_timeout", "10m")
	v.SetDefault("scheduler.timeout_check_interval", "15s")
	v.SetDefault("scheduler.max_retry_delay", "30m")
	v.SetDefault("scheduler.default_max_retries", 3)
	v.SetDefault("scheduler.auto_check_interval", "1m")
	v.SetDefault("scheduler.shutdown_grace", "30s")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", "30s")
	v.SetDefault("breaker.max_cooldown", "10m")

	v.SetDefault("resource.interval", "30s")
	v.SetDefault("resource.history_size", 120)
	v.SetDefault("resource.disk_path", "/")
	v.SetDefault("resource.max_memory_percent", 85)
	v.SetDefault("resource.max_cpu_percent", 80)
	v.SetDefault("resource.memory_headroom_factor", 1.5)

	v.SetDefault("extraction.strategies", []string{"readability", "dom", "plaintext"})
	v.SetDefault("extraction.attempt_timeout", "15s")
	v.SetDefault("extraction.min_word_count", 50)
	v.SetDefault("extraction.cache_ttl", "24h")

	v.SetDefault("fetch.user_agent", "pagevault-extractor/1.0")
	v.SetDefault("fetch.request_timeout", "30s")
	v.SetDefault("fetch.max_body_size", 10*1024*1024)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.rate_limit_rps", 2)
	v.SetDefault("fetch.rate_limit_burst", 1)

	v.SetDefault("cache.provider", "memory")
	v.SetDefault("storage.jobs_provider", "memory")
	v.SetDefault("storage.blob_provider", "none")
	v.SetDefault("storage.local_base_dir", "data/captures")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Provider {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set when cache.provider is redis")
		}
	default:
		return fmt.Errorf("cache.provider must be one of memory, redis")
	}
	switch c.Storage.JobsProvider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.jobs_provider is postgres")
		}
	default:
		return fmt.Errorf("storage.jobs_provider must be one of memory, postgres")
	}
	switch c.Storage.BlobProvider {
	case "none", "memory":
	case "local":
		if c.Storage.LocalBaseDir == "" {
			return fmt.Errorf("storage.local_base_dir must be set when storage.blob_provider is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blob_provider is gcs")
		}
	default:
		return fmt.Errorf("storage.blob_provider must be one of none, memory, local, gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}
