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
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Suppression SuppressionConfig `mapstructure:"suppression"`
	Store       StoreConfig       `mapstructure:"store"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
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

// PipelineConfig governs dispatcher batching and the worker pool.
type PipelineConfig struct {
	Workers        int `mapstructure:"workers"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	BatchWaitMs    int `mapstructure:"batch_wait_ms"`
	BufferSize     int `mapstructure:"buffer_size"`
	QueueDepth     int `mapstructure:"queue_depth"`
}

// SuppressionConfig holds the write-suppression thresholds.
type SuppressionConfig struct {
	MinProgressDelta    float64 `mapstructure:"min_progress_delta"`
	MinTimeSpentSeconds int     `mapstructure:"min_time_spent_seconds"`
}

// StoreConfig controls access to the record store.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// CatalogConfig controls access to the course catalog.
type CatalogConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// SweeperConfig governs the cleanup schedule and retention window.
type SweeperConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
	IntervalHours int  `mapstructure:"interval_hours"`
}

// PubSubConfig holds metadata for completion notifications.
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
	v.SetEnvPrefix("PROGRESS")
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
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_batch_events", 256)
	v.SetDefault("pipeline.batch_wait_ms", 2000)
	v.SetDefault("pipeline.buffer_size", 4096)
	v.SetDefault("pipeline.queue_depth", 16)
	v.SetDefault("suppression.min_progress_delta", 0.02)
	v.SetDefault("suppression.min_time_spent_seconds", 10)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("catalog.provider", "memory")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.retention_days", 30)
	v.SetDefault("sweeper.interval_hours", 24)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.MaxBatchEvents <= 0 {
		return fmt.Errorf("pipeline.max_batch_events must be > 0")
	}
	if c.Suppression.MinProgressDelta < 0 || c.Suppression.MinProgressDelta >= 1 {
		return fmt.Errorf("suppression.min_progress_delta must be in [0,1)")
	}
	if c.Suppression.MinTimeSpentSeconds < 0 {
		return fmt.Errorf("suppression.min_time_spent_seconds must be >= 0")
	}
	if c.Store.Provider == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.provider is postgres")
	}
	if c.Catalog.Provider == "postgres" && c.Catalog.DSN == "" && c.Store.DSN == "" {
		return fmt.Errorf("catalog.dsn must be set when catalog.provider is postgres")
	}
	if c.Sweeper.Enabled && c.Sweeper.RetentionDays <= 0 {
		return fmt.Errorf("sweeper.retention_days must be > 0 when the sweeper is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// BatchWait converts the coalescing window to a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Pipeline.BatchWaitMs) * time.Millisecond
}

// Retention converts the sweeper retention window to a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Sweeper.RetentionDays) * 24 * time.Hour
}

// SweepInterval converts the sweeper cadence to a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalHours) * time.Hour
}

// CatalogDSN returns the catalog DSN, falling back to the store DSN.
func (c Config) CatalogDSN() string {
	if c.Catalog.DSN != "" {
		return c.Catalog.DSN
	}
	return c.Store.DSN
}
