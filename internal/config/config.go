// Package config loads and validates harvester configuration via Viper.
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
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	DB         DBConfig         `mapstructure:"db"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HarvestConfig governs the harvest worker pool.
type HarvestConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	Concurrency int    `mapstructure:"concurrency"`
	UserAgent   string `mapstructure:"user_agent"`
	MaxPages    int    `mapstructure:"max_pages"`
	TimeoutSec  int    `mapstructure:"timeout_seconds"`
}

// ResilienceConfig tunes the per-host breaker, adaptive delay, and retries.
type ResilienceConfig struct {
	DelayFloorMs        int     `mapstructure:"delay_floor_ms"`
	DelayCeilingMs      int     `mapstructure:"delay_ceiling_ms"`
	ConsecutiveFailures int     `mapstructure:"consecutive_failures"`
	FailureWindow       int     `mapstructure:"failure_window"`
	FailureRate         float64 `mapstructure:"failure_rate"`
	CooldownSec         int     `mapstructure:"cooldown_seconds"`
	BreakerGraceSec     int     `mapstructure:"breaker_grace_seconds"`
	MaxRetries          int     `mapstructure:"max_retries"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// ArchiveConfig sets the snapshot archive backend and location.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for cache-invalidation notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
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
	v.SetEnvPrefix("RENEC")
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
	v.SetDefault("harvest.base_url", "https://conocer.gob.mx/RENEC")
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.user_agent", "renec-harvester/1.0")
	v.SetDefault("harvest.max_pages", 0)
	v.SetDefault("harvest.timeout_seconds", 15)
	v.SetDefault("resilience.delay_floor_ms", 250)
	v.SetDefault("resilience.delay_ceiling_ms", 30000)
	v.SetDefault("resilience.consecutive_failures", 5)
	v.SetDefault("resilience.failure_window", 10)
	v.SetDefault("resilience.failure_rate", 0.5)
	v.SetDefault("resilience.cooldown_seconds", 30)
	v.SetDefault("resilience.breaker_grace_seconds", 300)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.local_dir", "snapshots")
	v.SetDefault("archive.prefix", "renec")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Harvest.BaseURL == "" {
		return fmt.Errorf("harvest.base_url is required")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.TimeoutSec <= 0 {
		return fmt.Errorf("harvest.timeout_seconds must be > 0")
	}
	if c.Resilience.DelayFloorMs <= 0 {
		return fmt.Errorf("resilience.delay_floor_ms must be > 0")
	}
	if c.Resilience.DelayCeilingMs < c.Resilience.DelayFloorMs {
		return fmt.Errorf("resilience.delay_ceiling_ms must be >= delay_floor_ms")
	}
	if c.Resilience.FailureRate <= 0 || c.Resilience.FailureRate > 1 {
		return fmt.Errorf("resilience.failure_rate must be in (0, 1]")
	}
	switch c.Archive.Backend {
	case "local", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of local, gcs, memory")
	}
	if c.PubSub.Enabled {
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
		}
	}
	return nil
}

// FetchTimeout converts the harvest timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Harvest.TimeoutSec) * time.Second
}

// DelayFloor converts the configured floor into a duration.
func (c Config) DelayFloor() time.Duration {
	return time.Duration(c.Resilience.DelayFloorMs) * time.Millisecond
}

// DelayCeiling converts the configured ceiling into a duration.
func (c Config) DelayCeiling() time.Duration {
	return time.Duration(c.Resilience.DelayCeilingMs) * time.Millisecond
}

// Cooldown converts the configured breaker cooldown into a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Resilience.CooldownSec) * time.Second
}

// BreakerGrace converts the configured escalation grace into a duration.
// A run aborts once a host's circuit has been open this long.
func (c Config) BreakerGrace() time.Duration {
	return time.Duration(c.Resilience.BreakerGraceSec) * time.Second
}
