// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// the service on the in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// WorkerConfig governs the worker fleet.
type WorkerConfig struct {
	ScrapeWorkers      int `mapstructure:"scrape_workers"`
	OpsWorkers         int `mapstructure:"ops_workers"`
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
	HeartbeatSeconds   int `mapstructure:"heartbeat_seconds"`
	HeartbeatMissLimit int `mapstructure:"heartbeat_miss_limit"`
}

// SweeperConfig tunes stuck-project recovery.
type SweeperConfig struct {
	StaleThresholdMinutes int `mapstructure:"stale_threshold_minutes"`
	MaxAttempts           int `mapstructure:"max_attempts"`
	IntervalMinutes       int `mapstructure:"interval_minutes"`
}

// RateLimitConfig bounds inbound API traffic.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// PubSubConfig holds metadata for terminal-state notifications. An empty
// project ID disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("worker.scrape_workers", 4)
	v.SetDefault("worker.ops_workers", 1)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.heartbeat_seconds", 10)
	v.SetDefault("worker.heartbeat_miss_limit", 3)
	v.SetDefault("sweeper.stale_threshold_minutes", 60)
	v.SetDefault("sweeper.max_attempts", 3)
	v.SetDefault("sweeper.interval_minutes", 10)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("pubsub.topic_name", "scrape-events")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.ScrapeWorkers <= 0 {
		return fmt.Errorf("worker.scrape_workers must be > 0")
	}
	if c.Worker.OpsWorkers < 0 {
		return fmt.Errorf("worker.ops_workers must be >= 0")
	}
	if c.Sweeper.MaxAttempts <= 0 {
		return fmt.Errorf("sweeper.max_attempts must be > 0")
	}
	if c.Sweeper.StaleThresholdMinutes <= 0 {
		return fmt.Errorf("sweeper.stale_threshold_minutes must be > 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("ratelimit.rps must be > 0 when rate limiting is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// PollInterval converts the worker poll knob into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// HeartbeatInterval converts the heartbeat knob into a duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Worker.HeartbeatSeconds) * time.Second
}

// StaleThreshold converts the sweeper staleness knob into a duration.
func (c Config) StaleThreshold() time.Duration {
	return time.Duration(c.Sweeper.StaleThresholdMinutes) * time.Minute
}

// SweepInterval converts the sweeper cadence knob into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalMinutes) * time.Minute
}
