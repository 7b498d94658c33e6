package config

import (
	"fmt"
	"time"

	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/logger"
	"github.com/loykin/cardflow/internal/store"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure.
type Config struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Webhook   WebhookConfig   `toml:"webhook" mapstructure:"webhook"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Analytics AnalyticsConfig `toml:"analytics" mapstructure:"analytics"`
	Insights  InsightsConfig  `toml:"insights" mapstructure:"insights"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Cache     CacheConfig     `toml:"cache" mapstructure:"cache"`
}

type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
	// delayed journey cutoff used by the triage endpoint
	DelayedThreshold time.Duration `toml:"delayed_threshold" mapstructure:"delayed_threshold"`
}

// WebhookConfig configures the partner-facing ingestion listener. It runs on
// its own port so partner traffic can be firewalled apart from the dashboard.
type WebhookConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type StoreConfig struct {
	Type string `toml:"type" mapstructure:"type"`
	Path string `toml:"path" mapstructure:"path"`
	DSN  string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type AnalyticsConfig struct {
	Schedule           string        `toml:"schedule" mapstructure:"schedule"`
	Window             time.Duration `toml:"window" mapstructure:"window"`
	MinSamples         int           `toml:"min_samples" mapstructure:"min_samples"`
	DelayMinutes       int64         `toml:"delay_minutes" mapstructure:"delay_minutes"`
	MinInterestMinutes float64       `toml:"min_interest_minutes" mapstructure:"min_interest_minutes"`
	HighVolume         int           `toml:"high_volume" mapstructure:"high_volume"`
}

type InsightsConfig struct {
	Schedule string `toml:"schedule" mapstructure:"schedule"`
}

// HistoryConfig configures the optional ClickHouse journey history sink.
type HistoryConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
}

// CacheConfig configures the optional Redis response cache.
type CacheConfig struct {
	Addr     string        `toml:"addr" mapstructure:"addr"`
	Password string        `toml:"password" mapstructure:"password"`
	DB       int           `toml:"db" mapstructure:"db"`
	TTL      time.Duration `toml:"ttl" mapstructure:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:           ":8080",
			DelayedThreshold: 48 * time.Hour,
		},
		Webhook: WebhookConfig{
			Listen: ":8081",
		},
		Store:     StoreConfig{Type: "memory"},
		Log:       LogConfig{Level: "info"},
		Analytics: AnalyticsConfig{Schedule: "@every 1h"},
		Insights:  InsightsConfig{Schedule: "@every 6h"},
		Cache:     CacheConfig{TTL: 30 * time.Second},
	}
}

// Load reads the TOML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgresql", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgresql")
		}
	default:
		return fmt.Errorf("unsupported store.type: %s", c.Store.Type)
	}
	if c.Webhook.Enabled && c.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen is required when webhook.enabled")
	}
	if c.History.Enabled && c.History.Addr == "" {
		return fmt.Errorf("history.addr is required when history.enabled")
	}
	return nil
}

// StoreConfig converts to the store layer's config type.
func (c Config) StoreConfig() store.Config {
	return store.Config{Type: c.Store.Type, Path: c.Store.Path, DSN: c.Store.DSN}
}

// LoggerConfig converts to the logger's config type.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// Thresholds converts the analytics section to engine thresholds; zero values
// fall back to the engine defaults.
func (c Config) Thresholds() analytics.Thresholds {
	return analytics.Thresholds{
		Window:             c.Analytics.Window,
		MinSamples:         c.Analytics.MinSamples,
		DelayMinutes:       c.Analytics.DelayMinutes,
		MinInterestMinutes: c.Analytics.MinInterestMinutes,
		HighVolume:         c.Analytics.HighVolume,
	}
}
