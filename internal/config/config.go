// Package config loads cmdrelay configuration from YAML or JSON5 files,
// the environment and .env files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnsetOwnerID marks a missing bot.owner_id.
const UnsetOwnerID int64 = -1

// Config is the main configuration structure for cmdrelay.
type Config struct {
	Version  int            `yaml:"version"`
	Bot      BotConfig      `yaml:"bot"`
	Discord  DiscordConfig  `yaml:"discord"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Audit    AuditConfig    `yaml:"audit"`
}

// BotConfig holds the builder inputs.
type BotConfig struct {
	Token   string `yaml:"token" env:"CMDRELAY_TOKEN"`
	Prefix  string `yaml:"prefix" env:"CMDRELAY_PREFIX"`
	OwnerID int64  `yaml:"owner_id" env:"CMDRELAY_OWNER_ID"`
}

// DiscordConfig tunes the gateway adapter.
type DiscordConfig struct {
	Intents              []string      `yaml:"intents" env:"CMDRELAY_DISCORD_INTENTS" envSeparator:","`
	RateLimit            float64       `yaml:"rate_limit"`
	RateBurst            int           `yaml:"rate_burst"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
	QueueSize            int           `yaml:"queue_size"`
}

// DispatchConfig controls the dispatch worker pool.
type DispatchConfig struct {
	Workers         int  `yaml:"workers" env:"CMDRELAY_DISPATCH_WORKERS"`
	PropagatePanics bool `yaml:"propagate_panics"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" env:"CMDRELAY_LOG_LEVEL"`
	Format    string `yaml:"format" env:"CMDRELAY_LOG_FORMAT"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"CMDRELAY_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"CMDRELAY_METRICS_ADDR"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint" env:"CMDRELAY_OTLP_ENDPOINT"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment" env:"CMDRELAY_ENVIRONMENT"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"CMDRELAY_AUDIT_ENABLED"`
	Driver  string `yaml:"driver" env:"CMDRELAY_AUDIT_DRIVER"`
	DSN     string `yaml:"dsn" env:"CMDRELAY_AUDIT_DSN"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Bot: BotConfig{
			OwnerID: UnsetOwnerID,
		},
		Discord: DiscordConfig{
			Intents:              []string{"guilds", "guild_messages", "direct_messages", "message_content"},
			RateLimit:            5,
			RateBurst:            10,
			MaxReconnectAttempts: 5,
			ReconnectBackoff:     60 * time.Second,
			QueueSize:            100,
		},
		Dispatch: DispatchConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
			Environment:  "production",
		},
		Audit: AuditConfig{
			Driver: "sqlite",
			DSN:    "cmdrelay-audit.db",
		},
	}
}

// Validate reports every invalid or missing setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(c.Bot.Token) == "" {
		add("bot.token is required")
	}
	if c.Bot.Prefix == "" {
		add("bot.prefix is required")
	}
	if c.Bot.OwnerID == UnsetOwnerID {
		add("bot.owner_id is required")
	} else if c.Bot.OwnerID < 0 {
		add("bot.owner_id must be a Discord snowflake, got %d", c.Bot.OwnerID)
	}

	if c.Discord.RateLimit <= 0 {
		add("discord.rate_limit must be positive")
	}
	if c.Discord.RateBurst < 1 {
		add("discord.rate_burst must be at least 1")
	}
	if c.Discord.QueueSize < 1 {
		add("discord.queue_size must be at least 1")
	}
	if c.Discord.MaxReconnectAttempts < 1 {
		add("discord.max_reconnect_attempts must be at least 1")
	}

	if c.Dispatch.Workers < 1 {
		add("dispatch.workers must be at least 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q must be json or text", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			add("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "sqlite", "postgres":
		default:
			add("audit.driver %q must be sqlite or postgres", c.Audit.Driver)
		}
		if c.Audit.DSN == "" {
			add("audit.dsn is required when audit is enabled")
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Discord.Intents = append([]string(nil), c.Discord.Intents...)
	if out.Bot.Token != "" {
		out.Bot.Token = "[REDACTED]"
	}
	if out.Audit.DSN != "" && out.Audit.Driver == "postgres" {
		out.Audit.DSN = "[REDACTED]"
	}
	return &out
}
