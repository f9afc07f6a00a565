// Package config loads and validates process configuration for the bot.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all process configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Control plane
	ControlPlaneURL string `env:"ELOWARD_CONTROL_PLANE_URL" envDefault:"https://api.eloward.com"`
	HMACSecret      string `env:"ELOWARD_HMAC_SECRET"`
	ClientID        string `env:"ELOWARD_CLIENT_ID"`
	Region          string `env:"ELOWARD_REGION" envDefault:"us-east"`

	// Moderation HTTP API (platform helix-style endpoints)
	ModerationAPIURL string `env:"ELOWARD_MODERATION_API_URL" envDefault:"https://api.twitch.tv"`

	// Pub/sub (optional - absence disables instant propagation)
	PubSubURL   string `env:"ELOWARD_PUBSUB_URL"`
	PubSubToken string `env:"ELOWARD_PUBSUB_TOKEN"`
	PubSubTopic string `env:"ELOWARD_PUBSUB_TOPIC" envDefault:"eloward:config:updates"`

	// IRC presence
	IRCAddr       string        `env:"ELOWARD_IRC_ADDR" envDefault:"irc.chat.twitch.tv:6667"`
	ShardCount    int           `env:"ELOWARD_SHARD_COUNT" envDefault:"2"`
	ShardCapacity int           `env:"ELOWARD_SHARD_CAPACITY" envDefault:"80"`
	JoinInterval  time.Duration `env:"ELOWARD_JOIN_INTERVAL" envDefault:"667ms"`

	// Command interpreter
	SuperAdmins   string `env:"ELOWARD_SUPER_ADMINS"`
	CommandPrefix string `env:"ELOWARD_COMMAND_PREFIX" envDefault:"!eloward"`

	// Worker pool (message hot path)
	WorkerPoolSize  int `env:"ELOWARD_WORKER_POOL_SIZE" envDefault:"16"`
	WorkerQueueSize int `env:"ELOWARD_WORKER_QUEUE_SIZE" envDefault:"4096"`

	// Timers
	SweepInterval     time.Duration `env:"ELOWARD_SWEEP_INTERVAL" envDefault:"105s"`
	RPCTimeout        time.Duration `env:"ELOWARD_RPC_TIMEOUT" envDefault:"5s"`
	ModerationTimeout time.Duration `env:"ELOWARD_MODERATION_TIMEOUT" envDefault:"10s"`
	ReconcileInterval time.Duration `env:"ELOWARD_RECONCILE_INTERVAL" envDefault:"5m"`
	CredentialCheck   time.Duration `env:"ELOWARD_CREDENTIAL_CHECK_INTERVAL" envDefault:"15m"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Observability
	MetricsAddr string `env:"ELOWARD_METRICS_ADDR" envDefault:":9102"`
}

// Load reads configuration from a .env file (if present) and the process
// environment. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for required fields and logical ranges.
func (c *Config) Validate() error {
	if c.HMACSecret == "" {
		return fmt.Errorf("ELOWARD_HMAC_SECRET is required")
	}
	if c.ControlPlaneURL == "" {
		return fmt.Errorf("ELOWARD_CONTROL_PLANE_URL is required")
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("ELOWARD_SHARD_COUNT must be > 0, got %d", c.ShardCount)
	}
	if c.ShardCapacity < 1 {
		return fmt.Errorf("ELOWARD_SHARD_CAPACITY must be > 0, got %d", c.ShardCapacity)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("ELOWARD_WORKER_POOL_SIZE must be > 0, got %d", c.WorkerPoolSize)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// SuperAdminSet parses the comma-separated SuperAdmins login list into a
// lowercase set suitable for role-resolution lookups.
func (c *Config) SuperAdminSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, login := range strings.Split(c.SuperAdmins, ",") {
		login = strings.ToLower(strings.TrimSpace(login))
		if login != "" {
			set[login] = struct{}{}
		}
	}
	return set
}

// LogConfig logs the loaded configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("control_plane_url", c.ControlPlaneURL).
		Str("region", c.Region).
		Str("irc_addr", c.IRCAddr).
		Int("shard_count", c.ShardCount).
		Int("shard_capacity", c.ShardCapacity).
		Dur("join_interval", c.JoinInterval).
		Int("worker_pool_size", c.WorkerPoolSize).
		Int("worker_queue_size", c.WorkerQueueSize).
		Bool("pubsub_enabled", c.PubSubURL != "").
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
