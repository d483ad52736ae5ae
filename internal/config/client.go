package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ClientConfig holds everything a driver process needs to hammer the
// lock server with a realistic lock/access/unlock workload.
type ClientConfig struct {
	ServerAddr string `env:"LOCK_SERVER_ADDR" envDefault:"ws://127.0.0.1:7070/lock"`

	ResourceBase  string `env:"LOCK_RESOURCE_BASE" envDefault:"./data"`
	ShardCount    int    `env:"LOCK_SHARD_COUNT" envDefault:"32"`
	ItemCount     int    `env:"LOCK_ITEM_COUNT" envDefault:"256"`

	AccessDurationMS int `env:"LOCK_ACCESS_DURATION_MS" envDefault:"25"`
	Iterations       int `env:"LOCK_ITERATIONS" envDefault:"0"` // 0 = run until signaled

	MetricsCSVPath string `env:"LOCK_METRICS_CSV_PATH" envDefault:""` // empty disables CSV metrics

	ClientName string `env:"LOCK_CLIENT_NAME" envDefault:"client"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// LoadClientConfig parses environment variables (after an optional .env
// file) into a validated ClientConfig.
func LoadClientConfig(logger *zerolog.Logger) (*ClientConfig, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate client config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded client configuration.
func (c *ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("LOCK_SERVER_ADDR is required")
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("LOCK_SHARD_COUNT must be > 0, got %d", c.ShardCount)
	}
	if c.ItemCount < 1 {
		return fmt.Errorf("LOCK_ITEM_COUNT must be > 0, got %d", c.ItemCount)
	}
	if c.AccessDurationMS < 0 {
		return fmt.Errorf("LOCK_ACCESS_DURATION_MS must be >= 0, got %d", c.AccessDurationMS)
	}
	return nil
}
