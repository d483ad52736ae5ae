// Package config loads server and client configuration from the
// environment, following the caarlos0/env + godotenv pattern: .env for
// local convenience, real environment variables in production.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ServerConfig holds everything the lock server needs at startup.
type ServerConfig struct {
	Addr string `env:"LOCK_ADDR" envDefault:":7070"`

	MaxActiveSessions int     `env:"LOCK_MAX_ACTIVE_SESSIONS" envDefault:"10000"`
	MaxGoroutines     int     `env:"LOCK_MAX_GOROUTINES" envDefault:"20000"`
	CPURejectPercent  float64 `env:"LOCK_CPU_REJECT_PERCENT" envDefault:"90.0"`
	MemoryLimitBytes  int64   `env:"LOCK_MEMORY_LIMIT_BYTES" envDefault:"0"` // 0 = autodetect via cgroup

	GlobalAcceptRate   float64 `env:"LOCK_GLOBAL_ACCEPT_RATE" envDefault:"5000"`
	GlobalAcceptBurst  int     `env:"LOCK_GLOBAL_ACCEPT_BURST" envDefault:"5000"`
	AddressAcceptRate  float64 `env:"LOCK_ADDRESS_ACCEPT_RATE" envDefault:"20"`
	AddressAcceptBurst int     `env:"LOCK_ADDRESS_ACCEPT_BURST" envDefault:"40"`

	// DataLossPolicy selects what a successor sees when a holder
	// disconnects in AWAIT_RELEASE: "fatal" (default) or "degrade".
	DataLossPolicy string `env:"LOCK_DATA_LOSS_POLICY" envDefault:"fatal"`

	// SimulatedLatency, parsed as a Go duration, inserted before
	// Acquired and Release frames. Empty disables it.
	SimulatedLatency string `env:"LOCK_SIMULATED_LATENCY" envDefault:""`

	NATSURL string `env:"LOCK_NATS_URL" envDefault:""` // empty disables ownership-change notifications

	MetricsAddr string `env:"LOCK_METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadServerConfig parses environment variables (after an optional .env
// file) into a validated ServerConfig.
func LoadServerConfig(logger *zerolog.Logger) (*ServerConfig, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}

	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate server config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration for internally inconsistent
// or out-of-range values.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("LOCK_ADDR is required")
	}
	if c.MaxActiveSessions < 1 {
		return fmt.Errorf("LOCK_MAX_ACTIVE_SESSIONS must be > 0, got %d", c.MaxActiveSessions)
	}
	if c.CPURejectPercent < 0 || c.CPURejectPercent > 100 {
		return fmt.Errorf("LOCK_CPU_REJECT_PERCENT must be 0-100, got %.1f", c.CPURejectPercent)
	}
	switch c.DataLossPolicy {
	case "fatal", "degrade":
	default:
		return fmt.Errorf("LOCK_DATA_LOSS_POLICY must be 'fatal' or 'degrade', got %q", c.DataLossPolicy)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, console (got %s)", c.LogFormat)
	}
	return nil
}

// Print writes a human-readable dump of the configuration to stdout,
// for local debugging before the logger is wired up.
func (c *ServerConfig) Print() {
	fmt.Println("=== Lock Server Configuration ===")
	fmt.Printf("Environment:         %s\n", c.Environment)
	fmt.Printf("Address:             %s\n", c.Addr)
	fmt.Printf("Max Active Sessions: %d\n", c.MaxActiveSessions)
	fmt.Printf("Max Goroutines:      %d\n", c.MaxGoroutines)
	fmt.Printf("CPU Reject Percent:  %.1f\n", c.CPURejectPercent)
	fmt.Printf("Data Loss Policy:    %s\n", c.DataLossPolicy)
	fmt.Printf("NATS URL:            %s\n", orNone(c.NATSURL))
	fmt.Printf("Metrics Address:     %s\n", c.MetricsAddr)
}

// LogConfig emits the same information as a single structured log line,
// for production use where stdout isn't scraped.
func (c *ServerConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_active_sessions", c.MaxActiveSessions).
		Int("max_goroutines", c.MaxGoroutines).
		Float64("cpu_reject_percent", c.CPURejectPercent).
		Str("data_loss_policy", c.DataLossPolicy).
		Str("nats_url", orNone(c.NATSURL)).
		Str("metrics_addr", c.MetricsAddr).
		Msg("server configuration loaded")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
