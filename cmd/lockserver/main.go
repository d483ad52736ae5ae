// Command lockserver runs the shard-ownership arbitration server: it
// accepts Lock streams, arbitrates shard ownership between sessions, and
// exposes Prometheus metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/shardlock/internal/arbiter"
	"github.com/adred-codev/shardlock/internal/config"
	"github.com/adred-codev/shardlock/internal/guard"
	"github.com/adred-codev/shardlock/internal/notify"
	"github.com/adred-codev/shardlock/internal/resource"
	"github.com/adred-codev/shardlock/internal/shardstore"
	"github.com/adred-codev/shardlock/internal/telemetry"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	resourceBase := flag.String("resource-base", "./data", "base directory for the filesystem resource backing the shard registry")
	flag.Parse()

	cfg, err := config.LoadServerConfig(nil)
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := telemetry.NewLogger("shardlock-server", telemetry.LoggerConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(log)

	fs, err := resource.NewFileSystem(*resourceBase, 0, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize resource")
	}

	assignments := make([]shardstore.KeyAssignment, 0)
	for _, ka := range fs.Keys() {
		assignments = append(assignments, shardstore.KeyAssignment{ShardID: ka.ShardID, Key: ka.Key})
	}
	registry := shardstore.New(assignments)
	log.Info().Int("shard_count", len(registry.ShardIDs())).Msg("shard registry initialized")

	admitCfg := guard.DefaultConfig()
	admitCfg.MaxActiveSessions = cfg.MaxActiveSessions
	admitCfg.MaxGoroutines = cfg.MaxGoroutines
	admitCfg.CPURejectPercent = cfg.CPURejectPercent
	admitCfg.MemoryLimitBytes = cfg.MemoryLimitBytes
	admitCfg.GlobalAcceptRate = cfg.GlobalAcceptRate
	admitCfg.GlobalAcceptBurst = cfg.GlobalAcceptBurst
	admitCfg.AddressAcceptRate = cfg.AddressAcceptRate
	admitCfg.AddressAcceptBurst = cfg.AddressAcceptBurst

	publisher, err := notify.NewPublisher(cfg.NATSURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to NATS, ownership notifications disabled")
		publisher, _ = notify.NewPublisher("", log)
	}
	defer publisher.Close()

	opts := arbiter.Options{
		DataLossPolicy:   parseDataLossPolicy(cfg.DataLossPolicy),
		SimulatedLatency: parseSimulatedLatency(cfg.SimulatedLatency, log),
		Notify:           publisher,
	}

	server := arbiter.NewServer(registry, admitCfg, opts, log)
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle("/lock", server)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("lock server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("lock server failed")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := telemetry.ServeMetrics(cfg.MetricsAddr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

func parseDataLossPolicy(s string) arbiter.DataLossPolicy {
	if s == "degrade" {
		return arbiter.PolicyDegrade
	}
	return arbiter.PolicyFatal
}

func parseSimulatedLatency(s string, log zerolog.Logger) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn().Err(err).Str("value", s).Msg("invalid LOCK_SIMULATED_LATENCY, ignoring")
		return 0
	}
	return d
}
