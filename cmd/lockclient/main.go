// Command lockclient drives a lock/access/unlock workload against a
// lockserver: it walks a key across the resource keyspace, locking the
// owning shard, simulating an access, unlocking, and perturbing to the
// next key, until told to stop.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adred-codev/shardlock/internal/config"
	"github.com/adred-codev/shardlock/internal/csvmetrics"
	"github.com/adred-codev/shardlock/internal/lockcache"
	"github.com/adred-codev/shardlock/internal/resource"
	"github.com/adred-codev/shardlock/internal/telemetry"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	initialKey := flag.String("initial-key", "0/0", "the first key to lock")
	flag.Parse()

	cfg, err := config.LoadClientConfig(nil)
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := telemetry.NewLogger("shardlock-client", telemetry.LoggerConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	res, err := resource.NewFileSystem(cfg.ResourceBase, cfg.ShardCount, cfg.ItemCount)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize resource")
	}

	var metrics *csvmetrics.Writer
	if cfg.MetricsCSVPath != "" {
		metrics, err = csvmetrics.Open(cfg.MetricsCSVPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open metrics CSV")
		}
		defer metrics.Close()
	}

	cache := lockcache.New(cfg.ServerAddr, res.ShardID, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key := *initialKey
	accessDur := time.Duration(cfg.AccessDurationMS) * time.Millisecond

	var i int
	for {
		if cfg.Iterations > 0 && i >= cfg.Iterations {
			log.Info().Int("iterations", i).Msg("completed requested iterations, exiting")
			break
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("received interrupt, exiting")
			goto drain
		default:
		}

		start := time.Now()
		if err := cache.Lock(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to lock key")
		} else {
			log.Debug().Str("key", key).Msg("lock acquired")

			if err := res.Access(ctx, key, accessDur); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("access failed")
			}
			if err := cache.Unlock(ctx, key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to unlock key")
			}

			elapsed := time.Since(start)
			telemetry.LockOpLatency.WithLabelValues("lock_access_unlock").Observe(elapsed.Seconds())
			if metrics != nil {
				if err := metrics.Log(csvmetrics.Record{ClientName: cfg.ClientName, Key: key, Duration: elapsed}); err != nil {
					log.Warn().Err(err).Msg("failed to write metrics row")
				}
			}
		}

		key = res.PerturbKey(key)
		if cfg.Iterations > 0 {
			i++
		}
	}

drain:
	cache.ReleaseAll()
}
