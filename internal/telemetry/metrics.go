package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus instrumentation surface for both the
// server and the client: ownership transitions, session counts, and
// operation latency.
var (
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lock_sessions_active",
		Help: "Current number of sessions under arbitration",
	})

	SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lock_sessions_total",
		Help: "Total number of sessions accepted",
	})

	ShardSteals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_shard_steals_total",
		Help: "Total number of shard ownership hand-offs (steals)",
	}, []string{"shard_id"})

	DataLossEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lock_data_loss_total",
		Help: "Total number of times a predecessor session disappeared before releasing a shard",
	})

	AcquireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lock_acquire_latency_seconds",
		Help:    "Latency from the registry swap to the shard data being ready for Acquired",
		Buckets: prometheus.DefBuckets,
	})

	LockOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lock_client_op_latency_seconds",
		Help:    "Client-observed latency of lock/access/unlock cycles",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		SessionsTotal,
		ShardSteals,
		DataLossEvents,
		AcquireLatency,
		LockOpLatency,
	)
}

// ServeMetrics starts a blocking HTTP server exposing /metrics on addr.
// Intended to be run in its own goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
