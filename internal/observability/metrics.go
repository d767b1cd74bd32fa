// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Worker state gauge values.
const (
	StateValueBackfilling = 0
	StateValueLive        = 1
	StateValueRollingBack = 2
	StateValueError       = 3
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Ingestion metrics
	SwapEventsStored  *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	BlocksSynced      *prometheus.CounterVec
	ReorgsHandled     *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	FetchRetries      *prometheus.CounterVec

	// Worker state: 0 backfilling, 1 live, 2 rolling back, 3 error.
	WorkerState     *prometheus.GaugeVec
	LastSyncedBlock *prometheus.GaugeVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec
	CommitLatency  *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulCommit *prometheus.GaugeVec
	MirrorWriteErrors    prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered against reg.
// A nil registerer uses the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "evm_swap_indexer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SwapEventsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "swap_events_stored_total",
			Help:      "Total number of swap events stored to database",
		}, []string{"pool"}),
		DuplicatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of already-stored events skipped on upsert",
		}, []string{"pool"}),
		BlocksSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "blocks_synced_total",
			Help:      "Total number of blocks committed",
		}, []string{"pool"}),
		ReorgsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reorgs_handled_total",
			Help:      "Total number of chain reorganizations rolled back",
		}, []string{"pool"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_errors_total",
			Help:      "Total number of non-retryable event decode failures",
		}, []string{"pool"}),
		FetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_retries_total",
			Help:      "Total number of fetch attempts retried after failure",
		}, []string{"pool"}),

		WorkerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "worker_state",
			Help:      "Worker state: 0 backfilling, 1 live, 2 rolling back, 3 error",
		}, []string{"pool"}),
		LastSyncedBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_synced_block",
			Help:      "Highest block fully committed per pool",
		}, []string{"pool"}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "rpc_call_latency_seconds",
			Help:      "EVM JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		CommitLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "commit_latency_seconds",
			Help:      "Batch commit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),

		LastSuccessfulCommit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_commit_timestamp",
			Help:      "Unix timestamp of the last committed batch",
		}, []string{"pool"}),
		MirrorWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "mirror_write_errors_total",
			Help:      "Total number of failed ClickHouse mirror writes",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
