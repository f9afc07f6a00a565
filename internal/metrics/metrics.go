// Package metrics exposes Prometheus metrics for the bot's presence and
// enforcement hot path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IRC presence
	ShardsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eloward_shards_connected",
		Help: "Number of IRC shards currently registered",
	})

	ChannelsJoined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eloward_channels_joined",
		Help: "Number of channels currently joined across all shards",
	})

	JoinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eloward_joins_total",
		Help: "Total JOIN commands issued",
	})

	PartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eloward_parts_total",
		Help: "Total PART commands issued",
	})

	ReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_reconnects_total",
		Help: "Total shard reconnect attempts by reason",
	}, []string{"reason"})

	// Message hot path
	MessagesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eloward_messages_processed_total",
		Help: "Total PRIVMSG lines processed",
	})

	MessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eloward_messages_dropped_total",
		Help: "Total messages dropped because the worker queue was full",
	})

	DispatchPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eloward_dispatch_panics_total",
		Help: "Total panics recovered at the dispatcher boundary",
	})

	// Enforcement
	EnforcementDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_enforcement_decisions_total",
		Help: "Enforcement pipeline decisions by outcome",
	}, []string{"outcome"}) // allow, timeout, exempt, disabled

	ModerationCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_moderation_calls_total",
		Help: "Total moderation API calls by result",
	}, []string{"result"}) // success, failed, aborted

	// Caches
	ConfigCacheHits   = prometheus.NewCounter(prometheus.CounterOpts{Name: "eloward_config_cache_hits_total", Help: "Config cache hits"})
	ConfigCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "eloward_config_cache_misses_total", Help: "Config cache misses"})
	RankCacheHits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "eloward_rank_cache_hits_total", Help: "Rank cache hits"})
	RankCacheMisses   = prometheus.NewCounter(prometheus.CounterOpts{Name: "eloward_rank_cache_misses_total", Help: "Rank cache misses"})

	// Control plane RPC
	RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_rpc_requests_total",
		Help: "Signed control-plane RPC calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	RPCLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eloward_rpc_latency_seconds",
		Help:    "Control-plane RPC latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	// Pub/sub
	PubsubEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_pubsub_events_total",
		Help: "Pub/sub events received by type",
	}, []string{"type"})

	// Commands
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_commands_total",
		Help: "In-chat commands handled by command and outcome",
	}, []string{"command", "outcome"})

	// Worker pool
	WorkerQueueDepth    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "eloward_worker_queue_depth", Help: "Current worker pool queue depth"})
	WorkerQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{Name: "eloward_worker_queue_capacity", Help: "Worker pool queue capacity"})

	// Credential lifecycle
	CredentialRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eloward_credential_refresh_total",
		Help: "Credential refresh attempts by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ShardsConnected,
		ChannelsJoined,
		JoinsTotal,
		PartsTotal,
		ReconnectsTotal,
		MessagesProcessed,
		MessagesDropped,
		DispatchPanics,
		EnforcementDecisions,
		ModerationCallsTotal,
		ConfigCacheHits,
		ConfigCacheMisses,
		RankCacheHits,
		RankCacheMisses,
		RPCRequestsTotal,
		RPCLatencySeconds,
		PubsubEventsTotal,
		CommandsTotal,
		WorkerQueueDepth,
		WorkerQueueCapacity,
		CredentialRefreshTotal,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
