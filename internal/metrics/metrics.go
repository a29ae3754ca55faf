package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// HTTP
	// ============================================
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ============================================
	// Relay pipeline
	// ============================================
	RelayAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_relay_attempts_total",
			Help: "Relay attempts by terminal status",
		},
		[]string{"chain_id", "status"},
	)

	RelayStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_relay_stage_duration_seconds",
			Help:    "Duration of each relay stage in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	PreflightProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_preflight_probes_total",
			Help: "Preflight probe outcomes",
		},
		[]string{"probe", "result"},
	)

	RelayerNonce = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backend_relayer_nonce",
			Help: "Last pending nonce used by the relayer account",
		},
		[]string{"chain_id"},
	)

	// ============================================
	// Entity store (game results)
	// ============================================
	EntityStoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_entity_store_duration_seconds",
			Help:    "Entity store call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	EntityStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_entity_store_errors_total",
			Help: "Entity store call failures",
		},
		[]string{"operation"},
	)

	GameResultsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_game_results_saved_total",
		Help: "Game results written to the entity store",
	})

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_cache_requests_total",
			Help: "Leaderboard cache lookups",
		},
		[]string{"result"},
	)

	// ============================================
	// Database
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_failed_total",
			Help: "Total number of NATS messages that failed to publish",
		},
		[]string{"subject"},
	)

	// ============================================
	// WebSocket
	// ============================================
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_websocket_connections",
		Help: "Number of live feed WebSocket connections",
	})
)
