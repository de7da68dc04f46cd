package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaboration gateway.
//
// Naming convention: namespace_subsystem_name
// - namespace: collab_gateway (application-level grouping)
// - subsystem: connection, presence, lock, rate_limit, lockstore, circuit_breaker
// - name: specific metric (connections_active, operations_total, etc.)
var (
	// ActiveConnections tracks the current number of live gateway sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab_gateway",
		Subsystem: "connection",
		Name:      "connections_active",
		Help:      "Current number of active gateway connections",
	})

	// ConnectionsRejected tracks handshake rejections by reason.
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "connection",
		Name:      "rejected_total",
		Help:      "Total handshake rejections, by reason",
	}, []string{"reason"})

	// StaleConnectionsReaped tracks sessions force-disconnected by the stale reaper.
	StaleConnectionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "connection",
		Name:      "stale_reaped_total",
		Help:      "Total connections force-disconnected by the stale reaper",
	})

	// ActiveRooms tracks the current number of non-empty presence rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab_gateway",
		Subsystem: "presence",
		Name:      "rooms_active",
		Help:      "Current number of active resource rooms",
	})

	// RoomOccupancy tracks live occupant count per resource room.
	RoomOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab_gateway",
		Subsystem: "presence",
		Name:      "occupancy",
		Help:      "Number of occupants in each resource room",
	}, []string{"resource_id"})

	// GatewayEvents tracks total inbound frames processed, by event and outcome.
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "connection",
		Name:      "events_total",
		Help:      "Total inbound frames processed",
	}, []string{"event", "status"})

	// EventDispatchDuration tracks per-handler processing latency.
	EventDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab_gateway",
		Subsystem: "connection",
		Name:      "event_dispatch_seconds",
		Help:      "Time spent dispatching an inbound frame to its handler",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	// LockOperations tracks lock engine outcomes by operation and result.
	LockOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "lock",
		Name:      "operations_total",
		Help:      "Total lock engine operations, by op and outcome",
	}, []string{"op", "outcome"})

	// CircuitBreakerState tracks the current state of a named circuit breaker.
	// 0: Closed (healthy), 1: Open (failing), 2: Half-Open (recovering).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collab_gateway",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected while a breaker is open.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks denied admissions by limiter label and reason.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total admissions denied by the rate limiter",
	}, []string{"limiter", "reason"})

	// RateLimitRequests tracks total admissions checked by limiter label.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total admissions checked against the rate limiter",
	}, []string{"limiter"})

	// RedisOperationsTotal tracks lock-store KV operations by op and outcome.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab_gateway",
		Subsystem: "lockstore",
		Name:      "operations_total",
		Help:      "Total lock store operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks lock-store KV operation latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab_gateway",
		Subsystem: "lockstore",
		Name:      "operation_duration_seconds",
		Help:      "Duration of lock store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
