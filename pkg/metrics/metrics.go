package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatusChecks records connection health probes by result (up|down|error).
	StatusChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbwarden_status_checks_total",
			Help: "Total number of connection status checks",
		},
		[]string{"result"},
	)

	// ConnectionReachable reports the last probe outcome per resource (1 up, 0 down).
	ConnectionReachable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbwarden_connection_reachable",
			Help: "Last known reachability of a registered connection",
		},
		[]string{"resource"},
	)

	// QueryExecutions counts ad-hoc statement batches by kind (read|write|ddl) and result.
	QueryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbwarden_query_executions_total",
			Help: "Total number of executed statement batches",
		},
		[]string{"kind", "result"},
	)

	// PermissionChecks counts permission evaluations and their outcome (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbwarden_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// StoreFailures counts best-effort persistence failures by operation.
	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbwarden_store_failures_total",
			Help: "Total number of connection store failures",
		},
		[]string{"op"},
	)

	// HealthComponentUp reports the last health check outcome per control-plane component.
	HealthComponentUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbwarden_health_component_up",
			Help: "Last health check outcome of a control-plane component (1 up, 0 otherwise)",
		},
		[]string{"component"},
	)

	// AuthAttempts counts login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbwarden_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbwarden_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
