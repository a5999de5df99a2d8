// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

// Package metrics provides Prometheus instrumentation for:
//   - Tracking platform API calls and circuit breaker state
//   - Session lifecycle (refreshes, coalesced waits, failures)
//   - Vehicle cache sync loops (full and position-only)
//   - Connection health state
//   - HTTP API and WebSocket traffic
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Platform API Metrics
	PlatformRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platform_request_duration_seconds",
			Help:    "Duration of tracking platform API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "login", "validate", "vehicle_list", "last_positions", "ping"
	)

	PlatformRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_request_errors_total",
			Help: "Total number of failed tracking platform API calls",
		},
		[]string{"operation", "error_type"}, // error_type: "timeout", "auth", "http", "decode"
	)

	// Session Metrics
	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_refreshes_total",
			Help: "Total number of session refresh attempts",
		},
		[]string{"result"}, // "success", "failure", "reauth_required"
	)

	SessionRefreshCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_refresh_coalesced_total",
			Help: "Total number of callers that piggybacked on an in-flight session refresh",
		},
	)

	SessionValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_valid",
			Help: "Whether the current platform session is valid (1) or not (0)",
		},
	)

	// Sync Operation Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of vehicle sync operations in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"}, // "full", "position"
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync errors",
		},
		[]string{"kind", "error_type"}, // error_type: "session", "platform", "database", "validation"
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync",
		},
		[]string{"kind"},
	)

	SyncSkippedOverlap = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_skipped_overlap_total",
			Help: "Total number of sync ticks skipped because the previous run was still in progress",
		},
		[]string{"kind"},
	)

	SyncVehiclesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_vehicles_processed_total",
			Help: "Total number of vehicle records processed during sync",
		},
		[]string{"kind"},
	)

	SyncRecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_records_skipped_total",
			Help: "Total number of malformed platform records skipped during sync",
		},
	)

	CachedVehicles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cached_vehicles",
			Help: "Current number of vehicles in the in-memory cache",
		},
	)

	// Health Monitor Metrics
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connection_health_status",
			Help: "Connection health state (0=healthy, 1=degraded, 2=critical)",
		},
	)

	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_checks_total",
			Help: "Total number of health checks performed",
		},
		[]string{"status"}, // "healthy", "degraded", "critical"
	)

	ReconnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconnection_attempts_total",
			Help: "Total number of manual reconnection attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// NATS Event Metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of events published to NATS",
		},
		[]string{"subject"},
	)

	NATSPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Total number of failed NATS publishes",
		},
	)
)

// RecordPlatformRequest records one tracking platform API call.
func RecordPlatformRequest(operation string, duration time.Duration, errorType string) {
	PlatformRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errorType != "" {
		PlatformRequestErrors.WithLabelValues(operation, errorType).Inc()
	}
}

// RecordSyncOperation records one sync run.
func RecordSyncOperation(kind string, duration time.Duration, processed int, err error) {
	SyncDuration.WithLabelValues(kind).Observe(duration.Seconds())
	SyncVehiclesProcessed.WithLabelValues(kind).Add(float64(processed))
	if err != nil {
		return
	}
	SyncLastSuccess.WithLabelValues(kind).Set(float64(time.Now().Unix()))
}

// RecordAPIRequest records one HTTP API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// SetHealthStatus maps a health state string onto the status gauge.
func SetHealthStatus(state string) {
	switch state {
	case "healthy":
		HealthStatus.Set(0)
	case "degraded":
		HealthStatus.Set(1)
	default:
		HealthStatus.Set(2)
	}
	HealthChecks.WithLabelValues(state).Inc()
}

// SetSessionValid updates the session validity gauge.
func SetSessionValid(valid bool) {
	if valid {
		SessionValid.Set(1)
	} else {
		SessionValid.Set(0)
	}
}
