// Package metrics provides Prometheus metrics for the collaboration engine
// and the session hub.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collabx_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Engine metrics
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_events_received_total",
			Help: "Inbound channel events dispatched by the engine",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_events_dropped_total",
			Help: "Inbound events ignored by the engine",
		},
		[]string{"reason"},
	)

	intentsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_intents_sent_total",
			Help: "Outbound intents sent on a workspace channel",
		},
		[]string{"action"},
	)

	echoesSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabx_echoes_suppressed_total",
			Help: "Content updates ignored because they echoed a local write",
		},
	)

	remoteAppliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_remote_applies_total",
			Help: "Remote content updates applied to the active document",
		},
		[]string{"mode"},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabx_tree_nodes",
			Help: "Nodes in the most recently built workspace tree",
		},
	)

	presenceEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabx_presence_entries",
			Help: "Remote users tracked by the presence tracker",
		},
	)

	// Hub metrics
	hubConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabx_hub_connections_active",
			Help: "Number of open workspace channel connections",
		},
	)

	hubBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_hub_broadcasts_total",
			Help: "Events published by the hub",
		},
		[]string{"type"},
	)

	hubSlowConsumersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabx_hub_slow_consumer_drops_total",
			Help: "Events dropped because a connection's send buffer was full",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_runs_total",
			Help: "Code executions by language and outcome",
		},
		[]string{"language", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collabx_run_duration_seconds",
			Help:    "Code execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language"},
	)

	// Database metrics
	storeQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collabx_store_query_duration_seconds",
			Help:    "Node store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_auth_attempts_total",
			Help: "Hub connection authentication attempts",
		},
		[]string{"result"},
	)

	// Export metrics
	exportOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collabx_export_operation_duration_seconds",
			Help:    "Export backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	exportOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabx_export_operations_total",
			Help: "Export backend operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEventReceived counts an inbound event by type.
func RecordEventReceived(eventType string) {
	eventsReceivedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an ignored inbound event.
func RecordEventDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordIntentSent counts an outbound intent.
func RecordIntentSent(action string) {
	intentsSentTotal.WithLabelValues(action).Inc()
}

// RecordEchoSuppressed counts a content update from the local user.
func RecordEchoSuppressed() {
	echoesSuppressedTotal.Inc()
}

// RecordRemoteApply counts a remote update applied as a "delta" or a full
// "content" replacement.
func RecordRemoteApply(mode string) {
	remoteAppliesTotal.WithLabelValues(mode).Inc()
}

// SetTreeNodes sets the current tree size.
func SetTreeNodes(count int) {
	treeNodes.Set(float64(count))
}

// SetPresenceEntries sets the number of tracked remote users.
func SetPresenceEntries(count int) {
	presenceEntries.Set(float64(count))
}

// SetHubConnectionsActive sets the number of open hub connections.
func SetHubConnectionsActive(count int64) {
	hubConnectionsActive.Set(float64(count))
}

// RecordHubBroadcast records a hub event publication.
func RecordHubBroadcast(eventType string) {
	hubBroadcastsTotal.WithLabelValues(eventType).Inc()
}

// RecordSlowConsumerDrop records an event dropped for a full send buffer.
func RecordSlowConsumerDrop() {
	hubSlowConsumersTotal.Inc()
}

// RecordRun records a code execution.
func RecordRun(language string, duration time.Duration, success bool) {
	runDuration.WithLabelValues(language).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	runsTotal.WithLabelValues(language, status).Inc()
}

// RecordStoreQuery records a node store query duration.
func RecordStoreQuery(query string, duration time.Duration) {
	storeQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordAuthAttempt records a token check.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordExportOperation records an export backend operation.
func RecordExportOperation(backend, operation string, duration time.Duration, success bool) {
	exportOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	exportOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. route
// maps a request to a low-cardinality path label.
func Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			path := r.URL.Path
			if route != nil {
				path = route(r)
			}
			RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
		})
	}
}
