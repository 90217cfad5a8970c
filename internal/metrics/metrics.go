// Package metrics provides Prometheus metrics for the workflow server.
package metrics

import (
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
			Name: "workflowd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflowd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Catalog metrics
	catalogScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflowd_catalog_scan_duration_seconds",
			Help:    "Time to build a catalog listing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	catalogFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflowd_catalog_files",
			Help: "Number of workflow files in the last listing",
		},
		[]string{"source"},
	)

	workflowDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflowd_workflow_downloads_total",
			Help: "Total number of workflow documents served",
		},
		[]string{"source", "status"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflowd_cache_lookups_total",
			Help: "Remote cache lookups",
		},
		[]string{"result"},
	)

	cachePurgesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflowd_cache_purges_total",
			Help: "Total remote cache purges",
		},
	)

	// Upstream metrics
	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflowd_upstream_request_duration_seconds",
			Help:    "Duration of requests to the remote backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflowd_upstream_requests_total",
			Help: "Total requests to the remote backend",
		},
		[]string{"backend", "operation", "status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflowd_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"kind", "result"},
	)

	entitlementChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflowd_entitlement_checks_total",
			Help: "Total workflow entitlement checks",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflowd_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflowd_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflowd_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCatalogScan records how long a listing took and how many files it had.
func RecordCatalogScan(source string, files int, duration time.Duration) {
	catalogScanDuration.WithLabelValues(source).Observe(duration.Seconds())
	catalogFiles.WithLabelValues(source).Set(float64(files))
}

// RecordWorkflowDownload records a served (or failed) workflow document.
func RecordWorkflowDownload(source string, success bool) {
	workflowDownloadsTotal.WithLabelValues(source, status(success)).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCachePurge records a cache purge.
func RecordCachePurge() {
	cachePurgesTotal.Inc()
}

// RecordUpstream records a request to the remote backend.
func RecordUpstream(backend, operation string, duration time.Duration, success bool) {
	upstreamDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	upstreamRequestsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordAuthAttempt records a login or registration attempt.
func RecordAuthAttempt(kind string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// RecordEntitlementCheck records a workflow entitlement check result.
func RecordEntitlementCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	entitlementChecksTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their mux pattern, not the raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
