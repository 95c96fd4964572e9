package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	opDurationBuckets   = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow lifecycle metrics
	InstanceCreatesTotal   *prometheus.CounterVec
	InstanceSubmitsTotal   *prometheus.CounterVec
	DecisionsTotal         *prometheus.CounterVec
	CompletionsTotal       *prometheus.CounterVec
	CancellationsTotal     *prometheus.CounterVec
	OperationDuration      *prometheus.HistogramVec
	VersionConflictsTotal  *prometheus.CounterVec
	IdempotentReplaysTotal prometheus.Counter

	// Definition metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ringiflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflow lifecycle
		InstanceCreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_instance_creates_total",
			Help: "Total number of workflow instances created.",
		}, []string{"definition_id"}),
		InstanceSubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_instance_submits_total",
			Help: "Total number of workflow instance submissions, including resubmissions.",
		}, []string{"definition_id"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_decisions_total",
			Help: "Total number of step decisions recorded.",
		}, []string{"definition_id", "decision"}),
		CompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_completions_total",
			Help: "Total number of instances reaching a terminal status.",
		}, []string{"definition_id", "final_status"}),
		CancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_cancellations_total",
			Help: "Total number of instance cancellations.",
		}, []string{"definition_id"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ringiflow_operation_duration_seconds",
			Help:    "Workflow operation duration in seconds.",
			Buckets: opDurationBuckets,
		}, []string{"operation"}),
		VersionConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts.",
		}, []string{"operation"}),
		IdempotentReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringiflow_idempotent_replays_total",
			Help: "Total number of decisions served from the idempotency cache.",
		}),

		// Definitions
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringiflow_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ringiflow_definitions_loaded",
			Help: "Number of loaded definition versions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Workflow lifecycle
		m.InstanceCreatesTotal,
		m.InstanceSubmitsTotal,
		m.DecisionsTotal,
		m.CompletionsTotal,
		m.CancellationsTotal,
		m.OperationDuration,
		m.VersionConflictsTotal,
		m.IdempotentReplaysTotal,
		// Definitions
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordInstanceCreate records a created instance.
func (m *Metrics) RecordInstanceCreate(definitionID string) {
	m.InstanceCreatesTotal.WithLabelValues(definitionID).Inc()
}

// RecordInstanceSubmit records a submission or resubmission.
func (m *Metrics) RecordInstanceSubmit(definitionID string) {
	m.InstanceSubmitsTotal.WithLabelValues(definitionID).Inc()
}

// RecordDecision records a step decision.
func (m *Metrics) RecordDecision(definitionID, decision string) {
	m.DecisionsTotal.WithLabelValues(definitionID, decision).Inc()
}

// RecordCompletion records an instance reaching a terminal status.
func (m *Metrics) RecordCompletion(definitionID, finalStatus string) {
	m.CompletionsTotal.WithLabelValues(definitionID, finalStatus).Inc()
}

// RecordCancellation records an instance cancellation.
func (m *Metrics) RecordCancellation(definitionID string) {
	m.CancellationsTotal.WithLabelValues(definitionID).Inc()
}

// RecordOperationDuration records how long a workflow operation took.
func (m *Metrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordVersionConflict records an optimistic concurrency conflict.
func (m *Metrics) RecordVersionConflict(operation string) {
	m.VersionConflictsTotal.WithLabelValues(operation).Inc()
}

// RecordIdempotentReplay records a decision served from the idempotency cache.
func (m *Metrics) RecordIdempotentReplay() {
	m.IdempotentReplaysTotal.Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definition versions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
