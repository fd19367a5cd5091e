package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vendordesk"

var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets  = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	pipelineDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
	batchSizeBuckets        = []float64{1, 2, 5, 10, 25, 50, 100, 250}
)

// Metrics holds the service's instruments. A nil *Metrics is valid and
// records nothing, so components can run without a registry in tests.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	PipelineDuration   *prometheus.HistogramVec
	VisibleItems       *prometheus.HistogramVec
	SourceFetchesTotal *prometheus.CounterVec
	SourceFetchLatency *prometheus.HistogramVec
	MutationsTotal     *prometheus.CounterVec
	MutationBatchSize  *prometheus.HistogramVec
	ActiveViews        prometheus.Gauge

	ActionExecutionsTotal *prometheus.CounterVec
	ActionDuration        *prometheus.HistogramVec
	ActionReplaysTotal    *prometheus.CounterVec

	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	ViewStateLoadsTotal        *prometheus.CounterVec

	DefinitionReloadTotal    *prometheus.CounterVec
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
}

// subsystem creates instruments named vendordesk_<sub>_<name> and registers
// them on reg as they are created.
type subsystem struct {
	f   promauto.Factory
	sub string
}

func (s subsystem) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return s.f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: s.sub, Name: name, Help: help}, labels)
}

func (s subsystem) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return s.f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: s.sub, Name: name, Help: help, Buckets: buckets}, labels)
}

func (s subsystem) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return s.f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: s.sub, Name: name, Help: help}, labels)
}

// InitMetrics creates the service's instruments and registers them on reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	var (
		root       = subsystem{f, ""}
		httpSub    = subsystem{f, "http"}
		list       = subsystem{f, "list"}
		source     = subsystem{f, "source"}
		action     = subsystem{f, "action"}
		backend    = subsystem{f, "backend"}
		capability = subsystem{f, "capability"}
		viewState  = subsystem{f, "view_state"}
		definition = subsystem{f, "definition"}
		openapi    = subsystem{f, "openapi"}
	)

	return &Metrics{
		HTTPRequestsTotal:     httpSub.counter("requests_total", "HTTP requests served.", "method", "path_pattern", "status"),
		HTTPRequestDuration:   httpSub.histogram("request_duration_seconds", "HTTP request latency.", httpDurationBuckets, "method", "path_pattern"),
		HTTPRequestSizeBytes:  httpSub.histogram("request_size_bytes", "HTTP request body size.", bodySizeBuckets, "method", "path_pattern"),
		HTTPResponseSizeBytes: httpSub.histogram("response_size_bytes", "HTTP response body size.", bodySizeBuckets, "method", "path_pattern"),

		PipelineDuration:   list.histogram("pipeline_duration_seconds", "Time spent filtering, sorting and paginating a list view.", pipelineDurationBuckets, "list_id"),
		VisibleItems:       list.histogram("visible_items", "Items in a rendered list window.", batchSizeBuckets, "list_id"),
		SourceFetchesTotal: source.counter("fetches_total", "List source fetches by outcome.", "list_id", "outcome"),
		SourceFetchLatency: source.histogram("fetch_duration_seconds", "List source fetch latency.", backendDurationBuckets, "list_id"),
		MutationsTotal:     root.counter("mutations_total", "Optimistic mutations sent to list sources.", "list_id", "kind", "outcome"),
		MutationBatchSize:  root.histogram("mutation_batch_size", "Items covered by one mutation.", batchSizeBuckets, "kind"),
		ActiveViews: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_views", Help: "List controllers held in memory.",
		}),

		ActionExecutionsTotal: action.counter("executions_total", "Row and bulk action executions.", "action_id", "scope", "status"),
		ActionDuration:        action.histogram("duration_seconds", "Action execution latency.", backendDurationBuckets, "action_id"),
		ActionReplaysTotal:    action.counter("replays_total", "Bulk actions answered from the idempotency store.", "action_id"),

		BackendRequestsTotal:       backend.counter("requests_total", "Backend service requests.", "service_id", "operation_id", "status"),
		BackendRequestDuration:     backend.histogram("request_duration_seconds", "Backend request latency.", backendDurationBuckets, "service_id"),
		BackendCircuitBreakerState: backend.gauge("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open).", "service_id"),
		BackendRetriesTotal:        backend.counter("retries_total", "Backend request retries.", "service_id"),

		CapabilityCacheHitsTotal:   capability.counter("cache_hits_total", "Capability cache hits.").WithLabelValues(),
		CapabilityCacheMissesTotal: capability.counter("cache_misses_total", "Capability cache misses.").WithLabelValues(),
		ViewStateLoadsTotal:        viewState.counter("loads_total", "View state lookups by store driver and result.", "driver", "result"),

		DefinitionReloadTotal: definition.counter("reload_total", "Definition reloads by status.", "status"),
		DefinitionsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "definitions_loaded", Help: "Loaded list definitions.",
		}),
		OpenAPIOperationsIndexed: openapi.gauge("operations_indexed", "Indexed OpenAPI operations.", "service_id"),
	}
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors, for InitMetrics and Handler to share.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordPipeline records one run of the filter, sort and paginate pipeline.
func (m *Metrics) RecordPipeline(listID string, duration time.Duration, visible int) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(listID).Observe(duration.Seconds())
	m.VisibleItems.WithLabelValues(listID).Observe(float64(visible))
}

// RecordFetch records a list source fetch. Outcome is "ok" or "error".
func (m *Metrics) RecordFetch(listID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SourceFetchesTotal.WithLabelValues(listID, outcome).Inc()
	m.SourceFetchLatency.WithLabelValues(listID).Observe(duration.Seconds())
}

// RecordMutation records an optimistic mutation and its outcome.
func (m *Metrics) RecordMutation(listID, kind, outcome string, size int) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(listID, kind, outcome).Inc()
	m.MutationBatchSize.WithLabelValues(kind).Observe(float64(size))
}

// SetActiveViews sets the number of live list controllers.
func (m *Metrics) SetActiveViews(n int) {
	if m == nil {
		return
	}
	m.ActiveViews.Set(float64(n))
}

// RecordActionExecution records a row or bulk action. Scope is "row" or
// "bulk".
func (m *Metrics) RecordActionExecution(actionID, scope, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ActionExecutionsTotal.WithLabelValues(actionID, scope, status).Inc()
	m.ActionDuration.WithLabelValues(actionID).Observe(duration.Seconds())
}

// RecordActionReplay records a bulk action answered from the idempotency
// store instead of being executed again.
func (m *Metrics) RecordActionReplay(actionID string) {
	if m == nil {
		return
	}
	m.ActionReplaysTotal.WithLabelValues(actionID).Inc()
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(serviceID, operationID string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(serviceID, operationID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordViewStateLoad records a view state lookup. Result is "hit", "miss"
// or "error".
func (m *Metrics) RecordViewStateLoad(driver, result string) {
	if m == nil {
		return
	}
	m.ViewStateLoadsTotal.WithLabelValues(driver, result).Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	if m == nil {
		return
	}
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded list definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed OpenAPI operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(serviceID string, count float64) {
	if m == nil {
		return
	}
	m.OpenAPIOperationsIndexed.WithLabelValues(serviceID).Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware records request counts, latency and sizes labelled by the
// matched route pattern.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		r = withRouteContext(r)

		next.ServeHTTP(rec, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), rec.status, time.Since(start), int(max(r.ContentLength, 0)), rec.bytes)
	})
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
