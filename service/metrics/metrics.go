package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger gateway metrics
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	// Write lifecycle metrics
	lifecycleTransitionsTotal *prometheus.CounterVec
	submissionsTotal          *prometheus.CounterVec
	staleCallbacksTotal       prometheus.Counter

	// Feed metrics
	feedRefreshesTotal *prometheus.CounterVec
	feedSize           prometheus.Gauge

	// Indexer metrics
	indexWorkflowDuration        *prometheus.HistogramVec
	indexWorkflowExecutionsTotal *prometheus.CounterVec
	indexActivityDuration        *prometheus.HistogramVec
	memosIndexedTotal            prometheus.Counter

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		gatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_gateway_calls_total",
				Help: "Total number of ledger gateway calls by backend, method and status",
			},
			[]string{"backend", "method", "status"},
		),
		gatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_gateway_call_duration_seconds",
				Help:    "Duration of ledger gateway calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"backend", "method"},
		),

		lifecycleTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memo_lifecycle_transitions_total",
				Help: "Total number of write lifecycle transitions",
			},
			[]string{"from", "to"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memo_submissions_total",
				Help: "Total number of finished submissions by outcome",
			},
			[]string{"outcome"},
		),
		staleCallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "memo_stale_callbacks_total",
				Help: "Total number of stage events discarded because their submission was superseded",
			},
		),

		feedRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memo_feed_refreshes_total",
				Help: "Total number of completed feed refreshes",
			},
			[]string{"status"},
		),
		feedSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memo_feed_size",
				Help: "Number of records in the current feed snapshot",
			},
		),

		indexWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_workflow_duration_seconds",
				Help:    "Duration of memo index workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		indexWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_workflow_executions_total",
				Help: "Total number of memo index workflow executions",
			},
			[]string{"status"},
		),
		indexActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_activity_duration_seconds",
				Help:    "Duration of memo index activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),
		memosIndexedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "memos_indexed_total",
				Help: "Total number of new memos written to the index",
			},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Gateway metric helpers

// RecordGatewayCall records one ledger gateway call with duration.
func (m *Metrics) RecordGatewayCall(backend, method string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.gatewayCallsTotal.WithLabelValues(backend, method, status).Inc()
	m.gatewayCallDuration.WithLabelValues(backend, method).Observe(duration)
}

// Lifecycle metric helpers

// RecordLifecycleTransition records a write lifecycle transition.
func (m *Metrics) RecordLifecycleTransition(from, to string) {
	m.lifecycleTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSubmissionOutcome records a submission reaching a terminal state.
// outcome is "confirmed" or the failure reason.
func (m *Metrics) RecordSubmissionOutcome(outcome string) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordStaleCallback records a discarded stage event.
func (m *Metrics) RecordStaleCallback() {
	m.staleCallbacksTotal.Inc()
}

// Feed metric helpers

// RecordFeedRefresh records a completed feed refresh. size is only applied on success.
func (m *Metrics) RecordFeedRefresh(size int, err error) {
	if err != nil {
		m.feedRefreshesTotal.WithLabelValues("error").Inc()
		return
	}
	m.feedRefreshesTotal.WithLabelValues("success").Inc()
	m.feedSize.Set(float64(size))
}

// Workflow metric helpers

// RecordWorkflowDuration records index workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.indexWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.indexWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.indexActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordMemosIndexed records memos newly written to the index.
func (m *Metrics) RecordMemosIndexed(count int) {
	m.memosIndexedTotal.Add(float64(count))
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
