package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the Prometheus collectors of one process. It satisfies the
// observer interfaces of the security filter, the history store, the
// pipeline and the copilot.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Security metrics
	securityBlocksTotal      *prometheus.CounterVec
	sensitiveDetectionsTotal *prometheus.CounterVec

	// Pipeline metrics
	pipelineRunsTotal     *prometheus.CounterVec
	pipelineStageDuration *prometheus.HistogramVec

	// History metrics
	historyOperationsTotal *prometheus.CounterVec

	// Agent metrics
	answersTotal   *prometheus.CounterVec
	answerDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightagent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flightagent_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		securityBlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightagent_security_blocks_total",
				Help: "Total number of inputs rejected by the security filter",
			},
			[]string{"gate", "reason"},
		),
		sensitiveDetectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightagent_sensitive_detections_total",
				Help: "Total number of inputs containing sensitive keywords",
			},
			[]string{"gate"},
		),

		pipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightagent_pipeline_runs_total",
				Help: "Total number of flight workflow runs",
			},
			[]string{"status"},
		),
		pipelineStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flightagent_pipeline_stage_duration_seconds",
				Help:    "Workflow stage duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		historyOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightagent_history_operations_total",
				Help: "Total number of conversation history operations",
			},
			[]string{"op", "status"},
		),

		answersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightagent_answers_total",
				Help: "Total number of answered copilot turns",
			},
			[]string{"status"},
		),
		answerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flightagent_answer_duration_seconds",
				Help:    "Copilot turn duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.securityBlocksTotal,
		m.sensitiveDetectionsTotal,
		m.pipelineRunsTotal,
		m.pipelineStageDuration,
		m.historyOperationsTotal,
		m.answersTotal,
		m.answerDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveBlocked counts a rejected input.
func (m *Metrics) ObserveBlocked(source, rule string) {
	m.securityBlocksTotal.WithLabelValues(source, rule).Inc()
}

// ObserveSensitive counts an input with sensitive keywords.
func (m *Metrics) ObserveSensitive(source string) {
	m.sensitiveDetectionsTotal.WithLabelValues(source).Inc()
}

// ObservePipelineRun counts a finished workflow run.
func (m *Metrics) ObservePipelineRun(status string) {
	m.pipelineRunsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.pipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveHistoryOperation counts a store operation.
func (m *Metrics) ObserveHistoryOperation(op string, err error) {
	m.historyOperationsTotal.WithLabelValues(op, statusOf(err)).Inc()
}

// ObserveAnswer records a copilot turn.
func (m *Metrics) ObserveAnswer(d time.Duration, err error) {
	m.answersTotal.WithLabelValues(statusOf(err)).Inc()
	m.answerDuration.Observe(d.Seconds())
}

func statusOf(err error) string {
	if err == nil {
		return StatusSuccess
	}
	return StatusError
}
