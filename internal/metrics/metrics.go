package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tool metrics
	ToolCallsTotal      *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec
	ToolCallErrorsTotal *prometheus.CounterVec

	// Agent metrics
	AgentRunsTotal   *prometheus.CounterVec
	AgentRunDuration prometheus.Histogram
	AgentIterations  prometheus.Histogram

	// LLM metrics
	LLMRequestsTotal *prometheus.CounterVec

	// MCP session metrics
	SessionReconnectsTotal prometheus.Counter
	SessionPendingCalls    prometheus.Gauge
	SessionState           prometheus.Gauge
	CatalogTools           prometheus.Gauge
	CatalogResources       prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Tool metrics
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of MCP tool calls",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_call_duration_seconds",
				Help:    "Duration of MCP tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolCallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_call_errors_total",
				Help: "Total number of MCP tool call errors",
			},
			[]string{"tool_name", "error_type"},
		),

		// Agent metrics
		AgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_total",
				Help: "Total number of agent runs",
			},
			[]string{"status"},
		),
		AgentRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AgentIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_run_iterations",
				Help:    "Number of model rounds per agent run",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
			},
		),

		// LLM metrics
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM provider requests",
			},
			[]string{"provider", "status"},
		),

		// MCP session metrics
		SessionReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcp_session_reconnects_total",
				Help: "Total number of MCP session reconnects",
			},
		),
		SessionPendingCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_session_pending_calls",
				Help: "Number of in-flight MCP calls awaiting a response",
			},
		),
		SessionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_session_state",
				Help: "MCP session state (0=disconnected, 1=connecting, 2=ready, 3=degraded)",
			},
		),
		CatalogTools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_catalog_tools",
				Help: "Number of tools in the MCP catalog",
			},
		),
		CatalogResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_catalog_resources",
				Help: "Number of resources in the MCP catalog",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	// HTTP metrics
	m.registry.MustRegister(m.HTTPRequestsTotal)
	m.registry.MustRegister(m.HTTPRequestDuration)

	// Tool metrics
	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.ToolCallErrorsTotal)

	// Agent metrics
	m.registry.MustRegister(m.AgentRunsTotal)
	m.registry.MustRegister(m.AgentRunDuration)
	m.registry.MustRegister(m.AgentIterations)

	// LLM metrics
	m.registry.MustRegister(m.LLMRequestsTotal)

	// MCP session metrics
	m.registry.MustRegister(m.SessionReconnectsTotal)
	m.registry.MustRegister(m.SessionPendingCalls)
	m.registry.MustRegister(m.SessionState)
	m.registry.MustRegister(m.CatalogTools)
	m.registry.MustRegister(m.CatalogResources)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
