// Package observability centralizes Prometheus metrics for the runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide metric set. Create it once at startup; hand
// the pointer to the components that record into it.
type Metrics struct {
	// LLMRequestCounter counts completion calls.
	// Labels: model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|cached|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// MCPConnectionState reports each server's connection state as a
	// one-hot gauge. Labels: server, state
	MCPConnectionState *prometheus.GaugeVec

	// MCPReconnectAttempts counts reconnection attempts. Labels: server
	MCPReconnectAttempts *prometheus.CounterVec

	// ReasoningAttempts counts agent-loop attempts by strategy and outcome.
	// Labels: strategy, status (accepted|escalated|failed)
	ReasoningAttempts *prometheus.CounterVec

	// ActiveSessions gauges currently loaded sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers the metric set with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWith registers the metric set with the given registry. Tests use
// this for isolation.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_llm_requests_total",
				Help: "Total number of LLM requests by model and status",
			},
			[]string{"model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_llm_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		MCPConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meridian_mcp_connection_state",
				Help: "Connection state per MCP server (one-hot by state label)",
			},
			[]string{"server", "state"},
		),

		MCPReconnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_mcp_reconnect_attempts_total",
				Help: "Total number of MCP reconnection attempts by server",
			},
			[]string{"server"},
		),

		ReasoningAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_reasoning_attempts_total",
				Help: "Total number of reasoning attempts by strategy and outcome",
			},
			[]string{"strategy", "status"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_active_sessions",
				Help: "Number of currently loaded sessions",
			},
		),
	}
}
