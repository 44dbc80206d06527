package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics for the orchestration core.
type Metrics struct {
	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|timeout|denied)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// Delegations counts delegation attempts.
	// Labels: outcome (ok|RECURSION|MAX_DEPTH|NOT_ALLOWED|NOT_FOUND|error)
	Delegations *prometheus.CounterVec

	// GateDecisions counts supervision verdicts.
	// Labels: tier (rules|model|human|timeout), decision (approve|reject)
	GateDecisions *prometheus.CounterVec

	// CompactionRuns counts compressor invocations.
	// Labels: action (noop|compacted)
	CompactionRuns *prometheus.CounterVec

	// CorrelationCalls counts correlation-pool requests.
	// Labels: status (ok|timeout|closed|error)
	CorrelationCalls *prometheus.CounterVec
}

// NewMetrics registers the runtime metrics on a registerer (nil uses the
// default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tool_executions_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		Delegations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_delegations_total",
			Help: "Delegation attempts by outcome.",
		}, []string{"outcome"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_gate_decisions_total",
			Help: "Supervision gate verdicts by authoritative tier.",
		}, []string{"tier", "decision"}),
		CompactionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_compaction_runs_total",
			Help: "Context compressor invocations.",
		}, []string{"action"}),
		CorrelationCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_correlation_calls_total",
			Help: "Correlation pool calls by status.",
		}, []string{"status"}),
	}
}
