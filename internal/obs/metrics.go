package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized Prometheus metrics surface for the agent
// server, grounded on the teacher's internal/observability.Metrics.
type Metrics struct {
	// LLMRequestDuration measures gateway query latency in seconds.
	// Labels: provider, model, cache_hit (true|false).
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts gateway queries.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMCostUSD accumulates estimated spend.
	// Labels: provider, model.
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// TaskQueueDepth is a gauge of tasks waiting in the executor queue.
	TaskQueueDepth prometheus.Gauge

	// TaskActiveWorkers is a gauge of busy workers.
	TaskActiveWorkers prometheus.Gauge

	// TaskStatusCounter counts tasks reaching each terminal status.
	// Labels: status.
	TaskStatusCounter *prometheus.CounterVec

	// BrowserLeasesInUse is a gauge of currently leased browser contexts.
	BrowserLeasesInUse prometheus.Gauge

	// ErrorCounter tracks errors by component and kind.
	// Labels: component, kind.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers and returns a Metrics instance against the given
// registerer (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid global collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentserver",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "model", "cache_hit"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentserver",
			Subsystem: "llm",
			Name:      "requests_total",
		}, []string{"provider", "model", "status"}),
		LLMCostUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentserver",
			Subsystem: "llm",
			Name:      "estimated_cost_usd_total",
		}, []string{"provider", "model"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentserver",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"tool_name"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentserver",
			Subsystem: "tool",
			Name:      "executions_total",
		}, []string{"tool_name", "status"}),
		TaskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentserver",
			Subsystem: "task",
			Name:      "queue_depth",
		}),
		TaskActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentserver",
			Subsystem: "task",
			Name:      "active_workers",
		}),
		TaskStatusCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentserver",
			Subsystem: "task",
			Name:      "status_total",
		}, []string{"status"}),
		BrowserLeasesInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentserver",
			Subsystem: "browser",
			Name:      "leases_in_use",
		}),
		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentserver",
			Subsystem: "errors",
			Name:      "total",
		}, []string{"component", "kind"}),
	}
}

// NewNoopMetrics returns a Metrics backed by a private registry, suitable
// for tests that don't need to assert on Prometheus state but still want a
// non-nil Metrics to pass around.
func NewNoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
