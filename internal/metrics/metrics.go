// Package metrics declares the Prometheus collectors exported by the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Investigations counts finished (entity, criterion) pairs by result status.
	Investigations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_investigations_total",
		Help: "Investigations finished, by result status",
	}, []string{"status"})

	// Iterations tracks tool round-trips per investigation.
	Iterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "research_investigation_iterations",
		Help:    "Tool round-trips used per investigation",
		Buckets: []float64{0, 1, 2, 3, 5, 8},
	})

	// ToolCalls counts tool executions by tool and outcome (ok, cached, error, fatal).
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_tool_calls_total",
		Help: "Tool executions by tool and outcome",
	}, []string{"tool", "outcome"})

	// ToolLatency tracks uncached tool call latency.
	ToolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "research_tool_call_duration_seconds",
		Help:    "Uncached tool call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"tool"})

	// ModelTokens counts model tokens by provider and direction (input, output).
	ModelTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_model_tokens_total",
		Help: "Model tokens by provider and direction",
	}, []string{"provider", "direction"})

	// CostUSD accumulates spend by source (model, tools, verification).
	CostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_cost_usd_total",
		Help: "Spend in USD by source",
	}, []string{"source"})

	// Verifications counts verification outcomes.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_verifications_total",
		Help: "Verification pass outcomes",
	}, []string{"status"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
