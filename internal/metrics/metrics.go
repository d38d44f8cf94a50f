// Package metrics defines Prometheus metrics for the ScorchCrawl MCP
// server.
//
// All metrics are registered with the default registry and served on
// the /metrics endpoint of the HTTP transport.
//
// Metric naming follows Prometheus conventions:
//   - scorchcrawl_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ToolCallsTotal counts MCP tool calls by tool name and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorchcrawl_tool_calls_total",
			Help: "Total MCP tool calls by tool and status.",
		},
		[]string{"tool", "status"},
	)

	// ToolCallDurationSeconds is a histogram of tool call duration.
	ToolCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scorchcrawl_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tool"},
	)

	// AdmissionRejectionsTotal counts agent job rejections by cause.
	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorchcrawl_admission_rejections_total",
			Help: "Total agent job admissions rejected, by cause.",
		},
		[]string{"reason"},
	)

	// AgentJobsTotal counts finished agent jobs by terminal status.
	AgentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorchcrawl_agent_jobs_total",
			Help: "Total agent jobs by terminal status.",
		},
		[]string{"status"},
	)

	// AgentJobsActive is the number of currently running agent jobs.
	AgentJobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scorchcrawl_agent_jobs_active",
			Help: "Number of agent jobs currently executing.",
		},
	)

	// EngineRequestsTotal counts scraping engine calls by endpoint and
	// HTTP status.
	EngineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorchcrawl_engine_requests_total",
			Help: "Total scraping engine requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	// LocalScrapesTotal counts local-proxy fetches by outcome.
	LocalScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorchcrawl_local_scrapes_total",
			Help: "Total local-proxy scrape attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// AgentTurnsTotal counts agent session turns by model.
	AgentTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorchcrawl_agent_turns_total",
			Help: "Total agent session turns by model.",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(
		ToolCallsTotal,
		ToolCallDurationSeconds,
		AdmissionRejectionsTotal,
		AgentJobsTotal,
		AgentJobsActive,
		EngineRequestsTotal,
		LocalScrapesTotal,
		AgentTurnsTotal,
	)
}

// RecordToolCall records one finished MCP tool call.
func RecordToolCall(tool, status string, duration time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
	ToolCallDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordAdmissionRejection records a rejected agent job admission.
func RecordAdmissionRejection(reason string) {
	AdmissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordJobStart marks an agent job as running.
func RecordJobStart() {
	AgentJobsActive.Inc()
}

// RecordJobComplete marks an agent job as finished.
func RecordJobComplete(status string) {
	AgentJobsTotal.WithLabelValues(status).Inc()
	AgentJobsActive.Dec()
}

// RecordEngineRequest records one scraping engine request.
func RecordEngineRequest(endpoint, status string) {
	EngineRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordLocalScrape records one local-proxy fetch attempt.
func RecordLocalScrape(outcome string) {
	LocalScrapesTotal.WithLabelValues(outcome).Inc()
}

// RecordAgentTurn records one agent session turn.
func RecordAgentTurn(model string) {
	AgentTurnsTotal.WithLabelValues(model).Inc()
}
