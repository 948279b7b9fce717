package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LLM, pipeline, retrieval and execution metrics.
var (
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of language model requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Language model request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "model"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_tokens_total",
			Help:      "Total language model tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	LLMBudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "llm_budget_tokens_remaining",
			Help:      "Remaining language model token budget",
		},
		[]string{"provider", "period"},
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by final status",
		},
		[]string{"pipeline", "status"}, // "success" / "failed" / "stopped" / "cancelled"
	)

	StageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_outcomes_total",
			Help:      "Stage executions by status",
		},
		[]string{"pipeline", "stage", "status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"pipeline", "stage"},
	)

	SynthesisAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "synthesis_attempts",
			Help:      "Generation attempts per synthesis call",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
		},
		[]string{"outcome"}, // "accepted" / "exhausted"
	)

	RetrievalFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retrieval_fallback_total",
			Help:      "Retrievals answered by keyword matching",
		},
		[]string{"reason"}, // "degraded" / "no_match"
	)

	ExecutorQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "executor_queries_total",
			Help:      "Queries executed against data stores",
		},
		[]string{"driver", "status"}, // "ok" / "transient" / "permanent" / "rejected"
	)

	ExecutorRowsReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "executor_rows_returned",
			Help:      "Rows returned per query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"driver"},
	)
)

var registerPipelineOnce sync.Once

// RegisterPipelineMetrics registers LLM, pipeline and executor metrics. Safe to call repeatedly.
func RegisterPipelineMetrics() {
	registerPipelineOnce.Do(func() {
		prometheus.MustRegister(
			LLMRequestsTotal,
			LLMRequestDuration,
			LLMTokensTotal,
			LLMBudgetTokensRemaining,
			PipelineRunsTotal,
			StageOutcomesTotal,
			StageDuration,
			SynthesisAttempts,
			RetrievalFallbackTotal,
			ExecutorQueriesTotal,
			ExecutorRowsReturned,
		)
	})
}
