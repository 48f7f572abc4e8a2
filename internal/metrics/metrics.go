package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vita_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_runs_total",
			Help: "Orchestration runs by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vita_run_duration_seconds",
			Help:    "Orchestration run latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
	)

	RunRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vita_run_rounds",
			Help:    "Orchestrator reasoning iterations per run",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	SpecialistRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_specialist_runs_total",
			Help: "Specialist task executions by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_tool_calls_total",
			Help: "Specialist tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_llm_calls_total",
			Help: "Model calls by outcome kind",
		},
		[]string{"outcome"},
	)

	LLMRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vita_llm_retries_total",
			Help: "Model calls retried after a transient failure",
		},
	)

	RetrievalCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_retrieval_cache_total",
			Help: "Retrieval cache lookups by result",
		},
		[]string{"result"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vita_active_streams",
			Help: "Number of progress streams currently attached",
		},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	RetentionPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vita_retention_pruned_total",
			Help: "Rows removed by the retention job",
		},
		[]string{"table"},
	)
)
