package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics for Prometheus scraping.
//
// Tracked series:
//   - agent turns by channel and outcome
//   - LLM request latency, counts and token consumption
//   - tool execution counts and latencies
//   - scheduler fires and webhook deliveries
type Metrics struct {
	// TurnCounter counts agent turns.
	// Labels: channel (web|telegram|webhook|autoprompt), status (success|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	// Labels: channel
	TurnDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// AutopromptCounter counts scheduler fires.
	// Labels: status (success|error)
	AutopromptCounter *prometheus.CounterVec

	// WebhookCounter counts inbound webhook requests.
	// Labels: status_code
	WebhookCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return newMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers the metrics with a caller-supplied registerer.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	return newMetricsWith(reg)
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_turns_total",
				Help: "Total number of agent turns by channel and status",
			},
			[]string{"channel", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guenther_turn_duration_seconds",
				Help:    "Duration of full agent turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"channel"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_llm_requests_total",
				Help: "Total number of LLM requests by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guenther_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_llm_tokens_total",
				Help: "Total number of tokens used by provider, model and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guenther_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		AutopromptCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_autoprompt_fires_total",
				Help: "Total number of autoprompt fires by status",
			},
			[]string{"status"},
		),

		WebhookCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_webhook_requests_total",
				Help: "Total number of inbound webhook requests by status code",
			},
			[]string{"status_code"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guenther_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordTurn records one completed agent turn.
func (m *Metrics) RecordTurn(channel, status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(channel, status).Inc()
	m.TurnDuration.WithLabelValues(channel).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for one LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for one tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordAutopromptFire records one scheduler fire.
func (m *Metrics) RecordAutopromptFire(status string) {
	m.AutopromptCounter.WithLabelValues(status).Inc()
}

// RecordWebhookRequest records one inbound webhook request.
func (m *Metrics) RecordWebhookRequest(statusCode string) {
	m.WebhookCounter.WithLabelValues(statusCode).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
