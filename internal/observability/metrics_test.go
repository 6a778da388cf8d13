package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordTurn(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordTurn("telegram", "success", 1.2)
	m.RecordTurn("telegram", "success", 0.4)
	m.RecordTurn("web", "error", 2.0)

	expected := `
		# HELP guenther_turns_total Total number of agent turns by channel and status
		# TYPE guenther_turns_total counter
		guenther_turns_total{channel="telegram",status="success"} 2
		guenther_turns_total{channel="web",status="error"} 1
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestMetrics_RecordLLMRequest(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordLLMRequest("openrouter", "openai/gpt-4o-mini", "success", 0.8, 120, 40)
	m.RecordLLMRequest("openrouter", "openai/gpt-4o-mini", "success", 0.3, 80, 0)

	expected := `
		# HELP guenther_llm_tokens_total Total number of tokens used by provider, model and type
		# TYPE guenther_llm_tokens_total counter
		guenther_llm_tokens_total{model="openai/gpt-4o-mini",provider="openrouter",type="completion"} 40
		guenther_llm_tokens_total{model="openai/gpt-4o-mini",provider="openrouter",type="prompt"} 200
	`
	if err := testutil.CollectAndCompare(m.LLMTokensUsed, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected token counts: %v", err)
	}
}

func TestMetrics_RecordToolExecution(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordToolExecution("get_current_time", "success", 0.01)
	m.RecordToolExecution("get_current_time", "error", 0.02)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 2 {
		t.Errorf("label combinations = %d, want 2", count)
	}
}
