package models

import "time"

// UsageEntry records token usage for a single LLM request.
type UsageEntry struct {
	ID               int64     `json:"id,omitempty"`
	Timestamp        time.Time `json:"ts"`
	ProviderID       string    `json:"provider_id"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	ChatID           string    `json:"chat_id,omitempty"`
	Source           string    `json:"source,omitempty"`
}

// UsageTotals aggregates usage over a window.
type UsageTotals struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// UsageBucket is one timeline point.
type UsageBucket struct {
	Bucket      string `json:"bucket"`
	Requests    int64  `json:"requests"`
	TotalTokens int64  `json:"total_tokens"`
}
