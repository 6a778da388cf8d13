package models

import "time"

// AgentProfile is a named agent configuration: its own system prompt,
// optional provider/model pin and an optional tool allow-list.
type AgentProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	ProviderID   string    `json:"provider_id,omitempty"`
	Model        string    `json:"model,omitempty"`
	ToolNames    []string  `json:"tool_names,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
