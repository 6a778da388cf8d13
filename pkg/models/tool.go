package models

import (
	"encoding/json"
	"time"
)

// ToolDefinition is the OpenAI function-calling wire shape for one tool.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition carries a tool's name, description and parameter schema.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolSummary is the compact tool representation served to the UI.
type ToolSummary struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Origin           string `json:"origin"`
	Enabled          bool   `json:"enabled"`
	HasSettings      bool   `json:"has_settings"`
	AgentOverridable bool   `json:"agent_overridable"`
}

// SettingsField describes one entry of a tool's settings form.
type SettingsField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder,omitempty"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
}

// ExportEnvelope wraps exported records (agents, autoprompts, custom tools)
// so imports can check what they are being fed.
type ExportEnvelope struct {
	Type       string          `json:"type"`
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Data       json.RawMessage `json:"data"`
}

// Export envelope type markers.
const (
	ExportTypeAgents      = "openguenther_agents"
	ExportTypeAutoprompts = "openguenther_autoprompts"
	ExportTypeCustomTool  = "openguenther_tool"
)
