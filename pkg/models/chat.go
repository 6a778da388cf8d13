// Package models defines the shared data types persisted and exchanged by
// the Guenther server: chats, messages, agent profiles, autoprompts,
// webhooks and usage records.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Chat represents a conversation thread.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one transcript entry in the OpenAI chat-completions shape.
// Content is either a plain string or a list of vision parts.
type ChatMessage struct {
	Role       Role           `json:"role"`
	Content    MessageContent `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MessageContent is a string-or-parts union. A message read from storage or
// a channel either carries plain text or structured parts (text plus
// image_url entries for vision input).
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// ContentPart is one element of a structured message content list.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference, usually a data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// TextContent builds plain string content.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

// PartsContent builds structured content.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsParts reports whether the content is a structured part list.
func (c MessageContent) IsParts() bool {
	return c.Parts != nil
}

// JoinText returns the textual content: the plain string, or all text
// parts joined with newlines.
func (c MessageContent) JoinText() string {
	if c.Parts == nil {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// MarshalJSON encodes the content as a bare string or a part array.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts both encodings.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	if string(data) == "null" {
		c.Text = ""
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Text = ""
	c.Parts = parts
	return nil
}
