// Package mcp implements the client side of the Model Context Protocol:
// newline-delimited JSON-RPC 2.0 over the stdio of a child process. External
// tool servers and the embedded custom-tool runner both speak this protocol.
package mcp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const protocolVersion = "2024-11-05"

// LaunchSpec describes how to start a tool server subprocess.
type LaunchSpec struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
	Timeout time.Duration
}

// Validate rejects launch specs that could smuggle shell syntax into the
// subprocess invocation. Specs arrive over the web API, so they are not
// trusted.
func (s *LaunchSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("server id is required")
	}
	if s.Command == "" {
		return fmt.Errorf("command is required")
	}
	if err := validatePath(s.Command, "command"); err != nil {
		return err
	}
	if s.WorkDir != "" {
		if err := validatePath(s.WorkDir, "work_dir"); err != nil {
			return err
		}
	}
	for i, arg := range s.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains shell metacharacters: %q", i, arg)
		}
	}
	return nil
}

func validatePath(path, fieldName string) error {
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}
	return nil
}

func containsShellMetachars(s string) bool {
	// Spaces and quotes are fine in legitimate args; only flag patterns
	// that chain or substitute commands.
	patterns := []string{
		"$(", "${", "`",
		"&&", "||", ";", "|",
		">", "<",
		"\n", "\r",
	}
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Tool is a tool advertised by a server via tools/list. The x_ fields are
// extensions reported by the embedded custom-tool runner; real MCP servers
// never send them.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`

	Usage            string          `json:"x_usage,omitempty"`
	SettingsSchema   json.RawMessage `json:"x_settings_schema,omitempty"`
	AgentOverridable bool            `json:"x_agent_overridable,omitempty"`
}

// ToolCallResult is the payload of a tools/call response.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is one content item of a tool result.
type ToolResultContent struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ServerInfo identifies the server, reported during initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo      `json:"serverInfo"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JSON-RPC 2.0 wire types.

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// Notification is a JSON-RPC message without an id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}
