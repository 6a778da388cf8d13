package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openguenther/guenther/internal/observability"
)

// caller abstracts the transport so tests can drive the handshake without a
// subprocess.
type caller interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// Client speaks MCP to a single tool server.
type Client struct {
	spec      LaunchSpec
	transport caller
	logger    *observability.Logger

	mu         sync.RWMutex
	tools      []*Tool
	serverInfo ServerInfo
}

func NewClient(spec LaunchSpec, logger *observability.Logger) *Client {
	return &Client{
		spec:      spec,
		transport: NewTransport(spec, logger),
		logger:    logger.WithFields("mcp_server", spec.ID),
	}
}

// Connect performs the protocol handshake: spawn, initialize,
// notifications/initialized, tools/list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "guenther",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	c.logger.Info(ctx, "connected to tool server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn(ctx, "failed to send initialized notification", "error", err)
	}

	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn(ctx, "failed to list tools", "error", err)
	}

	return nil
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) Spec() LaunchSpec {
	return c.spec
}

func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// RefreshTools re-fetches the tool list from the server.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()

	c.logger.Debug(ctx, "tool list refreshed", "count", len(resp.Tools))
	return nil
}

// Tools returns the cached tool list.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := CallToolParams{Name: name}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = raw
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
