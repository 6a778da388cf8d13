package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/tools"
)

// Manager supervises the configured external tool servers. Connecting a
// server registers its tools under origin "external:<id>"; disconnecting
// removes them again.
type Manager struct {
	registry *tools.Registry
	logger   *observability.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewManager(registry *tools.Registry, logger *observability.Logger) *Manager {
	return &Manager{
		registry: registry,
		logger:   logger.WithFields("component", "mcp"),
		clients:  make(map[string]*Client),
	}
}

// Start connects every enabled server. Failures are logged and skipped so a
// broken server never blocks boot.
func (m *Manager) Start(ctx context.Context, servers []config.MCPServerConfig) {
	for _, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		if err := m.Connect(ctx, cfg); err != nil {
			m.logger.Error(ctx, "failed to connect to tool server",
				"server", cfg.ID, "error", err)
		}
	}
}

// Stop disconnects all servers.
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			m.logger.Error(context.Background(), "failed to disconnect tool server",
				"server", id, "error", err)
		}
	}
}

// Connect spawns one server and registers its tools. Already-connected
// servers are left alone.
func (m *Manager) Connect(ctx context.Context, cfg config.MCPServerConfig) error {
	m.mu.RLock()
	_, exists := m.clients[cfg.ID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	spec := LaunchSpec{
		ID:      cfg.ID,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		WorkDir: cfg.WorkDir,
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	client := NewClient(spec, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	registered := 0
	for _, d := range Descriptors(client, cfg.ID) {
		if err := m.registry.Register(d); err != nil {
			m.logger.Warn(ctx, "skipping tool with invalid schema",
				"server", cfg.ID, "tool", d.Name, "error", err)
			continue
		}
		registered++
	}

	m.mu.Lock()
	m.clients[cfg.ID] = client
	m.mu.Unlock()

	m.logger.Info(ctx, "tool server connected",
		"server", cfg.ID,
		"name", client.ServerInfo().Name,
		"tools", registered)
	return nil
}

// Disconnect stops one server and removes its tools from the registry.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	client, exists := m.clients[serverID]
	delete(m.clients, serverID)
	m.mu.Unlock()

	removed := m.registry.UnregisterByOrigin(tools.OriginExternal(serverID))
	if !exists {
		return nil
	}

	err := client.Close()
	m.logger.Info(context.Background(), "tool server disconnected",
		"server", serverID, "tools_removed", len(removed))
	return err
}

// Sync reconciles the running servers against the configured set: enabled
// servers get connected, disabled or removed ones get torn down. Used at
// boot and after settings changes.
func (m *Manager) Sync(ctx context.Context, servers []config.MCPServerConfig) {
	want := make(map[string]bool, len(servers))
	for _, cfg := range servers {
		want[cfg.ID] = cfg.Enabled
	}

	m.mu.RLock()
	var stale []string
	for id := range m.clients {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.Disconnect(id); err != nil {
			m.logger.Error(ctx, "failed to disconnect tool server",
				"server", id, "error", err)
		}
	}

	m.Start(ctx, servers)
}

// Reload restarts one server, picking up config and tool-list changes.
func (m *Manager) Reload(ctx context.Context, cfg config.MCPServerConfig) error {
	if err := m.Disconnect(cfg.ID); err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}
	return m.Connect(ctx, cfg)
}

// Connected reports whether the server is currently running.
func (m *Manager) Connected(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return exists && client.Connected()
}

// ServerStatus is the per-server view exposed by the web API.
type ServerStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

// Status reports the state of every configured server.
func (m *Manager) Status(servers []config.MCPServerConfig) []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(servers))
	for _, cfg := range servers {
		status := ServerStatus{
			ID:      cfg.ID,
			Name:    cfg.Name,
			Enabled: cfg.Enabled,
		}
		if client, exists := m.clients[cfg.ID]; exists {
			status.Connected = client.Connected()
			status.Server = client.ServerInfo()
			status.Tools = len(client.Tools())
		}
		statuses = append(statuses, status)
	}
	return statuses
}
