// Package web serves the HTTP API, the WebSocket terminal and the static
// UI of the agent server.
package web

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/auth"
	"github.com/openguenther/guenther/internal/autoprompt"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/mcp"
	"github.com/openguenther/guenther/internal/media"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/toolbuilder"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/internal/tools/custom"
)

//go:embed static/*
var staticFS embed.FS

const tokenExpiry = 24 * time.Hour

// RunFunc executes one agent turn. The orchestrator's Run method
// satisfies it; tests inject fakes.
type RunFunc func(ctx context.Context, req agent.Request) (string, error)

// Server holds the handler state of the web API.
type Server struct {
	settings  *config.SettingsStore
	chats     *storage.ChatStore
	files     *storage.FileStore
	run       RunFunc
	extractor *media.Extractor
	logger    *observability.Logger
	jwt       *auth.Service

	agents      *config.AgentStore
	autoprompts *config.AutopromptStore
	hooks       *config.WebhookStore
	usage       *storage.UsageStore
	registry    *tools.Registry
	custom      *custom.Loader
	builder     *toolbuilder.Builder
	manager     *mcp.Manager
	scheduler   *autoprompt.Scheduler
	bus         *terminallog.Bus
}

// Option configures the server.
type Option func(*Server)

// WithAgentStore enables the agent profile endpoints.
func WithAgentStore(agents *config.AgentStore) Option {
	return func(s *Server) { s.agents = agents }
}

// WithAutoprompts enables the autoprompt endpoints.
func WithAutoprompts(store *config.AutopromptStore, scheduler *autoprompt.Scheduler) Option {
	return func(s *Server) {
		s.autoprompts = store
		s.scheduler = scheduler
	}
}

// WithWebhookStore enables the webhook admin endpoints.
func WithWebhookStore(hooks *config.WebhookStore) Option {
	return func(s *Server) { s.hooks = hooks }
}

// WithUsageStore enables the usage endpoints.
func WithUsageStore(usage *storage.UsageStore) Option {
	return func(s *Server) { s.usage = usage }
}

// WithTools enables the tool endpoints.
func WithTools(registry *tools.Registry, loader *custom.Loader, builder *toolbuilder.Builder) Option {
	return func(s *Server) {
		s.registry = registry
		s.custom = loader
		s.builder = builder
	}
}

// WithMCPManager enables the MCP server endpoints.
func WithMCPManager(m *mcp.Manager) Option {
	return func(s *Server) { s.manager = m }
}

// WithBus attaches the terminal event bus for the WebSocket stream and
// for turns started over the API.
func WithBus(bus *terminallog.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// New builds the server. The token signing secret is generated per
// process, so a restart invalidates all sessions.
func New(settings *config.SettingsStore, chats *storage.ChatStore, files *storage.FileStore, run RunFunc, logger *observability.Logger, opts ...Option) *Server {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("cannot read random secret: " + err.Error())
	}

	s := &Server{
		settings:  settings,
		chats:     chats,
		files:     files,
		run:       run,
		extractor: media.NewExtractor(files, logger),
		logger:    logger.WithFields("component", "web"),
		jwt:       auth.NewService(secret, tokenExpiry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the root handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("/api/", s.requireAuth(s.apiMux()))
	mux.Handle("GET /metrics", promhttp.Handler())

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("static assets missing: " + err.Error())
	}
	// Method-less catch-all; a "GET /" pattern would conflict with the
	// method-less "/api/" subtree above.
	mux.Handle("/", http.FileServer(http.FS(static)))

	return mux
}

func (s *Server) apiMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("GET /api/chats/{id}/files/{name}", s.handleChatFile)
	mux.HandleFunc("POST /api/chats/{id}/messages", s.handleChatMessage)
	mux.HandleFunc("POST /api/chats/{id}/reset", s.handleResetChat)
	mux.HandleFunc("PUT /api/chats/{id}/title", s.handleRenameChat)
	mux.HandleFunc("PUT /api/chats/{id}/agent", s.handlePinAgent)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/settings/schema", s.handleSettingsSchema)

	if s.registry != nil {
		mux.HandleFunc("GET /api/tools", s.handleListTools)
		mux.HandleFunc("POST /api/tools/{name}/toggle", s.handleToggleTool)
		mux.HandleFunc("GET /api/tools/{name}/settings", s.handleGetToolSettings)
		mux.HandleFunc("PUT /api/tools/{name}/settings", s.handleUpdateToolSettings)
	}
	if s.builder != nil {
		mux.HandleFunc("POST /api/tools/build", s.handleBuildTool)
		mux.HandleFunc("POST /api/tools/edit", s.handleEditTool)
		mux.HandleFunc("POST /api/tools/delete", s.handleDeleteTool)
	}
	if s.custom != nil {
		mux.HandleFunc("GET /api/tools/custom/{name}/export", s.handleExportTool)
		mux.HandleFunc("POST /api/tools/custom/import", s.handleImportTool)
	}

	if s.agents != nil {
		mux.HandleFunc("GET /api/agents", s.handleListAgents)
		mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
		mux.HandleFunc("GET /api/agents/export", s.handleExportAgents)
		mux.HandleFunc("POST /api/agents/import", s.handleImportAgents)
		mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
		mux.HandleFunc("PUT /api/agents/{id}", s.handleUpdateAgent)
		mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)
	}

	if s.autoprompts != nil {
		mux.HandleFunc("GET /api/autoprompts", s.handleListAutoprompts)
		mux.HandleFunc("POST /api/autoprompts", s.handleCreateAutoprompt)
		mux.HandleFunc("GET /api/autoprompts/export", s.handleExportAutoprompts)
		mux.HandleFunc("POST /api/autoprompts/import", s.handleImportAutoprompts)
		mux.HandleFunc("PUT /api/autoprompts/{id}", s.handleUpdateAutoprompt)
		mux.HandleFunc("DELETE /api/autoprompts/{id}", s.handleDeleteAutoprompt)
		mux.HandleFunc("POST /api/autoprompts/{id}/run", s.handleRunAutoprompt)
	}

	if s.hooks != nil {
		mux.HandleFunc("GET /api/webhooks", s.handleListWebhooks)
		mux.HandleFunc("POST /api/webhooks", s.handleCreateWebhook)
		mux.HandleFunc("PUT /api/webhooks/{id}", s.handleUpdateWebhook)
		mux.HandleFunc("DELETE /api/webhooks/{id}", s.handleDeleteWebhook)
	}

	if s.manager != nil {
		mux.HandleFunc("GET /api/mcp/servers", s.handleListMCPServers)
		mux.HandleFunc("POST /api/mcp/servers", s.handleCreateMCPServer)
		mux.HandleFunc("PUT /api/mcp/servers/{id}", s.handleUpdateMCPServer)
		mux.HandleFunc("DELETE /api/mcp/servers/{id}", s.handleDeleteMCPServer)
		mux.HandleFunc("POST /api/mcp/servers/{id}/enable", s.handleEnableMCPServer)
		mux.HandleFunc("POST /api/mcp/servers/{id}/disable", s.handleDisableMCPServer)
		mux.HandleFunc("POST /api/mcp/servers/{id}/reload", s.handleReloadMCPServer)
	}

	if s.usage != nil {
		mux.HandleFunc("GET /api/usage/stats", s.handleUsageStats)
		mux.HandleFunc("GET /api/usage/timeline", s.handleUsageTimeline)
		mux.HandleFunc("POST /api/usage/reset", s.handleUsageReset)
	}

	return mux
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn(context.Background(), "cannot write response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, msg string) {
	s.jsonResponse(w, status, map[string]any{"error": msg})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
