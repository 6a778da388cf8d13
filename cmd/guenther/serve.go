package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/autoprompt"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/gateway"
	"github.com/openguenther/guenther/internal/mcp"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/toolbuilder"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/internal/tools/builtin"
	"github.com/openguenther/guenther/internal/tools/custom"
	"github.com/openguenther/guenther/internal/web"
	"github.com/openguenther/guenther/internal/webhooks"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		dataDir   string
		configDir string
		listen    string
		debug     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		Long: `Start the agent server with all configured channels.

The server loads its settings from the config directory, opens the
SQLite database in the data directory, registers builtin, custom and
MCP tools, arms the autoprompt scheduler and serves the web terminal.
The Telegram gateway starts when a bot token is configured. Graceful
shutdown on SIGINT/SIGTERM.`,
		Example: `  # Start with defaults under ./data
  guenther serve

  # Separate config and data locations
  guenther serve --config /etc/guenther --data /var/lib/guenther --listen :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				configDir = dataDir
			}
			return runServe(cmd.Context(), configDir, dataDir, listen, debug)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c", "", "Directory holding settings.json and the JSON stores (default: data dir)")
	cmd.Flags().StringVar(&dataDir, "data", "data", "Data directory for database, files and custom tools")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "HTTP listen address")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configDir, dataDir, listen string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.NewSettingsStore(configDir)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	level := settings.Get().LogLevel
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "text"})
	metrics := observability.NewMetrics()
	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "guenther",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	defer stopTracer(context.Background())
	bus := terminallog.NewBus(256)

	agents, err := config.NewAgentStore(configDir)
	if err != nil {
		return err
	}
	autoprompts, err := config.NewAutopromptStore(configDir)
	if err != nil {
		return err
	}
	hooks, err := config.NewWebhookStore(configDir)
	if err != nil {
		return err
	}
	tgUsers, err := config.NewTelegramUserStore(configDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := storage.Open(filepath.Join(dataDir, "guenther.db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	chats := storage.NewChatStore(db)
	images := storage.NewImageStore(db)
	knowledge := storage.NewKnowledgeStore(db)
	usage := storage.NewUsageStore(db)
	files := storage.NewFileStore(dataDir)

	registry := tools.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		return err
	}

	loader := custom.NewLoader(filepath.Join(dataDir, "custom_tools"), registry, logger)
	defer loader.Close()
	loaded := loader.LoadAll(ctx)
	logger.Info(ctx, "custom tools loaded", "count", loaded)
	go func() {
		if err := loader.Watch(ctx); err != nil {
			logger.Warn(ctx, "tool watcher stopped", "error", err)
		}
	}()

	builder := toolbuilder.New(loader, registry, logger)
	if err := registry.Register(builder.Descriptor()); err != nil {
		return err
	}

	manager := mcp.NewManager(registry, logger)
	manager.Start(ctx, settings.Get().MCPServers)
	defer manager.Stop()

	orch := agent.New(registry, provider.NewFactory(settings), logger,
		agent.WithEnv(agent.Env{
			Images:        images,
			Knowledge:     knowledge,
			Files:         files,
			TelegramUsers: tgUsers,
		}),
		agent.WithUsageStore(usage),
		agent.WithMetrics(metrics),
		agent.WithTracer(tracer),
	)

	scheduler := autoprompt.New(autoprompts, chats, settings, orch.Run, logger,
		autoprompt.WithAgentStore(agents),
		autoprompt.WithBus(bus),
		autoprompt.WithMetrics(metrics),
	)
	scheduler.Start(ctx)

	if token := settings.Get().Telegram.BotToken; token != "" {
		client, err := gateway.NewBotClient(token)
		if err != nil {
			logger.Error(ctx, "telegram gateway disabled", "error", err)
		} else {
			poller := gateway.New(client, orch.Run, chats, images, tgUsers, settings, files, logger,
				gateway.WithAgentStore(agents),
				gateway.WithBus(bus),
				gateway.WithMetrics(metrics),
			)
			orch.SetTelegramSender(poller.Sender())
			go poller.Run(ctx)
			if name, err := client.Username(ctx); err == nil {
				logger.Info(ctx, "telegram gateway started", "bot", name)
			} else {
				logger.Info(ctx, "telegram gateway started")
			}
		}
	}

	root := http.NewServeMux()
	webhooks.NewHandler(hooks, chats, settings, files, orch.Run, logger,
		webhooks.WithAgentStore(agents),
		webhooks.WithBus(bus),
		webhooks.WithMetrics(metrics),
	).Register(root)

	server := web.New(settings, chats, files, orch.Run, logger,
		web.WithAgentStore(agents),
		web.WithAutoprompts(autoprompts, scheduler),
		web.WithWebhookStore(hooks),
		web.WithUsageStore(usage),
		web.WithTools(registry, loader, builder),
		web.WithMCPManager(manager),
		web.WithBus(bus),
	)
	root.Handle("/", server.Handler())

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "addr", listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "scheduler shutdown incomplete", "error", err)
	}
	return nil
}
