// Package agent runs the tool-calling loop of a single turn: it resolves
// provider and model, narrows the tool belt, iterates chat completions
// until the model stops requesting tools, and returns the terminal
// assistant text with collected media appended.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/media"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/router"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

// maxIterations bounds the tool-call loop of one turn.
const maxIterations = 10

const maxIterationsText = "Maximale Iterationen erreicht. Bitte versuche es erneut."

// CompleteFunc issues one chat completion against the given provider.
// Tests inject fakes; the default builds a provider client per call so
// settings edits apply immediately.
type CompleteFunc func(ctx context.Context, cfg config.ProviderConfig, req provider.ChatRequest) (*provider.ChatResult, error)

// Env bundles the shared stores handed into tool handlers.
type Env struct {
	Images        *storage.ImageStore
	Knowledge     *storage.KnowledgeStore
	Files         *storage.FileStore
	TelegramUsers *config.TelegramUserStore
}

// Request is one agent turn. Messages carry the prior user/assistant
// transcript including the latest user message; Snapshot is the settings
// state the whole turn runs under.
type Request struct {
	Messages []models.ChatMessage
	Snapshot config.Settings
	Emit     terminallog.EmitFunc
	// SystemPrompt overrides the configured system prompt when set.
	SystemPrompt string
	// AgentProviderID and AgentModel are the agent profile override; both
	// must be set to take effect.
	AgentProviderID string
	AgentModel      string
	ChatID          string
	// Source tags usage log entries (web, telegram, webhook, autoprompt).
	Source string
}

// Orchestrator drives agent turns. It is safe for concurrent use.
type Orchestrator struct {
	registry  *tools.Registry
	providers *provider.Factory
	router    *router.Router
	usage     *storage.UsageStore
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *observability.Logger
	env       Env
	complete  CompleteFunc

	telegram tools.TelegramSender
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCompleteFunc replaces the LLM call, used by tests.
func WithCompleteFunc(fn CompleteFunc) Option {
	return func(o *Orchestrator) { o.complete = fn }
}

// WithUsageStore enables token accounting per completion.
func WithUsageStore(store *storage.UsageStore) Option {
	return func(o *Orchestrator) { o.usage = store }
}

// WithMetrics enables Prometheus counters for turns, LLM calls and tool
// executions.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer enables spans for turns, LLM requests and tool executions.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithEnv installs the stores passed through to tool handlers.
func WithEnv(env Env) Option {
	return func(o *Orchestrator) { o.env = env }
}

func New(registry *tools.Registry, providers *provider.Factory, logger *observability.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		providers: providers,
		logger:    logger.WithFields("component", "agent"),
	}
	o.complete = defaultComplete
	for _, opt := range opts {
		opt(o)
	}
	// The router shares the completion path so fakes drive it too. Router
	// calls always go through the default provider of the snapshot.
	o.router = router.New(func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
		return o.complete(ctx, o.providers.Config(""), req)
	}, logger)
	return o
}

func defaultComplete(ctx context.Context, cfg config.ProviderConfig, req provider.ChatRequest) (*provider.ChatResult, error) {
	client, err := provider.New(cfg)
	if err != nil {
		return nil, err
	}
	return client.ChatCompletion(ctx, req)
}

// SetTelegramSender installs the outbound Telegram sender once the gateway
// is running. Handlers see a nil sender until then.
func (o *Orchestrator) SetTelegramSender(s tools.TelegramSender) {
	o.telegram = s
}

// Run executes one turn and returns the terminal assistant text. Provider
// and configuration failures come back as German error texts, not Go
// errors; the turn still completes and the closing log header is always
// emitted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, error) {
	emit := req.Emit
	if emit == nil {
		emit = func(terminallog.Event) {}
	}
	started := time.Now()
	header(emit, "GUENTHER AGENT GESTARTET")
	defer header(emit, "GUENTHER AGENT BEENDET")

	ctx, turnSpan := o.tracer.StartTurn(ctx, req.Source, req.ChatID)
	defer turnSpan.End()

	snapshot := req.Snapshot
	messages := buildTranscript(snapshot, req)

	belt := o.belt(snapshot)
	if snapshot.Router.Enabled {
		belt = o.router.Select(ctx, belt, messages, o.routerModel(snapshot))
	}

	providerCfg, model := o.resolve(snapshot, req, belt)
	schemas := make([]models.ToolDefinition, len(belt))
	for i, d := range belt {
		schemas[i] = d.ModelDefinition()
	}

	var collected []media.Media
	for iter := 1; iter <= maxIterations; iter++ {
		header(emit, fmt.Sprintf("ITERATION %d/%d", iter, maxIterations))

		llmStart := time.Now()
		llmCtx, llmSpan := o.tracer.StartLLM(ctx, providerCfg.ID, model)
		result, err := o.complete(llmCtx, providerCfg, provider.ChatRequest{
			Model:       model,
			Messages:    messages,
			Tools:       schemas,
			Temperature: float32(snapshot.Temperature),
		})
		observability.EndSpan(llmSpan, err)
		if err != nil {
			o.recordLLM(providerCfg.ID, model, "error", llmStart, nil)
			o.recordTurn(req.Source, "error", started)
			return o.failureText(ctx, err), nil
		}
		o.recordLLM(providerCfg.ID, model, "ok", llmStart, result)
		o.recordUsage(ctx, providerCfg.ID, model, req, result)

		if len(result.ToolCalls) == 0 {
			o.recordTurn(req.Source, "ok", started)
			if result.Content == "" && len(collected) == 0 {
				return "", nil
			}
			return media.AppendMarkers(result.Content, collected), nil
		}

		messages = append(messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   models.TextContent(result.Content),
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			toolMsg, items := o.executeCall(ctx, snapshot, req, emit, call)
			collected = append(collected, items...)
			messages = append(messages, toolMsg)
		}
	}

	o.logger.Warn(ctx, "iteration budget exhausted", "chat_id", req.ChatID)
	o.recordTurn(req.Source, "max_iterations", started)
	return maxIterationsText, nil
}

// belt returns the registered tools minus the ones disabled in the
// snapshot.
func (o *Orchestrator) belt(snapshot config.Settings) []tools.Descriptor {
	all := o.registry.List()
	out := all[:0:0]
	for _, d := range all {
		if !snapshot.ToolDisabled(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func (o *Orchestrator) routerModel(snapshot config.Settings) string {
	if snapshot.Router.Model != "" {
		return snapshot.Router.Model
	}
	return snapshot.ModelFor(snapshot.DefaultProviderConfig())
}

// resolve picks provider config and model for the turn: agent profile
// first, then the consensus of the filtered tools' overrides, then the
// configured defaults.
func (o *Orchestrator) resolve(snapshot config.Settings, req Request, belt []tools.Descriptor) (config.ProviderConfig, string) {
	if req.AgentProviderID != "" && req.AgentModel != "" {
		return providerFromSnapshot(snapshot, req.AgentProviderID), req.AgentModel
	}
	if id, model, ok := consensusOverride(snapshot, belt); ok {
		return providerFromSnapshot(snapshot, id), model
	}
	cfg := providerFromSnapshot(snapshot, "")
	return cfg, snapshot.ModelFor(&cfg)
}

func providerFromSnapshot(snapshot config.Settings, id string) config.ProviderConfig {
	if id != "" {
		if pc := snapshot.Provider(id); pc != nil {
			return *pc
		}
	}
	if pc := snapshot.DefaultProviderConfig(); pc != nil {
		return *pc
	}
	return config.ProviderConfig{}
}

// consensusOverride checks whether the overridable tools of the belt all
// carry the same provider+model setting. One voter without both fields, or
// any disagreement, breaks the consensus.
func consensusOverride(snapshot config.Settings, belt []tools.Descriptor) (string, string, bool) {
	var pid, model string
	voters := 0
	for _, d := range belt {
		if !d.AgentOverridable {
			continue
		}
		settings := snapshot.ToolSettingsFor(d.Name)
		p, m := settings["provider"], settings["model"]
		if p == "" || m == "" {
			return "", "", false
		}
		if voters == 0 {
			pid, model = p, m
		} else if p != pid || m != model {
			return "", "", false
		}
		voters++
	}
	return pid, model, voters > 0
}

// failureText maps a completion error onto the assistant text surfaced to
// the user.
func (o *Orchestrator) failureText(ctx context.Context, err error) string {
	var keyErr *provider.KeyMissingError
	if errors.As(err, &keyErr) {
		o.logger.Error(ctx, "provider has no API key", "provider", keyErr.Label)
		return fmt.Sprintf("Fehler: Kein %s API-Key konfiguriert.", keyErr.Label)
	}
	o.logger.Error(ctx, "LLM request failed", "error", err)
	if o.metrics != nil {
		o.metrics.RecordError("agent", "llm_request")
	}
	return "Fehler bei LLM-Anfrage: " + err.Error()
}

func (o *Orchestrator) recordUsage(ctx context.Context, providerID, model string, req Request, res *provider.ChatResult) {
	if o.usage == nil || res.TotalTokens == 0 {
		return
	}
	err := o.usage.Append(ctx, models.UsageEntry{
		ProviderID:       providerID,
		Model:            model,
		PromptTokens:     int64(res.PromptTokens),
		CompletionTokens: int64(res.CompletionTokens),
		TotalTokens:      int64(res.TotalTokens),
		ChatID:           req.ChatID,
		Source:           req.Source,
	})
	if err != nil {
		o.logger.Warn(ctx, "failed to record usage", "error", err)
	}
}

func (o *Orchestrator) recordLLM(providerID, model, status string, started time.Time, res *provider.ChatResult) {
	if o.metrics == nil {
		return
	}
	var prompt, completion int64
	if res != nil {
		prompt, completion = int64(res.PromptTokens), int64(res.CompletionTokens)
	}
	o.metrics.RecordLLMRequest(providerID, model, status, time.Since(started).Seconds(), prompt, completion)
}

func (o *Orchestrator) recordTurn(source, status string, started time.Time) {
	if o.metrics == nil {
		return
	}
	if source == "" {
		source = "web"
	}
	o.metrics.RecordTurn(source, status, time.Since(started).Seconds())
}

func header(emit terminallog.EmitFunc, msg string) {
	emit(terminallog.Event{Type: terminallog.TypeHeader, Message: msg})
}
