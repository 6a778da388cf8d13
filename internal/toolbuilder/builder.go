// Package toolbuilder turns a natural-language description into a working
// custom tool: an LLM writes the Python module, a throwaway venv validates
// it, and the custom-tool loader registers the result.
package toolbuilder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/tools"
)

const (
	builderToolName = "build_mcp_tool"

	// maxLoopsCeiling caps the configurable fix-loop count.
	maxLoopsCeiling = 15

	codeLogLimit  = 1200
	errorLogLimit = 800
)

var safeNameRe = regexp.MustCompile(`[^a-z0-9_]`)

// CompleteFunc issues one chat completion. Tests inject fakes; the default
// builds a provider client per call.
type CompleteFunc func(ctx context.Context, cfg config.ProviderConfig, req provider.ChatRequest) (*provider.ChatResult, error)

// Installer is the slice of the custom-tool loader the builder needs.
type Installer interface {
	Dir() string
	Source(name string) ([]byte, error)
	InstallSource(name string, code []byte) error
	Load(ctx context.Context, name string) error
	Delete(name string) error
	RegisteredNames(name string) []string
}

// Sandbox validates candidate code in an isolated interpreter.
type Sandbox interface {
	Validate(ctx context.Context, code, requirements string) (names []string, summary string, err error)
	Close()
}

// Builder runs the generate/test/fix loop and hands finished tools to the
// loader. Safe for concurrent use; each Build call works in its own venv.
type Builder struct {
	loader     Installer
	registry   *tools.Registry
	logger     *observability.Logger
	complete   CompleteFunc
	python     string
	newSandbox func(ctx context.Context) (Sandbox, error)
	hostPip    func(ctx context.Context, requirements string) error
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompleteFunc replaces the LLM call, used by tests.
func WithCompleteFunc(fn CompleteFunc) Option {
	return func(b *Builder) { b.complete = fn }
}

// WithPython overrides the interpreter used for venv and host installs.
func WithPython(python string) Option {
	return func(b *Builder) { b.python = python }
}

// WithSandboxFunc replaces the venv pipeline, used by tests.
func WithSandboxFunc(fn func(ctx context.Context) (Sandbox, error)) Option {
	return func(b *Builder) { b.newSandbox = fn }
}

// WithHostInstall replaces the best-effort host pip install, used by tests.
func WithHostInstall(fn func(ctx context.Context, requirements string) error) Option {
	return func(b *Builder) { b.hostPip = fn }
}

func New(loader Installer, registry *tools.Registry, logger *observability.Logger, opts ...Option) *Builder {
	b := &Builder{
		loader:   loader,
		registry: registry,
		logger:   logger.WithFields("component", "toolbuilder"),
		complete: defaultComplete,
		python:   "python3",
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.newSandbox == nil {
		b.newSandbox = func(ctx context.Context) (Sandbox, error) {
			return newVenvSandbox(ctx, b.python)
		}
	}
	if b.hostPip == nil {
		b.hostPip = b.defaultHostInstall
	}
	return b
}

func defaultComplete(ctx context.Context, cfg config.ProviderConfig, req provider.ChatRequest) (*provider.ChatResult, error) {
	client, err := provider.New(cfg)
	if err != nil {
		return nil, err
	}
	return client.ChatCompletion(ctx, req)
}

// Request is one build job.
type Request struct {
	Description string
	// ToolName selects edit mode when a tool of that name already exists.
	ToolName string
	Snapshot config.Settings
	Emit     terminallog.EmitFunc
}

// Result is the build outcome, serialized into the tool record.
type Result struct {
	Success         bool
	ToolName        string
	RegisteredTools []string
	Mode            string
	LoopsUsed       int
	HasSettings     bool
	Hint            string
	Error           string
}

// Build runs the full pipeline: plan, generate, validate in a venv with an
// LLM fix loop, install requirements, then load and register via the
// custom-tool loader.
func (b *Builder) Build(ctx context.Context, req Request) Result {
	emit := req.Emit
	if emit == nil {
		emit = func(terminallog.Event) {}
	}

	maxLoops := req.Snapshot.Builder.MaxLoops
	if maxLoops <= 0 || maxLoops > maxLoopsCeiling {
		maxLoops = maxLoopsCeiling
	}

	name := safeName(req.ToolName)
	mode := "create"
	var existing string
	if name != "" {
		if src, err := b.loader.Source(name); err == nil {
			mode = "edit"
			existing = string(src)
		}
	}
	switch {
	case mode == "edit":
		header(emit, fmt.Sprintf("BUILD MCP TOOL: EDIT '%s'", name))
	case name != "":
		header(emit, fmt.Sprintf("BUILD MCP TOOL: NEU '%s'", name))
	default:
		header(emit, "BUILD MCP TOOL: STARTE")
	}
	emitText(emit, "Aufgabe: "+req.Description)

	cfg := req.Snapshot.DefaultProviderConfig()
	if cfg == nil {
		return Result{Mode: mode, Error: "Kein Provider konfiguriert."}
	}
	model := b.model(req.Snapshot, cfg)
	emitText(emit, "Modell: "+model)

	plan := b.plan(ctx, emit, *cfg, model, req.Description, existing)

	header(emit, "BUILD MCP TOOL: CODE-GENERIERUNG")
	gen, err := b.generate(ctx, *cfg, model, req, name, existing, plan)
	if err != nil {
		return Result{ToolName: name, Mode: mode, Error: err.Error()}
	}
	if name == "" {
		name = safeName(gen.ToolName)
		if name == "" {
			return Result{Mode: mode, Error: "LLM hat keinen gültigen Code zurückgegeben"}
		}
		header(emit, fmt.Sprintf("BUILD MCP TOOL: NEU '%s'", name))
	}
	header(emit, "BUILD MCP TOOL: GENERIERTER CODE")
	emitText(emit, truncate(gen.Code, codeLogLimit))

	header(emit, "BUILD MCP TOOL: VENV ERSTELLEN")
	sb, err := b.newSandbox(ctx)
	if err != nil {
		return Result{ToolName: name, Mode: mode, Error: "venv-Fehler: " + err.Error()}
	}
	defer sb.Close()
	emitText(emit, "venv bereit.")

	code, requirements := gen.Code, gen.Requirements
	loops := 0
	var lastErr error
	for loop := 1; loop <= maxLoops; loop++ {
		loops = loop
		header(emit, fmt.Sprintf("BUILD MCP TOOL: VERSUCH %d/%d", loop, maxLoops))

		_, summary, err := sb.Validate(ctx, code, requirements)
		if err == nil {
			emitText(emit, "Test OK: "+summary)
			lastErr = nil
			break
		}
		lastErr = err
		emitText(emit, "Test-Fehler: "+truncate(err.Error(), errorLogLimit))
		if loop == maxLoops {
			break
		}

		fixed, ferr := b.fix(ctx, *cfg, model, req.Description, code, requirements, err.Error())
		if ferr != nil {
			return Result{ToolName: name, Mode: mode, LoopsUsed: loops, Error: ferr.Error()}
		}
		code, requirements = fixed.Code, fixed.Requirements
		header(emit, "BUILD MCP TOOL: KORRIGIERTER CODE")
		emitText(emit, truncate(code, codeLogLimit))
	}
	if lastErr != nil {
		return Result{ToolName: name, Mode: mode, LoopsUsed: loops,
			Error: fmt.Sprintf("Test fehlgeschlagen nach %d Versuchen.\nLetzter Fehler:\n%s", loops, lastErr.Error())}
	}

	header(emit, "BUILD MCP TOOL: DEPLOY")
	if reqs := strings.TrimSpace(requirements); reqs != "" {
		emitText(emit, "Installiere ins System-Python: "+strings.Join(strings.Fields(reqs), " "))
		if err := b.hostPip(ctx, requirements); err != nil {
			emitText(emit, "Warnung: System-pip teilweise fehlgeschlagen: "+truncate(err.Error(), errorLogLimit))
			b.logger.Warn(ctx, "host pip install failed", "tool", name, "error", err)
		} else {
			emitText(emit, "Pakete installiert.")
		}
	}

	if err := b.loader.InstallSource(name, []byte(code)); err != nil {
		return Result{ToolName: name, Mode: mode, LoopsUsed: loops, Error: "Installation fehlgeschlagen: " + err.Error()}
	}
	if reqs := strings.TrimSpace(requirements); reqs != "" {
		path := filepath.Join(b.loader.Dir(), name, "requirements.txt")
		if err := os.WriteFile(path, []byte(reqs+"\n"), 0o644); err != nil {
			b.logger.Warn(ctx, "cannot write requirements.txt", "tool", name, "error", err)
		}
	}

	// Load replaces a running tool process, so edit mode sheds the old
	// registrations here.
	if err := b.loader.Load(ctx, name); err != nil {
		if mode == "create" {
			if derr := b.loader.Delete(name); derr != nil {
				b.logger.Warn(ctx, "cannot remove failed tool directory", "tool", name, "error", derr)
			}
		}
		return Result{ToolName: name, Mode: mode, LoopsUsed: loops, Error: "Registrierung fehlgeschlagen: " + err.Error()}
	}

	registered := b.loader.RegisteredNames(name)
	hasSettings := false
	for _, rn := range registered {
		if d, ok := b.registry.Get(rn); ok && len(d.SettingsSchema) > 0 {
			hasSettings = true
		}
	}

	header(emit, "BUILD MCP TOOL: FERTIG")
	emitText(emit, fmt.Sprintf("'%s' registriert (%d Tool(s))", name, len(registered)))

	hint := fmt.Sprintf("Tool '%s' ist jetzt aktiv.", name)
	if hasSettings {
		hint += " Konfigurierbare Einstellungen (z.B. API-Key) findest du unter Einstellungen → MCP Tools."
	}
	return Result{
		Success:         true,
		ToolName:        name,
		RegisteredTools: registered,
		Mode:            mode,
		LoopsUsed:       loops,
		HasSettings:     hasSettings,
		Hint:            hint,
	}
}

// model picks the code-generation model: the builder tool's own "model"
// setting wins, then the builder config, then the default chat model.
func (b *Builder) model(snapshot config.Settings, cfg *config.ProviderConfig) string {
	if m := snapshot.ToolSettingsFor(builderToolName)["model"]; m != "" {
		return m
	}
	if snapshot.Builder.Model != "" {
		return snapshot.Builder.Model
	}
	return snapshot.ModelFor(cfg)
}

// plan asks for a short build plan. Failures are logged and skipped; the
// code phase works without one.
func (b *Builder) plan(ctx context.Context, emit terminallog.EmitFunc, cfg config.ProviderConfig, model, description, existing string) map[string]any {
	result, err := b.complete(ctx, cfg, provider.ChatRequest{
		Model:       model,
		Messages:    promptMessages(planPrompt(description, existing)),
		Temperature: 0.1,
	})
	if err != nil {
		emitText(emit, "Planungsphase übersprungen: "+err.Error())
		return nil
	}
	plan, err := parseJSONObject(result.Content)
	if err != nil {
		emitText(emit, "Planungsphase übersprungen: "+err.Error())
		return nil
	}
	emit(terminallog.Event{Type: terminallog.TypeJSON, Label: "Plan", Data: plan})
	return plan
}

func (b *Builder) generate(ctx context.Context, cfg config.ProviderConfig, model string, req Request, name, existing string, plan map[string]any) (buildResponse, error) {
	result, err := b.complete(ctx, cfg, provider.ChatRequest{
		Model:       model,
		Messages:    promptMessages(generatePrompt(req.Description, name, existing, plan)),
		Temperature: 0.1,
	})
	if err != nil {
		return buildResponse{}, fmt.Errorf("LLM-Fehler: %v", err)
	}
	return parseBuildResponse(result.Content)
}

func (b *Builder) fix(ctx context.Context, cfg config.ProviderConfig, model, description, code, requirements, testError string) (buildResponse, error) {
	result, err := b.complete(ctx, cfg, provider.ChatRequest{
		Model:       model,
		Messages:    promptMessages(fixPrompt(description, code, requirements, testError)),
		Temperature: 0.1,
	})
	if err != nil {
		return buildResponse{}, fmt.Errorf("LLM-Fehler: %v", err)
	}
	return parseBuildResponse(result.Content)
}

// safeName normalizes a tool name to lowercase snake_case.
func safeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	return safeNameRe.ReplaceAllString(name, "_")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + " …[gekürzt]"
}

func header(emit terminallog.EmitFunc, msg string) {
	emit(terminallog.Event{Type: terminallog.TypeHeader, Message: msg})
}

func emitText(emit terminallog.EmitFunc, msg string) {
	emit(terminallog.Event{Type: terminallog.TypeText, Message: msg})
}

var errNoValidCode = errors.New("LLM hat keinen gültigen Code zurückgegeben")
