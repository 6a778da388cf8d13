// Package custom loads user-authored tools from the custom_tools directory.
// Every tool directory gets its own Python runner subprocess speaking the
// stdio tool-server protocol, so user code never runs inside this process.
package custom

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/openguenther/guenther/internal/mcp"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

//go:embed runner.py
var runnerScript []byte

const runnerFileName = ".runner.py"

var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// toolClient is the slice of the MCP client the loader needs; tests inject
// fakes through WithStarter.
type toolClient interface {
	Tools() []*mcp.Tool
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
	Close() error
}

type startFunc func(ctx context.Context, toolDir string) (toolClient, error)

type toolProc struct {
	client toolClient
	names  []string
}

// Loader owns the custom tool directory: it spawns one runner per tool
// directory, registers the advertised tools and supervises reloads.
type Loader struct {
	dir      string
	python   string
	registry *tools.Registry
	logger   *observability.Logger
	start    startFunc

	mu    sync.Mutex
	procs map[string]*toolProc
}

type Option func(*Loader)

// WithPython overrides the interpreter used to run tool processes.
func WithPython(python string) Option {
	return func(l *Loader) { l.python = python }
}

// WithStarter replaces the subprocess spawn, for tests.
func WithStarter(start startFunc) Option {
	return func(l *Loader) { l.start = start }
}

func NewLoader(dir string, registry *tools.Registry, logger *observability.Logger, opts ...Option) *Loader {
	l := &Loader{
		dir:      dir,
		python:   "python3",
		registry: registry,
		logger:   logger.WithFields("component", "custom_tools"),
		procs:    make(map[string]*toolProc),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.start == nil {
		l.start = l.startRunner
	}
	return l
}

// Dir returns the custom tool directory.
func (l *Loader) Dir() string {
	return l.dir
}

// LoadAll scans the directory and loads every tool. Broken tools are logged
// and skipped; boot never aborts over user code.
func (l *Loader) LoadAll(ctx context.Context) int {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.logger.Error(ctx, "cannot create custom tool directory", "dir", l.dir, "error", err)
		return 0
	}
	if err := l.writeRunner(); err != nil {
		l.logger.Error(ctx, "cannot write tool runner", "error", err)
		return 0
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Error(ctx, "cannot read custom tool directory", "dir", l.dir, "error", err)
		return 0
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, err := os.Stat(filepath.Join(l.dir, name, "tool.py")); err != nil {
			continue
		}
		if err := l.Load(ctx, name); err != nil {
			l.logger.Warn(ctx, "skipping custom tool", "tool", name, "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

// Load starts (or restarts) the runner for one tool directory and registers
// its tools under origin "custom".
func (l *Loader) Load(ctx context.Context, name string) error {
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("invalid tool directory name %q", name)
	}

	toolDir := filepath.Join(l.dir, name)
	if _, err := os.Stat(filepath.Join(toolDir, "tool.py")); err != nil {
		return fmt.Errorf("no tool.py in %s: %w", toolDir, err)
	}

	// Replace semantics: a reload tears down the old process first.
	l.Unload(name)

	client, err := l.start(ctx, toolDir)
	if err != nil {
		return fmt.Errorf("failed to start tool runner: %w", err)
	}

	advertised := client.Tools()
	if len(advertised) == 0 {
		client.Close()
		return fmt.Errorf("tool module exports no tools")
	}

	var registered []string
	for _, t := range advertised {
		d := l.descriptorFor(client, t)
		if err := l.registry.Register(d); err != nil {
			l.logger.Warn(ctx, "skipping tool with invalid descriptor",
				"tool", d.Name, "error", err)
			continue
		}
		registered = append(registered, d.Name)
	}
	if len(registered) == 0 {
		client.Close()
		return fmt.Errorf("no registrable tools in module")
	}

	if registered[0] != name {
		l.logger.Warn(ctx, "tool name differs from directory name",
			"dir", name, "tool", registered[0])
	}

	l.mu.Lock()
	l.procs[name] = &toolProc{client: client, names: registered}
	l.mu.Unlock()

	l.logger.Info(ctx, "custom tool loaded", "dir", name, "tools", registered)
	return nil
}

// Unload stops the runner for one tool directory and removes its tools.
func (l *Loader) Unload(name string) {
	l.mu.Lock()
	proc, exists := l.procs[name]
	delete(l.procs, name)
	l.mu.Unlock()

	if !exists {
		return
	}
	for _, toolName := range proc.names {
		l.registry.Unregister(toolName)
	}
	proc.client.Close()
}

// Delete unloads one tool and removes its directory.
func (l *Loader) Delete(name string) error {
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}
	l.Unload(name)
	return os.RemoveAll(filepath.Join(l.dir, name))
}

// Close stops all runners.
func (l *Loader) Close() {
	l.mu.Lock()
	names := make([]string, 0, len(l.procs))
	for name := range l.procs {
		names = append(names, name)
	}
	l.mu.Unlock()

	for _, name := range names {
		l.Unload(name)
	}
}

// Loaded returns the loaded tool directory names, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.procs))
	for name := range l.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export wraps one tool's source in an export envelope.
func (l *Loader) Export(name string) (models.ExportEnvelope, error) {
	if !toolNameRe.MatchString(name) {
		return models.ExportEnvelope{}, fmt.Errorf("invalid tool name %q", name)
	}
	code, err := os.ReadFile(filepath.Join(l.dir, name, "tool.py"))
	if err != nil {
		return models.ExportEnvelope{}, fmt.Errorf("failed to read tool source: %w", err)
	}

	data, err := json.Marshal(exportPayload{Name: name, Code: string(code)})
	if err != nil {
		return models.ExportEnvelope{}, err
	}
	return models.ExportEnvelope{
		Type:       models.ExportTypeCustomTool,
		Version:    1,
		ExportedAt: time.Now().UTC(),
		Data:       data,
	}, nil
}

// Import writes the tool source from an envelope into the custom directory
// and loads it. An existing tool of the same name is replaced.
func (l *Loader) Import(ctx context.Context, env models.ExportEnvelope) (string, error) {
	if env.Type != models.ExportTypeCustomTool {
		return "", fmt.Errorf("unexpected export type %q", env.Type)
	}
	var payload exportPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return "", fmt.Errorf("failed to parse export data: %w", err)
	}
	if !toolNameRe.MatchString(payload.Name) {
		return "", fmt.Errorf("invalid tool name %q", payload.Name)
	}
	if payload.Code == "" {
		return "", fmt.Errorf("export contains no code")
	}

	if err := l.InstallSource(payload.Name, []byte(payload.Code)); err != nil {
		return "", err
	}
	if err := l.Load(ctx, payload.Name); err != nil {
		return "", err
	}
	return payload.Name, nil
}

// InstallSource writes tool.py for a tool directory without loading it.
// The builder uses this after a successful validation run.
func (l *Loader) InstallSource(name string, code []byte) error {
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}
	toolDir := filepath.Join(l.dir, name)
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		return fmt.Errorf("failed to create tool directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(toolDir, "tool.py"), code, 0o644); err != nil {
		return fmt.Errorf("failed to write tool source: %w", err)
	}
	return nil
}

// Source returns the tool.py contents for one tool.
func (l *Loader) Source(name string) ([]byte, error) {
	if !toolNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid tool name %q", name)
	}
	return os.ReadFile(filepath.Join(l.dir, name, "tool.py"))
}

// RegisteredNames returns the registry names owned by one tool directory.
func (l *Loader) RegisteredNames(name string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if proc, ok := l.procs[name]; ok {
		return append([]string(nil), proc.names...)
	}
	return nil
}

type exportPayload struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (l *Loader) writeRunner() error {
	return os.WriteFile(filepath.Join(l.dir, runnerFileName), runnerScript, 0o644)
}

func (l *Loader) startRunner(ctx context.Context, toolDir string) (toolClient, error) {
	if err := l.writeRunner(); err != nil {
		return nil, err
	}
	spec := mcp.LaunchSpec{
		ID:      "custom-" + filepath.Base(toolDir),
		Command: l.python,
		Args:    []string{filepath.Join(l.dir, runnerFileName), toolDir},
		Timeout: 60 * time.Second,
	}
	client := mcp.NewClient(spec, l.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (l *Loader) descriptorFor(client toolClient, t *mcp.Tool) tools.Descriptor {
	remoteName := t.Name

	var schema map[string]any
	if len(t.InputSchema) > 0 {
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = nil
		}
	}

	var settings []models.SettingsField
	if len(t.SettingsSchema) > 0 {
		if err := json.Unmarshal(t.SettingsSchema, &settings); err != nil {
			settings = nil
		}
	}

	return tools.Descriptor{
		Name:             remoteName,
		Description:      t.Description,
		UsageHint:        t.Usage,
		InputSchema:      schema,
		SettingsSchema:   settings,
		Origin:           tools.OriginCustom,
		AgentOverridable: t.AgentOverridable,
		Handler: func(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
			// Tool settings travel as a reserved argument; the runner strips
			// it before calling the handler and serves it via its config shim.
			callArgs := args
			if hc != nil && len(hc.ToolSettings) > 0 {
				callArgs = make(map[string]any, len(args)+1)
				for k, v := range args {
					callArgs[k] = v
				}
				settings := make(map[string]any, len(hc.ToolSettings))
				for k, v := range hc.ToolSettings {
					settings[k] = v
				}
				callArgs["_settings"] = settings
			}
			result, err := client.CallTool(ctx, remoteName, callArgs)
			if err != nil {
				return nil, err
			}
			return recordFrom(result), nil
		},
	}
}

// recordFrom converts a runner result into a handler record. The runner
// serializes handler dicts as JSON text, so text content is decoded back
// into a map when possible; that keeps media keys intact for interception.
func recordFrom(result *mcp.ToolCallResult) map[string]any {
	if result == nil || len(result.Content) == 0 {
		return map[string]any{"result": ""}
	}

	first := result.Content[0]
	if first.Type == "image" {
		record := map[string]any{"image_base64": first.Data}
		if first.MimeType != "" {
			record["mime_type"] = first.MimeType
		}
		return record
	}

	text := first.Text
	if text == "" {
		text = first.Data
	}
	if result.IsError {
		return map[string]any{"error": text}
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(text), &record); err == nil && record != nil {
		return record
	}
	return map[string]any{"result": text}
}
