package toolbuilder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Output: io.Discard, Level: "error"})
}

// scriptedLLM serves queued responses and records every request.
type scriptedLLM struct {
	responses []string
	requests  []provider.ChatRequest
}

func (s *scriptedLLM) complete(ctx context.Context, cfg config.ProviderConfig, req provider.ChatRequest) (*provider.ChatResult, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("keine Antwort mehr")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return &provider.ChatResult{Content: resp}, nil
}

type fakeSandbox struct {
	failures int
	names    []string
	summary  string
	codes    []string
	closed   bool
}

func (f *fakeSandbox) Validate(ctx context.Context, code, requirements string) ([]string, string, error) {
	f.codes = append(f.codes, code)
	if f.failures > 0 {
		f.failures--
		return nil, "", errors.New("NameError: name 'requests' is not defined")
	}
	return f.names, f.summary, nil
}

func (f *fakeSandbox) Close() { f.closed = true }

type fakeInstaller struct {
	dir       string
	registry  *tools.Registry
	sources   map[string]string
	installed map[string]string
	settings  bool
	loadErr   error
	loaded    []string
	deleted   []string
}

func newFakeInstaller(t *testing.T, registry *tools.Registry) *fakeInstaller {
	t.Helper()
	return &fakeInstaller{
		dir:       t.TempDir(),
		registry:  registry,
		sources:   make(map[string]string),
		installed: make(map[string]string),
	}
}

func (f *fakeInstaller) Dir() string { return f.dir }

func (f *fakeInstaller) Source(name string) ([]byte, error) {
	if src, ok := f.sources[name]; ok {
		return []byte(src), nil
	}
	if src, ok := f.installed[name]; ok {
		return []byte(src), nil
	}
	return nil, os.ErrNotExist
}

func (f *fakeInstaller) InstallSource(name string, code []byte) error {
	if err := os.MkdirAll(filepath.Join(f.dir, name), 0o755); err != nil {
		return err
	}
	f.installed[name] = string(code)
	return nil
}

func (f *fakeInstaller) Load(ctx context.Context, name string) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = append(f.loaded, name)
	d := tools.Descriptor{
		Name:        name,
		Description: "Testwerkzeug",
		Origin:      tools.OriginCustom,
		Handler: func(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"result": "ok"}, nil
		},
	}
	if f.settings {
		d.SettingsSchema = []models.SettingsField{{Key: "api_key", Label: "API Key", Type: "text"}}
	}
	return f.registry.Register(d)
}

func (f *fakeInstaller) Delete(name string) error {
	f.deleted = append(f.deleted, name)
	delete(f.installed, name)
	return nil
}

func (f *fakeInstaller) RegisteredNames(name string) []string {
	for _, n := range f.loaded {
		if n == name {
			return []string{name}
		}
	}
	return nil
}

const planJSON = `{"tool_name": "wetter", "summary": "Wetter abrufen", "libraries": []}`

func genJSON(name, code, requirements string) string {
	data, _ := json.Marshal(map[string]any{
		"tool_name":    name,
		"code":         code,
		"requirements": requirements,
	})
	return string(data)
}

func testSnapshot() config.Settings {
	s := config.DefaultSettings()
	s.Providers[0].APIKey = "sk-test"
	return s
}

func newTestBuilder(t *testing.T, installer *fakeInstaller, registry *tools.Registry, llm *scriptedLLM, sb *fakeSandbox) *Builder {
	t.Helper()
	return New(installer, registry, testLogger(),
		WithCompleteFunc(llm.complete),
		WithSandboxFunc(func(ctx context.Context) (Sandbox, error) { return sb, nil }),
		WithHostInstall(func(ctx context.Context, requirements string) error { return nil }),
	)
}

func headersOf(events []terminallog.Event) []string {
	var out []string
	for _, e := range events {
		if e.Type == terminallog.TypeHeader {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestBuildCreateSuccess(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	installer.settings = true
	llm := &scriptedLLM{responses: []string{
		planJSON,
		"```json\n" + genJSON("wetter", "def handler(ort):\n    return {}", "requests") + "\n```",
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "Wetter abrufen"}

	var events []terminallog.Event
	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{
		Description: "Hole das Wetter für eine Stadt",
		Snapshot:    testSnapshot(),
		Emit:        func(e terminallog.Event) { events = append(events, e) },
	})

	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Mode != "create" || result.ToolName != "wetter" || result.LoopsUsed != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.RegisteredTools) != 1 || result.RegisteredTools[0] != "wetter" {
		t.Fatalf("registered = %v", result.RegisteredTools)
	}
	if !result.HasSettings {
		t.Fatal("settings schema should be reported")
	}
	if !strings.Contains(result.Hint, "Tool 'wetter' ist jetzt aktiv.") {
		t.Fatalf("hint = %q", result.Hint)
	}
	if !strings.Contains(installer.installed["wetter"], "def handler(ort)") {
		t.Fatalf("installed = %q", installer.installed["wetter"])
	}
	reqs, err := os.ReadFile(filepath.Join(installer.dir, "wetter", "requirements.txt"))
	if err != nil || strings.TrimSpace(string(reqs)) != "requests" {
		t.Fatalf("requirements.txt = %q, err = %v", reqs, err)
	}
	if !sb.closed {
		t.Fatal("sandbox not closed")
	}

	headers := headersOf(events)
	want := []string{
		"BUILD MCP TOOL: STARTE",
		"BUILD MCP TOOL: CODE-GENERIERUNG",
		"BUILD MCP TOOL: NEU 'wetter'",
		"BUILD MCP TOOL: GENERIERTER CODE",
		"BUILD MCP TOOL: VENV ERSTELLEN",
		"BUILD MCP TOOL: VERSUCH 1/15",
		"BUILD MCP TOOL: DEPLOY",
		"BUILD MCP TOOL: FERTIG",
	}
	if len(headers) != len(want) {
		t.Fatalf("headers = %v", headers)
	}
	for i, h := range want {
		if headers[i] != h {
			t.Fatalf("header %d = %q, want %q", i, headers[i], h)
		}
	}
}

func TestBuildFixLoop(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "kaputt v1", ""),
		genJSON("wetter", "kaputt v2", ""),
		genJSON("wetter", "def handler(ort):\n    return {}", ""),
	}}
	sb := &fakeSandbox{failures: 2, names: []string{"wetter"}, summary: "ok"}

	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{
		Description: "Wetter",
		Snapshot:    testSnapshot(),
	})

	if !result.Success || result.LoopsUsed != 3 {
		t.Fatalf("result = %+v", result)
	}
	if len(sb.codes) != 3 || sb.codes[2] != "def handler(ort):\n    return {}" {
		t.Fatalf("validated codes = %q", sb.codes)
	}
	// The fix prompt carries the verbatim test error.
	fixReq := llm.requests[2]
	if !strings.Contains(fixReq.Messages[0].Content.JoinText(), "NameError") {
		t.Fatal("fix prompt missing test error")
	}
}

func TestBuildExhaustsLoops(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "kaputt", ""),
		genJSON("wetter", "immer noch kaputt", ""),
	}}
	sb := &fakeSandbox{failures: 99}

	snapshot := testSnapshot()
	snapshot.Builder.MaxLoops = 2

	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{Description: "Wetter", Snapshot: snapshot})

	if result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.LoopsUsed != 2 {
		t.Fatalf("loops = %d", result.LoopsUsed)
	}
	if !strings.HasPrefix(result.Error, "Test fehlgeschlagen nach 2 Versuchen.") {
		t.Fatalf("error = %q", result.Error)
	}
	if !strings.Contains(result.Error, "NameError") {
		t.Fatalf("error = %q", result.Error)
	}
	if len(installer.installed) != 0 {
		t.Fatal("nothing should be installed on failure")
	}
}

func TestBuildEditMode(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	installer.sources["wetter"] = "def handler(ort):\n    return {'alt': True}"
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "def handler(ort):\n    return {'neu': True}", ""),
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "ok"}

	var events []terminallog.Event
	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{
		Description: "Gib zusätzlich die Temperatur zurück",
		ToolName:    "wetter",
		Snapshot:    testSnapshot(),
		Emit:        func(e terminallog.Event) { events = append(events, e) },
	})

	if !result.Success || result.Mode != "edit" || result.ToolName != "wetter" {
		t.Fatalf("result = %+v", result)
	}
	if headersOf(events)[0] != "BUILD MCP TOOL: EDIT 'wetter'" {
		t.Fatalf("headers = %v", headersOf(events))
	}
	// Both the plan and the generate prompt see the existing code.
	for _, i := range []int{0, 1} {
		if !strings.Contains(llm.requests[i].Messages[0].Content.JoinText(), "'alt': True") {
			t.Fatalf("request %d misses existing code", i)
		}
	}
	if len(installer.deleted) != 0 {
		t.Fatalf("deleted = %v", installer.deleted)
	}
}

func TestBuildBadLLMJSON(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{
		planJSON,
		"Hier ist dein Tool! Viel Spaß damit.",
	}}
	b := newTestBuilder(t, installer, registry, llm, &fakeSandbox{})

	result := b.Build(context.Background(), Request{Description: "Wetter", Snapshot: testSnapshot()})
	if result.Success || result.Error != "LLM hat keinen gültigen Code zurückgegeben" {
		t.Fatalf("result = %+v", result)
	}
}

func TestBuildRegistrationFailure(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	installer.loadErr = errors.New("no registrable tools in module")
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "def handler(ort):\n    return {}", ""),
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "ok"}

	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{Description: "Wetter", Snapshot: testSnapshot()})

	if result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !strings.HasPrefix(result.Error, "Registrierung fehlgeschlagen:") {
		t.Fatalf("error = %q", result.Error)
	}
	// Create mode cleans up the fresh directory.
	if len(installer.deleted) != 1 || installer.deleted[0] != "wetter" {
		t.Fatalf("deleted = %v", installer.deleted)
	}
}

func TestBuildEditKeepsDirectoryOnFailure(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	installer.sources["wetter"] = "# alt"
	installer.loadErr = errors.New("kaputt")
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "def handler(ort):\n    return {}", ""),
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "ok"}

	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{
		Description: "Wetter",
		ToolName:    "wetter",
		Snapshot:    testSnapshot(),
	})

	if result.Success || len(installer.deleted) != 0 {
		t.Fatalf("result = %+v, deleted = %v", result, installer.deleted)
	}
}

func TestBuildModelSelection(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "def handler(ort):\n    return {}", ""),
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "ok"}

	snapshot := testSnapshot()
	snapshot.SetToolSetting(builderToolName, "model", "anthropic/claude-sonnet")

	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{Description: "Wetter", Snapshot: snapshot})
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	for i, req := range llm.requests {
		if req.Model != "anthropic/claude-sonnet" {
			t.Fatalf("request %d model = %q", i, req.Model)
		}
	}
}

func TestBuildPlanFailureIsNonFatal(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{
		"kein json",
		genJSON("wetter", "def handler(ort):\n    return {}", ""),
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "ok"}

	b := newTestBuilder(t, installer, registry, llm, sb)
	result := b.Build(context.Background(), Request{Description: "Wetter", Snapshot: testSnapshot()})
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
}

func TestParseBuildResponse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want buildResponse
	}{
		{
			"raw json",
			`{"tool_name": "a", "code": "x = 1", "requirements": "requests"}`,
			buildResponse{ToolName: "a", Code: "x = 1", Requirements: "requests"},
		},
		{
			"fenced json",
			"```json\n{\"tool_name\": \"a\", \"code\": \"x = 1\", \"requirements\": \"\"}\n```",
			buildResponse{ToolName: "a", Code: "x = 1"},
		},
		{
			"prose wrapped",
			"Hier ist das Tool:\n{\"tool_name\": \"a\", \"code\": \"x = 1\"}\nFertig!",
			buildResponse{ToolName: "a", Code: "x = 1"},
		},
		{
			"requirements as list",
			`{"tool_name": "a", "code": "x = 1", "requirements": ["requests", "lxml"]}`,
			buildResponse{ToolName: "a", Code: "x = 1", Requirements: "requests\nlxml"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseBuildResponse(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	for _, in := range []string{"kein json", `{"tool_name": "a"}`, `{"tool_name": "a", "code": "  "}`} {
		if _, err := parseBuildResponse(in); err == nil {
			t.Errorf("parseBuildResponse(%q) should fail", in)
		}
	}
}

func TestParseValidatorOutput(t *testing.T) {
	names, summary, err := parseValidatorOutput("some pip noise\nOK|wetter,vorhersage|Wetter abrufen\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "wetter" || names[1] != "vorhersage" {
		t.Fatalf("names = %v", names)
	}
	if summary != "Wetter abrufen" {
		t.Fatalf("summary = %q", summary)
	}

	if _, _, err := parseValidatorOutput("Traceback (most recent call last):\n..."); err == nil {
		t.Fatal("missing OK line should fail")
	}
	if _, _, err := parseValidatorOutput("OK||"); err == nil {
		t.Fatal("empty name list should fail")
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"Mein Tool!":  "mein_tool_",
		"wetter":      "wetter",
		"Wetter-API":  "wetter_api",
		"  schon_ok ": "schon_ok",
		"":            "",
	}
	for in, want := range cases {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescriptorHandle(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{
		planJSON,
		genJSON("wetter", "def handler(ort):\n    return {}", ""),
	}}
	sb := &fakeSandbox{names: []string{"wetter"}, summary: "ok"}
	b := newTestBuilder(t, installer, registry, llm, sb)

	d := b.Descriptor()
	if d.Name != builderToolName || d.Origin != tools.OriginBuiltin {
		t.Fatalf("descriptor = %+v", d)
	}
	if len(d.SettingsSchema) != 1 || d.SettingsSchema[0].Key != "model" {
		t.Fatalf("settings schema = %+v", d.SettingsSchema)
	}

	hc := &tools.Context{Snapshot: testSnapshot()}
	record, err := d.Handler(context.Background(), hc, map[string]any{"description": "Wetter"})
	if err != nil {
		t.Fatal(err)
	}
	if record["success"] != true || record["tool_name"] != "wetter" || record["mode"] != "create" {
		t.Fatalf("record = %+v", record)
	}

	record, err = d.Handler(context.Background(), hc, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if record["error"] != "Parameter 'description' fehlt." {
		t.Fatalf("record = %+v", record)
	}
}

func TestBuildLLMError(t *testing.T) {
	registry := tools.NewRegistry()
	installer := newFakeInstaller(t, registry)
	llm := &scriptedLLM{responses: []string{planJSON}}
	b := newTestBuilder(t, installer, registry, llm, &fakeSandbox{})

	result := b.Build(context.Background(), Request{Description: "Wetter", Snapshot: testSnapshot()})
	if result.Success || !strings.HasPrefix(result.Error, "LLM-Fehler:") {
		t.Fatalf("result = %+v", result)
	}
}
