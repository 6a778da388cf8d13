package custom

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openguenther/guenther/internal/mcp"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

func envelopeOf(typ, data string) models.ExportEnvelope {
	return models.ExportEnvelope{Type: typ, Version: 1, Data: json.RawMessage(data)}
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Output: io.Discard, Level: "error"})
}

type fakeClient struct {
	tools  []*mcp.Tool
	closed atomic.Bool
	callFn func(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResult, error)
}

func (f *fakeClient) Tools() []*mcp.Tool { return f.tools }
func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return nil
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResult, error) {
	if f.callFn != nil {
		return f.callFn(ctx, name, args)
	}
	return &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: `{"result":"ok"}`}}}, nil
}

// fakeStarter advertises one tool named after the directory and records the
// clients it hands out.
func fakeStarter(clients *[]*fakeClient) startFunc {
	return func(ctx context.Context, toolDir string) (toolClient, error) {
		name := filepath.Base(toolDir)
		c := &fakeClient{tools: []*mcp.Tool{{
			Name:        name,
			Description: "Testwerkzeug " + name,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		}}}
		if clients != nil {
			*clients = append(*clients, c)
		}
		return c, nil
	}
}

func writeTool(t *testing.T, root, name, code string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tool.py"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAllScansDirectories(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "wetter", "# tool")
	writeTool(t, root, "kalender", "# tool")
	// Directory without tool.py and a stray file are both skipped.
	os.MkdirAll(filepath.Join(root, "leer"), 0o755)
	os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644)

	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithStarter(fakeStarter(nil)))
	defer loader.Close()

	if n := loader.LoadAll(context.Background()); n != 2 {
		t.Fatalf("loaded = %d, want 2", n)
	}

	d, ok := registry.Get("wetter")
	if !ok {
		t.Fatal("wetter not registered")
	}
	if d.Origin != tools.OriginCustom {
		t.Fatalf("origin = %q", d.Origin)
	}
	if _, ok := registry.Get("kalender"); !ok {
		t.Fatal("kalender not registered")
	}
	if got := loader.Loaded(); len(got) != 2 || got[0] != "kalender" || got[1] != "wetter" {
		t.Fatalf("Loaded() = %v", got)
	}
}

func TestLoadReplacesRunningProcess(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "wetter", "# v1")

	var clients []*fakeClient
	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithStarter(fakeStarter(&clients)))
	defer loader.Close()

	if err := loader.Load(context.Background(), "wetter"); err != nil {
		t.Fatal(err)
	}
	if err := loader.Load(context.Background(), "wetter"); err != nil {
		t.Fatal(err)
	}

	if len(clients) != 2 {
		t.Fatalf("clients = %d, want 2", len(clients))
	}
	if !clients[0].closed.Load() {
		t.Fatal("first process should be closed on reload")
	}
	if clients[1].closed.Load() {
		t.Fatal("second process should still run")
	}
	if registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", registry.Count())
	}
}

func TestUnloadRemovesTools(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "wetter", "# tool")

	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithStarter(fakeStarter(nil)))

	if err := loader.Load(context.Background(), "wetter"); err != nil {
		t.Fatal(err)
	}
	loader.Unload("wetter")

	if _, ok := registry.Get("wetter"); ok {
		t.Fatal("tool should be unregistered")
	}
	if names := loader.Loaded(); len(names) != 0 {
		t.Fatalf("Loaded() = %v", names)
	}
}

func TestLoadRejectsBadNames(t *testing.T) {
	registry := tools.NewRegistry()
	loader := NewLoader(t.TempDir(), registry, testLogger(), WithStarter(fakeStarter(nil)))

	for _, name := range []string{"../evil", "a/b", "", "a b"} {
		if err := loader.Load(context.Background(), name); err == nil {
			t.Fatalf("Load(%q) should fail", name)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	code := "# mein werkzeug\nTOOL_DEFINITION = {}\n"

	srcRoot := t.TempDir()
	srcRegistry := tools.NewRegistry()
	src := NewLoader(srcRoot, srcRegistry, testLogger(), WithStarter(fakeStarter(nil)))
	defer src.Close()

	if err := src.InstallSource("wetter", []byte(code)); err != nil {
		t.Fatal(err)
	}
	if err := src.Load(context.Background(), "wetter"); err != nil {
		t.Fatal(err)
	}

	env, err := src.Export("wetter")
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != "openguenther_tool" {
		t.Fatalf("type = %q", env.Type)
	}

	// Fresh data root, fresh registry.
	dstRoot := t.TempDir()
	dstRegistry := tools.NewRegistry()
	dst := NewLoader(dstRoot, dstRegistry, testLogger(), WithStarter(fakeStarter(nil)))
	defer dst.Close()

	name, err := dst.Import(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if name != "wetter" {
		t.Fatalf("imported name = %q", name)
	}

	srcDesc, _ := srcRegistry.Get("wetter")
	dstDesc, ok := dstRegistry.Get("wetter")
	if !ok {
		t.Fatal("imported tool not registered")
	}
	if dstDesc.Name != srcDesc.Name {
		t.Fatalf("name mismatch: %q vs %q", dstDesc.Name, srcDesc.Name)
	}

	got, err := dst.Source("wetter")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != code {
		t.Fatalf("source round-trip mismatch:\n%s", got)
	}
}

func TestImportRejectsWrongEnvelope(t *testing.T) {
	loader := NewLoader(t.TempDir(), tools.NewRegistry(), testLogger(), WithStarter(fakeStarter(nil)))
	_, err := loader.Import(context.Background(), envelopeOf("openguenther_agents", `{"name":"x","code":"y"}`))
	if err == nil {
		t.Fatal("expected type error")
	}
	_, err = loader.Import(context.Background(), envelopeOf("openguenther_tool", `{"name":"../x","code":"y"}`))
	if err == nil {
		t.Fatal("expected name error")
	}
}

func TestDeleteRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "wetter", "# tool")

	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithStarter(fakeStarter(nil)))
	if err := loader.Load(context.Background(), "wetter"); err != nil {
		t.Fatal(err)
	}

	if err := loader.Delete("wetter"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "wetter")); !os.IsNotExist(err) {
		t.Fatal("directory should be gone")
	}
	if _, ok := registry.Get("wetter"); ok {
		t.Fatal("tool should be unregistered")
	}
}

func TestHandlerInjectsToolSettings(t *testing.T) {
	root := t.TempDir()
	writeTool(t, root, "wetter", "# tool")

	var gotArgs map[string]any
	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithStarter(func(ctx context.Context, toolDir string) (toolClient, error) {
		c := &fakeClient{tools: []*mcp.Tool{{Name: "wetter", Description: "Wetter"}}}
		c.callFn = func(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResult, error) {
			gotArgs = args
			return &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: `{"result":"ok"}`}}}, nil
		}
		return c, nil
	}))
	defer loader.Close()

	if err := loader.Load(context.Background(), "wetter"); err != nil {
		t.Fatal(err)
	}
	d, _ := registry.Get("wetter")

	hc := &tools.Context{ToolSettings: map[string]string{"api_key": "sk-1"}}
	if _, err := d.Handler(context.Background(), hc, map[string]any{"ort": "Berlin"}); err != nil {
		t.Fatal(err)
	}
	settings, ok := gotArgs["_settings"].(map[string]any)
	if !ok || settings["api_key"] != "sk-1" {
		t.Fatalf("args = %+v", gotArgs)
	}
	if gotArgs["ort"] != "Berlin" {
		t.Fatalf("args = %+v", gotArgs)
	}

	// Without settings the arguments pass through untouched.
	gotArgs = nil
	if _, err := d.Handler(context.Background(), nil, map[string]any{"ort": "Bonn"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := gotArgs["_settings"]; ok {
		t.Fatalf("args = %+v", gotArgs)
	}
}

func TestRecordFrom(t *testing.T) {
	cases := []struct {
		name   string
		result *mcp.ToolCallResult
		check  func(t *testing.T, record map[string]any)
	}{
		{
			"json text decodes to record",
			&mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: `{"audio_base64":"QUJD","summary":"fertig"}`}}},
			func(t *testing.T, record map[string]any) {
				if record["audio_base64"] != "QUJD" {
					t.Fatalf("record = %+v", record)
				}
			},
		},
		{
			"plain text wraps in result",
			&mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "hallo"}}},
			func(t *testing.T, record map[string]any) {
				if record["result"] != "hallo" {
					t.Fatalf("record = %+v", record)
				}
			},
		},
		{
			"error flag wraps in error",
			&mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "kaputt"}}, IsError: true},
			func(t *testing.T, record map[string]any) {
				if record["error"] != "kaputt" {
					t.Fatalf("record = %+v", record)
				}
			},
		},
		{
			"image content becomes media record",
			&mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "image", Data: "QUJD", MimeType: "image/png"}}},
			func(t *testing.T, record map[string]any) {
				if record["image_base64"] != "QUJD" || record["mime_type"] != "image/png" {
					t.Fatalf("record = %+v", record)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, recordFrom(tc.result))
		})
	}
}

func TestRunnerEndToEnd(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}

	root := t.TempDir()
	writeTool(t, root, "add_numbers", `
TOOL_DEFINITION = {
    "type": "function",
    "function": {
        "name": "add_numbers",
        "description": "Addiert zwei Zahlen.",
        "parameters": {
            "type": "object",
            "properties": {
                "a": {"type": "number"},
                "b": {"type": "number"},
            },
            "required": ["a", "b"],
        },
    },
}

USAGE = "Nutze dieses Tool zum Addieren."


def handler(a, b):
    return {"result": a + b}
`)

	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithPython(python))
	defer loader.Close()

	if err := loader.Load(context.Background(), "add_numbers"); err != nil {
		t.Fatalf("load: %v", err)
	}

	d, ok := registry.Get("add_numbers")
	if !ok {
		t.Fatal("tool not registered")
	}
	if d.UsageHint != "Nutze dieses Tool zum Addieren." {
		t.Fatalf("usage hint = %q", d.UsageHint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	record, err := d.Handler(ctx, nil, map[string]any{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got, ok := record["result"].(float64); !ok || got != 5 {
		t.Fatalf("record = %+v", record)
	}
}

func TestRunnerServesToolSettings(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}

	root := t.TempDir()
	writeTool(t, root, "geheim", `
from config import get_tool_settings

TOOL_DEFINITION = {
    "type": "function",
    "function": {
        "name": "geheim",
        "description": "Liest den konfigurierten Key.",
        "parameters": {"type": "object", "properties": {}},
    },
}


def handler():
    return {"key": get_tool_settings().get("api_key", "")}
`)

	registry := tools.NewRegistry()
	loader := NewLoader(root, registry, testLogger(), WithPython(python))
	defer loader.Close()

	if err := loader.Load(context.Background(), "geheim"); err != nil {
		t.Fatalf("load: %v", err)
	}
	d, _ := registry.Get("geheim")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	hc := &tools.Context{ToolSettings: map[string]string{"api_key": "sk-42"}}
	record, err := d.Handler(ctx, hc, map[string]any{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if record["key"] != "sk-42" {
		t.Fatalf("record = %+v", record)
	}
}
