package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/openguenther/guenther/pkg/models"
)

func TestAgentCRUDAndExportImport(t *testing.T) {
	e := newWebEnv(t)

	rec := e.post("/api/agents", `{"name":"Wachdienst","system_prompt":"Du bist der Wachdienst."}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id, _ := decode(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("agent id missing")
	}

	if rec := e.get("/api/agents/" + id); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if rec := e.put("/api/agents/"+id, `{"name":"Wachdienst","system_prompt":"Neu."}`); rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	if got, _ := e.agents.Get(id); got.SystemPrompt != "Neu." {
		t.Fatalf("system prompt = %q", got.SystemPrompt)
	}

	rec = e.get("/api/agents/export")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var env models.ExportEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != models.ExportTypeAgents || env.Version != 1 {
		t.Fatalf("envelope = %+v", env)
	}

	if rec := e.delete("/api/agents/" + id); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := e.get("/api/agents/" + id); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", rec.Code)
	}

	payload, _ := json.Marshal(env)
	rec = e.post("/api/agents/import", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["imported"]; got != float64(1) {
		t.Fatalf("imported = %v", got)
	}
	if len(e.agents.List()) != 1 {
		t.Fatal("agent not restored")
	}
}

func TestAutopromptCRUDAndRunNow(t *testing.T) {
	e := newWebEnv(t)

	body := `{"name":"Morgenbericht","prompt":"Erstelle den Morgenbericht.","enabled":true,` +
		`"schedule":{"kind":"daily","time_of_day":"08:00"}}`
	rec := e.post("/api/autoprompts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id, _ := decode(t, rec)["id"].(string)

	rec = e.get("/api/autoprompts")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list, _ := decode(t, rec)["autoprompts"].([]any)
	if len(list) != 1 {
		t.Fatalf("autoprompts = %d", len(list))
	}

	if rec := e.post("/api/autoprompts/"+id+"/run", ""); rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", rec.Code, rec.Body.String())
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.mu.Lock()
		n := len(e.runs)
		e.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run-now never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = e.get("/api/autoprompts/export")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var env models.ExportEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != models.ExportTypeAutoprompts {
		t.Fatalf("envelope type = %q", env.Type)
	}

	if rec := e.delete("/api/autoprompts/" + id); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := e.post("/api/autoprompts/"+id+"/run", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("run deleted status = %d", rec.Code)
	}
}

func TestWebhookAdminMasksTokens(t *testing.T) {
	e := newWebEnv(t)

	rec := e.post("/api/webhooks", `{"name":"Alarm"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	created := decode(t, rec)
	token, _ := created["token"].(string)
	if !strings.HasPrefix(token, "wh_") || strings.Contains(token, "...") {
		t.Fatalf("create must return the full token, got %q", token)
	}
	id, _ := created["id"].(string)

	rec = e.get("/api/webhooks")
	list, _ := decode(t, rec)["webhooks"].([]any)
	if len(list) != 1 {
		t.Fatalf("webhooks = %d", len(list))
	}
	entry, _ := list[0].(map[string]any)
	listed, _ := entry["token"].(string)
	if listed == token || !strings.Contains(listed, "...") {
		t.Fatalf("list token = %q, want masked", listed)
	}

	if rec := e.put("/api/webhooks/"+id, `{"name":"Alarm Neu"}`); rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	stored, err := e.hooks.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Alarm Neu" || stored.Token != token {
		t.Fatalf("stored webhook = %+v", stored)
	}

	if rec := e.delete("/api/webhooks/" + id); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := e.delete("/api/webhooks/" + id); rec.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rec.Code)
	}
}

func TestMCPServerConfigCRUD(t *testing.T) {
	e := newWebEnv(t)

	rec := e.post("/api/mcp/servers", `{"name":"Dateisystem","command":"npx","args":["-y","@modelcontextprotocol/server-filesystem"],"enabled":false}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id, _ := decode(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("server id missing")
	}
	if len(e.settings.Get().MCPServers) != 1 {
		t.Fatal("server not persisted in settings")
	}

	if rec := e.post("/api/mcp/servers", `{"name":"Kaputt"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing command status = %d", rec.Code)
	}

	rec = e.get("/api/mcp/servers")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list, _ := decode(t, rec)["servers"].([]any)
	if len(list) != 1 {
		t.Fatalf("servers = %d", len(list))
	}
	entry, _ := list[0].(map[string]any)
	if entry["connected"] != false {
		t.Fatalf("server entry = %v", entry)
	}

	rec = e.put("/api/mcp/servers/"+id, `{"name":"Dateisystem","command":"npx","args":["-y","anders"],"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	if got := e.settings.Get().MCPServers[0].Args; len(got) != 2 || got[1] != "anders" {
		t.Fatalf("args = %v", got)
	}

	if rec := e.delete("/api/mcp/servers/" + id); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if len(e.settings.Get().MCPServers) != 0 {
		t.Fatal("server still in settings")
	}
	if rec := e.delete("/api/mcp/servers/" + id); rec.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rec.Code)
	}
}

func TestUsageEndpoints(t *testing.T) {
	e := newWebEnv(t)

	for i := 0; i < 3; i++ {
		err := e.usage.Append(t.Context(), models.UsageEntry{
			Timestamp:        time.Now(),
			ProviderID:       "openrouter",
			Model:            "gpt-4o-mini",
			PromptTokens:     100,
			CompletionTokens: 20,
			TotalTokens:      120,
			Source:           "web",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec := e.get("/api/usage/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	out := decode(t, rec)
	today, _ := out["today"].(map[string]any)
	if today["requests"] != float64(3) || today["total_tokens"] != float64(360) {
		t.Fatalf("today = %v", today)
	}

	rec = e.get("/api/usage/timeline?granularity=hour")
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", rec.Code)
	}
	buckets, _ := decode(t, rec)["timeline"].([]any)
	if len(buckets) == 0 {
		t.Fatal("timeline empty")
	}
	if rec := e.get("/api/usage/timeline?granularity=woche"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad granularity status = %d", rec.Code)
	}

	if rec := e.post("/api/usage/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	rec = e.get("/api/usage/stats")
	today, _ = decode(t, rec)["today"].(map[string]any)
	if today["requests"] != float64(0) {
		t.Fatalf("today after reset = %v", today)
	}
}

func TestAutopromptListIncludesNextRun(t *testing.T) {
	e := newWebEnv(t)
	body := fmt.Sprintf(`{"name":"Intervall","prompt":"Tick","enabled":true,"schedule":{"kind":"interval","interval_minutes":%d}}`, 30)
	if rec := e.post("/api/autoprompts", body); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := e.get("/api/autoprompts")
	list, _ := decode(t, rec)["autoprompts"].([]any)
	entry, _ := list[0].(map[string]any)
	if next, _ := entry["next_run"].(string); next == "" {
		t.Fatalf("next_run missing in %v", entry)
	}
}
