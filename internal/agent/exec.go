package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/media"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

// executeCall runs one tool call and returns the tool-role message for the
// transcript plus any media pulled out of the result. Failures never abort
// the loop; they become error records the model can react to.
func (o *Orchestrator) executeCall(ctx context.Context, snapshot config.Settings, req Request, emit terminallog.EmitFunc, call models.ToolCall) (models.ChatMessage, []media.Media) {
	name := call.Function.Name
	header(emit, "TOOL CALL: "+name)

	args := parseArguments(ctx, o, name, call.Function.Arguments)
	emit(terminallog.Event{Type: terminallog.TypeJSON, Label: "Argumente", Data: args})

	started := time.Now()
	toolCtx, span := o.tracer.StartTool(ctx, name)
	record, status := o.invoke(toolCtx, snapshot, req, emit, name, args)
	var execErr error
	if msg, ok := record["error"].(string); ok && status != "ok" {
		execErr = errors.New(msg)
	}
	observability.EndSpan(span, execErr)
	if o.metrics != nil {
		o.metrics.RecordToolExecution(name, status, time.Since(started).Seconds())
	}

	// The terminal log sees the full record including blobs.
	emit(terminallog.Event{Type: terminallog.TypeJSON, Label: "Ergebnis", Data: record})

	items, sanitized := media.Intercept(record)
	payload, err := json.Marshal(sanitized)
	if err != nil {
		o.logger.Warn(ctx, "tool result not serializable", "tool", name, "error", err)
		payload = []byte(`{"error":"Ergebnis nicht serialisierbar"}`)
		items = nil
	}

	return models.ChatMessage{
		Role:       models.RoleTool,
		Content:    models.TextContent(string(payload)),
		Name:       name,
		ToolCallID: call.ID,
	}, items
}

func (o *Orchestrator) invoke(ctx context.Context, snapshot config.Settings, req Request, emit terminallog.EmitFunc, name string, args map[string]any) (map[string]any, string) {
	d, ok := o.registry.Get(name)
	if !ok {
		o.logger.Warn(ctx, "model called unknown tool", "tool", name)
		return map[string]any{"error": fmt.Sprintf("Tool '%s' nicht gefunden", name)}, "unknown"
	}

	hc := &tools.Context{
		ToolSettings:  snapshot.ToolSettingsFor(name),
		Snapshot:      snapshot,
		ChatID:        req.ChatID,
		Emit:          emit,
		Logger:        o.logger,
		Providers:     o.providers,
		Images:        o.env.Images,
		Knowledge:     o.env.Knowledge,
		Files:         o.env.Files,
		TelegramUsers: o.env.TelegramUsers,
		Telegram:      o.telegram,
	}
	record, err := d.Handler(ctx, hc, args)
	if err != nil {
		o.logger.Warn(ctx, "tool handler failed", "tool", name, "error", err)
		return map[string]any{"error": err.Error()}, "error"
	}
	if record == nil {
		record = map[string]any{}
	}
	return record, "ok"
}

// parseArguments decodes the model's argument JSON, falling back to an
// empty object on malformed input.
func parseArguments(ctx context.Context, o *Orchestrator, name, raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		o.logger.Warn(ctx, "tool arguments are not valid JSON, using empty object",
			"tool", name, "arguments", raw, "error", err)
		return map[string]any{}
	}
	return args
}
