package toolbuilder

import (
	"context"

	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

// Descriptor exposes the builder as a tool, so the agent can create new
// tools mid-conversation.
func (b *Builder) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        builderToolName,
		Description: "Erstellt oder bearbeitet ein MCP Tool anhand einer Beschreibung. Der Code wird generiert, in einer Sandbox getestet und bei Erfolg sofort registriert.",
		UsageHint:   "Nutze dieses Tool, wenn der Benutzer ein neues Werkzeug braucht, das noch nicht existiert, oder ein bestehendes Custom Tool geaendert werden soll.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{
					"type":        "string",
					"description": "Was das Tool koennen soll, moeglichst konkret (Eingaben, Ausgaben, Datenquellen).",
				},
				"tool_name": map[string]any{
					"type":        "string",
					"description": "Name des Tools in snake_case. Existiert bereits ein Tool mit diesem Namen, wird es bearbeitet.",
				},
			},
			"required": []any{"description"},
		},
		SettingsSchema: []models.SettingsField{{
			Key:         "model",
			Label:       "Modell",
			Type:        "text",
			Placeholder: "Standard-Modell",
			Description: "Modell für die Code-Generierung. Leer lassen für das Standard-Modell.",
		}},
		Origin:  tools.OriginBuiltin,
		Handler: b.handle,
	}
}

func (b *Builder) handle(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	description, _ := args["description"].(string)
	if description == "" {
		return map[string]any{"error": "Parameter 'description' fehlt."}, nil
	}
	toolName, _ := args["tool_name"].(string)

	result := b.Build(ctx, Request{
		Description: description,
		ToolName:    toolName,
		Snapshot:    hc.Snapshot,
		Emit:        hc.Emit,
	})

	record := map[string]any{
		"success":    result.Success,
		"mode":       result.Mode,
		"loops_used": result.LoopsUsed,
	}
	if result.ToolName != "" {
		record["tool_name"] = result.ToolName
	}
	if len(result.RegisteredTools) > 0 {
		record["registered_tools"] = result.RegisteredTools
	}
	if result.HasSettings {
		record["has_settings"] = true
	}
	if result.Hint != "" {
		record["hint"] = result.Hint
	}
	if result.Error != "" {
		record["error"] = result.Error
	}
	return record, nil
}
