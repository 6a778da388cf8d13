package toolbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openguenther/guenther/pkg/models"
)

// codeContract spells out the module format the custom-tool runner expects.
// Both the generate and the fix prompt carry it, so corrections cannot
// drift away from the contract.
const codeContract = `Regeln fuer den Code:
- Das Modul exportiert TOOL_DEFINITION im OpenAI-Function-Format:
  TOOL_DEFINITION = {"type": "function", "function": {"name": "...", "description": "...", "parameters": {"type": "object", "properties": {...}, "required": [...]}}}
- def handler(...) nimmt die Parameter EINZELN entgegen. Die Parameternamen muessen exakt den Keys aus parameters.properties entsprechen. def handler(params) und def handler(data) sind VERBOTEN.
- handler gibt ein dict zurueck. Fehler als {"error": "Beschreibung"} zurueckgeben, keine Exceptions werfen.
- Mehrere Tools in einem Modul: TOOL_DEFINITIONS (Liste) plus HANDLERS = {"tool_name": funktion}.
- Konfigurierbare Werte (z.B. API-Keys): SETTINGS_SCHEMA = [{"key": "api_key", "label": "API Key", "type": "text", "description": "..."}] exportieren und im Handler lesen mit:
  from config import get_tool_settings
  settings = get_tool_settings()
- Optional: USAGE = "Hinweis fuer das Sprachmodell, wann das Tool zu nutzen ist."
- Ergebnis-Bilder als {"image_base64": "...", "mime_type": "image/png"}, Audio als {"audio_base64": "...", "mime_type": "audio/mpeg"} zurueckgeben.
- Nur die Python-Standardbibliothek und die in requirements genannten Pakete importieren. Keine anderen Server-Module ausser config.`

const responseFormat = `Antworte AUSSCHLIESSLICH mit einem JSON-Objekt, ohne Erklaerungen:
{"tool_name": "name_in_snake_case", "code": "<kompletter Inhalt von tool.py>", "requirements": "<pip-Pakete, eine pro Zeile, leer wenn keine>"}`

func planPrompt(description, existing string) string {
	var sb strings.Builder
	sb.WriteString("Du planst ein Python-Tool-Modul fuer den Guenther MCP-Server.\n\n")
	sb.WriteString("Aufgabe: " + description + "\n\n")
	if existing != "" {
		sb.WriteString("Bestehender Code, der ueberarbeitet werden soll:\n```python\n" + existing + "\n```\n\n")
	}
	sb.WriteString(`Antworte AUSSCHLIESSLICH mit einem JSON-Objekt:
{"tool_name": "name_in_snake_case", "summary": "Ein Satz", "usage": "Wann soll das Sprachmodell das Tool nutzen", "parameters": {"param": "Beschreibung"}, "libraries": ["pip-Pakete"], "has_settings": false, "handler_signature": "def handler(param1, param2)", "approach": "Kurze Umsetzungsskizze"}`)
	return sb.String()
}

func generatePrompt(description, name, existing string, plan map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Du bist ein Python-Entwickler und schreibst ein einzelnes Tool-Modul (tool.py) fuer den Guenther MCP-Server.\n\n")
	sb.WriteString("Aufgabe: " + description + "\n\n")
	if name != "" {
		sb.WriteString(fmt.Sprintf("Der Tool-Name ist '%s'. Behalte ihn bei.\n\n", name))
	}
	if existing != "" {
		sb.WriteString("Bestehender Code:\n```python\n" + existing + "\n```\nUeberarbeite diesen Code gemaess der Aufgabe. Behalte funktionierende Teile bei.\n\n")
	}
	if plan != nil {
		if data, err := json.Marshal(plan); err == nil {
			sb.WriteString("Plan:\n" + string(data) + "\n\n")
		}
	}
	sb.WriteString(codeContract + "\n\n" + responseFormat)
	return sb.String()
}

func fixPrompt(description, code, requirements, testError string) string {
	var sb strings.Builder
	sb.WriteString("Der folgende Tool-Code besteht den Test nicht.\n\n")
	sb.WriteString("Aufgabe: " + description + "\n\n")
	sb.WriteString("Code:\n```python\n" + code + "\n```\n\n")
	if strings.TrimSpace(requirements) != "" {
		sb.WriteString("requirements:\n" + requirements + "\n\n")
	}
	sb.WriteString("Fehler:\n" + testError + "\n\n")
	sb.WriteString("Korrigiere den Code.\n\n" + codeContract + "\n\n" + responseFormat)
	return sb.String()
}

func promptMessages(prompt string) []models.ChatMessage {
	return []models.ChatMessage{{
		Role:    models.RoleUser,
		Content: models.TextContent(prompt),
	}}
}

type buildResponse struct {
	ToolName     string
	Code         string
	Requirements string
}

// parseBuildResponse decodes the LLM answer. Models wrap JSON in code
// fences or prose often enough that both are stripped before parsing.
func parseBuildResponse(text string) (buildResponse, error) {
	obj, err := parseJSONObject(text)
	if err != nil {
		return buildResponse{}, errNoValidCode
	}

	resp := buildResponse{
		ToolName: stringField(obj, "tool_name"),
		Code:     stringField(obj, "code"),
	}
	switch reqs := obj["requirements"].(type) {
	case string:
		resp.Requirements = reqs
	case []any:
		var lines []string
		for _, r := range reqs {
			if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
				lines = append(lines, strings.TrimSpace(s))
			}
		}
		resp.Requirements = strings.Join(lines, "\n")
	}

	if strings.TrimSpace(resp.Code) == "" {
		return buildResponse{}, errNoValidCode
	}
	return resp, nil
}

func parseJSONObject(text string) (map[string]any, error) {
	raw := extractJSON(text)
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("Antwort ist kein JSON-Objekt: %v", err)
	}
	return obj, nil
}

// extractJSON peels code fences first, then falls back to the outermost
// brace pair.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			// Drop a language tag like "json" on the fence line.
			if end := strings.Index(rest[nl:], "```"); end >= 0 {
				text = strings.TrimSpace(rest[nl : nl+end])
			}
		}
	}
	if json.Valid([]byte(text)) {
		return text
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
