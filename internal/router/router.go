// Package router pre-filters the tool belt for a turn: one cheap LLM call
// picks the tools that look relevant to the latest user message. The router
// is a pure optimization; on any failure the full belt is used.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

// Routing is skipped entirely below this belt size; the call would cost
// more than it saves.
const minToolsForRouting = 4

const routerTemperature = 0.1

const systemPrompt = `Du bist ein Tool-Router. Du erhältst eine Liste verfügbarer Tools und die letzte Nachricht des Nutzers. Wähle alle Tools aus, die für die Beantwortung der Nachricht relevant sein könnten. Wähle im Zweifel lieber ein Tool mehr als eines zu wenig.

Antworte AUSSCHLIESSLICH mit einem JSON-Array der Tool-Namen, zum Beispiel: ["tool_a", "tool_b"]. Keine Erklärungen, kein Markdown.`

// CompleteFunc issues one chat completion. The agent wires the provider
// client in; tests inject fakes.
type CompleteFunc func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error)

type Router struct {
	complete CompleteFunc
	logger   *observability.Logger
}

func New(complete CompleteFunc, logger *observability.Logger) *Router {
	return &Router{
		complete: complete,
		logger:   logger.WithFields("component", "router"),
	}
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Select returns the subset of all that the router model considers relevant
// to the last user message. Any failure, unparseable answer or empty
// intersection falls back to the full list.
func (r *Router) Select(ctx context.Context, all []tools.Descriptor, messages []models.ChatMessage, model string) []tools.Descriptor {
	if len(all) < minToolsForRouting {
		return all
	}

	question := lastUserText(messages)
	if question == "" {
		return all
	}

	summaries := make([]toolSummary, len(all))
	for i, d := range all {
		summaries[i] = toolSummary{Name: d.Name, Description: d.Description}
	}
	summaryJSON, err := json.Marshal(summaries)
	if err != nil {
		return all
	}

	result, err := r.complete(ctx, provider.ChatRequest{
		Model: model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: models.TextContent(systemPrompt)},
			{Role: models.RoleUser, Content: models.TextContent(
				"Verfügbare Tools:\n" + string(summaryJSON) + "\n\nNutzer-Nachricht:\n" + question,
			)},
		},
		Temperature: routerTemperature,
	})
	if err != nil {
		r.logger.Warn(ctx, "router call failed, using all tools", "error", err)
		return all
	}

	names := parseNameArray(result.Content)
	if len(names) == 0 {
		r.logger.Warn(ctx, "router returned no parseable selection, using all tools",
			"response", result.Content)
		return all
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []tools.Descriptor
	for _, d := range all {
		if wanted[d.Name] {
			selected = append(selected, d)
		}
	}
	if len(selected) == 0 {
		r.logger.Warn(ctx, "router selection matched no registered tool, using all tools",
			"selection", names)
		return all
	}

	r.logger.Debug(ctx, "router narrowed tool belt",
		"from", len(all), "to", len(selected))
	return selected
}

// lastUserText returns the text of the most recent user message, joining
// the text parts of content-list messages.
func lastUserText(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return strings.TrimSpace(messages[i].Content.JoinText())
		}
	}
	return ""
}

// parseNameArray reads a JSON string array out of an LLM answer, tolerating
// Markdown code fences and surrounding prose.
func parseNameArray(s string) []string {
	s = stripCodeFences(s)

	// Models sometimes wrap the array in a sentence; cut to the brackets.
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}

	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil
	}
	out := names[:0]
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
