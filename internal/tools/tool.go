// Package tools defines the tool contract of the agent: descriptors, the
// handler interface and the registry that owns all registered tools.
package tools

import (
	"context"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/pkg/models"
)

// Origin values. External origins carry the server id after the colon.
const (
	OriginBuiltin = "builtin"
	OriginCustom  = "custom"
)

// OriginExternal builds the origin tag for an external MCP server.
func OriginExternal(serverID string) string {
	return "external:" + serverID
}

// Handler executes one tool call. Arguments are the decoded JSON arguments
// from the model; the returned record is serialized back into the
// transcript. A record containing one of the reserved media keys
// (image_base64, audio_base64, pptx_base64, html_content, local_file_path)
// is intercepted by the agent loop before the model sees it.
type Handler func(ctx context.Context, hc *Context, args map[string]any) (map[string]any, error)

// Descriptor describes one registered tool. Descriptors are immutable once
// registered; re-registering the same name replaces the whole entry.
type Descriptor struct {
	Name        string
	Description string
	// UsageHint is appended to the description in the model-facing schema.
	UsageHint string
	// InputSchema is a JSON-Schema object fragment with properties/required.
	InputSchema    map[string]any
	SettingsSchema []models.SettingsField
	Origin         string
	// AgentOverridable marks tools whose provider/model settings take part
	// in the consensus override vote of the agent loop.
	AgentOverridable bool
	Handler          Handler
}

// ModelDefinition returns the OpenAI function-calling shape of the tool.
func (d Descriptor) ModelDefinition() models.ToolDefinition {
	desc := d.Description
	if d.UsageHint != "" {
		desc += "\n\n" + d.UsageHint
	}
	params := d.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return models.ToolDefinition{
		Type: "function",
		Function: models.FunctionDefinition{
			Name:        d.Name,
			Description: desc,
			Parameters:  params,
		},
	}
}

// TelegramSender delivers outbound messages for the send_telegram tool.
// The gateway installs the real implementation once it is running.
type TelegramSender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendAudio(ctx context.Context, chatID string, audio []byte, filename string) error
}

// Context carries the per-call environment into a handler: the tool's
// settings, the settings snapshot of the turn, the chat, the log sink and
// the shared stores. No global lookups happen inside handlers.
type Context struct {
	// ToolSettings is the per-tool key/value configuration.
	ToolSettings map[string]string
	// Snapshot is the settings state the turn runs under.
	Snapshot config.Settings
	ChatID   string
	Emit     terminallog.EmitFunc
	Logger   *observability.Logger

	Providers     *provider.Factory
	Images        *storage.ImageStore
	Knowledge     *storage.KnowledgeStore
	Files         *storage.FileStore
	TelegramUsers *config.TelegramUserStore
	Telegram      TelegramSender
}

// Setting returns one tool setting with a fallback.
func (hc *Context) Setting(key, fallback string) string {
	if v, ok := hc.ToolSettings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// EmitText publishes a text event when a sink is attached.
func (hc *Context) EmitText(msg string) {
	if hc.Emit != nil {
		hc.Emit(terminallog.Event{Type: terminallog.TypeText, Message: msg})
	}
}
