package mcp

import (
	"context"
	"encoding/json"

	"github.com/openguenther/guenther/internal/tools"
)

// Descriptors converts the client's advertised tools into registry entries.
// Names are prefixed with the server id so two servers can ship tools of the
// same name; each handler proxies the call back over the transport.
func Descriptors(client *Client, serverID string) []tools.Descriptor {
	advertised := client.Tools()
	out := make([]tools.Descriptor, 0, len(advertised))
	for _, t := range advertised {
		out = append(out, descriptorFor(client, serverID, t))
	}
	return out
}

func descriptorFor(client *Client, serverID string, t *Tool) tools.Descriptor {
	remoteName := t.Name

	var schema map[string]any
	if len(t.InputSchema) > 0 {
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = nil
		}
	}

	return tools.Descriptor{
		Name:        serverID + "_" + remoteName,
		Description: t.Description,
		UsageHint:   t.Usage,
		InputSchema: schema,
		Origin:      tools.OriginExternal(serverID),
		Handler: func(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
			result, err := client.CallTool(ctx, remoteName, args)
			if err != nil {
				return nil, err
			}
			return unwrapResult(result), nil
		},
	}
}

// unwrapResult maps the first content item of a tool result onto the
// handler record shape: text becomes {result: …} (or {error: …} when the
// server flags an error), images become a media record.
func unwrapResult(result *ToolCallResult) map[string]any {
	if result == nil || len(result.Content) == 0 {
		return map[string]any{"result": ""}
	}

	first := result.Content[0]
	switch first.Type {
	case "image":
		record := map[string]any{"image_base64": first.Data}
		if first.MimeType != "" {
			record["mime_type"] = first.MimeType
		}
		return record
	default:
		text := first.Text
		if text == "" {
			text = first.Data
		}
		if result.IsError {
			return map[string]any{"error": text}
		}
		return map[string]any{"result": text}
	}
}
