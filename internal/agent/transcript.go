package agent

import (
	"regexp"
	"strings"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/pkg/models"
)

// dataURIRe matches inline media markers in assistant text. Resending them
// to the provider would burn tokens on base64 the model cannot use.
var dataURIRe = regexp.MustCompile(`!\[[^\]]*\]\(data:[^)]*\)`)

const mediaRemovedText = "[media entfernt]"

// buildTranscript prepends the effective system prompt and strips inline
// media from historical assistant messages. User vision parts pass through
// untouched.
func buildTranscript(snapshot config.Settings, req Request) []models.ChatMessage {
	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = snapshot.SystemPrompt
	}

	out := make([]models.ChatMessage, 0, len(req.Messages)+1)
	out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: models.TextContent(prompt)})
	for _, msg := range req.Messages {
		if msg.Role == models.RoleAssistant && !msg.Content.IsParts() {
			if text := msg.Content.Text; strings.Contains(text, "](data:") {
				msg.Content = models.TextContent(dataURIRe.ReplaceAllString(text, mediaRemovedText))
			}
		}
		out = append(out, msg)
	}
	return out
}
