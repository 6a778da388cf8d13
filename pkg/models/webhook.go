package models

import "time"

// Webhook is an inbound HTTP entry point bound to a chat. The token is the
// bearer secret callers must present.
type Webhook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ChatID    string    `json:"chat_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MaskedToken returns the token for display: first six and last four
// characters with the middle elided. Short tokens are fully masked.
func (w *Webhook) MaskedToken() string {
	return MaskSecret(w.Token, 6, 4)
}

// MaskSecret elides the middle of a secret, keeping the given number of
// leading and trailing characters. Secrets of eight characters or fewer
// are replaced entirely.
func MaskSecret(s string, head, tail int) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 || len(s) <= head+tail {
		return "***"
	}
	return s[:head] + "..." + s[len(s)-tail:]
}
