// Package webhooks exposes the public trigger endpoint: an inbound POST
// with a bearer token runs one agent turn in the webhook's chat.
package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/media"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/pkg/models"
)

const titleLimit = 50

// RunFunc executes one agent turn. The orchestrator's Run method
// satisfies it; tests inject fakes.
type RunFunc func(ctx context.Context, req agent.Request) (string, error)

// Handler serves POST /webhook/{id}.
type Handler struct {
	hooks     *config.WebhookStore
	chats     *storage.ChatStore
	settings  *config.SettingsStore
	run       RunFunc
	extractor *media.Extractor
	logger    *observability.Logger

	agents  *config.AgentStore
	bus     *terminallog.Bus
	metrics *observability.Metrics
}

// Option configures the handler.
type Option func(*Handler)

// WithAgentStore lets webhooks resolve their agent profile.
func WithAgentStore(agents *config.AgentStore) Option {
	return func(h *Handler) { h.agents = agents }
}

// WithBus attaches the terminal event bus so turns stream their log.
func WithBus(bus *terminallog.Bus) Option {
	return func(h *Handler) { h.bus = bus }
}

// WithMetrics attaches request counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(hooks *config.WebhookStore, chats *storage.ChatStore, settings *config.SettingsStore, files *storage.FileStore, run RunFunc, logger *observability.Logger, opts ...Option) *Handler {
	h := &Handler{
		hooks:     hooks,
		chats:     chats,
		settings:  settings,
		run:       run,
		extractor: media.NewExtractor(files, logger),
		logger:    logger.WithFields("component", "webhooks"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the trigger endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/{id}", h.trigger)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hook, err := h.hooks.Get(r.PathValue("id"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "Webhook nicht gefunden")
		return
	}

	if !tokenMatches(r.Header.Get("Authorization"), hook.Token) {
		h.respondError(w, http.StatusUnauthorized, "Ungültiger Token")
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	// Malformed JSON counts as a missing message.
	_ = json.NewDecoder(r.Body).Decode(&body)
	message := strings.TrimSpace(body.Message)
	if message == "" {
		h.respondError(w, http.StatusBadRequest, "message ist erforderlich")
		return
	}

	chatID, history, err := h.resolveChat(ctx, hook.ChatID, message)
	if err != nil {
		h.logger.Error(ctx, "cannot resolve webhook chat", "webhook", hook.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	userMsg := models.ChatMessage{Role: models.RoleUser, Content: models.TextContent(message)}
	if err := h.chats.AppendMessage(ctx, chatID, userMsg); err != nil {
		h.logger.Error(ctx, "cannot persist webhook message", "chat_id", chatID, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req := agent.Request{
		Messages: append(history, userMsg),
		Snapshot: h.settings.Get(),
		ChatID:   chatID,
		Source:   "webhook",
	}
	if h.bus != nil {
		req.Emit = h.bus.Publish
	}
	if hook.AgentID != "" && h.agents != nil {
		if profile, err := h.agents.Get(hook.AgentID); err == nil {
			req.SystemPrompt = profile.SystemPrompt
			req.AgentProviderID = profile.ProviderID
			req.AgentModel = profile.Model
		}
	}

	answer, err := h.run(ctx, req)
	if err != nil {
		h.logger.Error(ctx, "webhook turn failed", "webhook", hook.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response, _ := h.extractor.Extract(chatID, answer)
	if response != "" {
		assistantMsg := models.ChatMessage{Role: models.RoleAssistant, Content: models.TextContent(response)}
		if err := h.chats.AppendMessage(ctx, chatID, assistantMsg); err != nil {
			h.logger.Warn(ctx, "cannot persist webhook answer", "chat_id", chatID, "error", err)
		}
	}

	h.respond(w, http.StatusOK, map[string]any{
		"chat_id":  chatID,
		"response": response,
	})
}

// resolveChat returns the webhook's target chat and its history. A
// missing or deleted chat is replaced by a fresh one titled after the
// message.
func (h *Handler) resolveChat(ctx context.Context, chatID, message string) (string, []models.ChatMessage, error) {
	if chatID != "" {
		if _, err := h.chats.GetChat(ctx, chatID); err == nil {
			history, err := h.chats.Messages(ctx, chatID)
			if err != nil {
				return "", nil, err
			}
			return chatID, history, nil
		}
	}
	chat, err := h.chats.CreateChat(ctx, titleFromMessage(message), "")
	if err != nil {
		return "", nil, err
	}
	return chat.ID, nil, nil
}

func tokenMatches(header, token string) bool {
	bearer, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) == 1
}

func titleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= titleLimit {
		return message
	}
	return string(runes[:titleLimit]) + "..."
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, map[string]any{"error": msg})
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload any) {
	if h.metrics != nil {
		h.metrics.RecordWebhookRequest(strconv.Itoa(status))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn(context.Background(), "cannot write response", "error", err)
	}
}
