package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/pkg/models"
)

const titleLimit = 50

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.ListChats(r.Context())
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title   string `json:"title"`
		AgentID string `json:"agent_id"`
	}
	_ = decodeBody(r, &body)
	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = "Neuer Chat"
	}

	chat, err := s.chats.CreateChat(r.Context(), title, body.AgentID)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, chat)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chat, err := s.chats.GetChat(ctx, r.PathValue("id"))
	if err != nil {
		s.chatError(w, err)
		return
	}
	msgs, err := s.chats.Messages(ctx, chat.ID)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"chat":     chat,
		"messages": msgs,
	})
}

// handleDeleteChat drops the chat with its messages and the files the
// agent generated for it.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.chats.DeleteChat(r.Context(), id); err != nil {
		s.chatError(w, err)
		return
	}
	if err := s.files.Delete(id); err != nil {
		s.logger.Warn(r.Context(), "cannot delete chat files", "chat_id", id, "error", err)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleChatFile serves one stored download of a chat.
func (s *Server) handleChatFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.files.Open(r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.jsonError(w, http.StatusNotFound, "Datei nicht gefunden")
			return
		}
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleResetChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chats.ResetChat(r.Context(), r.PathValue("id")); err != nil {
		s.chatError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"reset": true})
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Title) == "" {
		s.jsonError(w, http.StatusBadRequest, "title ist erforderlich")
		return
	}
	if err := s.chats.RenameChat(r.Context(), r.PathValue("id"), strings.TrimSpace(body.Title)); err != nil {
		s.chatError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"renamed": true})
}

func (s *Server) handlePinAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	if err := s.chats.SetChatAgent(r.Context(), r.PathValue("id"), body.AgentID); err != nil {
		s.chatError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"agent_id": body.AgentID})
}

// handleChatMessage runs one agent turn in the chat and returns the
// assistant answer.
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Message string `json:"message"`
	}
	_ = decodeBody(r, &body)
	message := strings.TrimSpace(body.Message)
	if message == "" {
		s.jsonError(w, http.StatusBadRequest, "message ist erforderlich")
		return
	}

	chat, err := s.chats.GetChat(ctx, r.PathValue("id"))
	if err != nil {
		s.chatError(w, err)
		return
	}
	history, err := s.chats.Messages(ctx, chat.ID)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(history) == 0 {
		if err := s.chats.RenameChat(ctx, chat.ID, titleFromMessage(message)); err != nil {
			s.logger.Warn(ctx, "cannot rename chat", "chat_id", chat.ID, "error", err)
		}
	}

	userMsg := models.ChatMessage{Role: models.RoleUser, Content: models.TextContent(message)}
	if err := s.chats.AppendMessage(ctx, chat.ID, userMsg); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req := agent.Request{
		Messages: append(history, userMsg),
		Snapshot: s.settings.Get(),
		ChatID:   chat.ID,
		Source:   "web",
	}
	if s.bus != nil {
		req.Emit = s.bus.Publish
	}
	if chat.AgentID != "" && s.agents != nil {
		if profile, err := s.agents.Get(chat.AgentID); err == nil {
			req.SystemPrompt = profile.SystemPrompt
			req.AgentProviderID = profile.ProviderID
			req.AgentModel = profile.Model
		}
	}

	answer, err := s.run(ctx, req)
	if err != nil {
		s.logger.Error(ctx, "web turn failed", "chat_id", chat.ID, "error", err)
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response, _ := s.extractor.Extract(chat.ID, answer)
	if response != "" {
		assistantMsg := models.ChatMessage{Role: models.RoleAssistant, Content: models.TextContent(response)}
		if err := s.chats.AppendMessage(ctx, chat.ID, assistantMsg); err != nil {
			s.logger.Warn(ctx, "cannot persist answer", "chat_id", chat.ID, "error", err)
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"chat_id":  chat.ID,
		"response": response,
	})
}

func (s *Server) chatError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, "Chat nicht gefunden")
		return
	}
	s.jsonError(w, http.StatusInternalServerError, err.Error())
}

func titleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= titleLimit {
		return message
	}
	return string(runes[:titleLimit]) + "..."
}
