package web

import (
	"net/http"

	"github.com/openguenther/guenther/pkg/models"
)

// maskedWebhook hides the trigger token in API responses.
func maskedWebhook(h models.Webhook) models.Webhook {
	h.Token = h.MaskedToken()
	return h
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks := s.hooks.List()
	masked := make([]models.Webhook, 0, len(hooks))
	for _, h := range hooks {
		masked = append(masked, maskedWebhook(h))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"webhooks": masked})
}

// handleCreateWebhook returns the full token exactly once, in the create
// response.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var hook models.Webhook
	if err := decodeBody(r, &hook); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	created, err := s.hooks.Create(hook)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var hook models.Webhook
	if err := decodeBody(r, &hook); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	hook.ID = r.PathValue("id")
	updated, err := s.hooks.Update(hook)
	if err != nil {
		s.storeError(w, err, "Webhook nicht gefunden")
		return
	}
	s.jsonResponse(w, http.StatusOK, maskedWebhook(updated))
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.hooks.Delete(r.PathValue("id")); err != nil {
		s.storeError(w, err, "Webhook nicht gefunden")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": true})
}
