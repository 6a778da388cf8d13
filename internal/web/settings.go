package web

import (
	"net/http"

	"github.com/openguenther/guenther/internal/config"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.settings.Get().Masked())
}

// handleUpdateSettings replaces the settings with the submitted document.
// Secret fields keep their stored value when the client sends them back
// masked or empty.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var submitted config.Settings
	if err := decodeBody(r, &submitted); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}

	updated, err := s.settings.Update(func(cur *config.Settings) error {
		mergeSecrets(cur, &submitted)
		*cur = submitted
		return nil
	})
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.manager != nil {
		s.manager.Sync(r.Context(), updated.MCPServers)
	}
	s.jsonResponse(w, http.StatusOK, updated.Masked())
}

// handleSettingsSchema serves the JSON Schema the settings form is
// rendered from.
func (s *Server) handleSettingsSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := config.JSONSchema()
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(schema)
}

// mergeSecrets resolves every secret field of the submitted settings
// against the stored value.
func mergeSecrets(stored, submitted *config.Settings) {
	for i := range submitted.Providers {
		storedKey := ""
		if p := stored.Provider(submitted.Providers[i].ID); p != nil {
			storedKey = p.APIKey
		}
		submitted.Providers[i].APIKey = config.ApplySecretUpdate(storedKey, submitted.Providers[i].APIKey)
	}
	submitted.Telegram.BotToken = config.ApplySecretUpdate(stored.Telegram.BotToken, submitted.Telegram.BotToken)
	submitted.APIPassword = config.ApplySecretUpdate(stored.APIPassword, submitted.APIPassword)

	for tool, kv := range submitted.ToolSettings {
		for k, v := range kv {
			if !config.IsSecretKey(k) {
				continue
			}
			storedVal := stored.ToolSettingsFor(tool)[k]
			submitted.ToolSettings[tool][k] = config.ApplySecretUpdate(storedVal, v)
		}
	}
}
