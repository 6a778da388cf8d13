package web

import (
	"errors"
	"net/http"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/pkg/models"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"agents": s.agents.List()})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	profile, err := s.agents.Get(r.PathValue("id"))
	if err != nil {
		s.storeError(w, err, "Agent nicht gefunden")
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var profile models.AgentProfile
	if err := decodeBody(r, &profile); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	created, err := s.agents.Create(profile)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var profile models.AgentProfile
	if err := decodeBody(r, &profile); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	profile.ID = r.PathValue("id")
	updated, err := s.agents.Update(profile)
	if err != nil {
		s.storeError(w, err, "Agent nicht gefunden")
		return
	}
	s.jsonResponse(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Delete(r.PathValue("id")); err != nil {
		s.storeError(w, err, "Agent nicht gefunden")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleExportAgents(w http.ResponseWriter, r *http.Request) {
	env, err := s.agents.Export()
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, env)
}

func (s *Server) handleImportAgents(w http.ResponseWriter, r *http.Request) {
	var env models.ExportEnvelope
	if err := decodeBody(r, &env); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	count, err := s.agents.Import(env)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"imported": count})
}

// storeError maps the JSON store sentinel to a 404 with a German message.
func (s *Server) storeError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, config.ErrNotFound) {
		s.jsonError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	s.jsonError(w, http.StatusBadRequest, err.Error())
}
