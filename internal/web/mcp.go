package web

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/openguenther/guenther/internal/config"
)

func (s *Server) handleListMCPServers(w http.ResponseWriter, r *http.Request) {
	servers := s.settings.Get().MCPServers
	s.jsonResponse(w, http.StatusOK, map[string]any{"servers": s.manager.Status(servers)})
}

func (s *Server) handleCreateMCPServer(w http.ResponseWriter, r *http.Request) {
	var cfg config.MCPServerConfig
	if err := decodeBody(r, &cfg); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	if strings.TrimSpace(cfg.Command) == "" {
		s.jsonError(w, http.StatusBadRequest, "command ist erforderlich")
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if _, err := s.settings.Update(func(cur *config.Settings) error {
		cur.MCPServers = append(cur.MCPServers, cfg)
		return nil
	}); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if cfg.Enabled {
		if err := s.manager.Connect(r.Context(), cfg); err != nil {
			s.logger.Warn(r.Context(), "mcp connect failed", "server", cfg.ID, "error", err)
		}
	}
	s.jsonResponse(w, http.StatusCreated, cfg)
}

func (s *Server) handleUpdateMCPServer(w http.ResponseWriter, r *http.Request) {
	var cfg config.MCPServerConfig
	if err := decodeBody(r, &cfg); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	cfg.ID = r.PathValue("id")

	if !s.patchMCPServer(w, cfg.ID, func(cur *config.MCPServerConfig) { *cur = cfg }) {
		return
	}

	ctx := r.Context()
	if cfg.Enabled {
		if err := s.manager.Reload(ctx, cfg); err != nil {
			s.logger.Warn(ctx, "mcp reload failed", "server", cfg.ID, "error", err)
		}
	} else if err := s.manager.Disconnect(cfg.ID); err != nil {
		s.logger.Warn(ctx, "mcp disconnect failed", "server", cfg.ID, "error", err)
	}
	s.jsonResponse(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteMCPServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found := false
	if _, err := s.settings.Update(func(cur *config.Settings) error {
		next := cur.MCPServers[:0]
		for _, sc := range cur.MCPServers {
			if sc.ID == id {
				found = true
				continue
			}
			next = append(next, sc)
		}
		cur.MCPServers = next
		return nil
	}); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.jsonError(w, http.StatusNotFound, "MCP-Server nicht gefunden")
		return
	}

	if err := s.manager.Disconnect(id); err != nil {
		s.logger.Warn(r.Context(), "mcp disconnect failed", "server", id, "error", err)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleEnableMCPServer(w http.ResponseWriter, r *http.Request) {
	s.setMCPServerEnabled(w, r, true)
}

func (s *Server) handleDisableMCPServer(w http.ResponseWriter, r *http.Request) {
	s.setMCPServerEnabled(w, r, false)
}

func (s *Server) setMCPServerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")

	var cfg config.MCPServerConfig
	if !s.patchMCPServer(w, id, func(cur *config.MCPServerConfig) {
		cur.Enabled = enabled
		cfg = *cur
	}) {
		return
	}

	ctx := r.Context()
	if enabled {
		if err := s.manager.Connect(ctx, cfg); err != nil {
			s.jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if err := s.manager.Disconnect(id); err != nil {
		s.logger.Warn(ctx, "mcp disconnect failed", "server", id, "error", err)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (s *Server) handleReloadMCPServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var cfg config.MCPServerConfig
	found := false
	for _, sc := range s.settings.Get().MCPServers {
		if sc.ID == id {
			cfg = sc
			found = true
			break
		}
	}
	if !found {
		s.jsonError(w, http.StatusNotFound, "MCP-Server nicht gefunden")
		return
	}

	if err := s.manager.Reload(r.Context(), cfg); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"reloaded": true})
}

// patchMCPServer applies fn to the stored config with the given id. It
// writes the 404 response itself and reports whether the patch happened.
func (s *Server) patchMCPServer(w http.ResponseWriter, id string, fn func(*config.MCPServerConfig)) bool {
	found := false
	if _, err := s.settings.Update(func(cur *config.Settings) error {
		for i := range cur.MCPServers {
			if cur.MCPServers[i].ID == id {
				fn(&cur.MCPServers[i])
				found = true
				return nil
			}
		}
		return nil
	}); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	if !found {
		s.jsonError(w, http.StatusNotFound, "MCP-Server nicht gefunden")
		return false
	}
	return true
}
