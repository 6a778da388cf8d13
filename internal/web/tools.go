package web

import (
	"net/http"
	"slices"
	"strings"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/toolbuilder"
	"github.com/openguenther/guenther/pkg/models"
)

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	snapshot := s.settings.Get()

	type toolInfo struct {
		Name           string                 `json:"name"`
		Description    string                 `json:"description"`
		Origin         string                 `json:"origin"`
		Enabled        bool                   `json:"enabled"`
		SettingsSchema []models.SettingsField `json:"settings_schema,omitempty"`
	}

	list := make([]toolInfo, 0, s.registry.Count())
	for _, d := range s.registry.List() {
		list = append(list, toolInfo{
			Name:           d.Name,
			Description:    d.Description,
			Origin:         d.Origin,
			Enabled:        !snapshot.ToolDisabled(d.Name),
			SettingsSchema: d.SettingsSchema,
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"tools": list})
}

func (s *Server) handleToggleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.registry.Get(name); !ok {
		s.jsonError(w, http.StatusNotFound, "Tool nicht gefunden")
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}

	if _, err := s.settings.Update(func(cur *config.Settings) error {
		cur.DisabledTools = slices.DeleteFunc(cur.DisabledTools, func(n string) bool { return n == name })
		if !body.Enabled {
			cur.DisabledTools = append(cur.DisabledTools, name)
		}
		return nil
	}); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"name": name, "enabled": body.Enabled})
}

func (s *Server) handleGetToolSettings(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snapshot := s.settings.Get()
	values := snapshot.ToolSettingsFor(name)
	masked := make(map[string]string, len(values))
	for k, v := range values {
		if config.IsSecretKey(k) {
			v = models.MaskSecret(v, 8, 4)
		}
		masked[k] = v
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"name": name, "settings": masked})
}

func (s *Server) handleUpdateToolSettings(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body map[string]string
	if err := decodeBody(r, &body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}

	if _, err := s.settings.Update(func(cur *config.Settings) error {
		stored := cur.ToolSettingsFor(name)
		for k, v := range body {
			if config.IsSecretKey(k) {
				v = config.ApplySecretUpdate(stored[k], v)
			}
			cur.SetToolSetting(name, k, v)
		}
		return nil
	}); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleBuildTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	_ = decodeBody(r, &body)
	if strings.TrimSpace(body.Description) == "" {
		s.jsonError(w, http.StatusBadRequest, "description ist erforderlich")
		return
	}
	s.runBuilder(w, r, toolbuilder.Request{Description: body.Description})
}

func (s *Server) handleEditTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	_ = decodeBody(r, &body)
	if body.Name == "" || strings.TrimSpace(body.Description) == "" {
		s.jsonError(w, http.StatusBadRequest, "name und description sind erforderlich")
		return
	}
	s.runBuilder(w, r, toolbuilder.Request{Description: body.Description, ToolName: body.Name})
}

func (s *Server) runBuilder(w http.ResponseWriter, r *http.Request, req toolbuilder.Request) {
	req.Snapshot = s.settings.Get()
	if s.bus != nil {
		req.Emit = s.bus.Publish
	}

	result := s.builder.Build(r.Context(), req)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success":          result.Success,
		"tool_name":        result.ToolName,
		"registered_tools": result.RegisteredTools,
		"mode":             result.Mode,
		"loops_used":       result.LoopsUsed,
		"has_settings":     result.HasSettings,
		"hint":             result.Hint,
		"error":            result.Error,
	})
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	_ = decodeBody(r, &body)
	if body.Name == "" {
		s.jsonError(w, http.StatusBadRequest, "name ist erforderlich")
		return
	}
	if s.custom == nil {
		s.jsonError(w, http.StatusInternalServerError, "Custom-Tools sind nicht verfügbar")
		return
	}
	if err := s.custom.Delete(body.Name); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": body.Name})
}

func (s *Server) handleExportTool(w http.ResponseWriter, r *http.Request) {
	env, err := s.custom.Export(r.PathValue("name"))
	if err != nil {
		s.jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, env)
}

func (s *Server) handleImportTool(w http.ResponseWriter, r *http.Request) {
	var env models.ExportEnvelope
	if err := decodeBody(r, &env); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	name, err := s.custom.Import(r.Context(), env)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"imported": name})
}
