package web

import (
	"net/http"

	"github.com/openguenther/guenther/pkg/models"
)

func (s *Server) handleListAutoprompts(w http.ResponseWriter, r *http.Request) {
	type promptInfo struct {
		models.Autoprompt
		NextRun string `json:"next_run,omitempty"`
	}

	prompts := s.autoprompts.List()
	list := make([]promptInfo, 0, len(prompts))
	for _, p := range prompts {
		info := promptInfo{Autoprompt: p}
		if s.scheduler != nil {
			if next, ok := s.scheduler.NextRun(p.ID); ok {
				info.NextRun = next.UTC().Format("2006-01-02T15:04:05Z")
			}
		}
		list = append(list, info)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"autoprompts": list})
}

func (s *Server) handleCreateAutoprompt(w http.ResponseWriter, r *http.Request) {
	var prompt models.Autoprompt
	if err := decodeBody(r, &prompt); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	created, err := s.autoprompts.Create(prompt)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.reloadScheduler()
	s.jsonResponse(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAutoprompt(w http.ResponseWriter, r *http.Request) {
	var prompt models.Autoprompt
	if err := decodeBody(r, &prompt); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	prompt.ID = r.PathValue("id")
	updated, err := s.autoprompts.Update(prompt)
	if err != nil {
		s.storeError(w, err, "Autoprompt nicht gefunden")
		return
	}
	s.reloadScheduler()
	s.jsonResponse(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAutoprompt(w http.ResponseWriter, r *http.Request) {
	if err := s.autoprompts.Delete(r.PathValue("id")); err != nil {
		s.storeError(w, err, "Autoprompt nicht gefunden")
		return
	}
	s.reloadScheduler()
	s.jsonResponse(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleRunAutoprompt fires the prompt immediately, outside its schedule.
func (s *Server) handleRunAutoprompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.autoprompts.Get(id); err != nil {
		s.storeError(w, err, "Autoprompt nicht gefunden")
		return
	}
	if s.scheduler == nil {
		s.jsonError(w, http.StatusInternalServerError, "Scheduler läuft nicht")
		return
	}
	s.scheduler.RunNow(id)
	s.jsonResponse(w, http.StatusOK, map[string]any{"started": true})
}

func (s *Server) handleExportAutoprompts(w http.ResponseWriter, r *http.Request) {
	env, err := s.autoprompts.Export()
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, env)
}

func (s *Server) handleImportAutoprompts(w http.ResponseWriter, r *http.Request) {
	var env models.ExportEnvelope
	if err := decodeBody(r, &env); err != nil {
		s.jsonError(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return
	}
	count, err := s.autoprompts.Import(env)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.reloadScheduler()
	s.jsonResponse(w, http.StatusOK, map[string]any{"imported": count})
}

func (s *Server) reloadScheduler() {
	if s.scheduler != nil {
		s.scheduler.Reload()
	}
}
