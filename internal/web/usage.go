package web

import (
	"net/http"
	"time"
)

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	today, err := s.usage.TotalsSince(ctx, startOfDay)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	week, err := s.usage.TotalsSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	month, err := s.usage.TotalsSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byModel, err := s.usage.TotalsByModel(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"today":    today,
		"week":     week,
		"month":    month,
		"by_model": byModel,
	})
}

func (s *Server) handleUsageTimeline(w http.ResponseWriter, r *http.Request) {
	granularity := r.URL.Query().Get("granularity")
	if granularity == "" {
		granularity = "day"
	}

	now := time.Now()
	var since time.Time
	switch granularity {
	case "hour":
		since = now.AddDate(0, 0, -2)
	case "day":
		since = now.AddDate(0, 0, -30)
	case "month":
		since = now.AddDate(-1, 0, 0)
	default:
		s.jsonError(w, http.StatusBadRequest, "granularity muss hour, day oder month sein")
		return
	}

	buckets, err := s.usage.Timeline(r.Context(), since, granularity)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"granularity": granularity,
		"timeline":    buckets,
	})
}

func (s *Server) handleUsageReset(w http.ResponseWriter, r *http.Request) {
	if err := s.usage.Reset(r.Context()); err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"reset": true})
}
