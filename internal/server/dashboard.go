package server

import (
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	from, ok := dateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := dateParam(w, r, "to")
	if !ok {
		return
	}
	filters, ok := parseFilters(w, r)
	if !ok {
		return
	}
	overview, err := s.dashboard.Overview(r.Context(), project.ID, from, to, filters)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, overview)
}

func (s *Server) handleClearDashboard(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	if err := s.store.ClearProjectData(r.Context(), project.ID); err != nil {
		respondInternal(w, err)
		return
	}
	zap.L().Info("project data cleared", zap.String("project_id", project.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBestWorstDays(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	from, to, ok := requiredRange(w, r)
	if !ok {
		return
	}
	filters, ok := parseFilters(w, r)
	if !ok {
		return
	}
	days, err := s.dashboard.BestWorstDays(r.Context(), project.ID, from, to, filters)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, days)
}
