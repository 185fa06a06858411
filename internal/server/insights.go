package server

import (
	"net/http"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	insights, err := s.store.ListInsights(r.Context(), project.ID, r.URL.Query().Get("metric_key"))
	if err != nil {
		respondInternal(w, err)
		return
	}
	if insights == nil {
		insights = []model.Insight{}
	}
	respondJSON(w, http.StatusOK, insights)
}

func (s *Server) handleGenerateInsights(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body struct {
		WindowDays int `json:"window_days"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
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
	insights, err := s.insights.Generate(r.Context(), project.ID, from, to, body.WindowDays)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if insights == nil {
		insights = []model.Insight{}
	}
	respondJSON(w, http.StatusOK, insights)
}
