package server

import (
	"net/http"
	"strings"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context(), userID(r))
	if err != nil {
		respondInternal(w, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":     map[string]string{"id": userID(r)},
		"projects": projects,
	})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		respondDetail(w, http.StatusBadRequest, "Укажите название проекта.")
		return
	}
	project, err := s.store.CreateProject(r.Context(), userID(r), name)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	settings, err := s.store.GetSettings(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var payload struct {
		GroupLabels []string          `json:"group_labels"`
		DedupPolicy model.DedupPolicy `json:"dedup_policy"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if !payload.DedupPolicy.Valid() {
		respondDetail(w, http.StatusUnprocessableEntity, "Неверная политика дедупликации.")
		return
	}
	if len(payload.GroupLabels) == 0 {
		payload.GroupLabels = model.DefaultGroupLabels()
	}
	settings, err := s.store.UpdateSettings(r.Context(), project.ID, payload.GroupLabels, payload.DedupPolicy)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
