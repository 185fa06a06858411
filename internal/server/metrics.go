package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
)

type metricView struct {
	model.MetricDefinition
	Availability model.MetricAvailability `json:"availability"`
	IsAvailable  bool                     `json:"is_available"`
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	defs, err := s.store.ListMetricDefinitions(r.Context())
	if err != nil {
		respondInternal(w, err)
		return
	}
	presence, err := metrics.FieldPresence(r.Context(), s.pool, project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	views := make([]metricView, 0, len(defs))
	for _, def := range defs {
		availability := metrics.Evaluate(def.Requirements, presence)
		views = append(views, metricView{
			MetricDefinition: def,
			Availability:     availability,
			IsAvailable:      availability.Status != model.AvailabilityUnavailable,
		})
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetMetric(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	def, err := s.store.GetMetricDefinition(r.Context(), chi.URLParam(r, "metricKey"))
	if err != nil {
		respondInternal(w, err)
		return
	}
	if def == nil {
		respondDetail(w, http.StatusNotFound, "Метрика не найдена.")
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
	filters = metrics.NormalizeFilters(filters)

	value, err := s.engine.Compute(r.Context(), metrics.Query{
		ProjectID: project.ID,
		MetricKey: def.MetricKey,
		From:      from,
		To:        to,
		Filters:   filters,
	}, metrics.NewCache())
	if errors.Is(err, metrics.ErrMetricNotFound) || errors.Is(err, metrics.ErrUnsupported) {
		respondDetail(w, http.StatusNotFound, "Метрика не найдена.")
		return
	}
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"metric_key":  def.MetricKey,
		"title":       def.Title,
		"description": def.Description,
		"value":       value,
		"from_date":   dateString(from),
		"to_date":     dateString(to),
		"filters":     filters,
	})
}

func (s *Server) handleMetricDetails(w http.ResponseWriter, r *http.Request) {
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
	filters = metrics.NormalizeFilters(filters)

	var (
		payload any
		err     error
	)
	switch chi.URLParam(r, "metricKey") {
	case "gross_sales":
		payload, err = s.dashboard.GrossSalesDetails(r.Context(), project.ID, from, to, filters)
	case "refunds":
		payload, err = s.dashboard.RefundsDetails(r.Context(), project.ID, from, to, filters)
	case "net_revenue":
		payload, err = s.dashboard.NetRevenueDetails(r.Context(), project.ID, from, to, filters)
	case "fees_total":
		payload, err = s.dashboard.FeesDetails(r.Context(), project.ID, from, to, filters)
	default:
		respondDetail(w, http.StatusNotFound, "Метрика не найдена.")
		return
	}
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

func dateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.DateOnly)
	return &formatted
}
