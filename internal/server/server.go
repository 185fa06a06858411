// Package server exposes the HTTP API: project and upload management,
// the mapping/validate/import pipeline, metric reads, the dashboard,
// dimensions, insights and alerting. Responses and error details follow
// the shape the frontend already speaks, including Russian messages.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/dashboard"
	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/ingest"
	"github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/internal/quality"
	"github.com/sells-group/merchant-metrics/pkg/telegram"
)

// Store is the persistence surface the handlers need. *store.PostgresStore
// satisfies it.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, ownerID, name string) (*model.Project, error)
	GetProject(ctx context.Context, projectID, ownerID string) (*model.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]model.Project, error)
	GetSettings(ctx context.Context, projectID string) (*model.ProjectSettings, error)
	UpdateSettings(ctx context.Context, projectID string, labels []string, policy model.DedupPolicy) (*model.ProjectSettings, error)

	CreateUpload(ctx context.Context, upload *model.Upload) error
	GetUpload(ctx context.Context, uploadID, ownerID string) (*model.Upload, error)
	ListUploads(ctx context.Context, projectID string) ([]model.Upload, error)
	SoftDeleteUpload(ctx context.Context, uploadID string) error
	CleanupUploads(ctx context.Context, projectID string, before time.Time) (int64, error)
	IsUploadBound(ctx context.Context, uploadID string) (bool, error)
	SetDashboardSource(ctx context.Context, projectID string, dataType model.UploadType, uploadID *string) error
	ListDashboardSources(ctx context.Context, projectID string) ([]model.DashboardSource, error)
	MappedUploadIDs(ctx context.Context, projectID string) (map[string]bool, error)
	SaveMapping(ctx context.Context, uploadID string, cfg model.MappingConfig) (*model.ColumnMapping, error)
	GetMapping(ctx context.Context, uploadID string) (*model.ColumnMapping, error)
	ListQuarantineRows(ctx context.Context, uploadID string) ([]model.QuarantineRow, error)

	ClearProjectData(ctx context.Context, projectID string) error

	ListMetricDefinitions(ctx context.Context) ([]model.MetricDefinition, error)
	GetMetricDefinition(ctx context.Context, metricKey string) (*model.MetricDefinition, error)

	ListInsights(ctx context.Context, projectID, metricKey string) ([]model.Insight, error)

	ListProducts(ctx context.Context, projectID string) ([]model.Product, error)
	GetProduct(ctx context.Context, projectID, productID string) (*model.Product, error)
	CreateProduct(ctx context.Context, projectID, canonicalName, category, productType string) (*model.Product, error)
	UpdateProduct(ctx context.Context, projectID, productID, canonicalName, category, productType string) (*model.Product, error)
	AddProductAlias(ctx context.Context, projectID, productID, canonicalName, alias string) (*model.ProductAlias, error)
	ListManagers(ctx context.Context, projectID string) ([]model.Manager, error)
	GetManager(ctx context.Context, projectID, managerID string) (*model.Manager, error)
	CreateManager(ctx context.Context, projectID, canonicalName string) (*model.Manager, error)
	UpdateManager(ctx context.Context, projectID, managerID, canonicalName string) (*model.Manager, error)
	AddManagerAlias(ctx context.Context, projectID, managerID, canonicalName, alias string) (*model.ManagerAlias, error)

	CreateAlertRule(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error)
	GetAlertRule(ctx context.Context, projectID, ruleID string) (*model.AlertRule, error)
	ListAlertRules(ctx context.Context, projectID string) ([]model.AlertRule, error)
	UpdateAlertRule(ctx context.Context, rule *model.AlertRule) error
	DeleteAlertRule(ctx context.Context, projectID, ruleID string) error
	InsertAlertEvent(ctx context.Context, event *model.AlertEvent) (*model.AlertEvent, error)
	ListAlertEvents(ctx context.Context, projectID string, limit int) ([]model.AlertEvent, error)
	GetTelegramBinding(ctx context.Context, projectID string) (*model.TelegramBinding, error)
	SetTelegramBinding(ctx context.Context, projectID, chatID string) (*model.TelegramBinding, error)
	DeleteTelegramBinding(ctx context.Context, projectID string) error
}

// Dashboard covers the aggregation service.
type Dashboard interface {
	Overview(ctx context.Context, projectID string, from, to *time.Time, filters map[string]any) (*dashboard.Overview, error)
	GrossSalesDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*dashboard.GrossSalesDetails, error)
	RefundsDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*dashboard.RefundsDetails, error)
	NetRevenueDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*dashboard.NetRevenueDetails, error)
	FeesDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*dashboard.FeesDetails, error)
	BestWorstDays(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*dashboard.BestWorstDays, error)
}

// Engine computes registry metrics.
type Engine interface {
	Compute(ctx context.Context, q metrics.Query, cache *metrics.Cache) (float64, error)
}

// Importer runs the validate/import stages of the upload pipeline.
type Importer interface {
	Validate(ctx context.Context, upload *model.Upload) (*quality.Report, error)
	Import(ctx context.Context, upload *model.Upload) (*ingest.Result, error)
}

// InsightsGenerator recomputes stored insights for a project.
type InsightsGenerator interface {
	Generate(ctx context.Context, projectID string, from, to *time.Time, windowDays int) ([]model.Insight, error)
}

// Options wires a Server. Pool is used directly for field presence
// probes; everything else goes through the service interfaces.
type Options struct {
	Store          Store
	Pool           db.Pool
	Dashboard      Dashboard
	Engine         Engine
	Importer       Importer
	Insights       InsightsGenerator
	Telegram       telegram.Client
	UploadDir      string
	AllowedOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	store          Store
	pool           db.Pool
	dashboard      Dashboard
	engine         Engine
	importer       Importer
	insights       InsightsGenerator
	telegram       telegram.Client
	uploadDir      string
	allowedOrigins []string
}

func New(opts Options) *Server {
	uploadDir := opts.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:          opts.Store,
		pool:           opts.Pool,
		dashboard:      opts.Dashboard,
		engine:         opts.Engine,
		importer:       opts.Importer,
		insights:       opts.Insights,
		telegram:       opts.Telegram,
		uploadDir:      uploadDir,
		allowedOrigins: origins,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/projects", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Get("/settings", s.handleGetSettings)
			r.Patch("/settings", s.handleUpdateSettings)

			r.Get("/uploads", s.handleListUploads)
			r.Post("/uploads", s.handleCreateUpload)
			r.Post("/uploads/cleanup", s.handleCleanupUploads)
			r.Post("/dashboard-sources", s.handleSetDashboardSource)

			r.Get("/dashboard", s.handleDashboard)
			r.Delete("/dashboard", s.handleClearDashboard)
			r.Get("/dashboard/best-worst-days", s.handleBestWorstDays)

			r.Get("/metrics", s.handleListMetrics)
			r.Get("/metrics/{metricKey}", s.handleGetMetric)
			r.Get("/metrics/{metricKey}/details", s.handleMetricDetails)

			r.Get("/insights", s.handleListInsights)
			r.Post("/insights/generate", s.handleGenerateInsights)

			r.Get("/products", s.handleListProducts)
			r.Post("/products", s.handleCreateProduct)
			r.Patch("/products/{productID}", s.handleUpdateProduct)
			r.Post("/products/{productID}/aliases", s.handleAddProductAlias)
			r.Get("/managers", s.handleListManagers)
			r.Post("/managers", s.handleCreateManager)
			r.Patch("/managers/{managerID}", s.handleUpdateManager)
			r.Post("/managers/{managerID}/aliases", s.handleAddManagerAlias)

			r.Get("/telegram", s.handleGetTelegramBinding)
			r.Put("/telegram", s.handleSetTelegramBinding)
			r.Delete("/telegram", s.handleDeleteTelegramBinding)
			r.Post("/telegram/test", s.handleTelegramTest)

			r.Get("/alerts", s.handleListAlertRules)
			r.Post("/alerts", s.handleCreateAlertRule)
			r.Patch("/alerts/{ruleID}", s.handleUpdateAlertRule)
			r.Delete("/alerts/{ruleID}", s.handleDeleteAlertRule)
			r.Post("/alerts/{ruleID}/send-test", s.handleSendAlertTest)
			r.Get("/alerts/events", s.handleListAlertEvents)
		})
	})

	r.Route("/uploads", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Delete("/{uploadID}", s.handleDeleteUpload)
		r.Get("/{uploadID}/preview", s.handlePreviewUpload)
		r.Get("/{uploadID}/quarantine", s.handleListQuarantine)
		r.Post("/{uploadID}/mapping", s.handleSaveMapping)
		r.Post("/{uploadID}/validate", s.handleValidateUpload)
		r.Post("/{uploadID}/import", s.handleImportUpload)
	})

	return r
}

type contextKey string

const userIDKey contextKey = "user_id"

// requireUser resolves the caller from the X-User-ID header. Ownership
// checks downstream turn a wrong user into a uniform 404.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			respondDetail(w, http.StatusUnauthorized, "Требуется заголовок X-User-ID.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// project loads the path project scoped to the caller, answering 404
// itself when it is missing or owned by someone else.
func (s *Server) project(w http.ResponseWriter, r *http.Request) (*model.Project, bool) {
	project, err := s.store.GetProject(r.Context(), chi.URLParam(r, "projectID"), userID(r))
	if err != nil {
		respondInternal(w, err)
		return nil, false
	}
	if project == nil {
		respondDetail(w, http.StatusNotFound, "Проект не найден.")
		return nil, false
	}
	return project, true
}

// upload loads the path upload scoped to the caller's projects.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) (*model.Upload, bool) {
	upload, err := s.store.GetUpload(r.Context(), chi.URLParam(r, "uploadID"), userID(r))
	if err != nil {
		respondInternal(w, err)
		return nil, false
	}
	if upload == nil {
		respondDetail(w, http.StatusNotFound, "Загрузка не найдена.")
		return nil, false
	}
	return upload, true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zap.L().Error("encode response", zap.Error(err))
		}
	}
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

func respondInternal(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	respondDetail(w, http.StatusInternalServerError, "Внутренняя ошибка сервера.")
}

// parseFilters decodes the filters query parameter. Bad input is
// rejected before any query runs.
func parseFilters(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	raw := r.URL.Query().Get("filters")
	if raw == "" {
		return map[string]any{}, true
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		respondDetail(w, http.StatusBadRequest, "Некорректный JSON для filters.")
		return nil, false
	}
	object, ok := payload.(map[string]any)
	if !ok {
		respondDetail(w, http.StatusBadRequest, "filters должен быть JSON-объектом.")
		return nil, false
	}
	return object, true
}

// dateParam parses an optional from/to query value.
func dateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Некорректный формат даты, ожидается YYYY-MM-DD.")
		return nil, false
	}
	return &parsed, true
}

// requiredRange parses the mandatory from/to pair used by the detail
// endpoints.
func requiredRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, ok := dateParam(w, r, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := dateParam(w, r, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if from == nil || to == nil {
		respondDetail(w, http.StatusBadRequest, "Параметры from и to обязательны.")
		return time.Time{}, time.Time{}, false
	}
	return *from, *to, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondDetail(w, http.StatusBadRequest, "Некорректное тело запроса.")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	databaseOK := s.store.Ping(r.Context()) == nil
	status := "ok"
	if !databaseOK {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": status, "database": databaseOK})
}
