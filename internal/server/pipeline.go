package server

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/fetcher"
	"github.com/sells-group/merchant-metrics/internal/ingest"
	"github.com/sells-group/merchant-metrics/internal/mapping"
	"github.com/sells-group/merchant-metrics/internal/model"
)

func (s *Server) handlePreviewUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.upload(w, r)
	if !ok {
		return
	}
	if _, err := os.Stat(upload.FilePath); err != nil {
		respondDetail(w, http.StatusNotFound, "Файл загрузки не найден.")
		return
	}
	headers, sampleRows, err := fetcher.ReadPreview(upload.FilePath)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, mapping.BuildPreview(*upload, headers, sampleRows))
}

func (s *Server) handleSaveMapping(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.upload(w, r)
	if !ok {
		return
	}
	var cfg model.MappingConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := mapping.Validate(&cfg, upload.Type); err != nil {
		status := http.StatusUnprocessableEntity
		if strings.HasPrefix(eris.Cause(err).Error(), "Не заполнены") {
			status = http.StatusBadRequest
		}
		respondDetail(w, status, eris.Cause(err).Error())
		return
	}
	saved, err := s.store.SaveMapping(r.Context(), upload.ID, cfg)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.upload(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListQuarantineRows(r.Context(), upload.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if rows == nil {
		rows = []model.QuarantineRow{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleValidateUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.upload(w, r)
	if !ok {
		return
	}
	report, err := s.importer.Validate(r.Context(), upload)
	if errors.Is(err, ingest.ErrMappingRequired) {
		respondDetail(w, http.StatusBadRequest, "Сначала сохраните маппинг колонок.")
		return
	}
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.upload(w, r)
	if !ok {
		return
	}
	if upload.Status == model.UploadStatusFailed {
		zap.L().Warn("importing upload whose last validation failed",
			zap.String("upload_id", upload.ID),
		)
	}
	result, err := s.importer.Import(r.Context(), upload)
	if errors.Is(err, ingest.ErrMappingRequired) {
		respondDetail(w, http.StatusBadRequest, "Сначала сохраните маппинг колонок.")
		return
	}
	if err != nil {
		respondInternal(w, err)
		return
	}

	// Insight regeneration rides along best-effort; a failure never
	// fails the import itself.
	if _, err := s.insights.Generate(r.Context(), upload.ProjectID, nil, nil, 0); err != nil {
		zap.L().Warn("insight generation after import failed",
			zap.String("project_id", upload.ProjectID),
			zap.Error(err),
		)
	}
	respondJSON(w, http.StatusOK, result)
}
