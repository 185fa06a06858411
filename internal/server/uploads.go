package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// maxUploadSize caps incoming files at 10 MiB.
const maxUploadSize = 10 << 20

type uploadView struct {
	model.Upload
	UsedInDashboard bool   `json:"used_in_dashboard"`
	MappingStatus   string `json:"mapping_status"`
}

func mappingStatus(mapped bool) string {
	if mapped {
		return "mapped"
	}
	return "unmapped"
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	uploads, err := s.store.ListUploads(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	sources, err := s.store.ListDashboardSources(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	mapped, err := s.store.MappedUploadIDs(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}

	sourceByType := make(map[model.UploadType]string)
	for _, source := range sources {
		if source.UploadID != nil {
			sourceByType[source.DataType] = *source.UploadID
		}
	}

	views := make([]uploadView, 0, len(uploads))
	for _, upload := range uploads {
		views = append(views, uploadView{
			Upload:          upload,
			UsedInDashboard: sourceByType[upload.Type] == upload.ID,
			MappingStatus:   mappingStatus(mapped[upload.ID]),
		})
	}
	respondJSON(w, http.StatusOK, views)
}

func parseUploadType(raw string) (model.UploadType, bool) {
	t := model.UploadType(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t, true
	}
	return "", false
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	uploadType, ok := parseUploadType(r.FormValue("type"))
	if !ok {
		respondDetail(w, http.StatusUnprocessableEntity, "Неверный тип загрузки.")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Файл не найден в запросе.")
		return
	}
	defer file.Close()

	extension := strings.ToLower(filepath.Ext(header.Filename))
	if extension != ".csv" && extension != ".xlsx" {
		respondDetail(w, http.StatusBadRequest, "Поддерживаются только файлы CSV или XLSX.")
		return
	}

	projectDir := filepath.Join(s.uploadDir, "project_"+project.ID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		respondInternal(w, err)
		return
	}
	storedPath := filepath.Join(projectDir, strings.ReplaceAll(uuid.New().String(), "-", "")+extension)

	target, err := os.Create(storedPath)
	if err != nil {
		respondInternal(w, err)
		return
	}
	written, err := io.Copy(target, io.LimitReader(file, maxUploadSize+1))
	closeErr := target.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(storedPath)
		respondInternal(w, err)
		return
	}
	if written > maxUploadSize {
		os.Remove(storedPath)
		respondDetail(w, http.StatusRequestEntityTooLarge, "Файл превышает допустимый размер.")
		return
	}

	upload := &model.Upload{
		ProjectID:        project.ID,
		Type:             uploadType,
		FilePath:         storedPath,
		OriginalFilename: header.Filename,
	}
	if err := s.store.CreateUpload(r.Context(), upload); err != nil {
		os.Remove(storedPath)
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, uploadView{Upload: *upload, MappingStatus: mappingStatus(false)})
}

func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.upload(w, r)
	if !ok {
		return
	}
	bound, err := s.store.IsUploadBound(r.Context(), upload.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if bound {
		respondDetail(w, http.StatusConflict, "Сначала уберите загрузку из дэшборда.")
		return
	}
	if err := s.store.SoftDeleteUpload(r.Context(), upload.ID); err != nil {
		respondInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupUploads(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var payload struct {
		OlderThanDays *int `json:"older_than_days"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &payload) {
		return
	}
	cutoff := time.Now().UTC()
	if payload.OlderThanDays != nil {
		cutoff = cutoff.AddDate(0, 0, -*payload.OlderThanDays)
	}
	deleted, err := s.store.CleanupUploads(r.Context(), project.ID, cutoff)
	if err != nil {
		respondInternal(w, err)
		return
	}
	zap.L().Info("uploads cleaned up", zap.String("project_id", project.ID), zap.Int64("deleted", deleted))
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleSetDashboardSource(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var payload struct {
		DataType string  `json:"data_type"`
		UploadID *string `json:"upload_id"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	dataType, ok := parseUploadType(payload.DataType)
	if !ok {
		respondDetail(w, http.StatusUnprocessableEntity, "Неверный тип загрузки.")
		return
	}
	if payload.UploadID != nil {
		upload, err := s.store.GetUpload(r.Context(), *payload.UploadID, userID(r))
		if err != nil {
			respondInternal(w, err)
			return
		}
		if upload == nil || upload.ProjectID != project.ID {
			respondDetail(w, http.StatusNotFound, "Загрузка не найдена.")
			return
		}
		if upload.Type != dataType {
			respondDetail(w, http.StatusUnprocessableEntity, "Тип данных не совпадает с загрузкой.")
			return
		}
	}
	if err := s.store.SetDashboardSource(r.Context(), project.ID, dataType, payload.UploadID); err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, model.DashboardSource{
		ProjectID: project.ID,
		DataType:  dataType,
		UploadID:  payload.UploadID,
		UpdatedAt: time.Now().UTC(),
	})
}
