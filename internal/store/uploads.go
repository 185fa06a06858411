package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/model"
)

const uploadColumns = `u.id, u.project_id, u.type, u.status, u.file_path, u.original_filename, u.created_at`

// CreateUpload records a stored file.
func (s *PostgresStore) CreateUpload(ctx context.Context, upload *model.Upload) error {
	if upload.ID == "" {
		upload.ID = uuid.New().String()
	}
	if upload.Status == "" {
		upload.Status = model.UploadStatusUploaded
	}
	upload.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO uploads (id, project_id, type, status, file_path, original_filename, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		upload.ID, upload.ProjectID, string(upload.Type), string(upload.Status), upload.FilePath, upload.OriginalFilename, upload.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert upload")
}

// GetUpload fetches an upload scoped to the owner of its project.
// Soft-deleted uploads and foreign uploads both come back (nil, nil).
func (s *PostgresStore) GetUpload(ctx context.Context, uploadID, ownerID string) (*model.Upload, error) {
	var u model.Upload
	err := s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads u JOIN projects p ON u.project_id = p.id
		 WHERE u.id = $1 AND p.owner_id = $2 AND u.status <> 'deleted'`,
		uploadID, ownerID,
	).Scan(&u.ID, &u.ProjectID, &u.Type, &u.Status, &u.FilePath, &u.OriginalFilename, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get upload %s", uploadID)
	}
	return &u, nil
}

// ListUploads returns a project's live uploads, newest first.
func (s *PostgresStore) ListUploads(ctx context.Context, projectID string) ([]model.Upload, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadColumns+` FROM uploads u WHERE u.project_id = $1 AND u.status <> 'deleted' ORDER BY u.created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list uploads")
	}
	defer rows.Close()

	var uploads []model.Upload
	for rows.Next() {
		var u model.Upload
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Type, &u.Status, &u.FilePath, &u.OriginalFilename, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan upload")
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// SetUploadStatus moves an upload through the ingest flow.
func (s *PostgresStore) SetUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE uploads SET status = $1 WHERE id = $2`,
		string(status), uploadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set upload status %s", uploadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("upload not found: %s", uploadID)
	}
	return nil
}

// SoftDeleteUpload marks an upload deleted without touching imported
// facts.
func (s *PostgresStore) SoftDeleteUpload(ctx context.Context, uploadID string) error {
	return s.SetUploadStatus(ctx, uploadID, model.UploadStatusDeleted)
}

// CleanupUploads soft-deletes a project's uploads created before the
// cutoff and returns how many were affected. Uploads still pinned as a
// dashboard source are left alone.
func (s *PostgresStore) CleanupUploads(ctx context.Context, projectID string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE uploads SET status = 'deleted'
		 WHERE project_id = $1 AND created_at < $2 AND status <> 'deleted'
		   AND id NOT IN (SELECT upload_id FROM dashboard_sources WHERE project_id = $1 AND upload_id IS NOT NULL)`,
		projectID, before,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: cleanup uploads %s", projectID)
	}
	return tag.RowsAffected(), nil
}

// IsUploadBound reports whether an upload is pinned as a dashboard
// source.
func (s *PostgresStore) IsUploadBound(ctx context.Context, uploadID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM dashboard_sources WHERE upload_id = $1`,
		uploadID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check upload binding %s", uploadID)
	}
	return count > 0, nil
}

// SetDashboardSource pins an upload as the dashboard feed for its data
// type. One row per (project, data type).
func (s *PostgresStore) SetDashboardSource(ctx context.Context, projectID string, dataType model.UploadType, uploadID *string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dashboard_sources (project_id, data_type, upload_id, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (project_id, data_type) DO UPDATE SET upload_id = EXCLUDED.upload_id, updated_at = now()`,
		projectID, string(dataType), uploadID,
	)
	return eris.Wrapf(err, "postgres: set dashboard source %s", projectID)
}

// ListDashboardSources returns the project's source pins.
func (s *PostgresStore) ListDashboardSources(ctx context.Context, projectID string) ([]model.DashboardSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, data_type, upload_id, updated_at FROM dashboard_sources WHERE project_id = $1`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dashboard sources")
	}
	defer rows.Close()

	var sources []model.DashboardSource
	for rows.Next() {
		var src model.DashboardSource
		if err := rows.Scan(&src.ProjectID, &src.DataType, &src.UploadID, &src.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dashboard source")
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// MappedUploadIDs reports which of a project's uploads have a saved
// column mapping.
func (s *PostgresStore) MappedUploadIDs(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cm.upload_id FROM column_mappings cm JOIN uploads u ON u.id = cm.upload_id WHERE u.project_id = $1`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mapped uploads")
	}
	defer rows.Close()

	mapped := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapped upload")
		}
		mapped[id] = true
	}
	return mapped, rows.Err()
}

// SaveMapping upserts the column mapping for an upload; a re-save
// replaces the previous config wholesale.
func (s *PostgresStore) SaveMapping(ctx context.Context, uploadID string, cfg model.MappingConfig) (*model.ColumnMapping, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal mapping config")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO column_mappings (upload_id, config, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (upload_id) DO UPDATE SET config = EXCLUDED.config, created_at = EXCLUDED.created_at`,
		uploadID, configJSON, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save mapping %s", uploadID)
	}
	return &model.ColumnMapping{UploadID: uploadID, Config: cfg, CreatedAt: now}, nil
}

// GetMapping returns the saved mapping for an upload, or (nil, nil).
func (s *PostgresStore) GetMapping(ctx context.Context, uploadID string) (*model.ColumnMapping, error) {
	var m model.ColumnMapping
	var configJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT upload_id, config, created_at FROM column_mappings WHERE upload_id = $1`,
		uploadID,
	).Scan(&m.UploadID, &configJSON, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get mapping %s", uploadID)
	}
	if err := json.Unmarshal(configJSON, &m.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal mapping config")
	}
	return &m, nil
}

// InsertQuarantineRows stores rejected rows for review.
func (s *PostgresStore) InsertQuarantineRows(ctx context.Context, rows []model.QuarantineRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([][]any, 0, len(rows))
	for _, row := range rows {
		id := row.ID
		if id == "" {
			id = uuid.New().String()
		}
		issuesJSON, err := json.Marshal(row.Issues)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal quarantine issues")
		}
		payloadJSON, err := json.Marshal(row.Payload)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal quarantine payload")
		}
		batch = append(batch, []any{id, row.UploadID, row.RowNumber, issuesJSON, payloadJSON, time.Now().UTC()})
	}

	columns := []string{"id", "upload_id", "row_number", "issues", "payload", "created_at"}
	_, err := db.CopyFrom(ctx, s.pool, "upload_quarantine", columns, batch)
	return eris.Wrap(err, "postgres: insert quarantine rows")
}

// ListQuarantineRows returns an upload's quarantined rows in file order.
func (s *PostgresStore) ListQuarantineRows(ctx context.Context, uploadID string) ([]model.QuarantineRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, upload_id, row_number, issues, payload, created_at FROM upload_quarantine WHERE upload_id = $1 ORDER BY row_number`,
		uploadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quarantine rows")
	}
	defer rows.Close()

	var out []model.QuarantineRow
	for rows.Next() {
		var q model.QuarantineRow
		var issuesJSON, payloadJSON []byte
		if err := rows.Scan(&q.ID, &q.UploadID, &q.RowNumber, &issuesJSON, &payloadJSON, &q.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quarantine row")
		}
		if err := json.Unmarshal(issuesJSON, &q.Issues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal quarantine issues")
		}
		if err := json.Unmarshal(payloadJSON, &q.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal quarantine payload")
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
