package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// CreateProject inserts a project together with its default settings.
func (s *PostgresStore) CreateProject(ctx context.Context, ownerID, name string) (*model.Project, error) {
	project := &model.Project{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Timezone:  "Europe/Moscow",
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, owner_id, name, timezone, created_at) VALUES ($1, $2, $3, $4, $5)`,
		project.ID, project.OwnerID, project.Name, project.Timezone, project.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}

	labelsJSON, err := json.Marshal(model.DefaultGroupLabels())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal group labels")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_settings (project_id, group_labels, dedup_policy) VALUES ($1, $2, $3)`,
		project.ID, labelsJSON, string(model.DedupKeepAllRows),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project settings")
	}
	return project, nil
}

// GetProject fetches a project scoped to its owner. Returns (nil, nil)
// both when the project does not exist and when it belongs to someone
// else, so callers cannot distinguish the two.
func (s *PostgresStore) GetProject(ctx context.Context, projectID, ownerID string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, timezone, created_at FROM projects WHERE id = $1 AND owner_id = $2`,
		projectID, ownerID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Timezone, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", projectID)
	}
	return &p, nil
}

// ListProjects returns the owner's projects, newest first.
func (s *PostgresStore) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, timezone, created_at FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Timezone, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetSettings returns project settings, creating the default row on
// first access.
func (s *PostgresStore) GetSettings(ctx context.Context, projectID string) (*model.ProjectSettings, error) {
	settings, err := s.readSettings(ctx, projectID)
	if err != nil || settings != nil {
		return settings, err
	}

	labelsJSON, err := json.Marshal(model.DefaultGroupLabels())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal group labels")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_settings (project_id, group_labels, dedup_policy) VALUES ($1, $2, $3)
		 ON CONFLICT (project_id) DO NOTHING`,
		projectID, labelsJSON, string(model.DedupKeepAllRows),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: seed settings %s", projectID)
	}
	return s.readSettings(ctx, projectID)
}

func (s *PostgresStore) readSettings(ctx context.Context, projectID string) (*model.ProjectSettings, error) {
	var settings model.ProjectSettings
	var labelsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, group_labels, dedup_policy, created_at, updated_at FROM project_settings WHERE project_id = $1`,
		projectID,
	).Scan(&settings.ProjectID, &labelsJSON, &settings.DedupPolicy, &settings.CreatedAt, &settings.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get settings %s", projectID)
	}
	if err := json.Unmarshal(labelsJSON, &settings.GroupLabels); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal group labels")
	}
	return &settings, nil
}

// UpdateSettings replaces the group labels and dedup policy.
func (s *PostgresStore) UpdateSettings(ctx context.Context, projectID string, labels []string, policy model.DedupPolicy) (*model.ProjectSettings, error) {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal group labels")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_settings (project_id, group_labels, dedup_policy, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (project_id) DO UPDATE SET group_labels = EXCLUDED.group_labels, dedup_policy = EXCLUDED.dedup_policy, updated_at = now()`,
		projectID, labelsJSON, string(policy),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update settings %s", projectID)
	}
	return s.readSettings(ctx, projectID)
}

// DedupPolicy is a convenience for read paths that only need the
// policy; missing settings fall back to keep_all_rows.
func (s *PostgresStore) DedupPolicy(ctx context.Context, projectID string) (model.DedupPolicy, error) {
	settings, err := s.readSettings(ctx, projectID)
	if err != nil {
		return "", err
	}
	if settings == nil {
		return model.DedupKeepAllRows, nil
	}
	return settings.DedupPolicy, nil
}
