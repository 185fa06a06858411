package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// EnsureMetricDefinitions seeds the registry. Existing keys are left
// untouched, so redeploys never overwrite a definition in place.
func (s *PostgresStore) EnsureMetricDefinitions(ctx context.Context, defs []model.MetricDefinition) error {
	for _, def := range defs {
		dims, err := json.Marshal(def.DimsAllowed)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal dims for %s", def.MetricKey)
		}
		reqs, err := json.Marshal(def.Requirements)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal requirements for %s", def.MetricKey)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO metric_definitions
			  (metric_key, title, description, source_table, aggregation, formula_type, dims_allowed, requirements, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (metric_key) DO NOTHING`,
			def.MetricKey, def.Title, def.Description, def.SourceTable, def.Aggregation,
			string(def.FormulaType), dims, reqs, def.Version,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed metric %s", def.MetricKey)
		}
	}
	return nil
}

// ListMetricDefinitions returns every registry entry ordered by key.
func (s *PostgresStore) ListMetricDefinitions(ctx context.Context) ([]model.MetricDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric_key, title, description, source_table, aggregation, formula_type,
		        dims_allowed, requirements, version, created_at
		 FROM metric_definitions ORDER BY metric_key ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metrics")
	}
	defer rows.Close()

	defs := make([]model.MetricDefinition, 0)
	for rows.Next() {
		def, err := scanMetricDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, eris.Wrap(rows.Err(), "postgres: list metrics")
}

// GetMetricDefinition fetches one registry entry, (nil, nil) when the
// key is unknown.
func (s *PostgresStore) GetMetricDefinition(ctx context.Context, metricKey string) (*model.MetricDefinition, error) {
	def, err := scanMetricDefinition(s.pool.QueryRow(ctx, "get_metric", metricKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return def, err
}

func scanMetricDefinition(row pgx.Row) (*model.MetricDefinition, error) {
	var (
		def           model.MetricDefinition
		description   *string
		sourceTable   *string
		aggregation   *string
		dimsAllowed   []byte
		requirements  []byte
	)
	err := row.Scan(&def.MetricKey, &def.Title, &description, &sourceTable, &aggregation,
		&def.FormulaType, &dimsAllowed, &requirements, &def.Version, &def.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan metric definition")
	}
	if description != nil {
		def.Description = *description
	}
	if sourceTable != nil {
		def.SourceTable = *sourceTable
	}
	if aggregation != nil {
		def.Aggregation = *aggregation
	}
	if err := json.Unmarshal(dimsAllowed, &def.DimsAllowed); err != nil {
		return nil, eris.Wrap(err, "postgres: decode dims_allowed")
	}
	if err := json.Unmarshal(requirements, &def.Requirements); err != nil {
		return nil, eris.Wrap(err, "postgres: decode requirements")
	}
	return &def, nil
}
