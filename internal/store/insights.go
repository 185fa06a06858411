package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// ReplaceInsights swaps the stored findings for a project in one
// transaction so readers never observe a half-written set.
func (s *PostgresStore) ReplaceInsights(ctx context.Context, projectID string, insights []model.Insight) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace insights")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM insights WHERE project_id = $1`, projectID); err != nil {
		return eris.Wrap(err, "postgres: clear insights")
	}
	for _, ins := range insights {
		evidence, err := json.Marshal(ins.Evidence)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal insight evidence")
		}
		id := ins.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO insights (id, project_id, metric_key, period_from, period_to, text, evidence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, projectID, ins.MetricKey, ins.PeriodFrom, ins.PeriodTo, ins.Text, evidence,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert insight")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace insights")
}

// ListInsights returns a project's findings newest first, optionally
// filtered to one metric.
func (s *PostgresStore) ListInsights(ctx context.Context, projectID, metricKey string) ([]model.Insight, error) {
	query := `SELECT id, project_id, metric_key, period_from, period_to, text, evidence, created_at
	 FROM insights WHERE project_id = $1`
	args := []any{projectID}
	if metricKey != "" {
		query += ` AND metric_key = $2`
		args = append(args, metricKey)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	insights := make([]model.Insight, 0)
	for rows.Next() {
		var (
			ins        model.Insight
			from, to   time.Time
			evidence   []byte
		)
		if err := rows.Scan(&ins.ID, &ins.ProjectID, &ins.MetricKey, &from, &to, &ins.Text, &evidence, &ins.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		ins.PeriodFrom = from
		ins.PeriodTo = to
		if err := json.Unmarshal(evidence, &ins.Evidence); err != nil {
			return nil, eris.Wrap(err, "postgres: decode insight evidence")
		}
		insights = append(insights, ins)
	}
	return insights, eris.Wrap(rows.Err(), "postgres: list insights")
}
