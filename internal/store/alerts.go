package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// CreateAlertRule inserts a rule for a project metric.
func (s *PostgresStore) CreateAlertRule(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal rule params")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO alert_rules (id, project_id, metric_key, rule_type, params, is_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		rule.ID, rule.ProjectID, rule.MetricKey, string(rule.RuleType), params, rule.IsEnabled,
	).Scan(&rule.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert alert rule")
	}
	return rule, nil
}

// GetAlertRule fetches one rule scoped to its project, (nil, nil) when
// absent.
func (s *PostgresStore) GetAlertRule(ctx context.Context, projectID, ruleID string) (*model.AlertRule, error) {
	var (
		rule   model.AlertRule
		params []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, metric_key, rule_type, params, is_enabled, created_at
		 FROM alert_rules WHERE id = $1 AND project_id = $2`,
		ruleID, projectID,
	).Scan(&rule.ID, &rule.ProjectID, &rule.MetricKey, &rule.RuleType, &params, &rule.IsEnabled, &rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get alert rule")
	}
	if err := json.Unmarshal(params, &rule.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: decode rule params")
	}
	return &rule, nil
}

// ListAlertRules returns a project's rules newest first.
func (s *PostgresStore) ListAlertRules(ctx context.Context, projectID string) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, metric_key, rule_type, params, is_enabled, created_at
		 FROM alert_rules WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alert rules")
	}
	defer rows.Close()

	rules := make([]model.AlertRule, 0)
	for rows.Next() {
		var (
			rule   model.AlertRule
			params []byte
		)
		if err := rows.Scan(&rule.ID, &rule.ProjectID, &rule.MetricKey, &rule.RuleType, &params, &rule.IsEnabled, &rule.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert rule")
		}
		if err := json.Unmarshal(params, &rule.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: decode rule params")
		}
		rules = append(rules, rule)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list alert rules")
}

// ListEnabledAlertRules returns every enabled rule across all projects,
// for the evaluation sweep.
func (s *PostgresStore) ListEnabledAlertRules(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, metric_key, rule_type, params, is_enabled, created_at
		 FROM alert_rules WHERE is_enabled ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enabled alert rules")
	}
	defer rows.Close()

	rules := make([]model.AlertRule, 0)
	for rows.Next() {
		var (
			rule   model.AlertRule
			params []byte
		)
		if err := rows.Scan(&rule.ID, &rule.ProjectID, &rule.MetricKey, &rule.RuleType, &params, &rule.IsEnabled, &rule.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert rule")
		}
		if err := json.Unmarshal(params, &rule.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: decode rule params")
		}
		rules = append(rules, rule)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list enabled alert rules")
}

// UpdateAlertRule patches a rule in place.
func (s *PostgresStore) UpdateAlertRule(ctx context.Context, rule *model.AlertRule) error {
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rule params")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET metric_key = $1, rule_type = $2, params = $3, is_enabled = $4
		 WHERE id = $5 AND project_id = $6`,
		rule.MetricKey, string(rule.RuleType), params, rule.IsEnabled, rule.ID, rule.ProjectID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update alert rule")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("alert rule not found: %s", rule.ID)
	}
	return nil
}

// DeleteAlertRule removes a rule and, via cascade, its events.
func (s *PostgresStore) DeleteAlertRule(ctx context.Context, projectID, ruleID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_rules WHERE id = $1 AND project_id = $2`,
		ruleID, projectID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: delete alert rule")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("alert rule not found: %s", ruleID)
	}
	return nil
}

// InsertAlertEvent records one firing. Callers persist the event before
// attempting delivery.
func (s *PostgresStore) InsertAlertEvent(ctx context.Context, event *model.AlertEvent) (*model.AlertEvent, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal event payload")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO alert_events (id, rule_id, payload) VALUES ($1, $2, $3) RETURNING fired_at`,
		event.ID, event.RuleID, payload,
	).Scan(&event.FiredAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert alert event")
	}
	return event, nil
}

// ListAlertEvents returns a project's firings newest first.
func (s *PostgresStore) ListAlertEvents(ctx context.Context, projectID string, limit int) ([]model.AlertEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.rule_id, e.fired_at, e.payload
		 FROM alert_events e
		 JOIN alert_rules r ON r.id = e.rule_id
		 WHERE r.project_id = $1
		 ORDER BY e.fired_at DESC
		 LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alert events")
	}
	defer rows.Close()

	events := make([]model.AlertEvent, 0)
	for rows.Next() {
		var (
			event   model.AlertEvent
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.RuleID, &event.FiredAt, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert event")
		}
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: decode event payload")
		}
		events = append(events, event)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list alert events")
}

// GetTelegramBinding returns a project's chat binding, (nil, nil) when
// the project has none.
func (s *PostgresStore) GetTelegramBinding(ctx context.Context, projectID string) (*model.TelegramBinding, error) {
	var b model.TelegramBinding
	err := s.pool.QueryRow(ctx, "get_tg_binding", projectID).
		Scan(&b.ID, &b.ProjectID, &b.ChatID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get telegram binding")
	}
	return &b, nil
}

// SetTelegramBinding upserts the single chat binding for a project.
func (s *PostgresStore) SetTelegramBinding(ctx context.Context, projectID, chatID string) (*model.TelegramBinding, error) {
	b := model.TelegramBinding{ProjectID: projectID, ChatID: chatID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO telegram_bindings (id, project_id, chat_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
		 RETURNING id, created_at`,
		uuid.New().String(), projectID, chatID,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: set telegram binding")
	}
	return &b, nil
}

// DeleteTelegramBinding removes a project's chat binding if present.
func (s *PostgresStore) DeleteTelegramBinding(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM telegram_bindings WHERE project_id = $1`, projectID)
	return eris.Wrap(err, "postgres: delete telegram binding")
}
