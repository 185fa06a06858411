package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func TestCreateAlertRule(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("INSERT INTO alert_rules").
		WithArgs(pgxmock.AnyArg(), "proj-1", "net_revenue", "threshold", pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	s := NewPostgresWithPool(pool)
	rule, err := s.CreateAlertRule(context.Background(), &model.AlertRule{
		ProjectID: "proj-1",
		MetricKey: "net_revenue",
		RuleType:  model.AlertRuleThreshold,
		Params:    map[string]any{"direction": "below", "value": 1000.0},
		IsEnabled: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestUpdateAlertRule_NotFound(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectExec("UPDATE alert_rules SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := NewPostgresWithPool(pool)
	err = s.UpdateAlertRule(context.Background(), &model.AlertRule{
		ID:        "rule-x",
		ProjectID: "proj-1",
		MetricKey: "refund_rate",
		RuleType:  model.AlertRuleAnomaly,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert rule not found")
}

func TestInsertAlertEvent(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("INSERT INTO alert_events").
		WithArgs(pgxmock.AnyArg(), "rule-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"fired_at"}).AddRow(time.Now()))

	s := NewPostgresWithPool(pool)
	event, err := s.InsertAlertEvent(context.Background(), &model.AlertEvent{
		RuleID:  "rule-1",
		Payload: map[string]any{"type": "test", "metric_key": "net_revenue"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.FiredAt.IsZero())
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestListAlertEvents(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	now := time.Now()
	pool.ExpectQuery("SELECT e.id, e.rule_id, e.fired_at, e.payload").
		WithArgs("proj-1", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "rule_id", "fired_at", "payload"}).
			AddRow("ev-2", "rule-1", now, []byte(`{"type":"threshold","value":42.0}`)).
			AddRow("ev-1", "rule-1", now.Add(-time.Hour), []byte(`{"type":"test"}`)))

	s := NewPostgresWithPool(pool)
	events, err := s.ListAlertEvents(context.Background(), "proj-1", 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, "threshold", events[0].Payload["type"])
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestGetTelegramBinding_None(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("get_tg_binding").
		WithArgs("proj-1").
		WillReturnError(pgx.ErrNoRows)

	s := NewPostgresWithPool(pool)
	binding, err := s.GetTelegramBinding(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Nil(t, binding)
}

func TestSetTelegramBinding_Upserts(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("INSERT INTO telegram_bindings").
		WithArgs(pgxmock.AnyArg(), "proj-1", "-100200300").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("bind-1", time.Now()))

	s := NewPostgresWithPool(pool)
	binding, err := s.SetTelegramBinding(context.Background(), "proj-1", "-100200300")
	require.NoError(t, err)
	assert.Equal(t, "bind-1", binding.ID)
	assert.Equal(t, "-100200300", binding.ChatID)
	assert.NoError(t, pool.ExpectationsWereMet())
}
