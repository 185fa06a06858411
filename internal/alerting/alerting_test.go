package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	metricspkg "github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubStore struct {
	mu       sync.Mutex
	rules    []model.AlertRule
	bindings map[string]*model.TelegramBinding
	events   []model.AlertEvent
}

func (s *stubStore) ListEnabledAlertRules(_ context.Context) ([]model.AlertRule, error) {
	return s.rules, nil
}

func (s *stubStore) InsertAlertEvent(_ context.Context, event *model.AlertEvent) (*model.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *event
	stored.ID = "evt-1"
	stored.FiredAt = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.events = append(s.events, stored)
	return &stored, nil
}

func (s *stubStore) GetTelegramBinding(_ context.Context, projectID string) (*model.TelegramBinding, error) {
	return s.bindings[projectID], nil
}

type stubEngine struct {
	values map[string]float64
}

func (e *stubEngine) Compute(_ context.Context, q metricspkg.Query, _ *metricspkg.Cache) (float64, error) {
	return e.values[q.From.Format(time.DateOnly)], nil
}

type stubTelegram struct {
	mu       sync.Mutex
	messages []string
}

func (t *stubTelegram) SendMessage(_ context.Context, _ string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, text)
	return nil
}

func (t *stubTelegram) Configured() bool { return true }

func TestEvaluate_ThresholdFires(t *testing.T) {
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	engine := &stubEngine{values: map[string]float64{"2025-03-09": 1500}}
	eval := NewEvaluator(&stubStore{}, engine, &stubTelegram{})

	rule := &model.AlertRule{
		ProjectID: "proj-1",
		MetricKey: "gross_sales",
		RuleType:  model.AlertRuleThreshold,
		Params:    map[string]any{"threshold": 1000.0},
	}
	fired, payload, err := eval.Evaluate(context.Background(), rule, today)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, "threshold", payload["type"])
	assert.Equal(t, 1500.0, payload["value"])
	assert.Equal(t, "gt", payload["comparison"])
	assert.Equal(t, "2025-03-09", payload["from_date"])
}

func TestEvaluate_ThresholdComparisons(t *testing.T) {
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	engine := &stubEngine{values: map[string]float64{"2025-03-09": 100}}
	eval := NewEvaluator(&stubStore{}, engine, &stubTelegram{})

	cases := []struct {
		comparison string
		threshold  float64
		fired      bool
	}{
		{"gt", 100, false},
		{"gte", 100, true},
		{"lt", 100, false},
		{"lte", 100, true},
	}
	for _, tc := range cases {
		rule := &model.AlertRule{
			RuleType: model.AlertRuleThreshold,
			Params:   map[string]any{"threshold": tc.threshold, "comparison": tc.comparison},
		}
		fired, _, err := eval.Evaluate(context.Background(), rule, today)
		require.NoError(t, err, tc.comparison)
		assert.Equal(t, tc.fired, fired, tc.comparison)
	}
}

func TestEvaluate_ThresholdRequiresThreshold(t *testing.T) {
	eval := NewEvaluator(&stubStore{}, &stubEngine{}, &stubTelegram{})
	rule := &model.AlertRule{RuleType: model.AlertRuleThreshold, Params: map[string]any{}}

	_, _, err := eval.Evaluate(context.Background(), rule, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold is required")
}

func TestEvaluate_AnomalyUp(t *testing.T) {
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	// current window starts a day back, baseline eight days back.
	engine := &stubEngine{values: map[string]float64{
		"2025-03-09": 300,
		"2025-03-02": 700,
	}}
	eval := NewEvaluator(&stubStore{}, engine, &stubTelegram{})

	rule := &model.AlertRule{
		RuleType: model.AlertRuleAnomaly,
		Params:   map[string]any{"lookback_days": 7.0, "delta_percent": 50.0},
	}
	fired, payload, err := eval.Evaluate(context.Background(), rule, today)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 100.0, payload["baseline_avg"])
	assert.InDelta(t, 200.0, payload["delta_percent"].(float64), 1e-9)
}

func TestEvaluate_AnomalyZeroBaseline(t *testing.T) {
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	engine := &stubEngine{values: map[string]float64{"2025-03-09": 300}}
	eval := NewEvaluator(&stubStore{}, engine, &stubTelegram{})

	rule := &model.AlertRule{RuleType: model.AlertRuleAnomaly, Params: map[string]any{}}
	fired, payload, err := eval.Evaluate(context.Background(), rule, today)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, "baseline_avg_zero", payload["reason"])
}

func TestEvaluate_UnsupportedRuleType(t *testing.T) {
	eval := NewEvaluator(&stubStore{}, &stubEngine{}, &stubTelegram{})
	rule := &model.AlertRule{RuleType: "weekly_digest"}

	_, _, err := eval.Evaluate(context.Background(), rule, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported rule type")
}

func TestRunDaily_PersistsBeforeDelivery(t *testing.T) {
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &stubStore{
		rules: []model.AlertRule{{
			ID:        "rule-1",
			ProjectID: "proj-1",
			MetricKey: "refunds",
			RuleType:  model.AlertRuleThreshold,
			Params:    map[string]any{"threshold": 100.0},
			IsEnabled: true,
		}},
		bindings: map[string]*model.TelegramBinding{
			"proj-1": {ProjectID: "proj-1", ChatID: "555"},
		},
	}
	engine := &stubEngine{values: map[string]float64{"2025-03-09": 250}}
	tg := &stubTelegram{}

	events, err := NewEvaluator(store, engine, tg).RunDaily(context.Background(), today)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "rule-1", events[0].RuleID)
	require.Len(t, store.events, 1)
	require.Len(t, tg.messages, 1)
	assert.Contains(t, tg.messages[0], "Alert: refunds")
	assert.Contains(t, tg.messages[0], `"type": "threshold"`)
}

func TestRunDaily_NoBindingStillRecordsEvent(t *testing.T) {
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &stubStore{
		rules: []model.AlertRule{{
			ID:        "rule-1",
			ProjectID: "proj-1",
			MetricKey: "refunds",
			RuleType:  model.AlertRuleThreshold,
			Params:    map[string]any{"threshold": 100.0},
			IsEnabled: true,
		}},
	}
	engine := &stubEngine{values: map[string]float64{"2025-03-09": 250}}
	tg := &stubTelegram{}

	events, err := NewEvaluator(store, engine, tg).RunDaily(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, tg.messages)
}

func TestFormatMessage(t *testing.T) {
	rule := &model.AlertRule{MetricKey: "gross_sales"}
	msg := FormatMessage(rule, map[string]any{"type": "threshold", "value": 42.0})

	assert.Contains(t, msg, "Alert: gross_sales\n")
	assert.Contains(t, msg, `"value": 42`)
}
