// Package alerting evaluates threshold and anomaly rules against
// computed metrics and delivers fired alerts to Telegram. Events are
// persisted before delivery so a failed send never loses history.
package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	metricspkg "github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/pkg/telegram"
)

// Store supplies rules and bindings and persists fired events.
type Store interface {
	ListEnabledAlertRules(ctx context.Context) ([]model.AlertRule, error)
	InsertAlertEvent(ctx context.Context, event *model.AlertEvent) (*model.AlertEvent, error)
	GetTelegramBinding(ctx context.Context, projectID string) (*model.TelegramBinding, error)
}

// Engine computes scalar metric values.
type Engine interface {
	Compute(ctx context.Context, q metricspkg.Query, cache *metricspkg.Cache) (float64, error)
}

// Evaluator runs alert rules.
type Evaluator struct {
	store    Store
	engine   Engine
	telegram telegram.Client
}

func NewEvaluator(store Store, engine Engine, tg telegram.Client) *Evaluator {
	return &Evaluator{store: store, engine: engine, telegram: tg}
}

// Evaluate runs one rule against the metric values as of today and
// returns whether it fired plus the evidence payload.
func (e *Evaluator) Evaluate(ctx context.Context, rule *model.AlertRule, today time.Time) (bool, map[string]any, error) {
	switch rule.RuleType {
	case model.AlertRuleThreshold:
		return e.evaluateThreshold(ctx, rule, today)
	case model.AlertRuleAnomaly:
		return e.evaluateAnomaly(ctx, rule, today)
	default:
		return false, nil, eris.Errorf("alerting: unsupported rule type %q", rule.RuleType)
	}
}

func (e *Evaluator) evaluateThreshold(ctx context.Context, rule *model.AlertRule, today time.Time) (bool, map[string]any, error) {
	threshold, ok := paramFloat(rule.Params, "threshold")
	if !ok {
		return false, nil, eris.New("alerting: threshold is required")
	}
	comparison := paramString(rule.Params, "comparison", "gt")
	lookbackDays := paramInt(rule.Params, "lookback_days", 1)

	from := today.AddDate(0, 0, -lookbackDays)
	to := today
	value, err := e.engine.Compute(ctx, metricspkg.Query{
		ProjectID: rule.ProjectID, MetricKey: rule.MetricKey, From: &from, To: &to,
	}, nil)
	if err != nil {
		return false, nil, err
	}

	var fired bool
	switch comparison {
	case "gt":
		fired = value > threshold
	case "gte":
		fired = value >= threshold
	case "lt":
		fired = value < threshold
	case "lte":
		fired = value <= threshold
	default:
		return false, nil, eris.New("alerting: comparison must be one of gt, gte, lt, lte")
	}

	payload := map[string]any{
		"type":       "threshold",
		"metric_key": rule.MetricKey,
		"value":      value,
		"threshold":  threshold,
		"comparison": comparison,
		"from_date":  from.Format(time.DateOnly),
		"to_date":    to.Format(time.DateOnly),
	}
	return fired, payload, nil
}

func (e *Evaluator) evaluateAnomaly(ctx context.Context, rule *model.AlertRule, today time.Time) (bool, map[string]any, error) {
	lookbackDays := paramInt(rule.Params, "lookback_days", 7)
	deltaPercent, ok := paramFloat(rule.Params, "delta_percent")
	if !ok {
		deltaPercent = 20
	}
	direction := paramString(rule.Params, "direction", "up")
	if direction != "up" && direction != "down" {
		return false, nil, eris.New("alerting: direction must be up or down")
	}

	currentFrom := today.AddDate(0, 0, -1)
	currentTo := today
	baselineFrom := today.AddDate(0, 0, -(lookbackDays + 1))
	baselineTo := today.AddDate(0, 0, -1)

	currentValue, err := e.engine.Compute(ctx, metricspkg.Query{
		ProjectID: rule.ProjectID, MetricKey: rule.MetricKey, From: &currentFrom, To: &currentTo,
	}, nil)
	if err != nil {
		return false, nil, err
	}
	baselineTotal, err := e.engine.Compute(ctx, metricspkg.Query{
		ProjectID: rule.ProjectID, MetricKey: rule.MetricKey, From: &baselineFrom, To: &baselineTo,
	}, nil)
	if err != nil {
		return false, nil, err
	}

	baselineAvg := 0.0
	if lookbackDays > 0 {
		baselineAvg = baselineTotal / float64(lookbackDays)
	}
	if baselineAvg == 0 {
		return false, map[string]any{
			"type":          "anomaly",
			"metric_key":    rule.MetricKey,
			"reason":        "baseline_avg_zero",
			"current_value": currentValue,
		}, nil
	}

	delta := (currentValue - baselineAvg) / baselineAvg * 100
	fired := delta >= deltaPercent
	if direction == "down" {
		fired = delta <= -deltaPercent
	}

	payload := map[string]any{
		"type":              "anomaly",
		"metric_key":        rule.MetricKey,
		"current_value":     currentValue,
		"baseline_avg":      baselineAvg,
		"delta_percent":     delta,
		"direction":         direction,
		"threshold_percent": deltaPercent,
		"baseline_from":     baselineFrom.Format(time.DateOnly),
		"baseline_to":       baselineTo.Format(time.DateOnly),
		"current_from":      currentFrom.Format(time.DateOnly),
		"current_to":        currentTo.Format(time.DateOnly),
	}
	return fired, payload, nil
}

// RunDaily evaluates every enabled rule across all projects and
// returns the fired events. Rules of one project run sequentially;
// projects run concurrently.
func (e *Evaluator) RunDaily(ctx context.Context, today time.Time) ([]model.AlertEvent, error) {
	rules, err := e.store.ListEnabledAlertRules(ctx)
	if err != nil {
		return nil, err
	}

	byProject := make(map[string][]model.AlertRule)
	var projectOrder []string
	for _, rule := range rules {
		if _, seen := byProject[rule.ProjectID]; !seen {
			projectOrder = append(projectOrder, rule.ProjectID)
		}
		byProject[rule.ProjectID] = append(byProject[rule.ProjectID], rule)
	}

	results := make([][]model.AlertEvent, len(projectOrder))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, projectID := range projectOrder {
		i, projectID := i, projectID
		group.Go(func() error {
			events, err := e.runProject(gctx, projectID, byProject[projectID], today)
			if err != nil {
				return err
			}
			results[i] = events
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var events []model.AlertEvent
	for _, projectEvents := range results {
		events = append(events, projectEvents...)
	}
	return events, nil
}

func (e *Evaluator) runProject(ctx context.Context, projectID string, rules []model.AlertRule, today time.Time) ([]model.AlertEvent, error) {
	var events []model.AlertEvent
	for i := range rules {
		rule := rules[i]
		fired, payload, err := e.Evaluate(ctx, &rule, today)
		if err != nil {
			return nil, eris.Wrapf(err, "alerting: evaluate rule %s", rule.ID)
		}
		if !fired {
			continue
		}

		event, err := e.store.InsertAlertEvent(ctx, &model.AlertEvent{RuleID: rule.ID, Payload: payload})
		if err != nil {
			return nil, err
		}
		events = append(events, *event)

		binding, err := e.store.GetTelegramBinding(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if binding == nil || !e.telegram.Configured() {
			continue
		}
		if err := e.telegram.SendMessage(ctx, binding.ChatID, FormatMessage(&rule, payload)); err != nil {
			zap.L().Warn("telegram delivery failed",
				zap.String("rule_id", rule.ID),
				zap.String("project_id", projectID),
				zap.Error(err))
		}
	}
	return events, nil
}

// FormatMessage renders the Telegram text for a fired rule.
func FormatMessage(rule *model.AlertRule, payload map[string]any) string {
	details, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		details = []byte("{}")
	}
	return "Alert: " + rule.MetricKey + "\n" + string(details)
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func paramInt(params map[string]any, key string, fallback int) int {
	if v, ok := paramFloat(params, key); ok {
		return int(v)
	}
	return fallback
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
