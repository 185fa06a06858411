package model

import "time"

// AlertRuleType selects the evaluation strategy for a rule.
type AlertRuleType string

const (
	AlertRuleThreshold AlertRuleType = "threshold"
	AlertRuleAnomaly   AlertRuleType = "anomaly"
)

// Valid reports whether t is a supported rule type.
func (t AlertRuleType) Valid() bool {
	return t == AlertRuleThreshold || t == AlertRuleAnomaly
}

// AlertRule watches one metric for a project.
type AlertRule struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	MetricKey string         `json:"metric_key"`
	RuleType  AlertRuleType  `json:"rule_type"`
	Params    map[string]any `json:"params"`
	IsEnabled bool           `json:"is_enabled"`
	CreatedAt time.Time      `json:"created_at"`
}

// AlertEvent records one firing of a rule. The event is persisted
// before any delivery attempt, so a failed send never loses history.
type AlertEvent struct {
	ID      string         `json:"id"`
	RuleID  string         `json:"rule_id"`
	FiredAt time.Time      `json:"fired_at"`
	Payload map[string]any `json:"payload"`
}

// TelegramBinding connects a project to a Telegram chat. At most one
// binding per project.
type TelegramBinding struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Insight is a stored narrative finding over a metric and period.
type Insight struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	MetricKey  string         `json:"metric_key"`
	PeriodFrom time.Time      `json:"period_from"`
	PeriodTo   time.Time      `json:"period_to"`
	Text       string         `json:"text"`
	Evidence   map[string]any `json:"evidence"`
	CreatedAt  time.Time      `json:"created_at"`
}
