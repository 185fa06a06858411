package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/merchant-metrics/internal/model"
)

const alertEventsLimit = 100

// rule loads the path rule scoped to the project, answering 404 itself.
func (s *Server) rule(w http.ResponseWriter, r *http.Request, projectID string) (*model.AlertRule, bool) {
	rule, err := s.store.GetAlertRule(r.Context(), projectID, chi.URLParam(r, "ruleID"))
	if err != nil {
		respondInternal(w, err)
		return nil, false
	}
	if rule == nil {
		respondDetail(w, http.StatusNotFound, "Правило не найдено.")
		return nil, false
	}
	return rule, true
}

func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	rules, err := s.store.ListAlertRules(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if rules == nil {
		rules = []model.AlertRule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateAlertRule(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body struct {
		MetricKey string              `json:"metric_key"`
		RuleType  model.AlertRuleType `json:"rule_type"`
		Params    map[string]any      `json:"params"`
		IsEnabled bool                `json:"is_enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !body.RuleType.Valid() {
		respondDetail(w, http.StatusBadRequest, "Неподдерживаемый тип правила.")
		return
	}
	if body.Params == nil {
		body.Params = map[string]any{}
	}
	rule, err := s.store.CreateAlertRule(r.Context(), &model.AlertRule{
		ProjectID: project.ID,
		MetricKey: body.MetricKey,
		RuleType:  body.RuleType,
		Params:    body.Params,
		IsEnabled: body.IsEnabled,
	})
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	rule, ok := s.rule(w, r, project.ID)
	if !ok {
		return
	}
	var body struct {
		MetricKey *string              `json:"metric_key"`
		RuleType  *model.AlertRuleType `json:"rule_type"`
		Params    map[string]any       `json:"params"`
		IsEnabled *bool                `json:"is_enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.MetricKey != nil {
		rule.MetricKey = *body.MetricKey
	}
	if body.RuleType != nil {
		if !body.RuleType.Valid() {
			respondDetail(w, http.StatusBadRequest, "Неподдерживаемый тип правила.")
			return
		}
		rule.RuleType = *body.RuleType
	}
	if body.Params != nil {
		rule.Params = body.Params
	}
	if body.IsEnabled != nil {
		rule.IsEnabled = *body.IsEnabled
	}
	if err := s.store.UpdateAlertRule(r.Context(), rule); err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	rule, ok := s.rule(w, r, project.ID)
	if !ok {
		return
	}
	if err := s.store.DeleteAlertRule(r.Context(), project.ID, rule.ID); err != nil {
		respondInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendAlertTest(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	rule, ok := s.rule(w, r, project.ID)
	if !ok {
		return
	}
	event, err := s.store.InsertAlertEvent(r.Context(), &model.AlertEvent{
		RuleID: rule.ID,
		Payload: map[string]any{
			"type":       "test",
			"metric_key": rule.MetricKey,
			"sent_at":    time.Now().UTC().Format(time.DateOnly),
		},
	})
	if err != nil {
		respondInternal(w, err)
		return
	}
	binding, err := s.store.GetTelegramBinding(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if binding == nil {
		respondDetail(w, http.StatusNotFound, "Telegram не подключен.")
		return
	}
	messageSent := false
	if s.telegram.Configured() {
		if err := s.telegram.SendMessage(r.Context(), binding.ChatID, fmt.Sprintf("Test alert: %s", rule.MetricKey)); err != nil {
			respondDetail(w, http.StatusBadGateway, "Не удалось отправить сообщение в Telegram.")
			return
		}
		messageSent = true
	}
	respondJSON(w, http.StatusOK, map[string]any{"event": event, "message_sent": messageSent})
}

func (s *Server) handleListAlertEvents(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	events, err := s.store.ListAlertEvents(r.Context(), project.ID, alertEventsLimit)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if events == nil {
		events = []model.AlertEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetTelegramBinding(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	binding, err := s.store.GetTelegramBinding(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if binding == nil {
		respondDetail(w, http.StatusNotFound, "Telegram не подключен.")
		return
	}
	respondJSON(w, http.StatusOK, binding)
}

func (s *Server) handleSetTelegramBinding(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body struct {
		ChatID string `json:"chat_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	chatID := strings.TrimSpace(body.ChatID)
	if chatID == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "Укажите chat_id.")
		return
	}
	binding, err := s.store.SetTelegramBinding(r.Context(), project.ID, chatID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, binding)
}

func (s *Server) handleDeleteTelegramBinding(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTelegramBinding(r.Context(), project.ID); err != nil {
		respondInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	binding, err := s.store.GetTelegramBinding(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if binding == nil {
		respondDetail(w, http.StatusNotFound, "Telegram не подключен.")
		return
	}
	if !s.telegram.Configured() {
		respondJSON(w, http.StatusOK, map[string]any{"message_sent": false})
		return
	}
	if err := s.telegram.SendMessage(r.Context(), binding.ChatID, "Тестовое сообщение Telegram"); err != nil {
		respondDetail(w, http.StatusBadGateway, "Не удалось отправить сообщение в Telegram.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message_sent": true})
}
