// Package mapping suggests and validates column mappings between
// uploaded file headers and canonical fact fields.
package mapping

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/internal/normalize"
)

// FieldIgnore and FieldNotSet are mapping targets that mean "drop this
// column"; they never make it into the field-to-header index.
const (
	FieldIgnore = "ignore"
	FieldNotSet = "not_set"
)

// suggestionRule pairs a canonical field with the header keywords that
// select it. Rules are scanned in order and the first match wins, so
// the most specific keys come first.
type suggestionRule struct {
	Field    string
	Keywords []string
}

var suggestionRules = []suggestionRule{
	{"transaction_id", []string{"transaction_id", "transaction id", "id транзакции"}},
	{"order_id", []string{"order_id", "order id", "id заказа", "номер заказа", "заказ"}},
	{"paid_at", []string{"paid_at", "payment date", "дата платежа", "дата операции", "дата", "date"}},
	{"operation_type", []string{"operation_type", "operation type", "тип операции", "operation"}},
	{"amount", []string{"amount", "sum", "сумма", "стоимость", "оплата"}},
	{"payment_method", []string{"payment method", "payment_method", "method", "способ оплаты"}},
	{"client_id", []string{"client_id", "client id", "customer_id", "id клиента", "клиент"}},
	{"product_name", []string{"product", "product_name", "название товара", "наименование"}},
	{"product_category", []string{"category", "product_category", "категория", "группа"}},
	{"manager", []string{"manager", "sales", "менеджер", "продавец"}},
	{"group_1", []string{"group_1", "group 1", "группа 1", "группировка 1"}},
	{"group_2", []string{"group_2", "group 2", "группа 2", "группировка 2"}},
	{"group_3", []string{"group_3", "group 3", "группа 3", "группировка 3"}},
	{"group_4", []string{"group_4", "group 4", "группа 4", "группировка 4"}},
	{"group_5", []string{"group_5", "group 5", "группа 5", "группировка 5"}},
	{"fee_1", []string{"fee_1", "fee 1", "комиссия 1"}},
	{"fee_2", []string{"fee_2", "fee 2", "комиссия 2"}},
	{"fee_3", []string{"fee_3", "fee 3", "комиссия 3"}},
	{"utm_source", []string{"utm_source", "utm source", "источник"}},
	{"utm_medium", []string{"utm_medium", "utm medium"}},
	{"utm_campaign", []string{"utm_campaign", "utm campaign"}},
	{"utm_term", []string{"utm_term", "utm term"}},
	{"utm_content", []string{"utm_content", "utm content"}},
	{"date", []string{"paid_at", "payment date", "дата платежа", "дата операции", "дата", "date"}},
	{"spend_amount", []string{"spend", "spend_amount", "cost", "расход", "затраты", "budget"}},
}

var transactionFields = map[string]bool{
	"paid_at": true, "amount": true, "operation_type": true,
	"payment_method": true,
	"group_1":        true, "group_2": true, "group_3": true, "group_4": true, "group_5": true,
	"fee_1": true, "fee_2": true, "fee_3": true,
	"transaction_id": true, "order_id": true, "client_id": true,
	"product_name": true, "product_category": true, "manager": true,
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true,
}

// OptionalTransactionFields lists every non-required transaction field
// in the order the quality engine captures them into row payloads.
var OptionalTransactionFields = []string{
	"transaction_id", "order_id", "client_id",
	"product_name", "product_category", "manager", "payment_method",
	"group_1", "group_2", "group_3", "group_4", "group_5",
	"fee_1", "fee_2", "fee_3",
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
}

// RequiredFields returns the canonical fields a mapping must cover for
// the given upload type.
func RequiredFields(t model.UploadType) []string {
	if t == model.UploadMarketingSpend {
		return []string{"date", "spend_amount"}
	}
	return []string{"paid_at", "operation_type", "amount"}
}

func availableFields(t model.UploadType) map[string]bool {
	if t == model.UploadTransactions {
		return transactionFields
	}
	fields := make(map[string]bool)
	for _, f := range RequiredFields(t) {
		fields[f] = true
	}
	return fields
}

// Suggest proposes a canonical field for each header. Headers that
// match nothing map to the empty string.
func Suggest(headers []string, t model.UploadType) map[string]string {
	available := availableFields(t)
	suggestions := make(map[string]string, len(headers))
	for _, header := range headers {
		normalized := normalize.Header(header)
		suggestions[header] = ""
		for _, rule := range suggestionRules {
			if !available[rule.Field] {
				continue
			}
			if matchesAny(normalized, rule.Keywords) {
				suggestions[header] = rule.Field
				break
			}
		}
	}
	return suggestions
}

func matchesAny(normalized string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

// Validate checks a mapping config before it is persisted: every
// required field covered, a known unknown-operation policy, and
// operation remaps targeting only sale/refund. Remap keys are
// canonicalised to trimmed lowercase in place.
func Validate(cfg *model.MappingConfig, t model.UploadType) error {
	selected := make(map[string]bool, len(cfg.Mapping))
	for _, field := range cfg.Mapping {
		if field != "" {
			selected[field] = true
		}
	}
	var missing []string
	for _, field := range RequiredFields(t) {
		if !selected[field] {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("Не заполнены обязательные поля: %s.", strings.Join(missing, ", "))
	}

	if cfg.UnknownOperationPolicy == "" {
		cfg.UnknownOperationPolicy = "error"
	}
	if cfg.UnknownOperationPolicy != "error" && cfg.UnknownOperationPolicy != "ignore" {
		return eris.New("Неверная политика для нераспознанных типов операций.")
	}

	remap := make(map[string]string, len(cfg.OperationTypeMapping))
	for rawKey, target := range cfg.OperationTypeMapping {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		if target != string(model.OperationSale) && target != string(model.OperationRefund) {
			return eris.New("Неверные значения для маппинга типов операций.")
		}
		remap[key] = target
	}
	cfg.OperationTypeMapping = remap
	return nil
}

// FieldToHeader inverts a saved mapping: canonical field to the source
// header that feeds it. Ignored columns are skipped, and when two
// headers claim the same field the alphabetically first header wins so
// the choice is stable.
func FieldToHeader(cfg model.MappingConfig) map[string]string {
	headers := make([]string, 0, len(cfg.Mapping))
	for header := range cfg.Mapping {
		headers = append(headers, header)
	}
	sort.Strings(headers)

	fieldToHeader := make(map[string]string)
	for _, header := range headers {
		field := cfg.Mapping[header]
		if field == "" || field == FieldIgnore || field == FieldNotSet {
			continue
		}
		if _, ok := fieldToHeader[field]; !ok {
			fieldToHeader[field] = header
		}
	}
	return fieldToHeader
}
