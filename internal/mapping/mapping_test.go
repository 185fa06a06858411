package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func TestSuggest_Transactions(t *testing.T) {
	headers := []string{"Дата операции", "Сумма", "Тип операции", "Менеджер", "utm_source", "Заказ", "Что-то своё"}
	got := Suggest(headers, model.UploadTransactions)

	assert.Equal(t, "paid_at", got["Дата операции"])
	assert.Equal(t, "amount", got["Сумма"])
	assert.Equal(t, "operation_type", got["Тип операции"])
	assert.Equal(t, "manager", got["Менеджер"])
	assert.Equal(t, "utm_source", got["utm_source"])
	assert.Equal(t, "order_id", got["Заказ"])
	assert.Equal(t, "", got["Что-то своё"])
}

func TestSuggest_FirstRuleWins(t *testing.T) {
	// "id транзакции" also contains "дата"? no; but transaction_id keywords
	// must beat the order_id rule for a combined header
	got := Suggest([]string{"Transaction ID заказа"}, model.UploadTransactions)
	assert.Equal(t, "transaction_id", got["Transaction ID заказа"])
}

func TestSuggest_SpendRestrictedFields(t *testing.T) {
	got := Suggest([]string{"Расход", "Менеджер"}, model.UploadMarketingSpend)
	assert.Equal(t, "spend_amount", got["Расход"])
	// manager is not a marketing-spend field
	assert.Equal(t, "", got["Менеджер"])
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := model.MappingConfig{
		Mapping:                map[string]string{"Дата": "paid_at"},
		UnknownOperationPolicy: "error",
	}
	err := Validate(&cfg, model.UploadTransactions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Не заполнены обязательные поля")
	assert.Contains(t, err.Error(), "operation_type")
	assert.Contains(t, err.Error(), "amount")
}

func TestValidate_BadPolicy(t *testing.T) {
	cfg := model.MappingConfig{
		Mapping: map[string]string{
			"Дата": "paid_at", "Тип": "operation_type", "Сумма": "amount",
		},
		UnknownOperationPolicy: "drop",
	}
	err := Validate(&cfg, model.UploadTransactions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "политика")
}

func TestValidate_RemapNormalizedAndChecked(t *testing.T) {
	cfg := model.MappingConfig{
		Mapping: map[string]string{
			"Дата": "paid_at", "Тип": "operation_type", "Сумма": "amount",
		},
		OperationTypeMapping: map[string]string{"  Оплата Картой ": "sale", "": "refund"},
	}
	require.NoError(t, Validate(&cfg, model.UploadTransactions))
	assert.Equal(t, "error", cfg.UnknownOperationPolicy)
	assert.Equal(t, map[string]string{"оплата картой": "sale"}, cfg.OperationTypeMapping)

	cfg.OperationTypeMapping = map[string]string{"возврат": "chargeback"}
	err := Validate(&cfg, model.UploadTransactions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "маппинга типов операций")
}

func TestValidate_SpendRequired(t *testing.T) {
	cfg := model.MappingConfig{Mapping: map[string]string{"Дата": "date", "Расход": "spend_amount"}}
	assert.NoError(t, Validate(&cfg, model.UploadMarketingSpend))
}

func TestFieldToHeader(t *testing.T) {
	cfg := model.MappingConfig{Mapping: map[string]string{
		"b_amount": "amount",
		"a_amount": "amount",
		"junk":     FieldIgnore,
		"unset":    FieldNotSet,
		"Дата":     "paid_at",
		"blank":    "",
	}}
	got := FieldToHeader(cfg)
	assert.Equal(t, map[string]string{
		"amount":  "a_amount",
		"paid_at": "Дата",
	}, got)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"paid_at", "operation_type", "amount"}, RequiredFields(model.UploadTransactions))
	assert.Equal(t, []string{"date", "spend_amount"}, RequiredFields(model.UploadMarketingSpend))
}
