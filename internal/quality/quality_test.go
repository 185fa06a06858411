package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/internal/normalize"
)

func txConfig() model.MappingConfig {
	return model.MappingConfig{
		Mapping: map[string]string{
			"Дата":       "paid_at",
			"Тип":        "operation_type",
			"Сумма":      "amount",
			"Заказ":      "order_id",
			"Транзакция": "transaction_id",
			"Комиссия":   "fee_1",
		},
		UnknownOperationPolicy: "error",
	}
}

var txHeaders = []string{"Дата", "Тип", "Сумма", "Заказ", "Транзакция", "Комиссия"}

func TestAnalyze_ValidSale(t *testing.T) {
	report, results := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"2024-03-01", "sale", "1 500,50", "o-1", "t-1", "75"},
	})

	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, Stats{TotalRows: 1, ValidRows: 1}, report.Stats)

	require.Len(t, results, 1)
	row := results[0]
	assert.Equal(t, 2, row.RowIndex)
	assert.False(t, row.Skip)
	assert.Equal(t, model.OperationSale, row.Parsed.OperationType)
	assert.InDelta(t, 1500.5, row.Parsed.Amount, 1e-9)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), row.Parsed.PaidAt)
	assert.InDelta(t, 75, row.Parsed.Fee1, 1e-9)
	assert.InDelta(t, 75, row.Parsed.FeeTotal, 1e-9)
}

func TestAnalyze_RequiredFieldMissing(t *testing.T) {
	report, results := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"", "sale", "100", "", "", ""},
	})

	require.NotEmpty(t, report.Errors)
	assert.Equal(t, "Поле обязательно для заполнения.", report.Errors[0].Message)
	assert.Equal(t, "paid_at", report.Errors[0].Field)
	assert.Equal(t, 2, report.Errors[0].Row)
	assert.True(t, results[0].Skip)
	assert.Equal(t, 0, report.Stats.ValidRows)
}

func TestAnalyze_BadDateAndAmount(t *testing.T) {
	report, _ := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"когда-то", "sale", "0", "", "", ""},
	})

	messages := make([]string, 0, len(report.Errors))
	for _, issue := range report.Errors {
		messages = append(messages, issue.Message)
	}
	assert.Contains(t, messages, "Дата платежа не распознана.")
	assert.Contains(t, messages, "Сумма должна быть больше 0.")
}

func TestAnalyze_NegativeAmountAbs(t *testing.T) {
	report, results := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"2024-03-01", "sale", "-250", "", "", ""},
	})

	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Отрицательная сумма, используем модуль.", report.Warnings[0].Message)
	assert.InDelta(t, 250, results[0].Parsed.Amount, 1e-9)
	assert.Equal(t, 1, report.Stats.ValidRows)
}

func TestAnalyze_DuplicateKeyWarning(t *testing.T) {
	report, _ := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"2024-03-01", "sale", "100", "", "t-1", ""},
		{"2024-03-02", "sale", "200", "", "t-1", ""},
		{"2024-03-03", "sale", "300", "o-9", "", ""},
		{"2024-03-04", "sale", "400", "o-9", "", ""},
	})

	require.Len(t, report.Warnings, 2)
	assert.Equal(t, "Повторяющийся transaction_id/order_id.", report.Warnings[0].Message)
	assert.Equal(t, "transaction_id", report.Warnings[0].Field)
	assert.Equal(t, "order_id", report.Warnings[1].Field)
	assert.Equal(t, 4, report.Stats.ValidRows)
}

func TestAnalyze_OperationResolutionOrder(t *testing.T) {
	cfg := txConfig()
	cfg.Mapping["Способ"] = "payment_method"
	cfg.OperationTypeMapping = map[string]string{"покупка": "sale"}
	headers := append(txHeaders, "Способ")

	report, results := Analyze(model.UploadTransactions, cfg, headers, [][]string{
		{"2024-03-01", "Покупка", "100", "", "", "", ""},          // value remap
		{"2024-03-01", "refund", "100", "", "", "", ""},           // literal
		{"2024-03-01", "Возврат средств", "100", "", "", "", ""},  // marker on operation text
		{"2024-03-01", "перевод", "100", "", "", "", "Оплата картой"}, // marker on payment method
	})

	_ = report
	assert.Equal(t, model.OperationSale, results[0].Parsed.OperationType)
	assert.Equal(t, model.OperationRefund, results[1].Parsed.OperationType)
	assert.Equal(t, model.OperationRefund, results[2].Parsed.OperationType)
	assert.Equal(t, model.OperationSale, results[3].Parsed.OperationType)
}

func TestAnalyze_UnknownOperationErrorPolicy(t *testing.T) {
	report, results := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"2024-03-01", "телепортация", "100", "", "", ""},
	})

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Тип операции должен быть sale или refund.", report.Errors[0].Message)
	assert.True(t, results[0].Skip)
	assert.Equal(t, 0, report.Stats.SkippedRows)
}

func TestAnalyze_UnknownOperationIgnorePolicy(t *testing.T) {
	cfg := txConfig()
	cfg.UnknownOperationPolicy = "ignore"
	report, results := Analyze(model.UploadTransactions, cfg, txHeaders, [][]string{
		{"2024-03-01", "телепортация", "100", "", "", ""},
		{"2024-03-01", "sale", "100", "", "", ""},
	})

	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Тип операции не распознан. Строка пропущена.", report.Warnings[0].Message)
	assert.True(t, results[0].Skip)
	assert.False(t, results[1].Skip)
	assert.Equal(t, Stats{TotalRows: 2, ValidRows: 1, WarningCount: 1, SkippedRows: 1}, report.Stats)
}

func TestAnalyze_FeeFallback(t *testing.T) {
	report, results := Analyze(model.UploadTransactions, txConfig(), txHeaders, [][]string{
		{"2024-03-01", "sale", "100", "", "", "не знаю"},
	})

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Комиссия не распознана, использовано 0.", report.Warnings[0].Message)
	assert.Equal(t, "fee_1", report.Warnings[0].Field)
	assert.Zero(t, results[0].Parsed.Fee1)
	assert.Zero(t, results[0].Parsed.FeeTotal)
	assert.Equal(t, 1, report.Stats.ValidRows)
}

func TestAnalyze_NormalizationRules(t *testing.T) {
	cfg := txConfig()
	cfg.Mapping["Менеджер"] = "manager"
	cfg.Normalization = map[string]normalize.Rules{
		"Менеджер": {Trim: true, Lowercase: true},
	}
	headers := append(txHeaders, "Менеджер")

	_, results := Analyze(model.UploadTransactions, cfg, headers, [][]string{
		{"2024-03-01", "sale", "100", "", "", "", "  ИВАНОВ  "},
	})

	assert.Equal(t, "иванов", results[0].Payload["manager"].Normalized)
	assert.Equal(t, "  ИВАНОВ  ", results[0].Payload["manager"].Raw)
}

func TestAnalyze_MarketingSpend(t *testing.T) {
	cfg := model.MappingConfig{Mapping: map[string]string{
		"Дата":   "date",
		"Расход": "spend_amount",
	}}
	report, results := Analyze(model.UploadMarketingSpend, cfg, []string{"Дата", "Расход"}, [][]string{
		{"2024-03-01", "1000"},
		{"2024-03-02", "-5"},
		{"мусор", "10"},
	})

	assert.Equal(t, 1, report.Stats.ValidRows)
	assert.Equal(t, 3, report.Stats.TotalRows)
	assert.InDelta(t, 1000, results[0].Parsed.SpendAmount, 1e-9)
	assert.True(t, results[1].Skip)
	assert.True(t, results[2].Skip)

	messages := make([]string, 0, len(report.Errors))
	for _, issue := range report.Errors {
		messages = append(messages, issue.Message)
	}
	assert.Contains(t, messages, "Сумма должна быть больше 0.")
	assert.Contains(t, messages, "Дата не распознана.")
}

func TestInferOperation(t *testing.T) {
	tests := []struct {
		input    string
		expected model.OperationType
		ok       bool
	}{
		{"Оплата картой", model.OperationSale, true},
		{"поступление средств", model.OperationSale, true},
		{"Возврат", model.OperationRefund, true},
		{"возврат оплаты", model.OperationRefund, true}, // refund markers win
		{"отмена платежа", model.OperationRefund, true},
		{"перевод", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := InferOperation(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.expected, got, tt.input)
	}
}

func TestDedupKey(t *testing.T) {
	row := RowResult{Payload: map[string]FieldValue{
		"transaction_id": {Normalized: "t-1"},
		"order_id":       {Normalized: "o-1"},
	}}
	assert.Equal(t, "t-1", DedupKey(row, true))

	row.Payload["transaction_id"] = FieldValue{}
	assert.Equal(t, "o-1", DedupKey(row, true))
	assert.Equal(t, "", DedupKey(row, false))
}
