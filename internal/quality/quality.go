// Package quality validates mapped upload rows one by one, producing a
// report plus per-row outcomes for the importer. A bad row never aborts
// a batch; it is flagged and later quarantined.
package quality

import (
	"strings"
	"time"

	"github.com/sells-group/merchant-metrics/internal/mapping"
	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/internal/normalize"
)

// FieldValue keeps both spellings of a mapped cell so quarantined rows
// stay reviewable.
type FieldValue struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Header     string `json:"header"`
}

// ParsedRow carries the typed values of a row that passed validation.
type ParsedRow struct {
	PaidAt        time.Time
	Amount        float64
	OperationType model.OperationType
	Fee1          float64
	Fee2          float64
	Fee3          float64
	FeeTotal      float64
	Date          time.Time
	SpendAmount   float64
}

// RowResult is the engine's verdict on one source row. Row indexes are
// 1-based counting the header row, so data starts at 2.
type RowResult struct {
	RowIndex int
	Payload  map[string]FieldValue
	Parsed   ParsedRow
	Skip     bool
	Issues   []model.QualityIssue
}

// Stats summarise a validation pass.
type Stats struct {
	TotalRows    int `json:"total_rows"`
	ValidRows    int `json:"valid_rows"`
	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`
	SkippedRows  int `json:"skipped_rows"`
}

// Report is the client-facing validation result.
type Report struct {
	Errors   []model.QualityIssue `json:"errors"`
	Warnings []model.QualityIssue `json:"warnings"`
	Stats    Stats                `json:"stats"`
}

var (
	saleMarkers   = []string{"оплата", "приход", "поступление", "пополнение", "прибыль", "выплата", "оплачено"}
	refundMarkers = []string{"возврат", "возвращено", "отклонено", "отмена"}
)

// InferOperation guesses sale/refund from free-form payment or
// operation text. Refund markers are checked first so that strings like
// "возврат оплаты" resolve to refund.
func InferOperation(value string) (model.OperationType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", false
	}
	for _, marker := range refundMarkers {
		if strings.Contains(normalized, marker) {
			return model.OperationRefund, true
		}
	}
	for _, marker := range saleMarkers {
		if strings.Contains(normalized, marker) {
			return model.OperationSale, true
		}
	}
	return "", false
}

type analyzer struct {
	uploadType    model.UploadType
	cfg           model.MappingConfig
	fieldToHeader map[string]string
	headerIndex   map[string]int

	errors      []model.QualityIssue
	warnings    []model.QualityIssue
	errorRows   map[int]bool
	skippedRows int
	seenKeys    map[string]bool
}

// Analyze runs the quality engine over all rows of an upload.
func Analyze(uploadType model.UploadType, cfg model.MappingConfig, headers []string, rows [][]string) (Report, []RowResult) {
	a := &analyzer{
		uploadType:    uploadType,
		cfg:           cfg,
		fieldToHeader: mapping.FieldToHeader(cfg),
		headerIndex:   make(map[string]int, len(headers)),
		errorRows:     make(map[int]bool),
		seenKeys:      make(map[string]bool),
	}
	for index, header := range headers {
		if _, ok := a.headerIndex[header]; !ok {
			a.headerIndex[header] = index
		}
	}

	results := make([]RowResult, 0, len(rows))
	for i, row := range rows {
		results = append(results, a.analyzeRow(i+2, row))
	}

	report := Report{
		Errors:   a.errors,
		Warnings: a.warnings,
		Stats: Stats{
			TotalRows:    len(rows),
			ValidRows:    len(rows) - len(a.errorRows) - a.skippedRows,
			ErrorCount:   len(a.errors),
			WarningCount: len(a.warnings),
			SkippedRows:  a.skippedRows,
		},
	}
	return report, results
}

func (a *analyzer) analyzeRow(rowIndex int, row []string) RowResult {
	result := RowResult{
		RowIndex: rowIndex,
		Payload:  make(map[string]FieldValue),
	}
	hasError := false

	for _, field := range mapping.RequiredFields(a.uploadType) {
		fv := a.capture(row, field)
		result.Payload[field] = fv
		if fv.Normalized == "" {
			a.addError(&result, rowIndex, field, "Поле обязательно для заполнения.")
			hasError = true
		}
	}

	if a.uploadType == model.UploadTransactions {
		hasError = a.analyzeTransaction(rowIndex, row, &result) || hasError
	} else {
		hasError = a.analyzeSpend(rowIndex, &result) || hasError
	}

	if hasError {
		a.errorRows[rowIndex] = true
	}
	if result.Skip && !hasError {
		a.skippedRows++
	}
	result.Skip = result.Skip || hasError
	return result
}

func (a *analyzer) analyzeTransaction(rowIndex int, row []string, result *RowResult) bool {
	for _, field := range mapping.OptionalTransactionFields {
		if a.fieldToHeader[field] == "" {
			continue
		}
		result.Payload[field] = a.capture(row, field)
	}
	hasError := false

	key := result.Payload["transaction_id"].Normalized
	keyField := "transaction_id"
	if key == "" {
		key = result.Payload["order_id"].Normalized
		keyField = "order_id"
	}
	if key != "" {
		if a.seenKeys[key] {
			a.addWarning(result, rowIndex, keyField, "Повторяющийся transaction_id/order_id.")
		} else {
			a.seenKeys[key] = true
		}
	}

	paidAt, ok := normalize.ParseDate(result.Payload["paid_at"].Raw)
	if !ok {
		a.addError(result, rowIndex, "paid_at", "Дата платежа не распознана.")
		hasError = true
	}

	amount, ok := normalize.ParseFloat(result.Payload["amount"].Raw)
	if !ok || amount == 0 {
		a.addError(result, rowIndex, "amount", "Сумма должна быть больше 0.")
		hasError = true
	} else if amount < 0 {
		a.addWarning(result, rowIndex, "amount", "Отрицательная сумма, используем модуль.")
		amount = -amount
	}

	operation, resolved := a.resolveOperation(result)
	if !resolved {
		if a.cfg.UnknownOperationPolicy == "ignore" {
			a.addWarning(result, rowIndex, "operation_type", "Тип операции не распознан. Строка пропущена.")
			result.Skip = true
		} else {
			a.addError(result, rowIndex, "operation_type", "Тип операции должен быть sale или refund.")
			hasError = true
		}
	}

	feeTotal := 0.0
	fees := [3]float64{}
	for i, feeField := range []string{"fee_1", "fee_2", "fee_3"} {
		raw := result.Payload[feeField].Raw
		value, ok := normalize.ParseFloat(raw)
		if !ok {
			value = 0
			if strings.TrimSpace(raw) != "" {
				a.addWarning(result, rowIndex, feeField, "Комиссия не распознана, использовано 0.")
			}
		}
		fees[i] = value
		feeTotal += value
	}
	result.Parsed.Fee1, result.Parsed.Fee2, result.Parsed.Fee3 = fees[0], fees[1], fees[2]
	result.Parsed.FeeTotal = feeTotal

	if !hasError && !result.Skip {
		result.Parsed.PaidAt = paidAt
		result.Parsed.Amount = amount
		result.Parsed.OperationType = operation
	}
	return hasError
}

// resolveOperation tries, in order: the saved value remap, a literal
// sale/refund value, marker inference on the operation text, and
// finally marker inference on the payment method.
func (a *analyzer) resolveOperation(result *RowResult) (model.OperationType, bool) {
	value := strings.ToLower(strings.TrimSpace(result.Payload["operation_type"].Normalized))
	if value != "" {
		if mapped, ok := a.cfg.OperationTypeMapping[value]; ok && mapped != "" {
			return model.OperationType(mapped), true
		}
		if value == string(model.OperationSale) || value == string(model.OperationRefund) {
			return model.OperationType(value), true
		}
		if inferred, ok := InferOperation(value); ok {
			return inferred, true
		}
	}
	if inferred, ok := InferOperation(result.Payload["payment_method"].Normalized); ok {
		return inferred, true
	}
	return "", false
}

func (a *analyzer) analyzeSpend(rowIndex int, result *RowResult) bool {
	hasError := false

	date, ok := normalize.ParseDate(result.Payload["date"].Raw)
	if !ok {
		a.addError(result, rowIndex, "date", "Дата не распознана.")
		hasError = true
	}

	spend, ok := normalize.ParseFloat(result.Payload["spend_amount"].Raw)
	if !ok || spend <= 0 {
		a.addError(result, rowIndex, "spend_amount", "Сумма должна быть больше 0.")
		hasError = true
	}

	if !hasError {
		result.Parsed.Date = date
		result.Parsed.SpendAmount = spend
	}
	return hasError
}

func (a *analyzer) capture(row []string, field string) FieldValue {
	header := a.fieldToHeader[field]
	raw := ""
	if header != "" {
		if index, ok := a.headerIndex[header]; ok && index < len(row) {
			raw = row[index]
		}
	}
	rules := a.cfg.Normalization[header]
	return FieldValue{
		Raw:        raw,
		Normalized: rules.Apply(raw),
		Header:     header,
	}
}

func (a *analyzer) addError(result *RowResult, row int, field, message string) {
	issue := model.QualityIssue{Level: model.IssueError, Row: row, Field: field, Message: message}
	a.errors = append(a.errors, issue)
	result.Issues = append(result.Issues, issue)
}

func (a *analyzer) addWarning(result *RowResult, row int, field, message string) {
	issue := model.QualityIssue{Level: model.IssueWarning, Row: row, Field: field, Message: message}
	a.warnings = append(a.warnings, issue)
	result.Issues = append(result.Issues, issue)
}

// PayloadMap flattens a row payload for quarantine storage.
func PayloadMap(payload map[string]FieldValue) map[string]any {
	out := make(map[string]any, len(payload))
	for field, fv := range payload {
		out[field] = map[string]any{
			"raw":        fv.Raw,
			"normalized": fv.Normalized,
			"header":     fv.Header,
		}
	}
	return out
}

// DedupKey returns the batch dedup key for a validated row:
// transaction_id when present, else order_id when allowed.
func DedupKey(result RowResult, useOrderID bool) string {
	if key := result.Payload["transaction_id"].Normalized; key != "" {
		return key
	}
	if useOrderID {
		return result.Payload["order_id"].Normalized
	}
	return ""
}
