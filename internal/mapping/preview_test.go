package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		expected string
	}{
		{"dates", []string{"2024-01-01", "15.02.2024", ""}, "date"},
		{"integers", []string{"1", "-5", "200"}, "integer"},
		{"floats", []string{"1.5", "2,25", "3"}, "float"},
		{"mixed", []string{"1", "abc"}, "string"},
		{"empty", []string{"", ""}, "string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferType(tt.values))
		})
	}
}

func TestBuildPreview(t *testing.T) {
	upload := model.Upload{ID: "u1", ProjectID: "p1", Type: model.UploadTransactions}
	headers := []string{"Дата", "Сумма"}
	rows := [][]string{
		{"2024-01-01", "100"},
		{"2024-01-01", "250.5"},
		{"2024-01-02"},
	}

	preview := BuildPreview(upload, headers, rows)

	assert.Equal(t, headers, preview.Headers)
	assert.Equal(t, "p1", preview.ProjectID)
	assert.Equal(t, model.UploadTransactions, preview.UploadType)
	assert.Equal(t, "date", preview.InferredTypes["Дата"])
	assert.Equal(t, "paid_at", preview.MappingSuggestions["Дата"])
	assert.Equal(t, "amount", preview.MappingSuggestions["Сумма"])

	stats := preview.ColumnStats["Дата"]
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, stats.UniqueValues)
	assert.Equal(t, 2, stats.UniqueCount)
	assert.Equal(t, 3, stats.SampleCount)

	// short row pads the missing amount with an empty string
	amountStats := preview.ColumnStats["Сумма"]
	assert.Equal(t, 3, amountStats.SampleCount)
	assert.Contains(t, amountStats.UniqueValues, "")
}
