package mapping

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// Preview is what the mapping UI needs to present an uploaded file:
// a sample of rows plus per-column types, stats and suggestions.
type Preview struct {
	Headers            []string               `json:"headers"`
	SampleRows         [][]string             `json:"sample_rows"`
	InferredTypes      map[string]string      `json:"inferred_types"`
	MappingSuggestions map[string]string      `json:"mapping_suggestions"`
	ColumnStats        map[string]ColumnStats `json:"column_stats"`
	UploadType         model.UploadType       `json:"upload_type"`
	ProjectID          string                 `json:"project_id"`
}

// ColumnStats summarises the sampled values of one column.
type ColumnStats struct {
	UniqueValues []string `json:"unique_values"`
	UniqueCount  int      `json:"unique_count"`
	SampleCount  int      `json:"sample_count"`
}

// previewDateLayouts is the reduced set used for type inference; the
// full ingest parser accepts more.
var previewDateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
	"2006.01.02",
	"02-01-2006",
}

var (
	intPattern   = regexp.MustCompile(`^-?\d+$`)
	floatPattern = regexp.MustCompile(`^-?\d+[.,]?\d*$`)
)

// BuildPreview assembles the preview payload from already-read sample
// rows.
func BuildPreview(upload model.Upload, headers []string, sampleRows [][]string) Preview {
	inferredTypes := make(map[string]string, len(headers))
	columnStats := make(map[string]ColumnStats, len(headers))
	for index, header := range headers {
		values := columnValues(sampleRows, index)
		inferredTypes[header] = InferType(values)

		unique := make([]string, 0, len(values))
		seen := make(map[string]bool, len(values))
		for _, value := range values {
			if seen[value] {
				continue
			}
			seen[value] = true
			unique = append(unique, value)
		}
		columnStats[header] = ColumnStats{
			UniqueValues: unique,
			UniqueCount:  len(unique),
			SampleCount:  len(values),
		}
	}

	return Preview{
		Headers:            headers,
		SampleRows:         sampleRows,
		InferredTypes:      inferredTypes,
		MappingSuggestions: Suggest(headers, upload.Type),
		ColumnStats:        columnStats,
		UploadType:         upload.Type,
		ProjectID:          upload.ProjectID,
	}
}

func columnValues(rows [][]string, index int) []string {
	values := make([]string, len(rows))
	for i, row := range rows {
		if index < len(row) {
			values[i] = row[index]
		}
	}
	return values
}

// InferType guesses a column type from sampled values: date when every
// non-empty value parses as one, then integer, then float, else string.
func InferType(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if value != "" {
			cleaned = append(cleaned, value)
		}
	}
	if len(cleaned) == 0 {
		return "string"
	}

	if allMatch(cleaned, isPreviewDate) {
		return "date"
	}
	if allMatch(cleaned, func(v string) bool { return intPattern.MatchString(strings.TrimSpace(v)) }) {
		return "integer"
	}
	if allMatch(cleaned, func(v string) bool { return floatPattern.MatchString(strings.TrimSpace(v)) }) {
		return "float"
	}
	return "string"
}

func allMatch(values []string, pred func(string) bool) bool {
	for _, value := range values {
		if !pred(value) {
			return false
		}
	}
	return true
}

func isPreviewDate(value string) bool {
	trimmed := strings.TrimSpace(value)
	for _, layout := range previewDateLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return true
		}
	}
	return false
}
