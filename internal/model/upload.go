package model

import (
	"time"

	"github.com/sells-group/merchant-metrics/internal/normalize"
)

// UploadType tags what kind of table a file carries.
type UploadType string

const (
	UploadTransactions   UploadType = "transactions"
	UploadMarketingSpend UploadType = "marketing_spend"
)

// Valid reports whether t is a supported upload type.
func (t UploadType) Valid() bool {
	return t == UploadTransactions || t == UploadMarketingSpend
}

// UploadStatus tracks an upload through the ingest flow.
type UploadStatus string

const (
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusValidated UploadStatus = "validated"
	UploadStatusImported  UploadStatus = "imported"
	UploadStatusFailed    UploadStatus = "failed"
	UploadStatusDeleted   UploadStatus = "deleted"
)

// Upload is one received file. FilePath points at the stored copy under
// the configured upload directory; the original name is kept for display.
type Upload struct {
	ID               string       `json:"id"`
	ProjectID        string       `json:"project_id"`
	Type             UploadType   `json:"type"`
	Status           UploadStatus `json:"status"`
	FilePath         string       `json:"file_path"`
	OriginalFilename string       `json:"original_filename"`
	CreatedAt        time.Time    `json:"created_at"`
}

// DashboardSource pins which upload feeds the dashboard for a given
// data type. One row per (project, data type).
type DashboardSource struct {
	ProjectID string     `json:"project_id"`
	DataType  UploadType `json:"data_type"`
	UploadID  *string    `json:"upload_id"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MappingConfig is the saved column mapping for one upload: source
// header to canonical field, raw operation-type remaps, the policy for
// unresolvable operation values, and per-header normalization rules.
type MappingConfig struct {
	Mapping                map[string]string          `json:"mapping"`
	OperationTypeMapping   map[string]string          `json:"operation_type_mapping,omitempty"`
	UnknownOperationPolicy string                     `json:"unknown_operation_policy"`
	Normalization          map[string]normalize.Rules `json:"normalization,omitempty"`
}

// ColumnMapping persists a MappingConfig. Re-saving replaces the config
// wholesale; there is never more than one row per upload.
type ColumnMapping struct {
	UploadID  string        `json:"upload_id"`
	Config    MappingConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
}

// QuarantineRow is a source row the quality engine refused to import,
// kept with its issues for operator review.
type QuarantineRow struct {
	ID        string         `json:"id"`
	UploadID  string         `json:"upload_id"`
	RowNumber int            `json:"row_number"`
	Issues    []QualityIssue `json:"issues"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// IssueLevel grades a quality finding.
type IssueLevel string

const (
	IssueError   IssueLevel = "error"
	IssueWarning IssueLevel = "warning"
)

// QualityIssue is one finding on one row. Row numbers are 1-indexed
// counting the header, so the first data row is 2.
type QualityIssue struct {
	Level   IssueLevel `json:"level"`
	Row     int        `json:"row"`
	Field   string     `json:"field"`
	Message string     `json:"message"`
}
