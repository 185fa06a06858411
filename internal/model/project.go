// Package model defines the domain types shared across ingestion,
// metric computation and the HTTP layer.
package model

import "time"

// DedupPolicy selects how repeated transaction rows are treated when
// facts are read back for analytics.
type DedupPolicy string

const (
	DedupKeepAllRows   DedupPolicy = "keep_all_rows"
	DedupLastRowWins   DedupPolicy = "last_row_wins"
	DedupAggregateByTx DedupPolicy = "aggregate_by_transaction_id"
)

// Valid reports whether p is one of the supported policies.
func (p DedupPolicy) Valid() bool {
	switch p {
	case DedupKeepAllRows, DedupLastRowWins, DedupAggregateByTx:
		return true
	}
	return false
}

// Project is the tenancy unit. Every fact, dimension and rule hangs off
// a project, and ownership checks compare OwnerID against the caller.
type Project struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectSettings holds per-project analytics preferences. One row per
// project, created lazily with defaults on first read.
type ProjectSettings struct {
	ProjectID   string      `json:"project_id"`
	GroupLabels []string    `json:"group_labels"`
	DedupPolicy DedupPolicy `json:"dedup_policy"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DefaultGroupLabels are the display names for the five free-form
// grouping columns until the owner renames them.
func DefaultGroupLabels() []string {
	return []string{"Группа 1", "Группа 2", "Группа 3", "Группа 4", "Группа 5"}
}
