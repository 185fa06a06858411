package model

import "time"

// FormulaType classifies how a metric is computed.
type FormulaType string

const (
	FormulaSum                FormulaType = "sum"
	FormulaRatio              FormulaType = "ratio"
	FormulaFormula            FormulaType = "formula"
	FormulaMax                FormulaType = "max"
	FormulaMin                FormulaType = "min"
	FormulaCountDistinct      FormulaType = "count_distinct"
	FormulaGroupSum           FormulaType = "group_sum"
	FormulaGroupRatio         FormulaType = "group_ratio"
	FormulaGroupFormula       FormulaType = "group_formula"
	FormulaGroupCountDistinct FormulaType = "group_count_distinct"
	FormulaGroupShare         FormulaType = "group_share"
	FormulaMedian             FormulaType = "median"
	FormulaPareto             FormulaType = "pareto"
	FormulaSequence           FormulaType = "sequence"
	FormulaGrowth             FormulaType = "growth"
	FormulaHoles              FormulaType = "holes"
	FormulaAnomaly            FormulaType = "anomaly"
)

// MetricDefinition is one registry entry. Requirements name the source
// fields that must be present in a project's data for the metric to be
// meaningful; DimsAllowed lists the dimensions it can be filtered by.
type MetricDefinition struct {
	MetricKey    string      `json:"metric_key"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	SourceTable  string      `json:"source_table,omitempty"`
	Aggregation  string      `json:"aggregation,omitempty"`
	FormulaType  FormulaType `json:"formula_type"`
	DimsAllowed  []string    `json:"dims_allowed"`
	Requirements []string    `json:"requirements"`
	Version      int         `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AvailabilityStatus reflects whether a project's uploaded data carries
// the fields a metric requires.
type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityPartial     AvailabilityStatus = "partial"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
)

// MetricAvailability pairs the status with the concrete fields that are
// missing. Composite requirements are expanded to their constituents.
type MetricAvailability struct {
	Status        AvailabilityStatus `json:"status"`
	MissingFields []string           `json:"missing_fields"`
}
