// Package metrics holds the metric registry and the computation engine
// that evaluates registry entries over a project's fact tables.
package metrics

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/merchant-metrics/internal/model"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogEntry struct {
	MetricKey    string   `yaml:"metric_key"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	SourceTable  string   `yaml:"source_table"`
	Aggregation  string   `yaml:"aggregation"`
	FormulaType  string   `yaml:"formula_type"`
	DimsAllowed  []string `yaml:"dims_allowed"`
	Requirements []string `yaml:"requirements"`
	Version      int      `yaml:"version"`
}

type catalogFile struct {
	Metrics []catalogEntry `yaml:"metrics"`
}

var (
	catalogOnce sync.Once
	catalogDefs []model.MetricDefinition
	catalogErr  error
)

// Defaults returns the built-in metric registry. The catalog is parsed
// once and shared, callers must not mutate the returned slice.
func Defaults() ([]model.MetricDefinition, error) {
	catalogOnce.Do(func() {
		var file catalogFile
		if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
			catalogErr = eris.Wrap(err, "metrics: parse catalog")
			return
		}
		defs := make([]model.MetricDefinition, 0, len(file.Metrics))
		for _, entry := range file.Metrics {
			version := entry.Version
			if version == 0 {
				version = 1
			}
			defs = append(defs, model.MetricDefinition{
				MetricKey:    entry.MetricKey,
				Title:        entry.Title,
				Description:  entry.Description,
				SourceTable:  entry.SourceTable,
				Aggregation:  entry.Aggregation,
				FormulaType:  model.FormulaType(entry.FormulaType),
				DimsAllowed:  entry.DimsAllowed,
				Requirements: entry.Requirements,
				Version:      version,
			})
		}
		catalogDefs = defs
	})
	return catalogDefs, catalogErr
}
