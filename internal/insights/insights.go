// Package insights turns the freshest week of fact data into short
// Russian-language findings with machine-readable evidence. Findings
// are regenerated after every import.
package insights

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/dedup"
	metricspkg "github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
)

// insightMetrics are the metrics a finding is generated for, in the
// order they are produced.
var insightMetrics = []string{"gross_sales", "refunds", "net_revenue", "orders"}

var dimensionLabels = map[string]string{
	"product_category": "Категория",
	"product_type":     "Тип",
	"manager":          "Менеджер",
	"product_name":     "Продукт",
}

// dimensionColumns maps the driver dimensions to fact expressions over
// the dedup source alias f.
var dimensionColumns = map[string]string{
	"product_category": "f.product_category",
	"product_type":     "COALESCE(f.product_type, 'Без типа')",
	"manager":          "f.manager_norm",
	"product_name":     "f.product_name_norm",
}

// dimensionOrder keeps breakdown queries deterministic.
var dimensionOrder = []string{"manager", "product_category", "product_name", "product_type"}

// Store supplies metric definitions and persists the findings.
type Store interface {
	GetMetricDefinition(ctx context.Context, metricKey string) (*model.MetricDefinition, error)
	DedupPolicy(ctx context.Context, projectID string) (model.DedupPolicy, error)
	ReplaceInsights(ctx context.Context, projectID string, insights []model.Insight) error
}

// Engine computes scalar metric values.
type Engine interface {
	Compute(ctx context.Context, q metricspkg.Query, cache *metricspkg.Cache) (float64, error)
}

// Generator builds and stores the findings for a project.
type Generator struct {
	pool   db.Pool
	store  Store
	engine Engine
}

func NewGenerator(pool db.Pool, store Store, engine Engine) *Generator {
	return &Generator{pool: pool, store: store, engine: engine}
}

// Driver is one dimension slice whose movement explains the metric
// change.
type Driver struct {
	Dimension      string   `json:"dimension"`
	DimensionLabel string   `json:"dimension_label"`
	Key            string   `json:"key"`
	Current        float64  `json:"current"`
	Previous       float64  `json:"previous"`
	Delta          float64  `json:"delta"`
	Percent        *float64 `json:"percent"`
}

// Generate computes findings for the window ending at the project's
// latest fact date, or for an explicit period when from and to are
// set. A project with no facts yields no findings.
func (g *Generator) Generate(ctx context.Context, projectID string, from, to *time.Time, windowDays int) ([]model.Insight, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	var periodFrom, periodTo, prevFrom, prevTo time.Time
	if from == nil || to == nil {
		latest, err := g.latestFactDate(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return []model.Insight{}, nil
		}
		periodTo = *latest
		periodFrom = periodTo.AddDate(0, 0, -(windowDays - 1))
	} else {
		periodFrom = *from
		periodTo = *to
	}
	prevTo = periodFrom.AddDate(0, 0, -1)
	prevFrom = prevTo.AddDate(0, 0, -(windowDays - 1))

	policy, err := g.store.DedupPolicy(ctx, projectID)
	if err != nil {
		return nil, err
	}
	source := dedup.Source(policy)

	cache := metricspkg.NewCache()
	insights := make([]model.Insight, 0, len(insightMetrics))
	for _, metricKey := range insightMetrics {
		def, err := g.store.GetMetricDefinition(ctx, metricKey)
		if err != nil {
			return nil, err
		}
		if def == nil {
			continue
		}

		currentValue, err := g.engine.Compute(ctx, metricspkg.Query{
			ProjectID: projectID, MetricKey: metricKey, From: &periodFrom, To: &periodTo,
		}, cache)
		if err != nil {
			return nil, err
		}
		previousValue, err := g.engine.Compute(ctx, metricspkg.Query{
			ProjectID: projectID, MetricKey: metricKey, From: &prevFrom, To: &prevTo,
		}, cache)
		if err != nil {
			return nil, err
		}

		currentBreakdowns, err := g.dimensionBreakdowns(ctx, source, projectID, metricKey, periodFrom, periodTo)
		if err != nil {
			return nil, err
		}
		previousBreakdowns, err := g.dimensionBreakdowns(ctx, source, projectID, metricKey, prevFrom, prevTo)
		if err != nil {
			return nil, err
		}
		drivers := topDrivers(currentBreakdowns, previousBreakdowns, 3)

		evidence := buildEvidence(metricKey, def.Title, periodFrom, periodTo, prevFrom, prevTo, currentValue, previousValue, drivers)
		insights = append(insights, model.Insight{
			ProjectID:  projectID,
			MetricKey:  metricKey,
			PeriodFrom: periodFrom,
			PeriodTo:   periodTo,
			Text:       ComposeText(evidence),
			Evidence:   evidence,
		})
	}

	if err := g.store.ReplaceInsights(ctx, projectID, insights); err != nil {
		return nil, err
	}
	zap.L().Info("insights generated",
		zap.String("project_id", projectID),
		zap.Int("count", len(insights)),
		zap.String("period_from", periodFrom.Format(time.DateOnly)),
		zap.String("period_to", periodTo.Format(time.DateOnly)))
	return insights, nil
}

func (g *Generator) latestFactDate(ctx context.Context, projectID string) (*time.Time, error) {
	var latest *time.Time
	err := g.pool.QueryRow(ctx,
		`SELECT max(date) FROM fact_transactions WHERE project_id = $1`, projectID,
	).Scan(&latest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "insights: latest fact date")
	}
	return latest, nil
}

// metricExpression returns the aggregate for the driver breakdowns.
func metricExpression(metricKey string) (string, error) {
	switch metricKey {
	case "gross_sales":
		return `COALESCE(SUM(CASE WHEN f.operation_type = 'sale' THEN f.amount ELSE 0 END), 0)`, nil
	case "refunds":
		return `COALESCE(SUM(CASE WHEN f.operation_type = 'refund' THEN f.amount ELSE 0 END), 0)`, nil
	case "net_revenue":
		return `COALESCE(SUM(CASE WHEN f.operation_type = 'sale' THEN f.amount WHEN f.operation_type = 'refund' THEN -f.amount ELSE 0 END), 0)`, nil
	case "orders":
		return `COUNT(DISTINCT CASE WHEN f.operation_type = 'sale' THEN COALESCE(f.transaction_id, f.order_id) END)`, nil
	default:
		return "", eris.Errorf("insights: no driver expression for metric %s", metricKey)
	}
}

func (g *Generator) dimensionBreakdowns(ctx context.Context, source, projectID, metricKey string, from, to time.Time) (map[string]map[string]float64, error) {
	expr, err := metricExpression(metricKey)
	if err != nil {
		return nil, err
	}
	breakdowns := make(map[string]map[string]float64, len(dimensionOrder))
	for _, dimension := range dimensionOrder {
		rows, err := g.pool.Query(ctx,
			`SELECT `+dimensionColumns[dimension]+` AS name, `+expr+
				` FROM `+source+` f WHERE f.date >= $2 AND f.date <= $3 GROUP BY name`,
			projectID, from, to,
		)
		if err != nil {
			return nil, eris.Wrap(err, "insights: dimension breakdown")
		}
		values := make(map[string]float64)
		for rows.Next() {
			var (
				name  *string
				value float64
			)
			if err := rows.Scan(&name, &value); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "insights: scan breakdown")
			}
			if name == nil {
				continue
			}
			values[*name] = value
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "insights: dimension breakdown")
		}
		breakdowns[dimension] = values
	}
	return breakdowns, nil
}

// topDrivers ranks slices by absolute change across all dimensions.
func topDrivers(current, previous map[string]map[string]float64, limit int) []Driver {
	var drivers []Driver
	dims := make([]string, 0, len(current))
	for dimension := range current {
		dims = append(dims, dimension)
	}
	sort.Strings(dims)
	for _, dimension := range dims {
		currentMap := current[dimension]
		prevMap := previous[dimension]
		keys := make(map[string]struct{}, len(currentMap)+len(prevMap))
		for key := range currentMap {
			keys[key] = struct{}{}
		}
		for key := range prevMap {
			keys[key] = struct{}{}
		}
		sorted := make([]string, 0, len(keys))
		for key := range keys {
			sorted = append(sorted, key)
		}
		sort.Strings(sorted)
		for _, key := range sorted {
			delta := currentMap[key] - prevMap[key]
			if delta == 0 {
				continue
			}
			label, ok := dimensionLabels[dimension]
			if !ok {
				label = dimension
			}
			drivers = append(drivers, Driver{
				Dimension:      dimension,
				DimensionLabel: label,
				Key:            key,
				Current:        currentMap[key],
				Previous:       prevMap[key],
				Delta:          delta,
				Percent:        percentOrNil(delta, prevMap[key]),
			})
		}
	}
	sort.SliceStable(drivers, func(i, j int) bool {
		return math.Abs(drivers[i].Delta) > math.Abs(drivers[j].Delta)
	})
	if len(drivers) > limit {
		drivers = drivers[:limit]
	}
	return drivers
}

func percentOrNil(delta, previous float64) *float64 {
	if previous == 0 {
		return nil
	}
	v := delta / previous
	return &v
}

func buildEvidence(metricKey, metricTitle string, from, to, prevFrom, prevTo time.Time, currentValue, previousValue float64, drivers []Driver) map[string]any {
	delta := currentValue - previousValue
	driverMaps := make([]any, 0, len(drivers))
	for _, d := range drivers {
		driverMaps = append(driverMaps, map[string]any{
			"dimension":       d.Dimension,
			"dimension_label": d.DimensionLabel,
			"key":             d.Key,
			"current":         d.Current,
			"previous":        d.Previous,
			"delta":           d.Delta,
			"percent":         d.Percent,
		})
	}
	var percent any
	if p := percentOrNil(delta, previousValue); p != nil {
		percent = *p
	}
	return map[string]any{
		"metric_key":   metricKey,
		"metric_title": metricTitle,
		"period": map[string]any{
			"from":          from.Format(time.DateOnly),
			"to":            to.Format(time.DateOnly),
			"previous_from": prevFrom.Format(time.DateOnly),
			"previous_to":   prevTo.Format(time.DateOnly),
		},
		"current":  map[string]any{"value": currentValue},
		"previous": map[string]any{"value": previousValue},
		"delta":    map[string]any{"absolute": delta, "percent": percent},
		"drivers":  driverMaps,
	}
}

// ComposeText renders the one-line finding from its evidence.
func ComposeText(evidence map[string]any) string {
	metricTitle, _ := evidence["metric_title"].(string)
	current := nestedFloat(evidence, "current", "value")
	previous := nestedFloat(evidence, "previous", "value")
	delta := nestedFloat(evidence, "delta", "absolute")
	period, _ := evidence["period"].(map[string]any)

	changeWord := "вырос"
	if delta < 0 {
		changeWord = "снизился"
	}
	base := fmt.Sprintf("%s: %s на %.2f", metricTitle, changeWord, math.Abs(delta))
	if percent, ok := nestedPercent(evidence); ok {
		base += fmt.Sprintf(" (%+.1f%%)", percent*100)
	}
	base += fmt.Sprintf(" vs %.2f → %.2f за период %s–%s.",
		previous, current, stringAt(period, "from"), stringAt(period, "to"))

	drivers, _ := evidence["drivers"].([]any)
	if len(drivers) == 0 {
		return base
	}
	top, _ := drivers[0].(map[string]any)
	driverDelta := floatAt(top, "delta")
	driverChange := "рост"
	if driverDelta < 0 {
		driverChange = "падение"
	}
	return fmt.Sprintf("%s Драйвер: %s %s (%s %.2f).",
		base, stringAt(top, "dimension_label"), stringAt(top, "key"), driverChange, math.Abs(driverDelta))
}

func nestedFloat(evidence map[string]any, outer, inner string) float64 {
	m, _ := evidence[outer].(map[string]any)
	return floatAt(m, inner)
}

func nestedPercent(evidence map[string]any) (float64, bool) {
	m, _ := evidence["delta"].(map[string]any)
	if m == nil {
		return 0, false
	}
	v, ok := m["percent"].(float64)
	return v, ok
}

func floatAt(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	v, _ := m[key].(float64)
	return v
}

func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
