package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/dedup"
	"github.com/sells-group/merchant-metrics/internal/model"
)

// ErrMetricNotFound reports an unknown registry key.
var ErrMetricNotFound = eris.New("metrics: metric not found")

// ErrUnsupported reports a registry entry the scalar engine cannot
// evaluate. Grouped and windowed formulas are served by the dashboard
// detail endpoints instead.
var ErrUnsupported = eris.New("metrics: unsupported metric")

// Store is the registry lookup the engine depends on.
type Store interface {
	GetMetricDefinition(ctx context.Context, metricKey string) (*model.MetricDefinition, error)
	DedupPolicy(ctx context.Context, projectID string) (model.DedupPolicy, error)
}

// Engine computes scalar metric values over the dedup-aware fact view.
type Engine struct {
	pool  db.Pool
	store Store
}

func NewEngine(pool db.Pool, store Store) *Engine {
	return &Engine{pool: pool, store: store}
}

// Cache memoizes metric values within one request, so derived metrics
// that share components (net_revenue and refund_rate both need
// gross_sales) hit the database once per component. It is not safe for
// concurrent use and must not outlive the request.
type Cache struct {
	values map[string]float64
}

func NewCache() *Cache {
	return &Cache{values: make(map[string]float64)}
}

// Query identifies one metric evaluation.
type Query struct {
	ProjectID string
	MetricKey string
	From      *time.Time
	To        *time.Time
	Filters   map[string]any
}

// derivedMetrics are computed from other metrics instead of a direct
// aggregate.
var derivedMetrics = map[string]struct{}{
	"net_revenue":       {},
	"refund_rate":       {},
	"aov":               {},
	"fee_share":         {},
	"roas":              {},
	"roas_total":        {},
	"net_profit_simple": {},
}

// transactionFilterColumns whitelists filterable fact_transactions
// columns; filters on anything else are ignored.
var transactionFilterColumns = map[string]struct{}{
	"product_id": {}, "product_category": {}, "product_type": {}, "manager_id": {},
	"payment_method": {}, "group_1": {}, "group_2": {}, "group_3": {}, "group_4": {},
	"group_5": {}, "utm_source": {}, "utm_medium": {}, "utm_campaign": {},
	"utm_term": {}, "utm_content": {},
}

var spendFilterColumns = map[string]struct{}{
	"channel_norm": {}, "utm_source": {}, "utm_medium": {}, "utm_campaign": {},
	"utm_term": {}, "utm_content": {},
}

// Compute evaluates one metric. The cache may be nil for one-off calls.
func (e *Engine) Compute(ctx context.Context, q Query, cache *Cache) (float64, error) {
	if cache == nil {
		cache = NewCache()
	}
	policy, err := e.store.DedupPolicy(ctx, q.ProjectID)
	if err != nil {
		return 0, err
	}
	return e.compute(ctx, q, policy, cache)
}

func (e *Engine) compute(ctx context.Context, q Query, policy model.DedupPolicy, cache *Cache) (float64, error) {
	q.Filters = NormalizeFilters(q.Filters)
	key := cacheKey(q)
	if value, ok := cache.values[key]; ok {
		return value, nil
	}

	def, err := e.store.GetMetricDefinition(ctx, q.MetricKey)
	if err != nil {
		return 0, err
	}
	if def == nil {
		return 0, ErrMetricNotFound
	}

	var value float64
	if _, ok := derivedMetrics[q.MetricKey]; ok {
		value, err = e.computeDerived(ctx, q, def, policy, cache)
	} else {
		value, err = e.computeBase(ctx, q, def, policy)
	}
	if err != nil {
		return 0, err
	}
	cache.values[key] = value
	return value, nil
}

func (e *Engine) computeDerived(ctx context.Context, q Query, def *model.MetricDefinition, policy model.DedupPolicy, cache *Cache) (float64, error) {
	component := func(metricKey string) (float64, error) {
		sub := q
		sub.MetricKey = metricKey
		return e.compute(ctx, sub, policy, cache)
	}

	grossSales, err := component("gross_sales")
	if err != nil {
		return 0, err
	}
	refunds, err := component("refunds")
	if err != nil {
		return 0, err
	}

	switch q.MetricKey {
	case "net_revenue":
		return grossSales - refunds, nil
	case "refund_rate":
		if grossSales == 0 {
			return 0, nil
		}
		return refunds / grossSales, nil
	case "aov":
		orders, err := component("orders")
		if err != nil {
			return 0, err
		}
		if orders == 0 {
			return 0, nil
		}
		return grossSales / orders, nil
	case "fee_share":
		feesTotal, err := component("fees_total")
		if err != nil {
			return 0, err
		}
		if grossSales == 0 {
			return 0, nil
		}
		return feesTotal / grossSales, nil
	case "net_profit_simple":
		feesSales, err := e.feesByOperation(ctx, q, def.DimsAllowed, policy, model.OperationSale)
		if err != nil {
			return 0, err
		}
		feesRefunds, err := e.feesByOperation(ctx, q, def.DimsAllowed, policy, model.OperationRefund)
		if err != nil {
			return 0, err
		}
		return (grossSales - feesSales) - (refunds - feesRefunds), nil
	default: // roas, roas_total
		spend, err := component("spend_total")
		if err != nil {
			return 0, err
		}
		if spend == 0 {
			return 0, nil
		}
		return (grossSales - refunds) / spend, nil
	}
}

func (e *Engine) computeBase(ctx context.Context, q Query, def *model.MetricDefinition, policy model.DedupPolicy) (float64, error) {
	switch q.MetricKey {
	case "gross_sales", "refunds", "orders", "buyers", "fees_total":
		return e.computeTransactionMetric(ctx, q, def, policy)
	case "spend", "spend_total":
		return e.computeSpendMetric(ctx, q, def)
	default:
		return 0, ErrUnsupported
	}
}

func (e *Engine) computeTransactionMetric(ctx context.Context, q Query, def *model.MetricDefinition, policy model.DedupPolicy) (float64, error) {
	operation := model.OperationSale
	if q.MetricKey == "refunds" {
		operation = model.OperationRefund
	}

	conds, args := transactionConditions(q, def.DimsAllowed)
	conds = append(conds, fmt.Sprintf("operation_type = '%s'", operation))

	var expr string
	countResult := false
	switch q.MetricKey {
	case "gross_sales", "refunds":
		expr = `COALESCE(SUM(amount), 0)`
	case "orders":
		expr = `COUNT(DISTINCT COALESCE(transaction_id, order_id))`
		countResult = true
	case "buyers":
		expr = `COUNT(DISTINCT client_id)`
		countResult = true
	default:
		expr = `COALESCE(SUM(COALESCE(fee_1, 0) + COALESCE(fee_2, 0) + COALESCE(fee_3, 0)), 0)`
	}

	query := `SELECT ` + expr + ` FROM ` + dedup.Source(policy) + ` f WHERE ` + strings.Join(conds, " AND ")
	if countResult {
		var count int64
		if err := e.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
			return 0, eris.Wrapf(err, "metrics: compute %s", q.MetricKey)
		}
		return float64(count), nil
	}
	var value float64
	if err := e.pool.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		return 0, eris.Wrapf(err, "metrics: compute %s", q.MetricKey)
	}
	return value, nil
}

func (e *Engine) computeSpendMetric(ctx context.Context, q Query, def *model.MetricDefinition) (float64, error) {
	conds := []string{"project_id = $1"}
	args := []any{q.ProjectID}
	idx := 2
	if q.From != nil {
		conds = append(conds, fmt.Sprintf("date >= $%d", idx))
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		conds = append(conds, fmt.Sprintf("date <= $%d", idx))
		args = append(args, *q.To)
		idx++
	}
	for _, key := range sortedFilterKeys(q.Filters) {
		if !dimAllowed(def.DimsAllowed, key) {
			continue
		}
		if _, ok := spendFilterColumns[key]; !ok {
			continue
		}
		conds, args, idx = appendFilter(conds, args, idx, key, q.Filters[key])
	}

	query := `SELECT COALESCE(SUM(spend_amount), 0) FROM fact_marketing_spend WHERE ` + strings.Join(conds, " AND ")
	var value float64
	if err := e.pool.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		return 0, eris.Wrap(err, "metrics: compute spend")
	}
	return value, nil
}

func (e *Engine) feesByOperation(ctx context.Context, q Query, dimsAllowed []string, policy model.DedupPolicy, operation model.OperationType) (float64, error) {
	conds, args := transactionConditions(q, dimsAllowed)
	conds = append(conds, fmt.Sprintf("operation_type = '%s'", operation))
	query := `SELECT COALESCE(SUM(COALESCE(fee_1, 0) + COALESCE(fee_2, 0) + COALESCE(fee_3, 0)), 0)` +
		` FROM ` + dedup.Source(policy) + ` f WHERE ` + strings.Join(conds, " AND ")
	var value float64
	if err := e.pool.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		return 0, eris.Wrap(err, "metrics: fees by operation")
	}
	return value, nil
}

// transactionConditions builds the shared WHERE fragment over the dedup
// source. The source itself consumes $1 for the project id, so filter
// placeholders start at $2.
func transactionConditions(q Query, dimsAllowed []string) ([]string, []any) {
	conds := []string{"true"}
	args := []any{q.ProjectID}
	idx := 2
	if q.From != nil {
		conds = append(conds, fmt.Sprintf("f.date >= $%d", idx))
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		conds = append(conds, fmt.Sprintf("f.date <= $%d", idx))
		args = append(args, *q.To)
		idx++
	}
	for _, key := range sortedFilterKeys(q.Filters) {
		if !dimAllowed(dimsAllowed, key) {
			continue
		}
		if _, ok := transactionFilterColumns[key]; !ok {
			continue
		}
		conds, args, idx = appendFilter(conds, args, idx, key, q.Filters[key])
	}
	return conds, args
}

func appendFilter(conds []string, args []any, idx int, column string, value any) ([]string, []any, int) {
	switch v := value.(type) {
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", column, idx))
		args = append(args, items)
	case []string:
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", column, idx))
		args = append(args, v)
	default:
		conds = append(conds, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, v)
	}
	return conds, args, idx + 1
}

func dimAllowed(dims []string, key string) bool {
	for _, dim := range dims {
		if dim == key {
			return true
		}
	}
	return false
}

func sortedFilterKeys(filters map[string]any) []string {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeFilters trims string filter values, including inside lists.
func NormalizeFilters(filters map[string]any) map[string]any {
	if len(filters) == 0 {
		return map[string]any{}
	}
	normalized := make(map[string]any, len(filters))
	for key, value := range filters {
		switch v := value.(type) {
		case string:
			normalized[key] = strings.TrimSpace(v)
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if s, ok := item.(string); ok {
					items[i] = strings.TrimSpace(s)
				} else {
					items[i] = item
				}
			}
			normalized[key] = items
		default:
			normalized[key] = value
		}
	}
	return normalized
}

func cacheKey(q Query) string {
	filtersJSON, _ := json.Marshal(q.Filters)
	from, to := "", ""
	if q.From != nil {
		from = q.From.Format(time.DateOnly)
	}
	if q.To != nil {
		to = q.To.Format(time.DateOnly)
	}
	return q.MetricKey + "|" + from + "|" + to + "|" + string(filtersJSON)
}
