// Package dashboard aggregates fact rows into the overview and the
// per-metric detail breakdowns. All reads go through the policy-aware
// transaction source, so duplicate rows never inflate the numbers.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/dedup"
	"github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
)

// Store supplies project configuration to the read paths.
type Store interface {
	DedupPolicy(ctx context.Context, projectID string) (model.DedupPolicy, error)
}

// Service runs the dashboard aggregations.
type Service struct {
	pool  db.Pool
	store Store
}

func NewService(pool db.Pool, store Store) *Service {
	return &Service{pool: pool, store: store}
}

// missingLabel stands in for NULL dimension values in breakdowns.
const missingLabel = "Без значения"

// filterColumns maps public filter names to fact columns.
var filterColumns = map[string]string{
	"product_category": "product_category",
	"product_name":     "product_name_norm",
	"manager":          "manager_norm",
	"product_type":     "product_type",
}

// grossSalesExpr and friends are aggregate fragments over the dedup
// source alias f.
const (
	grossSalesExpr = `COALESCE(SUM(CASE WHEN f.operation_type = 'sale' THEN f.amount ELSE 0 END), 0)`
	refundsExpr    = `COALESCE(SUM(CASE WHEN f.operation_type = 'refund' THEN f.amount ELSE 0 END), 0)`
	netRevenueExpr = `COALESCE(SUM(CASE WHEN f.operation_type = 'sale' THEN f.amount WHEN f.operation_type = 'refund' THEN -f.amount ELSE 0 END), 0)`
	feesExpr       = `COALESCE(SUM(COALESCE(f.fee_1, 0) + COALESCE(f.fee_2, 0) + COALESCE(f.fee_3, 0)), 0)`
	ordersExpr     = `COUNT(DISTINCT CASE WHEN f.operation_type = 'sale' THEN COALESCE(f.transaction_id, f.order_id) END)`
	groupNameExpr  = `COALESCE(f.group_5, f.group_4, f.group_3, f.group_2, f.group_1)`
)

// Period is a closed date range.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// previousPeriod mirrors the requested range immediately before it.
func previousPeriod(from, to time.Time) Period {
	days := int(to.Sub(from).Hours()/24) + 1
	return Period{
		From: from.AddDate(0, 0, -days),
		To:   from.AddDate(0, 0, -1),
	}
}

// granularity picks daily buckets for ranges up to a month, weekly
// beyond that.
func granularity(from, to time.Time) string {
	if int(to.Sub(from).Hours()/24)+1 <= 31 {
		return "day"
	}
	return "week"
}

func bucketExpr(gran string) string {
	if gran == "week" {
		return `date_trunc('week', f.date)`
	}
	return `f.date`
}

func bucketLabel(bucket time.Time, gran string) string {
	if gran == "week" {
		year, week := bucket.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	}
	return bucket.Format(time.DateOnly)
}

// conditions builds the WHERE fragment over the dedup source. $1 is
// consumed by the source itself.
type conditionSet struct {
	clauses []string
	args    []any
}

func newConditions(projectID string) *conditionSet {
	return &conditionSet{clauses: []string{"true"}, args: []any{projectID}}
}

func (c *conditionSet) add(clause string, arg any) {
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)+1))
	c.args = append(c.args, arg)
}

func (c *conditionSet) addRange(from, to time.Time) {
	c.add("f.date >= $%d", from)
	c.add("f.date <= $%d", to)
}

func (c *conditionSet) addFilters(filters map[string]any) {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		column, ok := filterColumns[key]
		if !ok {
			continue
		}
		switch v := filters[key].(type) {
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			c.add("f."+column+" = ANY($%d)", items)
		case []string:
			c.add("f."+column+" = ANY($%d)", v)
		default:
			c.add("f."+column+" = $%d", v)
		}
	}
}

func (c *conditionSet) where() string {
	return strings.Join(c.clauses, " AND ")
}

func (s *Service) transactionSource(ctx context.Context, projectID string) (string, error) {
	policy, err := s.store.DedupPolicy(ctx, projectID)
	if err != nil {
		return "", err
	}
	return dedup.Source(policy), nil
}

func (s *Service) fieldPresence(ctx context.Context, projectID string) (metrics.Presence, error) {
	return metrics.FieldPresence(ctx, s.pool, projectID)
}

// formatCurrency renders a rounded amount with thin space thousand
// separators, matching the alert and insight texts.
func formatCurrency(value float64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	whole := fmt.Sprintf("%.0f", value)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}
