package dashboard

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/metrics"
)

// SeriesPoint is one day of the overview chart.
type SeriesPoint struct {
	Date       string  `json:"date"`
	GrossSales float64 `json:"gross_sales"`
	Refunds    float64 `json:"refunds"`
	NetRevenue float64 `json:"net_revenue"`
	Orders     int64   `json:"orders"`
}

// BreakdownItem is one named revenue slice.
type BreakdownItem struct {
	Name    *string `json:"name"`
	Revenue float64 `json:"revenue"`
}

// Breakdowns are the overview side panels.
type Breakdowns struct {
	TopProductsByRevenue []BreakdownItem `json:"top_products_by_revenue"`
	TopManagersByRevenue []BreakdownItem `json:"top_managers_by_revenue"`
	RevenueByCategory    []BreakdownItem `json:"revenue_by_category"`
	RevenueByType        []BreakdownItem `json:"revenue_by_type"`
}

// Overview is the main dashboard payload.
type Overview struct {
	Series     []SeriesPoint `json:"series"`
	Breakdowns Breakdowns    `json:"breakdowns"`
}

// Overview returns the daily revenue series and the revenue breakdowns
// for the requested range and filters.
func (s *Service) Overview(ctx context.Context, projectID string, from, to *time.Time, filters map[string]any) (*Overview, error) {
	source, err := s.transactionSource(ctx, projectID)
	if err != nil {
		return nil, err
	}
	filters = metrics.NormalizeFilters(filters)

	conds := newConditions(projectID)
	if from != nil {
		conds.add("f.date >= $%d", *from)
	}
	if to != nil {
		conds.add("f.date <= $%d", *to)
	}
	conds.addFilters(filters)
	where := conds.where()

	rows, err := s.pool.Query(ctx,
		`SELECT f.date, `+grossSalesExpr+`, `+refundsExpr+`, `+netRevenueExpr+`, `+ordersExpr+
			` FROM `+source+` f WHERE `+where+` GROUP BY f.date ORDER BY f.date`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: overview series")
	}
	defer rows.Close()

	series := make([]SeriesPoint, 0)
	for rows.Next() {
		var (
			day   time.Time
			point SeriesPoint
		)
		if err := rows.Scan(&day, &point.GrossSales, &point.Refunds, &point.NetRevenue, &point.Orders); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan series point")
		}
		point.Date = day.Format(time.DateOnly)
		series = append(series, point)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "dashboard: overview series")
	}

	breakdown := func(nameExpr, orderBy string, limit int) ([]BreakdownItem, error) {
		query := `SELECT ` + nameExpr + ` AS name, ` + netRevenueExpr + ` AS revenue FROM ` + source +
			` f WHERE ` + where + ` GROUP BY name ORDER BY ` + orderBy
		if limit > 0 {
			query += ` LIMIT 5`
		}
		rows, err := s.pool.Query(ctx, query, conds.args...)
		if err != nil {
			return nil, eris.Wrap(err, "dashboard: breakdown")
		}
		defer rows.Close()
		items := make([]BreakdownItem, 0)
		for rows.Next() {
			var item BreakdownItem
			if err := rows.Scan(&item.Name, &item.Revenue); err != nil {
				return nil, eris.Wrap(err, "dashboard: scan breakdown")
			}
			items = append(items, item)
		}
		return items, rows.Err()
	}

	topProducts, err := breakdown("f.product_name_norm", "revenue DESC", 5)
	if err != nil {
		return nil, err
	}
	topManagers, err := breakdown("f.manager_norm", "revenue DESC", 5)
	if err != nil {
		return nil, err
	}
	byCategory, err := breakdown("f.product_category", "name ASC", 0)
	if err != nil {
		return nil, err
	}
	byType, err := breakdown(`COALESCE(f.product_type, 'Без типа')`, "name ASC", 0)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Series: series,
		Breakdowns: Breakdowns{
			TopProductsByRevenue: topProducts,
			TopManagersByRevenue: topManagers,
			RevenueByCategory:    byCategory,
			RevenueByType:        byType,
		},
	}, nil
}
