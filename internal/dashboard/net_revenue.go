package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/metrics"
)

// NetRevenueTotals carries gross, refunds and net for both periods
// plus the refund share movement in percentage points.
type NetRevenueTotals struct {
	GrossSalesCurrent   float64  `json:"gross_sales_current"`
	GrossSalesPrevious  float64  `json:"gross_sales_previous"`
	RefundsCurrent      float64  `json:"refunds_current"`
	RefundsPrevious     float64  `json:"refunds_previous"`
	NetRevenueCurrent   float64  `json:"net_revenue_current"`
	NetRevenuePrevious  float64  `json:"net_revenue_previous"`
	DeltaAbs            float64  `json:"delta_abs"`
	DeltaPct            *float64 `json:"delta_pct"`
	RefundsShareCurrent *float64 `json:"refunds_share_of_gross_current"`
	RefundsSharePrev    *float64 `json:"refunds_share_of_gross_previous"`
	RefundsShareDeltaPP *float64 `json:"refunds_share_delta_pp"`
}

// NetRevenuePoint is one bucket with the three revenue components.
type NetRevenuePoint struct {
	Bucket     string  `json:"bucket"`
	GrossSales float64 `json:"gross_sales"`
	Refunds    float64 `json:"refunds"`
	NetRevenue float64 `json:"net_revenue"`
}

// NetRevenueSeries is the per-bucket breakdown over the current
// period.
type NetRevenueSeries struct {
	Granularity          string            `json:"granularity"`
	Points               []NetRevenuePoint `json:"points"`
	TopBucketsNetRevenue []string          `json:"top_buckets_net_revenue"`
}

// NetRevenueDriver is one dimension slice ranked by its net revenue
// change.
type NetRevenueDriver struct {
	Name              string  `json:"name"`
	CurrentNetRevenue float64 `json:"current_net_revenue"`
	Delta             float64 `json:"delta"`
	Share             float64 `json:"share"`
}

// NetRevenueDrivers groups the ranked slices per dimension.
type NetRevenueDrivers struct {
	ProductsTop10 []NetRevenueDriver `json:"products_top10"`
	GroupsTop10   []NetRevenueDriver `json:"groups_top10"`
	ManagersTop10 []NetRevenueDriver `json:"managers_top10"`
}

// ProductNetRevenue compares gross, refunds and net for one product or
// payment method.
type ProductNetRevenue struct {
	ProductName       string   `json:"product_name,omitempty"`
	PaymentMethod     string   `json:"payment_method,omitempty"`
	GrossSales        float64  `json:"gross_sales"`
	Refunds           float64  `json:"refunds"`
	NetRevenue        float64  `json:"net_revenue"`
	RefundRatePercent *float64 `json:"refund_rate_percent"`
}

// Signal is a typed note surfaced next to the numbers.
type Signal struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// NetRevenueDetails is the drill-down payload for the net revenue
// metric.
type NetRevenueDetails struct {
	Periods struct {
		Current  DateRange `json:"current"`
		Previous DateRange `json:"previous"`
	} `json:"periods"`
	Totals                 NetRevenueTotals    `json:"totals"`
	Series                 NetRevenueSeries    `json:"series"`
	Drivers                NetRevenueDrivers   `json:"drivers"`
	NetVsGrossRefundsTop10 []ProductNetRevenue `json:"net_vs_gross_refunds_top10"`
	PaymentMethods         []ProductNetRevenue `json:"payment_methods"`
	Signals                []Signal            `json:"signals"`
}

func (s *Service) NetRevenueDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*NetRevenueDetails, error) {
	filters = metrics.NormalizeFilters(filters)
	source, err := s.transactionSource(ctx, projectID)
	if err != nil {
		return nil, err
	}

	current := newConditions(projectID)
	current.addRange(from, to)
	current.addFilters(filters)
	prev := previousPeriod(from, to)
	previous := newConditions(projectID)
	previous.addRange(prev.From, prev.To)
	previous.addFilters(filters)

	grossCurrent, err := s.scalar(ctx, source, grossSalesExpr, current)
	if err != nil {
		return nil, err
	}
	grossPrevious, err := s.scalar(ctx, source, grossSalesExpr, previous)
	if err != nil {
		return nil, err
	}
	refundsCurrent, err := s.scalar(ctx, source, refundsExpr, current)
	if err != nil {
		return nil, err
	}
	refundsPrevious, err := s.scalar(ctx, source, refundsExpr, previous)
	if err != nil {
		return nil, err
	}
	netCurrent, err := s.scalar(ctx, source, netRevenueExpr, current)
	if err != nil {
		return nil, err
	}
	netPrevious, err := s.scalar(ctx, source, netRevenueExpr, previous)
	if err != nil {
		return nil, err
	}

	totals := NetRevenueTotals{
		GrossSalesCurrent:   grossCurrent,
		GrossSalesPrevious:  grossPrevious,
		RefundsCurrent:      refundsCurrent,
		RefundsPrevious:     refundsPrevious,
		NetRevenueCurrent:   netCurrent,
		NetRevenuePrevious:  netPrevious,
		DeltaAbs:            netCurrent - netPrevious,
		DeltaPct:            ratioOrNil(netCurrent-netPrevious, netPrevious),
		RefundsShareCurrent: ratePercent(refundsCurrent, grossCurrent),
		RefundsSharePrev:    ratePercent(refundsPrevious, grossPrevious),
	}
	if totals.RefundsShareCurrent != nil && totals.RefundsSharePrev != nil {
		pp := *totals.RefundsShareCurrent - *totals.RefundsSharePrev
		totals.RefundsShareDeltaPP = &pp
	}

	gran := granularity(from, to)
	points, err := s.netRevenuePoints(ctx, source, gran, current)
	if err != nil {
		return nil, err
	}
	topNetBuckets := topNetRevenueBuckets(points, 5)

	productRows, err := s.driverRows(ctx, source, "f.product_name_norm", netRevenueExpr, current, previous)
	if err != nil {
		return nil, err
	}
	groupRows, err := s.driverRows(ctx, source, groupNameExpr, netRevenueExpr, current, previous)
	if err != nil {
		return nil, err
	}
	presence, err := s.fieldPresence(ctx, projectID)
	if err != nil {
		return nil, err
	}
	managers := []NetRevenueDriver{}
	if presence["manager"] {
		managerRows, err := s.driverRows(ctx, source, "f.manager_norm", netRevenueExpr, current, previous)
		if err != nil {
			return nil, err
		}
		managers = buildNetRevenueDrivers(managerRows, netCurrent)
	}
	drivers := NetRevenueDrivers{
		ProductsTop10: buildNetRevenueDrivers(productRows, netCurrent),
		GroupsTop10:   buildNetRevenueDrivers(groupRows, netCurrent),
		ManagersTop10: managers,
	}

	topProducts, err := s.netVsGrossRefunds(ctx, source, current, "f.product_name_norm", 10)
	if err != nil {
		return nil, err
	}
	paymentMethods := []ProductNetRevenue{}
	if presence["payment_method"] {
		paymentMethods, err = s.netVsGrossRefunds(ctx, source, current, "f.payment_method", 0)
		if err != nil {
			return nil, err
		}
		for i := range paymentMethods {
			paymentMethods[i].PaymentMethod = paymentMethods[i].ProductName
			paymentMethods[i].ProductName = ""
		}
	}

	signals := buildNetRevenueSignals(points, topNetBuckets, totals)

	details := &NetRevenueDetails{
		Totals: totals,
		Series: NetRevenueSeries{
			Granularity:          gran,
			Points:               points,
			TopBucketsNetRevenue: topNetBuckets,
		},
		Drivers:                drivers,
		NetVsGrossRefundsTop10: topProducts,
		PaymentMethods:         paymentMethods,
		Signals:                signals,
	}
	details.Periods.Current = dateRange(from, to)
	details.Periods.Previous = dateRange(prev.From, prev.To)
	return details, nil
}

func (s *Service) netRevenuePoints(ctx context.Context, source, gran string, conds *conditionSet) ([]NetRevenuePoint, error) {
	bucket := bucketExpr(gran)
	rows, err := s.pool.Query(ctx,
		`SELECT `+bucket+` AS bucket, `+grossSalesExpr+`, `+refundsExpr+`, `+netRevenueExpr+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY bucket ORDER BY bucket`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: net revenue series")
	}
	defer rows.Close()
	points := []NetRevenuePoint{}
	for rows.Next() {
		var (
			b     time.Time
			point NetRevenuePoint
		)
		if err := rows.Scan(&b, &point.GrossSales, &point.Refunds, &point.NetRevenue); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan net revenue point")
		}
		point.Bucket = bucketLabel(b, gran)
		points = append(points, point)
	}
	return points, rows.Err()
}

func topNetRevenueBuckets(points []NetRevenuePoint, n int) []string {
	asDetail := make([]DetailPoint, len(points))
	for i, p := range points {
		asDetail[i] = DetailPoint{Bucket: p.Bucket, Value: p.NetRevenue}
	}
	return topBuckets(asDetail, n)
}

func buildNetRevenueDrivers(rows []driverRow, totalCurrent float64) []NetRevenueDriver {
	items := make([]NetRevenueDriver, 0, len(rows))
	for _, row := range rows {
		items = append(items, NetRevenueDriver{
			Name:              row.Name,
			CurrentNetRevenue: row.Current,
			Delta:             row.Current - row.Previous,
			Share:             ratioOrZero(row.Current, totalCurrent),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Delta > items[j].Delta })
	if len(items) > 50 {
		items = items[:50]
	}
	return items
}

// netVsGrossRefunds groups gross and refunds per nameExpr, largest net
// first. limit 0 means no limit.
func (s *Service) netVsGrossRefunds(ctx context.Context, source string, conds *conditionSet, nameExpr string, limit int) ([]ProductNetRevenue, error) {
	query := `SELECT COALESCE(` + nameExpr + `, '` + missingLabel + `') AS name, ` + grossSalesExpr + `, ` + refundsExpr +
		` FROM ` + source + ` f WHERE ` + conds.where() +
		` GROUP BY name ORDER BY ` + grossSalesExpr + ` - ` + refundsExpr + ` DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, query, conds.args...)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: net vs gross")
	}
	defer rows.Close()
	items := []ProductNetRevenue{}
	for rows.Next() {
		var item ProductNetRevenue
		if err := rows.Scan(&item.ProductName, &item.GrossSales, &item.Refunds); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan net vs gross")
		}
		item.NetRevenue = item.GrossSales - item.Refunds
		item.RefundRatePercent = ratePercent(item.Refunds, item.GrossSales)
		items = append(items, item)
	}
	return items, rows.Err()
}

func buildNetRevenueSignals(points []NetRevenuePoint, topNetBuckets []string, totals NetRevenueTotals) []Signal {
	signals := []Signal{}
	if len(topNetBuckets) > 0 {
		peak := topNetBuckets[0]
		for _, point := range points {
			if point.Bucket == peak {
				signals = append(signals, Signal{
					Type:     "peak_net_revenue",
					Title:    "Peak Net Revenue",
					Message:  fmt.Sprintf("Пик Net Revenue: %s — %s ₽", peak, formatCurrency(point.NetRevenue)),
					Severity: "info",
				})
				break
			}
		}
	}
	if totals.GrossSalesCurrent-totals.GrossSalesPrevious > 0 && totals.DeltaAbs <= 0 {
		signals = append(signals, Signal{
			Type:     "refunds_ate_growth",
			Title:    "Refunds ate growth",
			Message:  "Рост продаж не дал роста net revenue — возвраты съели результат.",
			Severity: "warn",
		})
	}
	if totals.RefundsShareDeltaPP != nil && *totals.RefundsShareDeltaPP >= 2 {
		signals = append(signals, Signal{
			Type:     "refund_pressure",
			Title:    "Refund pressure",
			Message:  fmt.Sprintf("Доля возвратов выросла на %.1f п.п.", *totals.RefundsShareDeltaPP),
			Severity: "warn",
		})
	}
	if len(points) >= 3 {
		values := make([]float64, len(points))
		maxIdx := 0
		for i, point := range points {
			values[i] = point.NetRevenue
			if point.NetRevenue > values[maxIdx] {
				maxIdx = i
			}
		}
		avg := mean(values)
		if avg > 0 && values[maxIdx] > avg*3 {
			signals = append(signals, Signal{
				Type:     "anomaly_spike",
				Title:    "Anomaly spike",
				Message:  "Аномальный всплеск net revenue: " + points[maxIdx].Bucket,
				Severity: "warn",
			})
		}
	}
	if len(signals) < 2 && totals.RefundsShareCurrent != nil {
		signals = append(signals, Signal{
			Type:     "refund_impact",
			Title:    "Refund impact",
			Message:  fmt.Sprintf("Доля возвратов: %d%% от Gross Sales.", int(math.Round(*totals.RefundsShareCurrent))),
			Severity: "info",
		})
	}
	if len(signals) < 2 {
		signals = append(signals, Signal{
			Type:     "net_revenue_change",
			Title:    "Net Revenue change",
			Message:  "Net Revenue изменился на " + formatCurrency(totals.DeltaAbs) + " ₽.",
			Severity: "info",
		})
	}
	if len(signals) > 4 {
		signals = signals[:4]
	}
	return signals
}
