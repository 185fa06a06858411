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

// FeesSummary compares total commissions across the two periods.
type FeesSummary struct {
	FeesTotalCurrent  float64  `json:"fees_total_current"`
	FeesTotalPrevious float64  `json:"fees_total_previous"`
	DeltaAbs          float64  `json:"delta_abs"`
	DeltaPct          *float64 `json:"delta_pct"`
	FeeShareCurrent   *float64 `json:"fee_share_current"`
	GrossSalesCurrent float64  `json:"gross_sales_current"`
	Method            string   `json:"method"`
}

// FeesPoint is one bucket with the fee total and its share of gross.
type FeesPoint struct {
	Bucket    string  `json:"bucket"`
	FeesTotal float64 `json:"fees_total"`
	FeeShare  float64 `json:"fee_share"`
}

// FeesTrend is the fee series with statistically unusual buckets
// called out.
type FeesTrend struct {
	Granularity string      `json:"granularity"`
	Series      []FeesPoint `json:"series"`
	TopBuckets  []string    `json:"top_buckets"`
	Anomalies   []string    `json:"anomalies"`
}

// FeesDriver is one dimension slice ranked by current fees.
type FeesDriver struct {
	Name        string  `json:"name"`
	CurrentFees float64 `json:"current_fees"`
	DeltaFees   float64 `json:"delta_fees"`
	ShareOfFees float64 `json:"share_of_fees"`
}

// FeesDrivers groups the ranked slices per dimension.
type FeesDrivers struct {
	Products      []FeesDriver `json:"products"`
	Groups        []FeesDriver `json:"groups"`
	Managers      []FeesDriver `json:"managers"`
	PaymentMethod []FeesDriver `json:"payment_method"`
}

// FeeComponent compares one commission column across the periods.
type FeeComponent struct {
	Key          string   `json:"key"`
	Title        string   `json:"title"`
	Current      float64  `json:"current"`
	Previous     float64  `json:"previous"`
	DeltaAbs     float64  `json:"delta_abs"`
	DeltaPct     *float64 `json:"delta_pct"`
	ShareCurrent float64  `json:"share_current"`
}

// FeesEfficiency relates fees to orders and revenue. FeesOnRefunds is
// nil when the period has no refund rows.
type FeesEfficiency struct {
	FeePerOrder   *float64 `json:"fee_per_order"`
	FeePerRevenue *float64 `json:"fee_per_revenue"`
	FeesOnRefunds *float64 `json:"fees_on_refunds"`
}

// FeesDetails is the drill-down payload for the commissions metric.
type FeesDetails struct {
	Summary    FeesSummary    `json:"summary"`
	Trend      FeesTrend      `json:"trend"`
	Drivers    FeesDrivers    `json:"drivers"`
	Breakdowns []FeeComponent `json:"breakdowns"`
	Efficiency FeesEfficiency `json:"efficiency"`
	Insights   []string       `json:"insights"`
}

const (
	feesRefundsExpr = `COALESCE(SUM(CASE WHEN f.operation_type = 'refund' THEN COALESCE(f.fee_1, 0) + COALESCE(f.fee_2, 0) + COALESCE(f.fee_3, 0) ELSE 0 END), 0)`
	refundCountExpr = `COUNT(CASE WHEN f.operation_type = 'refund' THEN 1 END)`
)

func (s *Service) FeesDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*FeesDetails, error) {
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

	feesCurrent, err := s.scalar(ctx, source, feesExpr, current)
	if err != nil {
		return nil, err
	}
	feesPrevious, err := s.scalar(ctx, source, feesExpr, previous)
	if err != nil {
		return nil, err
	}
	grossCurrent, err := s.scalar(ctx, source, grossSalesExpr, current)
	if err != nil {
		return nil, err
	}
	grossPrevious, err := s.scalar(ctx, source, grossSalesExpr, previous)
	if err != nil {
		return nil, err
	}

	feeShareCurrent := ratioOrNil(feesCurrent, grossCurrent)
	feeSharePrevious := ratioOrNil(feesPrevious, grossPrevious)

	gran := granularity(from, to)
	series, err := s.feesSeries(ctx, source, gran, current)
	if err != nil {
		return nil, err
	}

	presence, err := s.fieldPresence(ctx, projectID)
	if err != nil {
		return nil, err
	}
	breakdowns, err := s.feeComponentBreakdown(ctx, source, current, previous, feesCurrent, presence)
	if err != nil {
		return nil, err
	}

	productRows, err := s.driverRows(ctx, source, "f.product_name_norm", feesExpr, current, previous)
	if err != nil {
		return nil, err
	}
	groupRows, err := s.driverRows(ctx, source, groupNameExpr, feesExpr, current, previous)
	if err != nil {
		return nil, err
	}
	managers := []FeesDriver{}
	if presence["manager"] {
		managerRows, err := s.driverRows(ctx, source, "f.manager_norm", feesExpr, current, previous)
		if err != nil {
			return nil, err
		}
		managers = topFeesDrivers(managerRows, feesCurrent)
	}
	var paymentRows []driverRow
	paymentDrivers := []FeesDriver{}
	if presence["payment_method"] {
		paymentRows, err = s.driverRows(ctx, source, "f.payment_method", feesExpr, current, previous)
		if err != nil {
			return nil, err
		}
		paymentDrivers = topFeesDrivers(paymentRows, feesCurrent)
	}
	drivers := FeesDrivers{
		Products:      topFeesDrivers(productRows, feesCurrent),
		Groups:        topFeesDrivers(groupRows, feesCurrent),
		Managers:      managers,
		PaymentMethod: paymentDrivers,
	}

	var orders int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(`+ordersExpr+`, 0) FROM `+source+` f WHERE `+current.where(),
		current.args...,
	).Scan(&orders); err != nil {
		return nil, eris.Wrap(err, "fees: count orders")
	}
	feesRefunds, err := s.scalar(ctx, source, feesRefundsExpr, current)
	if err != nil {
		return nil, err
	}
	var refundsCount int64
	if err := s.pool.QueryRow(ctx,
		`SELECT `+refundCountExpr+` FROM `+source+` f WHERE `+current.where(),
		current.args...,
	).Scan(&refundsCount); err != nil {
		return nil, eris.Wrap(err, "fees: count refunds")
	}

	efficiency := FeesEfficiency{
		FeePerOrder:   ratioOrNil(feesCurrent, float64(orders)),
		FeePerRevenue: ratioOrNil(feesCurrent, grossCurrent),
	}
	if refundsCount > 0 {
		efficiency.FeesOnRefunds = &feesRefunds
	}

	insights := []string{}
	if feeShareCurrent != nil && feeSharePrevious != nil && *feeShareCurrent > *feeSharePrevious {
		insights = append(insights, fmt.Sprintf(
			"❗ Комиссии растут быстрее выручки: доля комиссии выросла до %.2f%%.", *feeShareCurrent*100))
	}
	if len(paymentRows) > 0 && feeShareCurrent != nil && feesCurrent > 0 {
		if shift, err := s.paymentMethodShift(ctx, source, current, previous, feesCurrent, feesPrevious, *feeShareCurrent); err != nil {
			return nil, err
		} else if shift != nil {
			insights = append(insights, fmt.Sprintf(
				"🔥 Смещение в пользу %s увеличивает комиссию: доля метода выросла на %.1f%%.", shift.name, shift.shareDelta*100))
		}
	}
	if efficiency.FeesOnRefunds != nil && feesCurrent > 0 {
		refundShare := *efficiency.FeesOnRefunds / feesCurrent
		if refundShare >= 0.05 {
			insights = append(insights, fmt.Sprintf(
				"❗ Комиссии на возвратах заметны: %.1f%% от всех комиссий.", refundShare*100))
		}
	}
	if len(insights) > 6 {
		insights = insights[:6]
	}

	return &FeesDetails{
		Summary: FeesSummary{
			FeesTotalCurrent:  feesCurrent,
			FeesTotalPrevious: feesPrevious,
			DeltaAbs:          feesCurrent - feesPrevious,
			DeltaPct:          ratioOrNil(feesCurrent-feesPrevious, feesPrevious),
			FeeShareCurrent:   feeShareCurrent,
			GrossSalesCurrent: grossCurrent,
			Method:            "Метод расчета: сумма Commission 1..3",
		},
		Trend: FeesTrend{
			Granularity: gran,
			Series:      series,
			TopBuckets:  topFeesBuckets(series, 5),
			Anomalies:   detectFeeAnomalies(series),
		},
		Drivers:    drivers,
		Breakdowns: breakdowns,
		Efficiency: efficiency,
		Insights:   insights,
	}, nil
}

func (s *Service) feesSeries(ctx context.Context, source, gran string, conds *conditionSet) ([]FeesPoint, error) {
	bucket := bucketExpr(gran)
	rows, err := s.pool.Query(ctx,
		`SELECT `+bucket+` AS bucket, `+feesExpr+`, `+grossSalesExpr+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY bucket ORDER BY bucket`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "fees: series")
	}
	defer rows.Close()
	series := []FeesPoint{}
	for rows.Next() {
		var (
			b    time.Time
			fees float64
			g    float64
		)
		if err := rows.Scan(&b, &fees, &g); err != nil {
			return nil, eris.Wrap(err, "fees: scan series point")
		}
		series = append(series, FeesPoint{
			Bucket:    bucketLabel(b, gran),
			FeesTotal: fees,
			FeeShare:  ratioOrZero(fees, g),
		})
	}
	return series, rows.Err()
}

func topFeesBuckets(series []FeesPoint, n int) []string {
	asDetail := make([]DetailPoint, len(series))
	for i, p := range series {
		asDetail[i] = DetailPoint{Bucket: p.Bucket, Value: p.FeesTotal}
	}
	return topBuckets(asDetail, n)
}

// detectFeeAnomalies flags buckets more than two standard deviations
// from the mean of the nonzero values. Needs at least four such values.
func detectFeeAnomalies(series []FeesPoint) []string {
	var values []float64
	for _, p := range series {
		if p.FeesTotal != 0 {
			values = append(values, p.FeesTotal)
		}
	}
	if len(values) < 4 {
		return []string{}
	}
	m := mean(values)
	deviation := pstdev(values)
	if deviation == 0 {
		return []string{}
	}
	threshold := deviation * 2
	anomalies := []string{}
	for _, p := range series {
		if math.Abs(p.FeesTotal-m) > threshold {
			anomalies = append(anomalies, p.Bucket)
		}
	}
	return anomalies
}

func topFeesDrivers(rows []driverRow, totalCurrent float64) []FeesDriver {
	items := make([]FeesDriver, 0, len(rows))
	for _, row := range rows {
		items = append(items, FeesDriver{
			Name:        row.Name,
			CurrentFees: row.Current,
			DeltaFees:   row.Current - row.Previous,
			ShareOfFees: ratioOrZero(row.Current, totalCurrent),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CurrentFees > items[j].CurrentFees })
	if len(items) > 10 {
		items = items[:10]
	}
	return items
}

func (s *Service) feeComponentBreakdown(ctx context.Context, source string, current, previous *conditionSet, feesTotalCurrent float64, presence metrics.Presence) ([]FeeComponent, error) {
	totals := func(conds *conditionSet) (fee1, fee2, fee3 float64, err error) {
		err = s.pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(f.fee_1), 0), COALESCE(SUM(f.fee_2), 0), COALESCE(SUM(f.fee_3), 0)`+
				` FROM `+source+` f WHERE `+conds.where(),
			conds.args...,
		).Scan(&fee1, &fee2, &fee3)
		if err != nil {
			err = eris.Wrap(err, "fees: component totals")
		}
		return fee1, fee2, fee3, err
	}
	c1, c2, c3, err := totals(current)
	if err != nil {
		return nil, err
	}
	p1, p2, p3, err := totals(previous)
	if err != nil {
		return nil, err
	}
	components := []struct {
		key          string
		title        string
		curr, before float64
	}{
		{"fee_1", "Commission 1", c1, p1},
		{"fee_2", "Commission 2", c2, p2},
		{"fee_3", "Commission 3", c3, p3},
	}
	breakdowns := []FeeComponent{}
	for _, comp := range components {
		if !presence[comp.key] {
			continue
		}
		breakdowns = append(breakdowns, FeeComponent{
			Key:          comp.key,
			Title:        comp.title,
			Current:      comp.curr,
			Previous:     comp.before,
			DeltaAbs:     comp.curr - comp.before,
			DeltaPct:     ratioOrNil(comp.curr-comp.before, comp.before),
			ShareCurrent: ratioOrZero(comp.curr, feesTotalCurrent),
		})
	}
	return breakdowns, nil
}

type feeShift struct {
	name           string
	shareDelta     float64
	feeShareMethod float64
}

// paymentMethodShift finds the payment method whose fee share grew by
// more than five points while carrying a fee rate above the overall
// one.
func (s *Service) paymentMethodShift(ctx context.Context, source string, current, previous *conditionSet, feesTotalCurrent, feesTotalPrevious, feeShareCurrent float64) (*feeShift, error) {
	currentRows, err := s.pool.Query(ctx,
		`SELECT COALESCE(f.payment_method, '`+missingLabel+`') AS name, `+feesExpr+`, `+grossSalesExpr+
			` FROM `+source+` f WHERE `+current.where()+` GROUP BY name`,
		current.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "fees: payment shift current")
	}
	defer currentRows.Close()
	type methodFees struct {
		name  string
		fees  float64
		gross float64
	}
	var methods []methodFees
	for currentRows.Next() {
		var m methodFees
		if err := currentRows.Scan(&m.name, &m.fees, &m.gross); err != nil {
			return nil, eris.Wrap(err, "fees: scan payment shift")
		}
		methods = append(methods, m)
	}
	if err := currentRows.Err(); err != nil {
		return nil, err
	}

	previousRows, err := s.pool.Query(ctx,
		`SELECT COALESCE(f.payment_method, '`+missingLabel+`') AS name, `+feesExpr+
			` FROM `+source+` f WHERE `+previous.where()+` GROUP BY name`,
		previous.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "fees: payment shift previous")
	}
	defer previousRows.Close()
	prevFees := make(map[string]float64)
	for previousRows.Next() {
		var (
			name string
			fees float64
		)
		if err := previousRows.Scan(&name, &fees); err != nil {
			return nil, eris.Wrap(err, "fees: scan payment shift")
		}
		prevFees[name] = fees
	}
	if err := previousRows.Err(); err != nil {
		return nil, err
	}

	var best *feeShift
	for _, m := range methods {
		shareCurrent := ratioOrZero(m.fees, feesTotalCurrent)
		sharePrevious := ratioOrZero(prevFees[m.name], feesTotalPrevious)
		shareDelta := shareCurrent - sharePrevious
		feeShareMethod := ratioOrZero(m.fees, m.gross)
		if shareDelta > 0.05 && feeShareMethod > feeShareCurrent {
			if best == nil || shareDelta > best.shareDelta {
				best = &feeShift{name: m.name, shareDelta: shareDelta, feeShareMethod: feeShareMethod}
			}
		}
	}
	return best, nil
}
