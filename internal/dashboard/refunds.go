package dashboard

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/metrics"
)

// RefundsTotals compares refund volume and refund rate across the two
// periods. Rates are percentages; nil when the gross base is zero.
type RefundsTotals struct {
	RefundsCurrent    float64  `json:"refunds_current"`
	RefundsPrevious   float64  `json:"refunds_previous"`
	DeltaAbs          float64  `json:"delta_abs"`
	DeltaPct          *float64 `json:"delta_pct"`
	GrossSalesCurrent float64  `json:"gross_sales_current"`
	RefundRateCurrent *float64 `json:"refund_rate_current"`
	RefundRatePrev    *float64 `json:"refund_rate_previous"`
	RefundRateDeltaPP *float64 `json:"refund_rate_delta_pp"`
}

// RefundsSeries carries the refunds and refund-rate series over the
// current period.
type RefundsSeries struct {
	Granularity       string        `json:"granularity"`
	SeriesRefunds     []DetailPoint `json:"series_refunds"`
	SeriesRefundRate  []DetailPoint `json:"series_refund_rate"`
	TopBucketsRefunds []string      `json:"top_buckets_refunds"`
}

// ProductRefunds is one product with sales and refunds side by side.
type ProductRefunds struct {
	ProductName string   `json:"product_name"`
	GrossSales  float64  `json:"gross_sales"`
	Refunds     float64  `json:"refunds"`
	RefundRate  *float64 `json:"refund_rate"`
}

// RefundsTopProduct is the product with the largest refund volume.
type RefundsTopProduct struct {
	ProductName string  `json:"product_name"`
	Refunds     float64 `json:"refunds"`
	Share       float64 `json:"share"`
}

// RefundsConcentration shows how concentrated the refunds are.
type RefundsConcentration struct {
	Top1      *RefundsTopProduct `json:"top1"`
	Top3Share float64            `json:"top3_share"`
}

// PaymentMethodRefunds is one payment method with its refund share.
type PaymentMethodRefunds struct {
	PaymentMethod string   `json:"payment_method"`
	Refunds       float64  `json:"refunds"`
	Share         float64  `json:"share"`
	GrossSales    float64  `json:"gross_sales"`
	RefundRate    *float64 `json:"refund_rate"`
}

// RefundsDetails is the drill-down payload for the refunds metric.
type RefundsDetails struct {
	Periods struct {
		Current  DateRange `json:"current"`
		Previous DateRange `json:"previous"`
	} `json:"periods"`
	Totals                  RefundsTotals          `json:"totals"`
	Series                  RefundsSeries          `json:"series"`
	SalesVsRefundsByProduct []ProductRefunds       `json:"sales_vs_refunds_by_product"`
	Concentration           RefundsConcentration   `json:"concentration"`
	RefundsByPaymentMethod  []PaymentMethodRefunds `json:"refunds_by_payment_method"`
	Signals                 []Insight              `json:"signals"`
}

func (s *Service) RefundsDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*RefundsDetails, error) {
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

	refundsCurrent, err := s.scalar(ctx, source, refundsExpr, current)
	if err != nil {
		return nil, err
	}
	refundsPrevious, err := s.scalar(ctx, source, refundsExpr, previous)
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

	totals := RefundsTotals{
		RefundsCurrent:    refundsCurrent,
		RefundsPrevious:   refundsPrevious,
		DeltaAbs:          refundsCurrent - refundsPrevious,
		DeltaPct:          ratioOrNil(refundsCurrent-refundsPrevious, refundsPrevious),
		GrossSalesCurrent: grossCurrent,
		RefundRateCurrent: ratePercent(refundsCurrent, grossCurrent),
		RefundRatePrev:    ratePercent(refundsPrevious, grossPrevious),
	}
	if totals.RefundRateCurrent != nil && totals.RefundRatePrev != nil {
		pp := *totals.RefundRateCurrent - *totals.RefundRatePrev
		totals.RefundRateDeltaPP = &pp
	}

	gran := granularity(from, to)
	seriesRefunds, seriesRate, err := s.refundsSeries(ctx, source, gran, current)
	if err != nil {
		return nil, err
	}

	byProduct, err := s.salesVsRefundsByProduct(ctx, source, current)
	if err != nil {
		return nil, err
	}

	concentration := RefundsConcentration{}
	if len(byProduct) > 0 {
		top3 := byProduct
		if len(top3) > 3 {
			top3 = top3[:3]
		}
		concentration.Top1 = &RefundsTopProduct{
			ProductName: byProduct[0].ProductName,
			Refunds:     byProduct[0].Refunds,
			Share:       ratioOrZero(byProduct[0].Refunds, refundsCurrent),
		}
		var top3Sum float64
		for _, item := range top3 {
			top3Sum += item.Refunds
		}
		concentration.Top3Share = ratioOrZero(top3Sum, refundsCurrent)
	}

	presence, err := s.fieldPresence(ctx, projectID)
	if err != nil {
		return nil, err
	}
	paymentMethods := []PaymentMethodRefunds{}
	if presence["payment_method"] {
		paymentMethods, err = s.refundsByPaymentMethod(ctx, source, current, refundsCurrent)
		if err != nil {
			return nil, err
		}
	}

	details := &RefundsDetails{
		Totals: totals,
		Series: RefundsSeries{
			Granularity:       gran,
			SeriesRefunds:     seriesRefunds,
			SeriesRefundRate:  seriesRate,
			TopBucketsRefunds: topBuckets(seriesRefunds, 5),
		},
		SalesVsRefundsByProduct: byProduct,
		Concentration:           concentration,
		RefundsByPaymentMethod:  paymentMethods,
		Signals:                 []Insight{},
	}
	details.Periods.Current = dateRange(from, to)
	details.Periods.Previous = dateRange(prev.From, prev.To)
	return details, nil
}

// ratePercent turns a ratio into a percentage, nil for a zero base.
func ratePercent(part, base float64) *float64 {
	if base == 0 {
		return nil
	}
	v := part / base * 100
	return &v
}

func (s *Service) refundsSeries(ctx context.Context, source, gran string, conds *conditionSet) ([]DetailPoint, []DetailPoint, error) {
	bucket := bucketExpr(gran)
	rows, err := s.pool.Query(ctx,
		`SELECT `+bucket+` AS bucket, `+refundsExpr+`, `+grossSalesExpr+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY bucket ORDER BY bucket`,
		conds.args...,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "dashboard: refunds series")
	}
	defer rows.Close()
	refunds := []DetailPoint{}
	rate := []DetailPoint{}
	for rows.Next() {
		var (
			b    time.Time
			r, g float64
		)
		if err := rows.Scan(&b, &r, &g); err != nil {
			return nil, nil, eris.Wrap(err, "dashboard: scan refunds series")
		}
		label := bucketLabel(b, gran)
		refunds = append(refunds, DetailPoint{Bucket: label, Value: r})
		var rateValue float64
		if g != 0 {
			rateValue = r / g * 100
		}
		rate = append(rate, DetailPoint{Bucket: label, Value: rateValue})
	}
	return refunds, rate, rows.Err()
}

func (s *Service) salesVsRefundsByProduct(ctx context.Context, source string, conds *conditionSet) ([]ProductRefunds, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(f.product_name_norm, '`+missingLabel+`') AS name, `+grossSalesExpr+`, `+refundsExpr+` AS refunds`+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY name ORDER BY refunds DESC LIMIT 50`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: refunds by product")
	}
	defer rows.Close()
	items := []ProductRefunds{}
	for rows.Next() {
		var item ProductRefunds
		if err := rows.Scan(&item.ProductName, &item.GrossSales, &item.Refunds); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan refunds by product")
		}
		item.RefundRate = ratePercent(item.Refunds, item.GrossSales)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Service) refundsByPaymentMethod(ctx context.Context, source string, conds *conditionSet, refundsTotal float64) ([]PaymentMethodRefunds, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(f.payment_method, '`+missingLabel+`') AS name, `+refundsExpr+` AS refunds, `+grossSalesExpr+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY name ORDER BY refunds DESC`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: refunds by payment method")
	}
	defer rows.Close()
	items := []PaymentMethodRefunds{}
	for rows.Next() {
		var item PaymentMethodRefunds
		if err := rows.Scan(&item.PaymentMethod, &item.Refunds, &item.GrossSales); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan refunds by payment method")
		}
		item.Share = ratioOrZero(item.Refunds, refundsTotal)
		item.RefundRate = ratePercent(item.Refunds, item.GrossSales)
		items = append(items, item)
	}
	return items, rows.Err()
}
