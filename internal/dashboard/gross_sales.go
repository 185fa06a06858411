package dashboard

import (
	"context"
	"math"
	"time"

	"github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/model"
)

// GrossSalesDrivers breaks the period change down by dimension. The
// managers split stays empty when the manager column never arrives in
// the uploads.
type GrossSalesDrivers struct {
	Products DriverSplit `json:"products"`
	Groups   DriverSplit `json:"groups"`
	Managers DriverSplit `json:"managers"`
}

// ConcentrationItem is one top product with its revenue share.
type ConcentrationItem struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Share float64 `json:"share"`
}

// Concentration describes how much of the revenue the top products
// hold.
type Concentration struct {
	Top1Share float64             `json:"top1_share"`
	Top3Share float64             `json:"top3_share"`
	Top1Name  *string             `json:"top1_name"`
	Top1Value float64             `json:"top1_value"`
	Top3Names []string            `json:"top3_names"`
	Top3Items []ConcentrationItem `json:"top3_items"`
}

// GrossSalesDetails is the drill-down payload for the gross sales
// metric.
type GrossSalesDetails struct {
	Metric            string                   `json:"metric"`
	Current           PeriodValue              `json:"current"`
	Previous          PeriodValue              `json:"previous"`
	Change            Change                   `json:"change"`
	Series            []DetailPoint            `json:"series"`
	SeriesGranularity string                   `json:"series_granularity"`
	TopBuckets        []string                 `json:"top_buckets"`
	Drivers           GrossSalesDrivers        `json:"drivers"`
	Concentration     Concentration            `json:"concentration"`
	Insights          []Insight                `json:"insights"`
	Availability      model.MetricAvailability `json:"availability"`
}

func (s *Service) GrossSalesDetails(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*GrossSalesDetails, error) {
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

	currentValue, err := s.scalar(ctx, source, grossSalesExpr, current)
	if err != nil {
		return nil, err
	}
	previousValue, err := s.scalar(ctx, source, grossSalesExpr, previous)
	if err != nil {
		return nil, err
	}

	gran := granularity(from, to)
	series, err := s.valueSeries(ctx, source, grossSalesExpr, gran, current)
	if err != nil {
		return nil, err
	}

	productRows, err := s.driverRows(ctx, source, "f.product_name_norm", grossSalesExpr, current, previous)
	if err != nil {
		return nil, err
	}
	groupRows, err := s.driverRows(ctx, source, groupNameExpr, grossSalesExpr, current, previous)
	if err != nil {
		return nil, err
	}

	presence, err := s.fieldPresence(ctx, projectID)
	if err != nil {
		return nil, err
	}
	managerAvail := metrics.Evaluate([]string{"manager"}, presence)
	managers := DriverSplit{Up: []DriverItem{}, Down: []DriverItem{}}
	if managerAvail.Status == model.AvailabilityAvailable {
		managerRows, err := s.driverRows(ctx, source, "f.manager_norm", grossSalesExpr, current, previous)
		if err != nil {
			return nil, err
		}
		managers = splitDriverItems(buildDriverItems(managerRows, currentValue))
	}

	drivers := GrossSalesDrivers{
		Products: splitDriverItems(buildDriverItems(productRows, currentValue)),
		Groups:   splitDriverItems(buildDriverItems(groupRows, currentValue)),
		Managers: managers,
	}

	topProducts, err := s.topProductRevenue(ctx, source, current)
	if err != nil {
		return nil, err
	}
	concentration := buildConcentration(topProducts, currentValue)

	insights := []Insight{}
	all := append(append(append(append(append(
		[]DriverItem{}, drivers.Products.Up...), drivers.Products.Down...),
		drivers.Groups.Up...), drivers.Groups.Down...,
	), append(drivers.Managers.Up, drivers.Managers.Down...)...)
	if len(all) > 0 {
		top := all[0]
		for _, item := range all[1:] {
			if math.Abs(item.DeltaAbs) > math.Abs(top.DeltaAbs) {
				top = item
			}
		}
		insights = append(insights, Insight{
			Title:    "Драйвер изменения",
			Text:     "Основной вклад в изменение дал " + top.Name + ": " + formatCurrency(top.DeltaAbs) + " ₽",
			Severity: "info",
		})
	}
	if concentration.Top1Share > 0.6 && concentration.Top1Name != nil {
		insights = append(insights, Insight{
			Title:    "Концентрация",
			Text:     "Высокая концентрация: " + *concentration.Top1Name + " = " + formatPercent(concentration.Top1Share) + "% выручки",
			Severity: "warn",
		})
	}

	availability := metrics.Evaluate([]string{"paid_at", "amount", "operation_type"}, presence)
	if availability.Status == model.AvailabilityAvailable && managerAvail.Status != model.AvailabilityAvailable {
		availability.Status = model.AvailabilityPartial
		availability.MissingFields = mergeMissing(availability.MissingFields, managerAvail.MissingFields)
	}

	return &GrossSalesDetails{
		Metric:            "gross_sales",
		Current:           periodValue(currentValue, from, to),
		Previous:          periodValue(previousValue, prev.From, prev.To),
		Change:            change(currentValue, previousValue),
		Series:            series,
		SeriesGranularity: gran,
		TopBuckets:        topBuckets(series, 5),
		Drivers:           drivers,
		Concentration:     concentration,
		Insights:          insights,
		Availability:      availability,
	}, nil
}

// topProductRevenue lists gross sales per product, largest first.
func (s *Service) topProductRevenue(ctx context.Context, source string, conds *conditionSet) ([]ConcentrationItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(f.product_name_norm, '`+missingLabel+`') AS name, `+grossSalesExpr+` AS value`+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY name ORDER BY value DESC`,
		conds.args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConcentrationItem
	for rows.Next() {
		var item ConcentrationItem
		if err := rows.Scan(&item.Name, &item.Value); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func buildConcentration(topProducts []ConcentrationItem, currentValue float64) Concentration {
	c := Concentration{Top3Names: []string{}, Top3Items: []ConcentrationItem{}}
	if len(topProducts) == 0 {
		return c
	}
	top3 := topProducts
	if len(top3) > 3 {
		top3 = top3[:3]
	}
	name := topProducts[0].Name
	c.Top1Name = &name
	c.Top1Value = topProducts[0].Value
	c.Top1Share = ratioOrZero(topProducts[0].Value, currentValue)
	var top3Sum float64
	for _, item := range top3 {
		top3Sum += item.Value
		item.Share = ratioOrZero(item.Value, currentValue)
		c.Top3Names = append(c.Top3Names, item.Name)
		c.Top3Items = append(c.Top3Items, item)
	}
	c.Top3Share = ratioOrZero(top3Sum, currentValue)
	return c
}
