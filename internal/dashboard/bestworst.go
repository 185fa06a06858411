package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/metrics"
)

// DayPoint is one calendar day with its net revenue and order count.
type DayPoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Orders  int64   `json:"orders"`
}

// DayDriver is one dimension slice of a single day compared against
// its average day within the period.
type DayDriver struct {
	Name     string   `json:"name"`
	Revenue  float64  `json:"revenue"`
	Share    float64  `json:"share"`
	DeltaAbs float64  `json:"delta_abs"`
	DeltaPct *float64 `json:"delta_pct"`
}

// DayDrivers breaks one day down per dimension.
type DayDrivers struct {
	Products []DayDriver `json:"products"`
	Groups   []DayDriver `json:"groups"`
	Managers []DayDriver `json:"managers"`
}

// DayDetails describes the best or worst day of the period.
type DayDetails struct {
	Date    string     `json:"date"`
	Revenue float64    `json:"revenue"`
	Orders  int64      `json:"orders"`
	Drivers DayDrivers `json:"drivers"`
}

// BestWorstPeriod summarizes the requested range.
type BestWorstPeriod struct {
	From          string  `json:"from"`
	To            string  `json:"to"`
	TotalRevenue  float64 `json:"total_revenue"`
	DaysCount     int     `json:"days_count"`
	AvgDayRevenue float64 `json:"avg_day_revenue"`
}

// BestWorstDays picks the strongest and weakest day of the period with
// per-dimension drivers for each.
type BestWorstDays struct {
	Period       BestWorstPeriod `json:"period"`
	Series       []DayPoint      `json:"series"`
	Best         *DayDetails     `json:"best"`
	Worst        *DayDetails     `json:"worst"`
	Availability struct {
		MissingFields []string `json:"missing_fields"`
	} `json:"availability"`
}

func (s *Service) BestWorstDays(ctx context.Context, projectID string, from, to time.Time, filters map[string]any) (*BestWorstDays, error) {
	filters = metrics.NormalizeFilters(filters)
	source, err := s.transactionSource(ctx, projectID)
	if err != nil {
		return nil, err
	}

	period := newConditions(projectID)
	period.addRange(from, to)
	period.addFilters(filters)

	series, err := s.daySeries(ctx, source, period)
	if err != nil {
		return nil, err
	}

	totalRevenue, err := s.scalar(ctx, source, netRevenueExpr, period)
	if err != nil {
		return nil, err
	}
	daysCount := int(to.Sub(from).Hours()/24) + 1
	avgDayRevenue := 0.0
	if daysCount > 0 {
		avgDayRevenue = totalRevenue / float64(daysCount)
	}

	presence, err := s.fieldPresence(ctx, projectID)
	if err != nil {
		return nil, err
	}
	includeManagers := presence["manager"]
	missingFields := []string{}
	if !includeManagers {
		missingFields = append(missingFields, "manager")
	}

	var best, worst *DayPoint
	for i := range series {
		if best == nil || series[i].Revenue > best.Revenue {
			best = &series[i]
		}
		if worst == nil || series[i].Revenue < worst.Revenue {
			worst = &series[i]
		}
	}

	out := &BestWorstDays{
		Period: BestWorstPeriod{
			From:          from.Format(time.DateOnly),
			To:            to.Format(time.DateOnly),
			TotalRevenue:  totalRevenue,
			DaysCount:     daysCount,
			AvgDayRevenue: avgDayRevenue,
		},
		Series: series,
	}
	out.Availability.MissingFields = missingFields

	if best != nil {
		out.Best, err = s.dayDetails(ctx, source, projectID, period, *best, daysCount, includeManagers, filters)
		if err != nil {
			return nil, err
		}
	}
	if worst != nil {
		out.Worst, err = s.dayDetails(ctx, source, projectID, period, *worst, daysCount, includeManagers, filters)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) daySeries(ctx context.Context, source string, conds *conditionSet) ([]DayPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.date, `+netRevenueExpr+`, COALESCE(`+ordersExpr+`, 0)`+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY f.date ORDER BY f.date`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: day series")
	}
	defer rows.Close()
	series := []DayPoint{}
	for rows.Next() {
		var (
			day   time.Time
			point DayPoint
		)
		if err := rows.Scan(&day, &point.Revenue, &point.Orders); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan day point")
		}
		point.Date = day.Format(time.DateOnly)
		series = append(series, point)
	}
	return series, rows.Err()
}

func (s *Service) dayDetails(ctx context.Context, source, projectID string, period *conditionSet, day DayPoint, daysCount int, includeManagers bool, filters map[string]any) (*DayDetails, error) {
	dayConds := newConditions(projectID)
	dayDate, err := time.Parse(time.DateOnly, day.Date)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: parse day")
	}
	dayConds.addRange(dayDate, dayDate)
	dayConds.addFilters(filters)

	products, err := s.dayDrivers(ctx, source, "f.product_name_norm", period, dayConds, daysCount, day.Revenue)
	if err != nil {
		return nil, err
	}
	groups, err := s.dayDrivers(ctx, source, groupNameExpr, period, dayConds, daysCount, day.Revenue)
	if err != nil {
		return nil, err
	}
	managers := []DayDriver{}
	if includeManagers {
		managers, err = s.dayDrivers(ctx, source, "f.manager_norm", period, dayConds, daysCount, day.Revenue)
		if err != nil {
			return nil, err
		}
	}
	return &DayDetails{
		Date:    day.Date,
		Revenue: day.Revenue,
		Orders:  day.Orders,
		Drivers: DayDrivers{Products: products, Groups: groups, Managers: managers},
	}, nil
}

// dayDrivers ranks the day's slices against their average day over the
// whole period.
func (s *Service) dayDrivers(ctx context.Context, source, nameExpr string, period, dayConds *conditionSet, daysCount int, dayRevenue float64) ([]DayDriver, error) {
	fetch := func(conds *conditionSet) (map[string]float64, []string, error) {
		rows, err := s.pool.Query(ctx,
			`SELECT COALESCE(`+nameExpr+`, '`+missingLabel+`') AS name, `+netRevenueExpr+
				` FROM `+source+` f WHERE `+conds.where()+` GROUP BY name`,
			conds.args...,
		)
		if err != nil {
			return nil, nil, eris.Wrap(err, "dashboard: day drivers")
		}
		defer rows.Close()
		values := make(map[string]float64)
		var order []string
		for rows.Next() {
			var (
				name    string
				revenue float64
			)
			if err := rows.Scan(&name, &revenue); err != nil {
				return nil, nil, eris.Wrap(err, "dashboard: scan day driver")
			}
			if _, seen := values[name]; !seen {
				order = append(order, name)
			}
			values[name] = revenue
		}
		return values, order, rows.Err()
	}

	periodTotals, _, err := fetch(period)
	if err != nil {
		return nil, err
	}
	dayValues, dayOrder, err := fetch(dayConds)
	if err != nil {
		return nil, err
	}

	items := make([]DayDriver, 0, len(dayOrder))
	for _, name := range dayOrder {
		revenue := dayValues[name]
		avgSliceDay := 0.0
		if daysCount > 0 {
			avgSliceDay = periodTotals[name] / float64(daysCount)
		}
		items = append(items, DayDriver{
			Name:     name,
			Revenue:  revenue,
			Share:    ratioOrZero(revenue, dayRevenue),
			DeltaAbs: revenue - avgSliceDay,
			DeltaPct: ratioOrNil(revenue-avgSliceDay, avgSliceDay),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Revenue > items[j].Revenue })
	if len(items) > 10 {
		items = items[:10]
	}
	return items, nil
}
