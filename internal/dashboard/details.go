package dashboard

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// PeriodValue is an aggregate over a closed date range.
type PeriodValue struct {
	Value float64 `json:"value"`
	From  string  `json:"from"`
	To    string  `json:"to"`
}

func periodValue(value float64, from, to time.Time) PeriodValue {
	return PeriodValue{Value: value, From: from.Format(time.DateOnly), To: to.Format(time.DateOnly)}
}

// DateRange is a closed period rendered as plain dates.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func dateRange(from, to time.Time) DateRange {
	return DateRange{From: from.Format(time.DateOnly), To: to.Format(time.DateOnly)}
}

// Change compares two period values. DeltaPct is nil when the previous
// value is zero.
type Change struct {
	DeltaAbs float64  `json:"delta_abs"`
	DeltaPct *float64 `json:"delta_pct"`
}

func change(current, previous float64) Change {
	return Change{DeltaAbs: current - previous, DeltaPct: ratioOrNil(current-previous, previous)}
}

// DetailPoint is one bucket of a detail series.
type DetailPoint struct {
	Bucket string  `json:"bucket"`
	Value  float64 `json:"value"`
}

// DriverItem is one dimension slice with its contribution to the
// period change.
type DriverItem struct {
	Name         string   `json:"name"`
	Current      float64  `json:"current"`
	Previous     float64  `json:"previous"`
	DeltaAbs     float64  `json:"delta_abs"`
	DeltaPct     *float64 `json:"delta_pct"`
	ShareCurrent float64  `json:"share_current"`
}

// DriverSplit separates growing slices from shrinking ones.
type DriverSplit struct {
	Up   []DriverItem `json:"up"`
	Down []DriverItem `json:"down"`
}

// Insight is a short generated note attached to a detail response.
type Insight struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Severity string `json:"severity"`
}

// driverRow is one dimension slice compared across the current and the
// previous period.
type driverRow struct {
	Name     string
	Current  float64
	Previous float64
}

// driverRows aggregates valueExpr per dimension value for both periods
// and merges them by name.
func (s *Service) driverRows(ctx context.Context, source, nameExpr, valueExpr string, current, previous *conditionSet) ([]driverRow, error) {
	fetch := func(conds *conditionSet) (map[string]float64, []string, error) {
		rows, err := s.pool.Query(ctx,
			`SELECT COALESCE(`+nameExpr+`, '`+missingLabel+`') AS name, `+valueExpr+
				` FROM `+source+` f WHERE `+conds.where()+` GROUP BY name`,
			conds.args...,
		)
		if err != nil {
			return nil, nil, eris.Wrap(err, "dashboard: driver rows")
		}
		defer rows.Close()
		values := make(map[string]float64)
		var order []string
		for rows.Next() {
			var (
				name  string
				value float64
			)
			if err := rows.Scan(&name, &value); err != nil {
				return nil, nil, eris.Wrap(err, "dashboard: scan driver row")
			}
			if _, seen := values[name]; !seen {
				order = append(order, name)
			}
			values[name] = value
		}
		return values, order, rows.Err()
	}

	currentValues, order, err := fetch(current)
	if err != nil {
		return nil, err
	}
	previousValues, previousOrder, err := fetch(previous)
	if err != nil {
		return nil, err
	}
	for _, name := range previousOrder {
		if _, seen := currentValues[name]; !seen {
			order = append(order, name)
		}
	}

	out := make([]driverRow, 0, len(order))
	for _, name := range order {
		out = append(out, driverRow{
			Name:     name,
			Current:  currentValues[name],
			Previous: previousValues[name],
		})
	}
	return out, nil
}

func (s *Service) scalar(ctx context.Context, source, expr string, conds *conditionSet) (float64, error) {
	var value float64
	err := s.pool.QueryRow(ctx,
		`SELECT `+expr+` FROM `+source+` f WHERE `+conds.where(),
		conds.args...,
	).Scan(&value)
	if err != nil {
		return 0, eris.Wrap(err, "dashboard: scalar aggregate")
	}
	return value, nil
}

// ratioOrNil divides and returns nil on a zero denominator, so JSON
// carries null instead of a misleading zero.
func ratioOrNil(numerator, denominator float64) *float64 {
	if denominator == 0 {
		return nil
	}
	v := numerator / denominator
	return &v
}

func ratioOrZero(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// valueSeries aggregates valueExpr per bucket in bucket order.
func (s *Service) valueSeries(ctx context.Context, source, valueExpr, gran string, conds *conditionSet) ([]DetailPoint, error) {
	bucket := bucketExpr(gran)
	rows, err := s.pool.Query(ctx,
		`SELECT `+bucket+` AS bucket, `+valueExpr+
			` FROM `+source+` f WHERE `+conds.where()+` GROUP BY bucket ORDER BY bucket`,
		conds.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: value series")
	}
	defer rows.Close()
	series := []DetailPoint{}
	for rows.Next() {
		var (
			b time.Time
			v float64
		)
		if err := rows.Scan(&b, &v); err != nil {
			return nil, eris.Wrap(err, "dashboard: scan series point")
		}
		series = append(series, DetailPoint{Bucket: bucketLabel(b, gran), Value: v})
	}
	return series, rows.Err()
}

func topBuckets(series []DetailPoint, n int) []string {
	sorted := make([]DetailPoint, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = p.Bucket
	}
	return out
}

func buildDriverItems(rows []driverRow, totalCurrent float64) []DriverItem {
	items := make([]DriverItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, DriverItem{
			Name:         row.Name,
			Current:      row.Current,
			Previous:     row.Previous,
			DeltaAbs:     row.Current - row.Previous,
			DeltaPct:     ratioOrNil(row.Current-row.Previous, row.Previous),
			ShareCurrent: ratioOrZero(row.Current, totalCurrent),
		})
	}
	return items
}

func splitDriverItems(items []DriverItem) DriverSplit {
	split := DriverSplit{Up: []DriverItem{}, Down: []DriverItem{}}
	for _, item := range items {
		switch {
		case item.DeltaAbs > 0:
			split.Up = append(split.Up, item)
		case item.DeltaAbs < 0:
			split.Down = append(split.Down, item)
		}
	}
	sort.SliceStable(split.Up, func(i, j int) bool { return split.Up[i].DeltaAbs > split.Up[j].DeltaAbs })
	sort.SliceStable(split.Down, func(i, j int) bool { return split.Down[i].DeltaAbs < split.Down[j].DeltaAbs })
	if len(split.Up) > 10 {
		split.Up = split.Up[:10]
	}
	if len(split.Down) > 10 {
		split.Down = split.Down[:10]
	}
	return split
}

// formatPercent renders a ratio as a rounded whole percentage.
func formatPercent(ratio float64) string {
	return strconv.Itoa(int(math.Round(ratio * 100)))
}

// mergeMissing unions missing-field lists into a sorted set.
func mergeMissing(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, field := range list {
			seen[field] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for field := range seen {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// pstdev is the population standard deviation.
func pstdev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)))
}
