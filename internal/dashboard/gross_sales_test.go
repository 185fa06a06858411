package dashboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// presenceTxRows builds the transaction probe row: a row count followed
// by one 0/1 flag per probed column.
func presenceTxRows(count int, present map[int]bool) *pgxmock.Rows {
	const flagCount = 19
	columns := []string{"count"}
	values := []any{count}
	for i := 0; i < flagCount; i++ {
		columns = append(columns, fmt.Sprintf("f%d", i))
		flag := 0
		if present[i] {
			flag = 1
		}
		values = append(values, flag)
	}
	return pgxmock.NewRows(columns).AddRow(values...)
}

func presenceSpendRows(count int) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"count", "f0", "f1", "f2", "f3", "f4"}).
		AddRow(count, 0, 0, 0, 0, 0)
}

func TestGrossSalesDetails(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	prevFrom := time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC)
	prevTo := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)

	pool.ExpectQuery(`operation_type = 'sale'`).
		WithArgs("proj-1", from, to).
		WillReturnRows(sumRows(1000))
	pool.ExpectQuery(`operation_type = 'sale'`).
		WithArgs("proj-1", prevFrom, prevTo).
		WillReturnRows(sumRows(800))

	pool.ExpectQuery(`GROUP BY bucket ORDER BY bucket`).
		WithArgs("proj-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"bucket", "value"}).
			AddRow(from, 600.0).
			AddRow(from.AddDate(0, 0, 1), 400.0))

	pool.ExpectQuery(`f.product_name_norm.+GROUP BY name`).
		WithArgs("proj-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}).
			AddRow("Курс А", 700.0).
			AddRow("Курс Б", 300.0))
	pool.ExpectQuery(`f.product_name_norm.+GROUP BY name`).
		WithArgs("proj-1", prevFrom, prevTo).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}).
			AddRow("Курс А", 500.0).
			AddRow("Курс Б", 300.0))

	pool.ExpectQuery(`f.group_5`).
		WithArgs("proj-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}))
	pool.ExpectQuery(`f.group_5`).
		WithArgs("proj-1", prevFrom, prevTo).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}))

	pool.ExpectQuery(`FROM fact_transactions WHERE project_id`).
		WithArgs("proj-1").
		WillReturnRows(presenceTxRows(5, map[int]bool{3: true}))
	pool.ExpectQuery(`FROM fact_marketing_spend WHERE project_id`).
		WithArgs("proj-1").
		WillReturnRows(presenceSpendRows(0))

	pool.ExpectQuery(`ORDER BY value DESC`).
		WithArgs("proj-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}).
			AddRow("Курс А", 700.0).
			AddRow("Курс Б", 300.0))

	svc := NewService(pool, &stubStore{policy: model.DedupKeepAllRows})
	details, err := svc.GrossSalesDetails(context.Background(), "proj-1", from, to, nil)
	require.NoError(t, err)

	assert.Equal(t, "gross_sales", details.Metric)
	assert.Equal(t, 1000.0, details.Current.Value)
	assert.Equal(t, "2025-02-19", details.Previous.From)
	assert.Equal(t, 200.0, details.Change.DeltaAbs)
	require.NotNil(t, details.Change.DeltaPct)
	assert.InDelta(t, 0.25, *details.Change.DeltaPct, 1e-9)

	assert.Equal(t, "day", details.SeriesGranularity)
	assert.Equal(t, []string{"2025-03-01", "2025-03-02"}, details.TopBuckets)

	require.Len(t, details.Drivers.Products.Up, 1)
	assert.Equal(t, "Курс А", details.Drivers.Products.Up[0].Name)
	assert.Empty(t, details.Drivers.Products.Down)
	assert.Empty(t, details.Drivers.Managers.Up)

	assert.InDelta(t, 0.7, details.Concentration.Top1Share, 1e-9)
	require.NotNil(t, details.Concentration.Top1Name)
	assert.Equal(t, "Курс А", *details.Concentration.Top1Name)

	require.NotEmpty(t, details.Insights)
	assert.Equal(t, "Драйвер изменения", details.Insights[0].Title)

	assert.Equal(t, model.AvailabilityPartial, details.Availability.Status)
	assert.Equal(t, []string{"manager"}, details.Availability.MissingFields)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestGrossSalesDetails_ConcentrationInsight(t *testing.T) {
	top := []ConcentrationItem{
		{Name: "Курс А", Value: 700},
		{Name: "Курс Б", Value: 200},
		{Name: "Курс В", Value: 50},
		{Name: "Курс Г", Value: 50},
	}

	c := buildConcentration(top, 1000)

	assert.InDelta(t, 0.7, c.Top1Share, 1e-9)
	assert.InDelta(t, 0.95, c.Top3Share, 1e-9)
	assert.Equal(t, []string{"Курс А", "Курс Б", "Курс В"}, c.Top3Names)
	require.Len(t, c.Top3Items, 3)
	assert.InDelta(t, 0.2, c.Top3Items[1].Share, 1e-9)
}

func TestBuildConcentration_Empty(t *testing.T) {
	c := buildConcentration(nil, 0)

	assert.Nil(t, c.Top1Name)
	assert.Zero(t, c.Top1Share)
	assert.Empty(t, c.Top3Items)
}
