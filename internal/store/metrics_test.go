package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func TestEnsureMetricDefinitions_SkipsExisting(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectExec("INSERT INTO metric_definitions").
		WithArgs("gross_sales", "Валовые продажи", "", "fact_transactions", "sum", "sum",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO metric_definitions").
		WithArgs("refunds", "Возвраты", "", "fact_transactions", "sum", "sum",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	s := NewPostgresWithPool(pool)
	err = s.EnsureMetricDefinitions(context.Background(), []model.MetricDefinition{
		{MetricKey: "gross_sales", Title: "Валовые продажи", SourceTable: "fact_transactions",
			Aggregation: "sum", FormulaType: model.FormulaSum,
			DimsAllowed: []string{"date", "product"}, Requirements: []string{"paid_at", "amount"}, Version: 1},
		{MetricKey: "refunds", Title: "Возвраты", SourceTable: "fact_transactions",
			Aggregation: "sum", FormulaType: model.FormulaSum,
			DimsAllowed: []string{"date"}, Requirements: []string{"paid_at", "amount"}, Version: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestGetMetricDefinition(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("get_metric").
		WithArgs("net_revenue").
		WillReturnRows(pgxmock.NewRows([]string{
			"metric_key", "title", "description", "source_table", "aggregation",
			"formula_type", "dims_allowed", "requirements", "version", "created_at",
		}).AddRow("net_revenue", "Чистая выручка", nil, nil, nil, "formula",
			[]byte(`["date","product","manager"]`), []byte(`["paid_at","operation_type","amount"]`), 1, time.Now()))

	s := NewPostgresWithPool(pool)
	def, err := s.GetMetricDefinition(context.Background(), "net_revenue")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, model.FormulaFormula, def.FormulaType)
	assert.Equal(t, []string{"date", "product", "manager"}, def.DimsAllowed)
	assert.Empty(t, def.SourceTable)
}

func TestGetMetricDefinition_Unknown(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("get_metric").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	s := NewPostgresWithPool(pool)
	def, err := s.GetMetricDefinition(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, def)
}
