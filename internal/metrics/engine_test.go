package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

type stubStore struct {
	defs   map[string]*model.MetricDefinition
	policy model.DedupPolicy
}

func newStubStore(policy model.DedupPolicy) *stubStore {
	defs, _ := Defaults()
	byKey := make(map[string]*model.MetricDefinition, len(defs))
	for i := range defs {
		byKey[defs[i].MetricKey] = &defs[i]
	}
	return &stubStore{defs: byKey, policy: policy}
}

func (s *stubStore) GetMetricDefinition(_ context.Context, metricKey string) (*model.MetricDefinition, error) {
	return s.defs[metricKey], nil
}

func (s *stubStore) DedupPolicy(_ context.Context, _ string) (model.DedupPolicy, error) {
	return s.policy, nil
}

func sumRows(value float64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"value"}).AddRow(value)
}

func TestCompute_GrossSales(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	pool.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
		WithArgs("proj-1", from, to, "card").
		WillReturnRows(sumRows(125000))

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	value, err := engine.Compute(context.Background(), Query{
		ProjectID: "proj-1",
		MetricKey: "gross_sales",
		From:      &from,
		To:        &to,
		Filters:   map[string]any{"payment_method": " card ", "unknown_dim": "x"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 125000.0, value)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestCompute_NetRevenueSharesCache(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`operation_type = 'sale'`).
		WithArgs("proj-1").
		WillReturnRows(sumRows(1000))
	pool.ExpectQuery(`operation_type = 'refund'`).
		WithArgs("proj-1").
		WillReturnRows(sumRows(200))

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	cache := NewCache()

	netRevenue, err := engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "net_revenue"}, cache)
	require.NoError(t, err)
	assert.Equal(t, 800.0, netRevenue)

	// gross_sales and refunds must come from the cache now.
	refundRate, err := engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "refund_rate"}, cache)
	require.NoError(t, err)
	assert.Equal(t, 0.2, refundRate)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestCompute_RefundRateZeroGross(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`operation_type = 'sale'`).WithArgs("proj-1").WillReturnRows(sumRows(0))
	pool.ExpectQuery(`operation_type = 'refund'`).WithArgs("proj-1").WillReturnRows(sumRows(0))

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	value, err := engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "refund_rate"}, nil)
	require.NoError(t, err)
	assert.Zero(t, value)
}

func TestCompute_Orders(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`COUNT\(DISTINCT COALESCE\(transaction_id, order_id\)\)`).
		WithArgs("proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	value, err := engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "orders"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, value)
}

func TestCompute_SpendTotal(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`SELECT COALESCE\(SUM\(spend_amount\), 0\) FROM fact_marketing_spend`).
		WithArgs("proj-1", "vk").
		WillReturnRows(sumRows(5400))

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	value, err := engine.Compute(context.Background(), Query{
		ProjectID: "proj-1",
		MetricKey: "spend_total",
		Filters:   map[string]any{"channel_norm": "vk"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5400.0, value)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestCompute_LastRowWinsUsesRankedSource(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery(`ROW_NUMBER\(\) OVER`).
		WithArgs("proj-1").
		WillReturnRows(sumRows(900))

	engine := NewEngine(pool, newStubStore(model.DedupLastRowWins))
	value, err := engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "gross_sales"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 900.0, value)
}

func TestCompute_UnknownMetric(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	_, err = engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "nope"}, nil)
	assert.ErrorIs(t, err, ErrMetricNotFound)
}

func TestCompute_GroupedMetricUnsupported(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	engine := NewEngine(pool, newStubStore(model.DedupKeepAllRows))
	_, err = engine.Compute(context.Background(), Query{ProjectID: "proj-1", MetricKey: "revenue_by_manager"}, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNormalizeFilters(t *testing.T) {
	got := NormalizeFilters(map[string]any{
		"payment_method": "  card ",
		"group_1":        []any{" Поток 1 ", 7},
	})
	assert.Equal(t, "card", got["payment_method"])
	assert.Equal(t, []any{"Поток 1", 7}, got["group_1"])
}
