package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func TestDefaults(t *testing.T) {
	defs, err := Defaults()
	require.NoError(t, err)
	require.Len(t, defs, 43)

	byKey := make(map[string]model.MetricDefinition, len(defs))
	for _, def := range defs {
		require.NotEmpty(t, def.MetricKey)
		require.NotEmpty(t, def.Title)
		require.NotEmpty(t, def.FormulaType)
		assert.Equal(t, 1, def.Version)
		byKey[def.MetricKey] = def
	}
	require.Len(t, byKey, 43, "metric keys must be unique")

	gross := byKey["gross_sales"]
	assert.Equal(t, "fact_transactions", gross.SourceTable)
	assert.Equal(t, model.FormulaSum, gross.FormulaType)
	assert.Equal(t, []string{"paid_at", "amount", "operation_type"}, gross.Requirements)
	assert.Contains(t, gross.DimsAllowed, "payment_method")
	assert.NotContains(t, gross.DimsAllowed, "channel_norm")

	spend := byKey["spend_total"]
	assert.Equal(t, "fact_marketing_spend", spend.SourceTable)
	assert.Equal(t, []string{"marketing_spend"}, spend.Requirements)
	assert.Contains(t, spend.DimsAllowed, "channel_norm")

	roas := byKey["roas_total"]
	assert.Equal(t, "derived", roas.SourceTable)
	assert.Contains(t, roas.DimsAllowed, "channel_norm")
	assert.Contains(t, roas.DimsAllowed, "product_id")
	assert.Equal(t, []string{"marketing_spend", "utm_any_transactions", "utm_any_spend"}, roas.Requirements)

	holes := byKey["holes"]
	assert.Equal(t, model.FormulaHoles, holes.FormulaType)
	assert.Equal(t, []string{"group_any"}, holes.Requirements)
}
