package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDriverItems(t *testing.T) {
	items := []DriverItem{
		{Name: "a", DeltaAbs: 50},
		{Name: "b", DeltaAbs: -30},
		{Name: "c", DeltaAbs: 120},
		{Name: "d", DeltaAbs: 0},
		{Name: "e", DeltaAbs: -90},
	}

	split := splitDriverItems(items)

	require.Len(t, split.Up, 2)
	assert.Equal(t, "c", split.Up[0].Name)
	assert.Equal(t, "a", split.Up[1].Name)
	require.Len(t, split.Down, 2)
	assert.Equal(t, "e", split.Down[0].Name)
	assert.Equal(t, "b", split.Down[1].Name)
}

func TestSplitDriverItems_CapsAtTen(t *testing.T) {
	var items []DriverItem
	for i := 0; i < 15; i++ {
		items = append(items, DriverItem{DeltaAbs: float64(i + 1)})
	}

	split := splitDriverItems(items)

	assert.Len(t, split.Up, 10)
	assert.Empty(t, split.Down)
	assert.Equal(t, 15.0, split.Up[0].DeltaAbs)
}

func TestBuildDriverItems(t *testing.T) {
	rows := []driverRow{
		{Name: "Курс А", Current: 600, Previous: 400},
		{Name: "Курс Б", Current: 400, Previous: 0},
	}

	items := buildDriverItems(rows, 1000)

	require.Len(t, items, 2)
	assert.Equal(t, 200.0, items[0].DeltaAbs)
	require.NotNil(t, items[0].DeltaPct)
	assert.InDelta(t, 0.5, *items[0].DeltaPct, 1e-9)
	assert.InDelta(t, 0.6, items[0].ShareCurrent, 1e-9)
	assert.Nil(t, items[1].DeltaPct)
}

func TestTopBuckets(t *testing.T) {
	series := []DetailPoint{
		{Bucket: "2025-03-01", Value: 10},
		{Bucket: "2025-03-02", Value: 50},
		{Bucket: "2025-03-03", Value: 30},
	}

	assert.Equal(t, []string{"2025-03-02", "2025-03-03"}, topBuckets(series, 2))
	assert.Len(t, topBuckets(series, 5), 3)
}

func TestChange_ZeroPrevious(t *testing.T) {
	c := change(100, 0)

	assert.Equal(t, 100.0, c.DeltaAbs)
	assert.Nil(t, c.DeltaPct)
}

func TestMergeMissing(t *testing.T) {
	merged := mergeMissing([]string{"manager", "order_id"}, []string{"manager", "client_id"})

	assert.Equal(t, []string{"client_id", "manager", "order_id"}, merged)
}

func TestPstdev(t *testing.T) {
	assert.InDelta(t, 2.0, pstdev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.Zero(t, pstdev(nil))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "25", formatPercent(0.25))
	assert.Equal(t, "100", formatPercent(1))
}
