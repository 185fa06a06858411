package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFeeAnomalies(t *testing.T) {
	series := []FeesPoint{
		{Bucket: "2025-03-01", FeesTotal: 100},
		{Bucket: "2025-03-02", FeesTotal: 100},
		{Bucket: "2025-03-03", FeesTotal: 100},
		{Bucket: "2025-03-04", FeesTotal: 100},
		{Bucket: "2025-03-05", FeesTotal: 100},
		{Bucket: "2025-03-06", FeesTotal: 600},
	}

	assert.Equal(t, []string{"2025-03-06"}, detectFeeAnomalies(series))
}

func TestDetectFeeAnomalies_NeedsFourNonzeroValues(t *testing.T) {
	series := []FeesPoint{
		{Bucket: "2025-03-01", FeesTotal: 100},
		{Bucket: "2025-03-02", FeesTotal: 0},
		{Bucket: "2025-03-03", FeesTotal: 90},
		{Bucket: "2025-03-04", FeesTotal: 900},
	}

	assert.Empty(t, detectFeeAnomalies(series))
}

func TestDetectFeeAnomalies_FlatSeries(t *testing.T) {
	series := []FeesPoint{
		{Bucket: "2025-03-01", FeesTotal: 100},
		{Bucket: "2025-03-02", FeesTotal: 100},
		{Bucket: "2025-03-03", FeesTotal: 100},
		{Bucket: "2025-03-04", FeesTotal: 100},
	}

	assert.Empty(t, detectFeeAnomalies(series))
}

func TestTopFeesDrivers(t *testing.T) {
	rows := []driverRow{
		{Name: "Карта", Current: 300, Previous: 200},
		{Name: "СБП", Current: 700, Previous: 800},
	}

	items := topFeesDrivers(rows, 1000)

	require.Len(t, items, 2)
	assert.Equal(t, "СБП", items[0].Name)
	assert.Equal(t, -100.0, items[0].DeltaFees)
	assert.InDelta(t, 0.7, items[0].ShareOfFees, 1e-9)
	assert.Equal(t, 100.0, items[1].DeltaFees)
}

func TestRatePercent(t *testing.T) {
	v := ratePercent(25, 100)
	require.NotNil(t, v)
	assert.InDelta(t, 25.0, *v, 1e-9)
	assert.Nil(t, ratePercent(25, 0))
}
