package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCalibrationBuckets(t *testing.T) {
	recs := []EdgeRecord{
		{Predicted: 0.65, Actual: 1, ExpectedEdge: 0.10, RealizedEdge: 0.45},
		{Predicted: 0.62, Actual: 0, ExpectedEdge: 0.08, RealizedEdge: -0.54},
		{Predicted: 0.91, Actual: 1, ExpectedEdge: 0.05, RealizedEdge: 0.14},
	}

	m := BuildCalibration(recs)
	assert.Equal(t, 3, m.Total)

	// brier = media de (pred-actual)^2
	wantBrier := ((0.65-1)*(0.65-1) + 0.62*0.62 + (0.91-1)*(0.91-1)) / 3
	assert.InDelta(t, wantBrier, m.OverallBrier, 1e-9)

	wantDecay := (0.35 + 0.62 + 0.09) / 3
	assert.InDelta(t, wantDecay, m.AvgEdgeDecay, 1e-9)

	require.Len(t, m.Buckets, 2)
	b6 := m.Buckets[0]
	assert.Equal(t, "0.6-0.7", b6.Bucket)
	assert.Equal(t, 2, b6.Count)
	assert.InDelta(t, 0.635, b6.AvgPredicted, 1e-9)
	assert.InDelta(t, 0.5, b6.AvgActual, 1e-9)
	assert.InDelta(t, 0.135, b6.Gap, 1e-9)

	b9 := m.Buckets[1]
	assert.Equal(t, "0.9-1.0", b9.Bucket)
	assert.Equal(t, 1, b9.Count)
}

func TestBuildCalibrationEmpty(t *testing.T) {
	m := BuildCalibration(nil)
	assert.Equal(t, 0, m.Total)
	assert.Equal(t, 0.0, m.OverallBrier)
	assert.Empty(t, m.Buckets)
}

func TestDecileClamps(t *testing.T) {
	assert.Equal(t, 0, decile(0))
	assert.Equal(t, 9, decile(1.0))
	assert.Equal(t, 9, decile(0.99))
	assert.Equal(t, 5, decile(0.55))
}
