package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestBuildEdgeReportCohorts(t *testing.T) {
	now := time.Now().UTC()
	rows := []SettledBetRow{
		{MarketType: "spread", Followed: true, Confidence: ptr(0.7), ClvLine: ptr(1.0), ClvPrice: ptr(0.02), Profit: 90.91, Outcome: "won", SettledAt: now},
		{MarketType: "spread", Followed: true, Confidence: ptr(0.85), ClvLine: ptr(0.5), ClvPrice: ptr(0.01), Profit: -50, Outcome: "lost", SettledAt: now},
		{MarketType: "total", Followed: false, ClvLine: ptr(-0.5), ClvPrice: ptr(-0.01), Profit: -100, Outcome: "lost", SettledAt: now},
		{MarketType: "moneyline", Followed: false, ClvPrice: ptr(0.005), Profit: 45, Outcome: "won", SettledAt: now},
	}

	r := BuildEdgeReport(rows, 30)

	assert.Equal(t, 30, r.WindowDays)
	assert.Equal(t, 2, r.Followed.Count)
	assert.Equal(t, 2, r.NotFollowed.Count)

	assert.InDelta(t, 0.75, r.Followed.AvgClvLine, 1e-9)    // (1.0+0.5)/2
	assert.InDelta(t, -0.5, r.NotFollowed.AvgClvLine, 1e-9) // só a de total tem linha
	assert.InDelta(t, 1.25, r.DeltaLine, 1e-9)

	assert.InDelta(t, 40.91, r.Followed.TotalProfit, 1e-9)
	assert.InDelta(t, -55, r.NotFollowed.TotalProfit, 1e-9)

	require.Contains(t, r.ByMarketType, "spread")
	assert.Equal(t, 2, r.ByMarketType["spread"].Count)
	require.Contains(t, r.ByMarketType, "total")
	require.Contains(t, r.ByMarketType, "moneyline")

	// buckets de confiança: 0.7 -> 0.6-0.79, 0.85 -> 0.8-1.0
	require.Contains(t, r.ByConfidence, "0.6-0.79")
	require.Contains(t, r.ByConfidence, "0.8-1.0")
	assert.Equal(t, 1, r.ByConfidence["0.6-0.79"].Count)
	assert.NotContains(t, r.ByConfidence, "0.0-0.59")
}

func TestBuildEdgeReportEmpty(t *testing.T) {
	r := BuildEdgeReport(nil, 7)
	assert.Equal(t, 0, r.Followed.Count)
	assert.Equal(t, 0.0, r.DeltaLine)
	assert.Empty(t, r.ByMarketType)
}

func TestConfidenceBucketBoundaries(t *testing.T) {
	assert.Equal(t, "0.0-0.59", confidenceBucket(0.59))
	assert.Equal(t, "0.6-0.79", confidenceBucket(0.6))
	assert.Equal(t, "0.6-0.79", confidenceBucket(0.79))
	assert.Equal(t, "0.8-1.0", confidenceBucket(0.8))
	assert.Equal(t, "0.8-1.0", confidenceBucket(1.0))
}
