package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

var fetchedAt = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func meta(maxStalenessMs int64) Meta {
	return Meta{
		SourceURL:      "https://book.example.com/odds",
		SourceDomain:   "book.example.com",
		FetchedAt:      fetchedAt,
		Checksum:       "abc123",
		ParserVersion:  "v1",
		MaxStalenessMs: maxStalenessMs,
	}
}

func TestNormalizeOddsEnvelope(t *testing.T) {
	body := []byte(`{"published_at":"2026-03-10T17:58:00Z","records":[
		{"game_id":"g1","market":"points","market_type":"total","selection":"over",
		 "line":25.5,"price":-110,"book":"bookA","game_starts_at":"2026-03-10T23:00:00Z"}
	]}`)

	recs, err := Normalize(records.DataTypeOdds, body, meta(300_000))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, records.DataTypeOdds, r.DataType)
	assert.Equal(t, "book.example.com", r.SourceDomain)
	assert.Equal(t, "v1", r.ParserVersion)
	assert.Equal(t, int64(120_000), r.StalenessMs) // 2min desde o published_at
	assert.InDelta(t, 0.6, r.FreshnessScore, 1e-9) // 1 - 120k/300k

	require.NotNil(t, r.Odds)
	assert.Equal(t, "g1", r.Odds.GameID)
	assert.Equal(t, "total", r.Odds.MarketType)
	require.NotNil(t, r.Odds.Line)
	assert.Equal(t, 25.5, *r.Odds.Line)
	require.NotNil(t, r.Odds.GameStartsAt)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), *r.Odds.GameStartsAt)
}

func TestNormalizePublishedAtFallsBackToFetchedAt(t *testing.T) {
	body := []byte(`{"game_id":"g1","market_type":"moneyline","selection":"home","price":1.9}`)

	recs, err := Normalize(records.DataTypeOdds, body, meta(300_000))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, fetchedAt, recs[0].PublishedAt)
	assert.Equal(t, int64(0), recs[0].StalenessMs)
	assert.Equal(t, 1.0, recs[0].FreshnessScore)
}

func TestNormalizeClampsFutureTimestamps(t *testing.T) {
	// published_at no futuro (clock skew da fonte) não pode dar staleness negativa
	body := []byte(`{"published_at":"2026-03-10T18:05:00Z","game_id":"g1","market_type":"total","selection":"over","line":10,"price":1.9}`)

	recs, err := Normalize(records.DataTypeOdds, body, meta(300_000))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(0), recs[0].StalenessMs)
}

func TestNormalizeFreshnessFloorsAtZero(t *testing.T) {
	// 2h de staleness com limite de 5min
	body := []byte(`{"published_at":"2026-03-10T16:00:00Z","game_id":"g1","market_type":"total","selection":"over","line":10,"price":1.9}`)

	recs, err := Normalize(records.DataTypeOdds, body, meta(300_000))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0.0, recs[0].FreshnessScore)
}

func TestNormalizeResultsArray(t *testing.T) {
	body := []byte(`[
		{"game_id":"g1","home_score":101,"away_score":98,"completed_at":"2026-03-10T17:30:00Z","is_final":true},
		{"game_id":"g2","home_score":55}
	]`)

	recs, err := Normalize(records.DataTypeResults, body, meta(7_200_000))
	require.NoError(t, err)
	// g2 sem away_score é descartado
	require.Len(t, recs, 1)

	r := recs[0]
	require.NotNil(t, r.Results)
	assert.Equal(t, "g1", r.Results.GameID)
	assert.Equal(t, 101, r.Results.Payload.HomeScore)
	assert.Equal(t, 98, r.Results.Payload.AwayScore)
	assert.True(t, r.Results.IsFinal)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize(records.DataTypeOdds, []byte("not json at all"), meta(300_000))
	assert.Error(t, err)
}
