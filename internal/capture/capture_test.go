package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// memStore guarda snapshots em memória.
type memStore struct {
	snaps []records.OddsSnapshot
}

func (m *memStore) LatestByKey(_ context.Context, gameID, market, selection string) (*records.OddsSnapshot, error) {
	var latest *records.OddsSnapshot
	for i := range m.snaps {
		s := &m.snaps[i]
		if s.GameID != gameID || s.Market != market || s.Selection != selection {
			continue
		}
		if latest == nil || s.CapturedAt.After(latest.CapturedAt) {
			latest = s
		}
	}
	return latest, nil
}

func (m *memStore) ListByKey(_ context.Context, gameID, market, selection string) ([]records.OddsSnapshot, error) {
	var out []records.OddsSnapshot
	for _, s := range m.snaps {
		if s.GameID == gameID && s.Market == market && s.Selection == selection {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, snap *records.OddsSnapshot) error {
	m.snaps = append(m.snaps, *snap)
	return nil
}

func (m *memStore) UpdateResolutionReason(_ context.Context, id, reason string) error {
	for i := range m.snaps {
		if m.snaps[i].ID == id {
			m.snaps[i].ResolutionReason = reason
		}
	}
	return nil
}

type fakeBus struct {
	emitted []events.Typed
}

func (b *fakeBus) Emit(_ context.Context, ev events.Typed) error {
	b.emitted = append(b.emitted, ev)
	return nil
}

var baseTime = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func consensusOdds(line float64, startsAt *time.Time) *records.ConsensusRecord {
	price := -110.0
	return &records.ConsensusRecord{
		NormalizedRecord: records.NormalizedRecord{
			DataType: records.DataTypeOdds,
			Odds: &records.OddsFields{
				GameID:       "g1",
				Market:       "points",
				MarketType:   "total",
				Selection:    "over",
				Line:         &line,
				Price:        &price,
				GameStartsAt: startsAt,
			},
		},
		ConsensusLevel: records.ConsensusTwoSourceAgree,
		SourcesUsed:    []string{"a.example.com", "b.example.com"},
	}
}

func TestCaptureDedupesWithinWindow(t *testing.T) {
	store := &memStore{}
	bus := &fakeBus{}
	svc := &Service{Log: zap.NewNop(), Store: store, Bus: bus}

	rec := consensusOdds(25.5, nil)

	snap, captured, err := svc.Capture(context.Background(), rec, baseTime)
	require.NoError(t, err)
	assert.True(t, captured)
	require.NotNil(t, snap)

	// mesma chave 30s depois: descartado
	dup, captured, err := svc.Capture(context.Background(), rec, baseTime.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, captured)
	assert.Nil(t, dup)

	// passada a janela, captura de novo
	_, captured, err = svc.Capture(context.Background(), rec, baseTime.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, captured)

	assert.Len(t, store.snaps, 2)
}

func TestCaptureEmitsEvent(t *testing.T) {
	store := &memStore{}
	bus := &fakeBus{}
	svc := &Service{Log: zap.NewNop(), Store: store, Bus: bus}

	_, _, err := svc.Capture(context.Background(), consensusOdds(25.5, nil), baseTime)
	require.NoError(t, err)
	require.Len(t, bus.emitted, 1)
	assert.Equal(t, events.EventOddsSnapshotCapture, bus.emitted[0].EventName())
}

func TestCaptureRejectsNonOdds(t *testing.T) {
	svc := &Service{Log: zap.NewNop(), Store: &memStore{}, Bus: &fakeBus{}}
	_, _, err := svc.Capture(context.Background(), &records.ConsensusRecord{}, baseTime)
	assert.Error(t, err)
}

func insertSnap(store *memStore, id string, capturedAt time.Time, startsAt *time.Time, line float64, reason string, stalenessMs int64) {
	store.snaps = append(store.snaps, records.OddsSnapshot{
		ID:           id,
		GameID:       "g1",
		Market:       "total",
		Selection:    "over",
		Line:         &line,
		CapturedAt:   capturedAt,
		GameStartsAt: startsAt,

		ResolutionReason: reason,
		StalenessMs:      stalenessMs,
	})
}

func TestResolveClosingPrefersLastPreStart(t *testing.T) {
	store := &memStore{}
	bus := &fakeBus{}
	svc := &Service{Log: zap.NewNop(), Store: store, Bus: bus, OddsStalenessMs: 300_000}

	gameStart := baseTime.Add(2 * time.Hour)

	// snapshot tagueado como closing, mas mais antigo
	insertSnap(store, "s1", baseTime, &gameStart, 24.5, ReasonClosing, 0)
	// snapshot mais recente ainda antes do início
	insertSnap(store, "s2", baseTime.Add(90*time.Minute), &gameStart, 25.5, "", 0)

	snap, err := svc.ResolveClosing(context.Background(), "g1", "total", "over", nil)
	require.NoError(t, err)
	assert.Equal(t, "s2", snap.ID)
	assert.Equal(t, ReasonLastPreStart, snap.ResolutionReason)
}

func TestResolveClosingFallsBackToBeforeResult(t *testing.T) {
	store := &memStore{}
	svc := &Service{Log: zap.NewNop(), Store: store, Bus: &fakeBus{}, OddsStalenessMs: 300_000}

	// nenhum snapshot tem game_starts_at
	insertSnap(store, "s1", baseTime, nil, 24.5, "", 0)
	insertSnap(store, "s2", baseTime.Add(30*time.Minute), nil, 25.0, "", 0)
	// capturado depois do corte completedAt-60s, fica de fora
	completedAt := baseTime.Add(31 * time.Minute)
	insertSnap(store, "s3", baseTime.Add(30*time.Minute+30*time.Second), nil, 26.0, "", 0)

	snap, err := svc.ResolveClosing(context.Background(), "g1", "total", "over", &completedAt)
	require.NoError(t, err)
	assert.Equal(t, "s2", snap.ID)
	assert.Equal(t, ReasonLastBeforeResult, snap.ResolutionReason)
}

func TestResolveClosingStaleFallback(t *testing.T) {
	store := &memStore{}
	bus := &fakeBus{}
	svc := &Service{Log: zap.NewNop(), Store: store, Bus: bus, OddsStalenessMs: 300_000}

	gameStart := baseTime.Add(time.Hour)
	// staleness acima do limite de 5min
	insertSnap(store, "s1", baseTime, &gameStart, 24.5, "", 600_000)

	snap, err := svc.ResolveClosing(context.Background(), "g1", "total", "over", nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonStaleFallback, snap.ResolutionReason)

	// o aviso não é fatal, mas é auditado
	require.Len(t, bus.emitted, 1)
	assert.Equal(t, events.EventAgentError, bus.emitted[0].EventName())

	// a re-tag é persistida
	assert.Equal(t, ReasonStaleFallback, store.snaps[0].ResolutionReason)
}

func TestResolveClosingNoSnapshots(t *testing.T) {
	svc := &Service{Log: zap.NewNop(), Store: &memStore{}, Bus: &fakeBus{}}
	_, err := svc.ResolveClosing(context.Background(), "g1", "total", "over", nil)
	assert.ErrorIs(t, err, ErrNoSnapshots)
}
