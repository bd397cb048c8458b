package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Janela de dedupe: snapshots da mesma chave dentro dela são descartados.
const DedupeWindow = 60 * time.Second

// Margem antes do fim do jogo usada no fallback last_before_result.
const resultMargin = 60 * time.Second

// Tags de resolução do snapshot de fechamento.
const (
	ReasonClosing          = "closing"
	ReasonLastPreStart     = "last_pre_start"
	ReasonLastBeforeResult = "last_before_result"
	ReasonStaleFallback    = "stale_fallback"
)

// ErrNoSnapshots indica que não há snapshot persistido para a chave.
var ErrNoSnapshots = errors.New("no snapshots for key")

// SnapshotStore é a superfície de persistência dos snapshots de odds.
// A implementação Postgres vive em capture/repo.
type SnapshotStore interface {
	LatestByKey(ctx context.Context, gameID, market, selection string) (*records.OddsSnapshot, error)
	ListByKey(ctx context.Context, gameID, market, selection string) ([]records.OddsSnapshot, error)
	Insert(ctx context.Context, snap *records.OddsSnapshot) error
	UpdateResolutionReason(ctx context.Context, id, reason string) error
}

// Bus publica eventos de auditoria do control plane.
type Bus interface {
	Emit(ctx context.Context, ev events.Typed) error
}

// Service captura snapshots de odds (com dedupe de 60s) e resolve o
// snapshot de fechamento usado como referência de liquidação.
type Service struct {
	Log   *zap.Logger
	Store SnapshotStore
	Bus   Bus

	OddsStalenessMs int64

	OnCaptured func() // métricas
	OnDeduped  func() // métricas
}

// Capture persiste um snapshot derivado de um ConsensusRecord de odds.
// Retorna (snap, true) quando persistiu e (nil, false) quando o dedupe
// descartou a observação em silêncio.
func (s *Service) Capture(ctx context.Context, rec *records.ConsensusRecord, capturedAt time.Time) (*records.OddsSnapshot, bool, error) {
	if rec == nil || rec.Odds == nil {
		return nil, false, errors.New("consensus record without odds fields")
	}
	o := rec.Odds

	last, err := s.Store.LatestByKey(ctx, o.GameID, o.Market, o.Selection)
	if err != nil {
		return nil, false, fmt.Errorf("latest snapshot lookup: %w", err)
	}
	if last != nil && capturedAt.Sub(last.CapturedAt) < DedupeWindow {
		if s.OnDeduped != nil {
			s.OnDeduped()
		}
		return nil, false, nil
	}

	snap := &records.OddsSnapshot{
		ID:                uuid.NewString(),
		GameID:            o.GameID,
		Market:            o.Market,
		MarketType:        o.MarketType,
		Selection:         o.Selection,
		Line:              o.Line,
		Price:             o.Price,
		Book:              o.Book,
		CapturedAt:        capturedAt,
		GameStartsAt:      o.GameStartsAt,
		ConsensusLevel:    rec.ConsensusLevel,
		SourcesUsed:       rec.SourcesUsed,
		DisagreementScore: rec.DisagreementScore,
		StalenessMs:       rec.StalenessMs,
		FreshnessScore:    rec.FreshnessScore,
	}
	if err := s.Store.Insert(ctx, snap); err != nil {
		return nil, false, fmt.Errorf("insert snapshot: %w", err)
	}

	_ = s.Bus.Emit(ctx, events.OddsSnapshotCaptured{
		SnapshotID:     snap.ID,
		GameID:         snap.GameID,
		Market:         snap.Market,
		Selection:      snap.Selection,
		ConsensusLevel: string(snap.ConsensusLevel),
	})
	if s.OnCaptured != nil {
		s.OnCaptured()
	}

	return snap, true, nil
}

// ResolveClosing escolhe o snapshot de fechamento da chave. Precedência:
//  1. snapshot mais recente com captured_at <= game_starts_at (last_pre_start),
//     que sobrepõe qualquer tag explícita;
//  2. senão, com resultCompletedAt informado, o mais recente capturado até
//     completedAt - 60s (last_before_result);
//  3. senão, o snapshot já tagueado como closing/last_pre_start.
//
// Passando do limite de staleness o resultado vira stale_fallback: emite um
// agent_error não fatal e a liquidação segue com o valor degradado.
func (s *Service) ResolveClosing(ctx context.Context, gameID, market, selection string, resultCompletedAt *time.Time) (*records.OddsSnapshot, error) {
	snaps, err := s.Store.ListByKey(ctx, gameID, market, selection)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNoSnapshots, gameID, market, selection)
	}

	// (a) pick tagueado explicitamente
	var tagged *records.OddsSnapshot
	for i := range snaps {
		sn := &snaps[i]
		if sn.ResolutionReason == ReasonClosing || sn.ResolutionReason == ReasonLastPreStart {
			if tagged == nil || sn.CapturedAt.After(tagged.CapturedAt) {
				tagged = sn
			}
		}
	}

	// (b) mais recente antes do início do jogo
	var preStart *records.OddsSnapshot
	for i := range snaps {
		sn := &snaps[i]
		if sn.GameStartsAt == nil || sn.CapturedAt.After(*sn.GameStartsAt) {
			continue
		}
		if preStart == nil || sn.CapturedAt.After(preStart.CapturedAt) {
			preStart = sn
		}
	}

	var chosen *records.OddsSnapshot
	var reason string
	switch {
	case preStart != nil:
		chosen, reason = preStart, ReasonLastPreStart
	case resultCompletedAt != nil:
		cutoff := resultCompletedAt.Add(-resultMargin)
		for i := range snaps {
			sn := &snaps[i]
			if sn.CapturedAt.After(cutoff) {
				continue
			}
			if chosen == nil || sn.CapturedAt.After(chosen.CapturedAt) {
				chosen = sn
			}
		}
		reason = ReasonLastBeforeResult
		if chosen == nil && tagged != nil {
			chosen, reason = tagged, tagged.ResolutionReason
		}
	case tagged != nil:
		chosen, reason = tagged, tagged.ResolutionReason
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNoSnapshots, gameID, market, selection)
	}

	// Staleness acima do limite degrada mas não falha
	if s.OddsStalenessMs > 0 && chosen.StalenessMs > s.OddsStalenessMs {
		_ = s.Bus.Emit(ctx, events.AgentError{
			ErrorKind: "stale_closing_odds",
			Detail: fmt.Sprintf("snapshot %s staleness %dms above threshold %dms",
				chosen.ID, chosen.StalenessMs, s.OddsStalenessMs),
		})
		reason = ReasonStaleFallback
	}

	out := *chosen
	out.ResolutionReason = reason
	if reason != chosen.ResolutionReason {
		if err := s.Store.UpdateResolutionReason(ctx, chosen.ID, reason); err != nil {
			s.Log.Warn("resolution reason update failed",
				zap.String("snapshot_id", chosen.ID),
				zap.Error(err),
			)
		}
	}
	return &out, nil
}
