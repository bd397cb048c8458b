package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/capture"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Erros fatais da liquidação (propagados ao chamador).
var (
	ErrBetNotFound            = errors.New("bet not found")
	ErrRecommendationNotFound = errors.New("recommendation not found")
	ErrResultNotFound         = errors.New("game result not found")
	ErrResultNotFinal         = errors.New("not final")
	ErrAlreadySettled         = errors.New("already settled")
)

// Store é a superfície de persistência da liquidação. As escritas de settle
// são updates condicionais (WHERE status='pending'): a máquina de estados
// pending -> settled é garantida na camada de storage, não aqui.
type Store interface {
	GetBet(ctx context.Context, betID string) (*records.StoredBet, error)
	PendingBetsByGame(ctx context.Context, gameID string) ([]records.StoredBet, error)
	SettleBet(ctx context.Context, bet *records.StoredBet) error

	GetRecommendation(ctx context.Context, id string) (*records.AgentRecommendation, error)
	PendingRecommendationsByGame(ctx context.Context, gameID string) ([]records.AgentRecommendation, error)
	SettleRecommendation(ctx context.Context, rec *records.AgentRecommendation) error
	InsertOutcome(ctx context.Context, out *records.RecommendationOutcome) error

	GetGameResult(ctx context.Context, gameID string) (*records.GameResultRecord, error)
}

// Closer resolve o snapshot de fechamento (implementado por capture.Service).
type Closer interface {
	ResolveClosing(ctx context.Context, gameID, market, selection string, resultCompletedAt *time.Time) (*records.OddsSnapshot, error)
}

// Bus publica eventos de auditoria do control plane.
type Bus interface {
	Emit(ctx context.Context, ev events.Typed) error
}

// Engine computa outcome, CLV e lucro de apostas e recomendações pendentes.
// Toda a matemática é determinística a partir do resultado e do snapshot de
// fechamento; rodar duas vezes produz o mesmo registro.
type Engine struct {
	Log    *zap.Logger
	Store  Store
	Closer Closer
	Bus    Bus

	OnSettled func(kind string) // métricas
}

// SettleOutcome é a tabela pura de regras de resultado.
//   - moneyline: quem fez mais pontos; empate vira push
//   - total: home+away contra a linha; "over"/"under" na selection dá a direção
//   - spread: margem ajustada (lado da selection) + linha; zero vira push
//   - qualquer outro mercado: void
func SettleOutcome(selection, marketType string, line *float64, payload records.ResultPayload) string {
	sel := strings.ToLower(selection)
	home, away := payload.HomeScore, payload.AwayScore

	switch strings.ToLower(marketType) {
	case "moneyline":
		if home == away {
			return records.OutcomePush
		}
		switch {
		case strings.Contains(sel, "home"):
			if home > away {
				return records.OutcomeWon
			}
			return records.OutcomeLost
		case strings.Contains(sel, "away"):
			if away > home {
				return records.OutcomeWon
			}
			return records.OutcomeLost
		default:
			return records.OutcomeVoid
		}

	case "total":
		if line == nil {
			return records.OutcomeVoid
		}
		total := float64(home + away)
		if total == *line {
			return records.OutcomePush
		}
		switch {
		case strings.Contains(sel, "over"):
			if total > *line {
				return records.OutcomeWon
			}
			return records.OutcomeLost
		case strings.Contains(sel, "under"):
			if total < *line {
				return records.OutcomeWon
			}
			return records.OutcomeLost
		default:
			return records.OutcomeVoid
		}

	case "spread":
		if line == nil {
			return records.OutcomeVoid
		}
		var margin float64
		switch {
		case strings.Contains(sel, "home"):
			margin = float64(home - away)
		case strings.Contains(sel, "away"):
			margin = float64(away - home)
		default:
			return records.OutcomeVoid
		}
		adjusted := margin + *line
		switch {
		case adjusted == 0:
			return records.OutcomePush
		case adjusted > 0:
			return records.OutcomeWon
		default:
			return records.OutcomeLost
		}

	default:
		return records.OutcomeVoid
	}
}

// Profit calcula o lucro liquidado: won -> stake*(dec-1), lost -> -stake,
// push/void -> 0. Arredondado a 2 casas via decimal para ser reproduzível.
func Profit(outcome string, stake, price float64) (float64, error) {
	switch outcome {
	case records.OutcomeWon:
		dec, err := ToDecimal(price)
		if err != nil {
			return 0, err
		}
		st := decimal.NewFromFloat(stake)
		profit := st.Mul(decimal.NewFromFloat(dec).Sub(decimal.NewFromInt(1))).Round(2)
		f, _ := profit.Float64()
		return f, nil
	case records.OutcomeLost:
		return -stake, nil
	default:
		return 0, nil
	}
}

// clv calcula os deltas de linha e preço contra o fechamento.
// clvLine = closingLine - placedLine; nil para moneyline ou lado faltando.
// clvPrice = implied(closing) - implied(placed), em pontos de probabilidade.
func clv(marketType string, placedLine *float64, placedPrice float64, closing *records.OddsSnapshot) (clvLine, clvPrice *float64) {
	if closing == nil {
		return nil, nil
	}
	if !strings.EqualFold(marketType, "moneyline") && placedLine != nil && closing.Line != nil {
		d := *closing.Line - *placedLine
		clvLine = &d
	}
	if closing.Price != nil {
		placedImp, err1 := ImpliedProb(placedPrice)
		closeImp, err2 := ImpliedProb(*closing.Price)
		if err1 == nil && err2 == nil {
			d := closeImp - placedImp
			clvPrice = &d
		}
	}
	return clvLine, clvPrice
}

// SettleBet liquida uma aposta pendente. Falha com ErrResultNotFinal antes
// de qualquer escrita se o resultado ainda não é final. Re-liquidar uma
// aposta já settled é no-op.
func (e *Engine) SettleBet(ctx context.Context, betID string) error {
	bet, err := e.Store.GetBet(ctx, betID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBetNotFound, betID)
	}
	if bet.Status == records.StatusSettled {
		return nil // idempotente
	}
	if bet.GameID == "" || bet.MarketType == "" {
		return fmt.Errorf("bet %s missing game_id/market_type", betID)
	}

	result, err := e.Store.GetGameResult(ctx, bet.GameID)
	if err != nil {
		return fmt.Errorf("%w: game %s", ErrResultNotFound, bet.GameID)
	}
	if !result.IsFinal {
		return fmt.Errorf("%w: game %s", ErrResultNotFinal, bet.GameID)
	}

	closing := e.resolveClosing(ctx, bet.GameID, bet.MarketType, bet.Selection, result.CompletedAt)

	outcome := SettleOutcome(bet.Selection, bet.MarketType, bet.Line, result.Payload)
	profit, err := Profit(outcome, bet.Stake, bet.Price)
	if err != nil {
		return fmt.Errorf("profit bet %s: %w", betID, err)
	}
	clvLine, clvPrice := clv(bet.MarketType, bet.Line, bet.Price, closing)

	now := time.Now().UTC()
	bet.Status = records.StatusSettled
	bet.Outcome = outcome
	bet.SettledProfit = &profit
	bet.ClvLine = clvLine
	bet.ClvPrice = clvPrice
	bet.SettledAt = &now
	if closing != nil {
		bet.ClosingLine = closing.Line
		bet.ClosingPrice = closing.Price
	}

	if err := e.Store.SettleBet(ctx, bet); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			// outro worker chegou primeiro; o update condicional segurou
			e.Log.Warn("bet already settled by concurrent writer", zap.String("bet_id", betID))
			return nil
		}
		return fmt.Errorf("persist settled bet %s: %w", betID, err)
	}

	outcomeID := uuid.NewString()
	_ = e.Bus.Emit(ctx, events.UserOutcomeRecorded{
		OutcomeID:        outcomeID,
		BetID:            betID,
		SettlementStatus: outcome,
		PnlAmount:        profit,
		SettledAt:        now,
	})
	if e.OnSettled != nil {
		e.OnSettled("bet")
	}

	// Cascateia para a recomendação vinculada, se houver
	if bet.RecommendationID != nil {
		if err := e.SettleRecommendation(ctx, *bet.RecommendationID); err != nil &&
			!errors.Is(err, ErrRecommendationNotFound) {
			e.Log.Warn("linked recommendation settle failed",
				zap.String("bet_id", betID),
				zap.String("recommendation_id", *bet.RecommendationID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// SettleRecommendation liquida uma recomendação pendente e grava a linha
// imutável de outcome 1:1.
func (e *Engine) SettleRecommendation(ctx context.Context, recID string) error {
	rec, err := e.Store.GetRecommendation(ctx, recID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRecommendationNotFound, recID)
	}
	if rec.Status == records.StatusSettled {
		return nil
	}

	result, err := e.Store.GetGameResult(ctx, rec.GameID)
	if err != nil {
		return fmt.Errorf("%w: game %s", ErrResultNotFound, rec.GameID)
	}
	if !result.IsFinal {
		return fmt.Errorf("%w: game %s", ErrResultNotFinal, rec.GameID)
	}

	closing := e.resolveClosing(ctx, rec.GameID, rec.MarketType, rec.Selection, result.CompletedAt)

	outcome := SettleOutcome(rec.Selection, rec.MarketType, rec.Line, result.Payload)
	clvLine, clvPrice := clv(rec.MarketType, rec.Line, rec.Price, closing)

	now := time.Now().UTC()
	rec.Status = records.StatusSettled
	rec.Outcome = outcome
	rec.ClvLine = clvLine
	rec.ClvPrice = clvPrice
	rec.SettledAt = &now
	if closing != nil {
		rec.ClosingLine = closing.Line
		rec.ClosingPrice = closing.Price
	}

	if err := e.Store.SettleRecommendation(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			return nil
		}
		return fmt.Errorf("persist settled recommendation %s: %w", recID, err)
	}

	out := &records.RecommendationOutcome{
		ID:               uuid.NewString(),
		RecommendationID: recID,
		Outcome:          outcome,
		ClvLine:          clvLine,
		ClvPrice:         clvPrice,
		SettledAt:        now,
	}
	if err := e.Store.InsertOutcome(ctx, out); err != nil {
		e.Log.Warn("outcome row insert failed", zap.String("recommendation_id", recID), zap.Error(err))
	}
	if e.OnSettled != nil {
		e.OnSettled("recommendation")
	}

	return nil
}

// RunForGame liquida em lote tudo que está pendente para um jogo encerrado.
// Erros individuais são logados e não interrompem o lote.
func (e *Engine) RunForGame(ctx context.Context, gameID string) (settledBets, settledRecs int, err error) {
	result, err := e.Store.GetGameResult(ctx, gameID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: game %s", ErrResultNotFound, gameID)
	}
	if !result.IsFinal {
		return 0, 0, fmt.Errorf("%w: game %s", ErrResultNotFinal, gameID)
	}

	bets, err := e.Store.PendingBetsByGame(ctx, gameID)
	if err != nil {
		return 0, 0, fmt.Errorf("pending bets: %w", err)
	}
	for _, b := range bets {
		if err := e.SettleBet(ctx, b.ID); err != nil {
			e.Log.Error("bet settle failed", zap.String("bet_id", b.ID), zap.Error(err))
			continue
		}
		settledBets++
	}

	recs, err := e.Store.PendingRecommendationsByGame(ctx, gameID)
	if err != nil {
		return settledBets, 0, fmt.Errorf("pending recommendations: %w", err)
	}
	for _, r := range recs {
		if err := e.SettleRecommendation(ctx, r.ID); err != nil {
			e.Log.Error("recommendation settle failed", zap.String("recommendation_id", r.ID), zap.Error(err))
			continue
		}
		settledRecs++
	}

	return settledBets, settledRecs, nil
}

// resolveClosing busca o fechamento; ausência de snapshot degrada para CLV
// nulo em vez de falhar a liquidação.
func (e *Engine) resolveClosing(ctx context.Context, gameID, marketType, selection string, completedAt time.Time) *records.OddsSnapshot {
	closing, err := e.Closer.ResolveClosing(ctx, gameID, marketType, selection, &completedAt)
	if err != nil {
		if !errors.Is(err, capture.ErrNoSnapshots) {
			e.Log.Warn("closing resolve failed",
				zap.String("game_id", gameID),
				zap.String("market_type", marketType),
				zap.Error(err),
			)
		}
		return nil
	}
	return closing
}
