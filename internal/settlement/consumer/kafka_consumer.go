package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/settlement"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// ResultStore persiste o resultado consolidado antes de liquidar.
type ResultStore interface {
	UpsertGameResult(ctx context.Context, r *records.GameResultRecord) error
}

// Processor consome resultados finais do Kafka e roda a liquidação em lote
// do jogo. Callbacks de métricas podem ser usadas para monitorar cada etapa.
type Processor struct {
	Log     *zap.Logger
	Reader  *kafka.Reader
	Results ResultStore
	Engine  *settlement.Engine

	DLQWriter *kafka.Writer // opcional

	OnConsumed func()       // métricas (counter++)
	OnSettled  func(n int)  // métricas
	OnError    func(string) // métricas por fase
}

// Run inicia o loop principal de consumo e liquidação
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			if p.OnError != nil {
				p.OnError("read")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		var ev events.GameResultFinal
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.Log.Warn("invalid message", zap.Error(err))
			if p.OnError != nil {
				p.OnError("decode")
			}
			continue
		}
		if !ev.IsFinal {
			// não deveria chegar aqui, mas resultado parcial não liquida nada
			continue
		}

		if err := p.processOne(ctx, &ev); err != nil {
			p.Log.Error("settlement failed", zap.String("gameId", ev.GameID), zap.Error(err))
			if p.OnError != nil {
				p.OnError("settle")
			}
			if p.DLQWriter != nil {
				_ = p.DLQWriter.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value})
			}
			// Backoff simples para evitar flood em caso de erro
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// processOne persiste o resultado e liquida tudo que está pendente do jogo
func (p *Processor) processOne(ctx context.Context, ev *events.GameResultFinal) error {
	result := &records.GameResultRecord{
		GameID:       ev.GameID,
		Payload:      records.ResultPayload{HomeScore: ev.HomeScore, AwayScore: ev.AwayScore},
		CompletedAt:  ev.CompletedAt,
		IsFinal:      ev.IsFinal,
		SourceDomain: ev.SourceDomain,
	}
	if err := p.Results.UpsertGameResult(ctx, result); err != nil {
		return err
	}

	bets, recs, err := p.Engine.RunForGame(ctx, ev.GameID)
	if err != nil {
		return err
	}
	p.Log.Info("game settled",
		zap.String("gameId", ev.GameID),
		zap.Int("bets", bets),
		zap.Int("recommendations", recs),
	)
	if p.OnSettled != nil {
		p.OnSettled(bets + recs)
	}
	return nil
}
