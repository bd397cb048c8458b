package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
)

// KafkaPublisher publica resultados finais no tópico game_results e serve
// de Publisher pro bus do control plane.
type KafkaPublisher struct {
	ResultsWriter *kafka.Writer
	EventsWriter  *kafka.Writer
}

func NewKafkaPublisher(results, cpEvents *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{ResultsWriter: results, EventsWriter: cpEvents}
}

// PublishGameResult publica um resultado final (dispara o settlement-worker)
func (p *KafkaPublisher) PublishGameResult(ctx context.Context, e events.GameResultFinal) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return p.ResultsWriter.WriteMessages(ctx, kafka.Message{Key: []byte(e.GameID), Value: b})
}

// Publish implementa o controlplane.Publisher (eventos de auditoria)
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.EventsWriter.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}
