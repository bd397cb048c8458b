package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/capture"
	caprepo "github.com/mfreitas/odds-settlement-platform/internal/capture/repo"
	"github.com/mfreitas/odds-settlement-platform/internal/controlplane"
	cprepo "github.com/mfreitas/odds-settlement-platform/internal/controlplane/repo"
	"github.com/mfreitas/odds-settlement-platform/internal/settlement"
	"github.com/mfreitas/odds-settlement-platform/internal/settlement/consumer"
	srepo "github.com/mfreitas/odds-settlement-platform/internal/settlement/repo"
	"github.com/mfreitas/odds-settlement-platform/internal/shared/config"
	"github.com/mfreitas/odds-settlement-platform/internal/shared/db"
	skafka "github.com/mfreitas/odds-settlement-platform/internal/shared/kafka"
	"github.com/mfreitas/odds-settlement-platform/internal/shared/logger"
	"github.com/mfreitas/odds-settlement-platform/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Consumer group do worker no tópico de resultados finais
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  "settlement-worker",
		Topic:    cfg.TopicGameResults,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	dlq := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicGameResultsDLQ)
	defer dlq.Close()
	eventsWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicControlPlane)
	defer eventsWriter.Close()

	// Métricas Prometheus da liquidação
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_messages_consumed_total", Help: "mensagens consumidas"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_settled_total", Help: "apostas+recomendações liquidadas"})
	emitted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settle_events_emitted_total", Help: "eventos do control plane"}, []string{"event"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settle_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, settled, emitted, errorsBy)

	bus := &controlplane.Bus{
		Log:   log,
		Store: cprepo.NewPostgres(pg),
		Publisher: publisherFunc(func(ctx context.Context, key string, payload []byte) error {
			return skafka.WriteJSON(ctx, eventsWriter, key, payload)
		}),
		Mode:      cfg.EventValidation,
		AgentID:   cfg.ServiceName,
		OnEmitted: func(name string) { emitted.WithLabelValues(name).Inc() },
	}

	// O resolvedor de fechamento é o mesmo serviço de captura do market-data
	closer := &capture.Service{
		Log:             log,
		Store:           caprepo.NewPostgres(pg),
		Bus:             bus,
		OddsStalenessMs: cfg.OddsStalenessMs,
	}

	store := srepo.NewPostgres(pg)
	engine := &settlement.Engine{
		Log:    log,
		Store:  store,
		Closer: closer,
		Bus:    bus,
	}

	proc := &consumer.Processor{
		Log:        log,
		Reader:     reader,
		Results:    store,
		Engine:     engine,
		DLQWriter:  dlq,
		OnConsumed: func() { consumed.Inc() },
		OnSettled:  func(n int) { settled.Add(float64(n)) },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		return nil
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("settlement-worker started", zap.String("topic", cfg.TopicGameResults))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("worker stopped with error", zap.Error(err))
	}
	log.Info("settlement-worker stopped")
}

// publisherFunc adapta uma função ao controlplane.Publisher
type publisherFunc func(ctx context.Context, key string, payload []byte) error

func (f publisherFunc) Publish(ctx context.Context, key string, payload []byte) error {
	return f(ctx, key, payload)
}
