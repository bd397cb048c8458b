package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/consensus"
	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/fetcher"
	frepo "github.com/mfreitas/odds-settlement-platform/internal/acquisition/fetcher/repo"
	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/ratelimit"
	"github.com/mfreitas/odds-settlement-platform/internal/capture"
	caprepo "github.com/mfreitas/odds-settlement-platform/internal/capture/repo"
	"github.com/mfreitas/odds-settlement-platform/internal/controlplane"
	cprepo "github.com/mfreitas/odds-settlement-platform/internal/controlplane/repo"
	mcache "github.com/mfreitas/odds-settlement-platform/internal/market-data/cache"
	mhttp "github.com/mfreitas/odds-settlement-platform/internal/market-data/http"
	"github.com/mfreitas/odds-settlement-platform/internal/market-data/producer"
	srepo "github.com/mfreitas/odds-settlement-platform/internal/settlement/repo"
	sharedcache "github.com/mfreitas/odds-settlement-platform/internal/shared/cache"
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

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis (cache de consenso corrente)
	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Writers Kafka: resultados finais e eventos de auditoria
	resultsWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicGameResults)
	defer resultsWriter.Close()
	eventsWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicControlPlane)
	defer eventsWriter.Close()

	// Métricas Prometheus do pipeline de aquisição
	fetches := prometheus.NewCounter(prometheus.CounterOpts{Name: "mds_fetches_total", Help: "fetches de rede"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{Name: "mds_cache_hits_total", Help: "304 servidos do cache"})
	captured := prometheus.NewCounter(prometheus.CounterOpts{Name: "mds_snapshots_captured_total", Help: "snapshots persistidos"})
	deduped := prometheus.NewCounter(prometheus.CounterOpts{Name: "mds_snapshots_deduped_total", Help: "snapshots descartados na janela"})
	emitted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mds_events_emitted_total", Help: "eventos do control plane"}, []string{"event"})
	resolved := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mds_consensus_total", Help: "consensos por nível"}, []string{"level"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mds_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(fetches, cacheHits, captured, deduped, emitted, resolved, errorsBy)

	// Barramento de auditoria: log append-only no Postgres + Kafka
	publ := producer.NewKafkaPublisher(resultsWriter, eventsWriter)
	bus := &controlplane.Bus{
		Log:       log,
		Store:     cprepo.NewPostgres(pg),
		Publisher: publ,
		Mode:      cfg.EventValidation,
		AgentID:   cfg.ServiceName,
		OnEmitted: func(name string) { emitted.WithLabelValues(name).Inc() },
	}

	// Fetcher com cache condicional e rate limit por domínio
	limiter := ratelimit.New(cfg.RateLimits)
	f := fetcher.New(log, frepo.NewPostgres(pg), limiter, cfg.MaxRetries, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	f.Allowlist = cfg.Allowlist
	f.Blocklist = cfg.Blocklist
	f.OnFetch = func() { fetches.Inc() }
	f.OnCacheHit = func() { cacheHits.Inc() }
	f.OnError = func(stage string) { errorsBy.WithLabelValues(stage).Inc() }

	resolver := &consensus.Resolver{
		Log:                     log,
		Fetcher:                 f,
		Bus:                     bus,
		ParserVersion:           cfg.ParserVersion,
		OddsStalenessMs:         cfg.OddsStalenessMs,
		ResultsStalenessMs:      cfg.ResultsStalenessMs,
		ResultsRequireConsensus: cfg.ResultsRequireConsensus,
		MinAgreeingSources:      cfg.MinAgreeingSources,
		OnResolved:              func(level string) { resolved.WithLabelValues(level).Inc() },
	}

	snapRepo := caprepo.NewPostgres(pg)
	capt := &capture.Service{
		Log:             log,
		Store:           snapRepo,
		Bus:             bus,
		OddsStalenessMs: cfg.OddsStalenessMs,
		OnCaptured:      func() { captured.Inc() },
		OnDeduped:       func() { deduped.Inc() },
	}

	settleRepo := srepo.NewPostgres(pg)
	cpRepo := cprepo.NewPostgres(pg)

	api := &mhttp.Server{
		Log:      log,
		Resolver: resolver,
		Capture:  capt,
		Cache:    mcache.NewCache(redisClient, 60*time.Second),
		Snaps:    snapRepo,
		Logs:     settleRepo,
		Results:  settleRepo,
		Idem:     cpRepo,
		Publ:     publ,
	}

	// Servidor de métricas e health
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	addr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("market-data-service listening", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: api.Router()}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}
