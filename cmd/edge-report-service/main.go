package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/reporting"
	rhttp "github.com/mfreitas/odds-settlement-platform/internal/reporting/http"
	rrepo "github.com/mfreitas/odds-settlement-platform/internal/reporting/repo"
	"github.com/mfreitas/odds-settlement-platform/internal/shared/config"
	"github.com/mfreitas/odds-settlement-platform/internal/shared/db"
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

	svc := &reporting.Service{Store: &rrepo.ReadRepo{DB: pg}}
	api := &rhttp.Server{Log: log, Reports: svc}

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		return nil
	})

	addr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("edge-report-service listening", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: api.Router()}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}
