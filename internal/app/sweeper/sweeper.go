// Package sweeper содержит приложение фонового обхода подписок.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/magabrotheeeer/billing-ledger/internal/config"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/tradingday"
	"github.com/magabrotheeeer/billing-ledger/internal/metrics"
	"github.com/magabrotheeeer/billing-ledger/internal/services/subscription"
	sweeperservice "github.com/magabrotheeeer/billing-ledger/internal/services/sweeper"
	"github.com/magabrotheeeer/billing-ledger/internal/storage/repository"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// App представляет приложение обхода подписок.
type App struct {
	sweeper  *sweeperservice.Service
	db       *repository.Storage
	interval time.Duration
	logger   *slog.Logger
}

// waitForDB ждёт, пока API применит миграции.
func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range dbReadyAttempts {
		if err := db.Ready(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения обхода.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	clock, err := tradingday.New(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	subs := subscription.New(db, subscription.TrialConfig{Plan: cfg.TrialPlan, Period: cfg.TrialPeriod}, logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	return &App{
		sweeper:  sweeperservice.New(subs, db, clock, cfg.UsageRetention, m, logger),
		db:       db,
		interval: cfg.Interval,
		logger:   logger,
	}, nil
}

// Run выполняет обход до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("sweeper started", slog.Duration("interval", a.interval))
	a.sweeper.Run(ctx, a.interval)

	a.logger.Info("shutting down sweeper service")
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", slog.Any("err", err))
	}
	return nil
}
