// Package billing собирает HTTP API биллинга: журнал кошелька, квоты, подписки,
// допуск платных операций и приём вебхуков платёжного шлюза.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/billing-ledger/internal/cache"
	"github.com/magabrotheeeer/billing-ledger/internal/config"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/health"
	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/jwt"
	librabbitmq "github.com/magabrotheeeer/billing-ledger/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/tradingday"
	"github.com/magabrotheeeer/billing-ledger/internal/metrics"
	"github.com/magabrotheeeer/billing-ledger/internal/migrations"
	"github.com/magabrotheeeer/billing-ledger/internal/operations"
	"github.com/magabrotheeeer/billing-ledger/internal/rabbitmq"
	"github.com/magabrotheeeer/billing-ledger/internal/services/admission"
	"github.com/magabrotheeeer/billing-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/billing-ledger/internal/services/plan"
	"github.com/magabrotheeeer/billing-ledger/internal/services/quota"
	"github.com/magabrotheeeer/billing-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/billing-ledger/internal/services/webhook"
	"github.com/magabrotheeeer/billing-ledger/internal/storage/repository"
)

const (
	healthTimeout   = 2 * time.Second
	shutdownTimeout = 15 * time.Second
	limiterIdleTTL  = 10 * time.Minute
)

// App HTTP-сервер биллинга и его ресурсы.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключает хранилища, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "billing.New"

	if err := cfg.Webhook.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	grant, err := cfg.WelcomeGrantAmount()
	if err != nil {
		return nil, err
	}
	prices, err := cfg.PriceTable()
	if err != nil {
		return nil, err
	}
	clock, err := tradingday.New(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &App{logger: logger, db: db}

	checks := map[string]health.Check{"postgres": db.Ready}

	// Без Redis лимиты тарифов читаются из базы на каждый запрос.
	var planCache plan.Cache
	if cfg.AddressRedis != "" {
		a.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		planCache = a.cache
		checks["redis"] = a.cache.Ping
	}

	// Без брокера уведомления оператору не отправляются, вебхуки обрабатываются как обычно.
	var notifier webhook.Notifier
	if cfg.RabbitMQURL != "" {
		a.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.ch, err = rabbitmq.SetupChannel(a.conn, librabbitmq.GetBillingQueues())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		notifier = librabbitmq.NewPublisher(a.ch)
	} else {
		logger.Warn("rabbitmq url is empty, operator notifications are disabled")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	plans := plan.New(db, planCache, cfg.PlanCacheTTL, logger)
	quotas := quota.New(db, plans, clock, logger)
	wallet := ledger.New(db, grant, m, logger)
	subs := subscription.New(db, subscription.TrialConfig{Plan: cfg.TrialPlan, Period: cfg.TrialPeriod}, logger)
	guard := admission.New(subs, quotas, wallet, m, logger)
	processor := webhook.New(webhook.Config{
		Secret:             cfg.Webhook.Secret,
		TenantID:           cfg.TenantID,
		SubscriptionPeriod: cfg.SubscriptionPeriod,
	}, wallet, subs, db, notifier, m, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Guard:           guard,
		Executor:        operations.NewClient(cfg.Operations.BaseURL, cfg.Operations.Timeout),
		Ledger:          wallet,
		Subscriptions:   subs,
		Quota:           quotas,
		Plans:           plans,
		Webhook:         processor,
		PaymentEvents:   db,
		Tokens:          jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Limiter:         middlewarectx.NewUserRateLimiter(cfg.RPS, cfg.Burst, limiterIdleTTL),
		Prices:          prices,
		SignatureHeader: cfg.SignatureHeader,
		HealthChecks:    checks,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP + cfg.Operations.Timeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Run запускает сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", slog.Any("err", err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", slog.Any("err", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", slog.Any("err", err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", slog.Any("err", err))
	}
}
