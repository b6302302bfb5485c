package billing

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/health"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/operation"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/payment/paymentevents"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/plan/refresh"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/quota"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/subscription/activate"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/subscription/status"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/subscription/trial"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/wallet/balance"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/wallet/credit"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/wallet/history"
	"github.com/magabrotheeeer/billing-ledger/internal/http/handlers/wallet/reconcile"
	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/services/admission"
	"github.com/magabrotheeeer/billing-ledger/internal/services/ledger"
	"github.com/magabrotheeeer/billing-ledger/internal/services/plan"
	quotaservice "github.com/magabrotheeeer/billing-ledger/internal/services/quota"
	"github.com/magabrotheeeer/billing-ledger/internal/services/subscription"
	"github.com/magabrotheeeer/billing-ledger/internal/services/webhook"
)

// Deps зависимости HTTP-слоя.
type Deps struct {
	Guard           *admission.Guard
	Executor        operation.Executor
	Ledger          *ledger.Service
	Subscriptions   *subscription.Service
	Quota           *quotaservice.Service
	Plans           *plan.Service
	Webhook         *webhook.Processor
	PaymentEvents   paymentevents.Service
	Tokens          middlewarectx.TokenParser
	Limiter         *middlewarectx.UserRateLimiter
	Prices          map[string]decimal.Decimal
	SignatureHeader string
	HealthChecks    map[string]health.Check
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(logger, healthTimeout, d.HealthChecks).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук шлюза проверяется подписью, а не токеном
		r.Post("/payments/webhook", paymentwebhook.New(logger, d.Webhook, d.SignatureHeader).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RateLimitMiddleware(d.Limiter, logger))
				r.Post("/operations/{operation}", operation.New(logger, d.Guard, d.Executor, d.Ledger, d.Prices).ServeHTTP)
				r.Get("/wallet/balance", balance.New(logger, d.Ledger).ServeHTTP)
				r.Get("/wallet/transactions", history.New(logger, d.Ledger).ServeHTTP)
				r.Get("/quota/{operation}", quota.New(logger, d.Subscriptions, d.Quota).ServeHTTP)
				r.Get("/subscription", status.New(logger, d.Subscriptions).ServeHTTP)
				r.Post("/subscription/trial", trial.New(logger, d.Subscriptions).ServeHTTP)
				r.Post("/subscription/cancel", cancel.New(logger, d.Subscriptions).ServeHTTP)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.AdminOnly(logger))
				r.Post("/wallet/credit", credit.New(logger, d.Ledger).ServeHTTP)
				r.Get("/wallet/{userID}/reconcile", reconcile.New(logger, d.Ledger).ServeHTTP)
				r.Post("/subscriptions/{userID}/activate", activate.New(logger, d.Subscriptions, d.Plans).ServeHTTP)
				r.Get("/payments/events/{userID}", paymentevents.New(logger, d.PaymentEvents).ServeHTTP)
				r.Post("/plans/{planType}/refresh", refresh.New(logger, d.Plans).ServeHTTP)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
