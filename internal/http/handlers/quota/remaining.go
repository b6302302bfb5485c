// Package quota реализует HTTP-обработчик остатка дневной квоты подписки.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Entitlements действующая подписка пользователя.
type Entitlements interface {
	Entitlement(ctx context.Context, userID string) (*models.Subscription, error)
}

// Quota остаток квоты.
type Quota interface {
	Remaining(ctx context.Context, userID, operationType, planType string) (models.QuotaRemaining, error)
}

// Remaining ответ обработчика.
type Remaining struct {
	Entitled bool `json:"entitled"`
	models.QuotaRemaining
}

type Handler struct {
	log   *slog.Logger
	subs  Entitlements
	quota Quota
}

func New(log *slog.Logger, subs Entitlements, quota Quota) *Handler {
	return &Handler{
		log:   log,
		subs:  subs,
		quota: quota,
	}
}

// ServeHTTP godoc
// @Summary Остаток квоты
// @Description Сколько операций данного типа ещё покрывает подписка сегодня.
// @Tags Quota
// @Produce  json
// @Param operation path string true "Тип операции"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /quota/{operation} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.quota.remaining"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserID(r.Context())
	if !ok {
		log.Error("user id not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}
	operation := chi.URLParam(r, "operation")

	sub, err := h.subs.Entitlement(r.Context(), userID)
	if err != nil {
		log.Error("failed to get subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get quota"))
		return
	}
	if sub == nil {
		render.JSON(w, r, response.StatusOKWithData(Remaining{
			QuotaRemaining: models.QuotaRemaining{OperationType: operation},
		}))
		return
	}

	rem, err := h.quota.Remaining(r.Context(), userID, operation, sub.PlanType)
	switch {
	case errors.Is(err, models.ErrPlanNotFound):
		log.Warn("subscription plan has no limits", slog.String("plan_type", sub.PlanType))
		rem = models.QuotaRemaining{OperationType: operation, PlanType: sub.PlanType}
	case err != nil:
		log.Error("failed to get quota", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get quota"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(Remaining{Entitled: true, QuotaRemaining: rem}))
}
