// Package status реализует HTTP-обработчик просмотра подписки пользователя.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Service подписки.
type Service interface {
	Get(ctx context.Context, userID string) (*models.Subscription, error)
}

// Status ответ обработчика.
type Status struct {
	Subscription *models.Subscription `json:"subscription"`
	Entitled     bool                 `json:"entitled"`
}

type Handler struct {
	log     *slog.Logger
	service Service
	now     func() time.Time
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		now:     time.Now,
	}
}

// ServeHTTP godoc
// @Summary Текущая подписка
// @Description Подписка пользователя и признак права на квоту. Если подписки нет, subscription = null.
// @Tags Subscription
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /subscription [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.status"
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

	sub, err := h.service.Get(r.Context(), userID)
	switch {
	case errors.Is(err, models.ErrSubscriptionNotFound):
		render.JSON(w, r, response.StatusOKWithData(Status{}))
		return
	case err != nil:
		log.Error("failed to get subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get subscription"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(Status{
		Subscription: sub,
		Entitled:     sub.EntitledAt(h.now()),
	}))
}
