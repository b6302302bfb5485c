// Package trial реализует HTTP-обработчик запуска пробной подписки.
package trial

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Service подписки.
type Service interface {
	StartTrial(ctx context.Context, userID string) (*models.Subscription, bool, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Пробная подписка
// @Description Пробный период доступен только пользователю без подписки.
// @Tags Subscription
// @Produce  json
// @Success 201 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /subscription/trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.trial"
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

	sub, created, err := h.service.StartTrial(r.Context(), userID)
	if err != nil {
		log.Error("failed to start trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not start trial"))
		return
	}
	if !created {
		log.Info("trial refused, subscription exists", slog.String("user_id", userID))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("subscription already exists"))
		return
	}

	log.Info("trial started", slog.String("user_id", userID), slog.String("plan_type", sub.PlanType))
	w.WriteHeader(http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(sub))
}
