// Package cancel реализует HTTP-обработчик отмены подписки пользователем.
package cancel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
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
	Cancel(ctx context.Context, userID string, immediate bool) (bool, error)
}

// Request тело запроса. Пустое тело означает отмену в конце периода.
type Request struct {
	Immediate bool `json:"immediate"`
}

// Result ответ обработчика.
type Result struct {
	Immediate bool `json:"immediate"`
	Changed   bool `json:"changed"`
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
// @Summary Отменить подписку
// @Description По умолчанию подписка действует до конца оплаченного периода; immediate=true прекращает её сразу.
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Param request body Request false "Параметры отмены"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /subscription/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	changed, err := h.service.Cancel(r.Context(), userID, req.Immediate)
	switch {
	case errors.Is(err, models.ErrSubscriptionNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("subscription not found"))
		return
	case err != nil:
		log.Error("failed to cancel subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel subscription"))
		return
	}

	log.Info("subscription cancel requested",
		slog.String("user_id", userID),
		slog.Bool("immediate", req.Immediate),
		slog.Bool("changed", changed),
	)
	render.JSON(w, r, response.StatusOKWithData(Result{Immediate: req.Immediate, Changed: changed}))
}
