// Package reconcile реализует административную сверку журнала с балансом.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Service сверка журнала.
type Service interface {
	Reconcile(ctx context.Context, userID string) (models.Reconciliation, error)
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
// @Summary Сверка кошелька
// @Description Проигрывает журнал пользователя и сравнивает результат с сохранённым балансом.
// @Tags Admin
// @Produce  json
// @Param userID path string true "Идентификатор пользователя"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/wallet/{userID}/reconcile [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.wallet.reconcile"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "userID")
	rec, err := h.service.Reconcile(r.Context(), userID)
	switch {
	case errors.Is(err, models.ErrAccountNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("account not found"))
		return
	case err != nil:
		log.Error("failed to reconcile", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reconcile wallet"))
		return
	}

	if !rec.Consistent {
		log.Error("ledger replay does not match balance",
			slog.String("user_id", userID),
			slog.Any("problems", rec.Problems),
			slog.Bool("defect", true),
		)
	}
	render.JSON(w, r, response.StatusOKWithData(rec))
}
