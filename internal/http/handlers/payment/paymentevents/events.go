// Package paymentevents показывает оператору журнал событий шлюза по пользователю.
package paymentevents

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service журнал событий.
type Service interface {
	ListPaymentEvents(ctx context.Context, userID string, limit int) ([]models.PaymentEvent, error)
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
// @Summary События шлюза пользователя
// @Description Последние события платёжного шлюза, сначала новые.
// @Tags Admin
// @Produce  json
// @Param userID path string true "ID пользователя"
// @Param limit query int false "Размер страницы (по умолчанию 50, максимум 500)"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/payments/events/{userID} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.events"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("user id is required"))
		return
	}

	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, maxLimit)
	}

	events, err := h.service.ListPaymentEvents(r.Context(), userID, limit)
	if err != nil {
		log.Error("failed to list payment events", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list payment events"))
		return
	}

	log.Info("payment events listed", slog.String("user_id", userID), slog.Int("count", len(events)))
	render.JSON(w, r, response.StatusOKWithData(events))
}
