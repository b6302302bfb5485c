// Package history реализует HTTP-обработчик журнала операций кошелька.
package history

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Service источник журнала.
type Service interface {
	History(ctx context.Context, userID string, q models.HistoryQuery) ([]models.LedgerEntry, error)
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
// @Summary История кошелька
// @Description Страница журнала записей пользователя.
// @Tags Wallet
// @Produce  json
// @Param limit query int false "Размер страницы (по умолчанию 50, максимум 500)"
// @Param offset query int false "Смещение"
// @Param order query string false "asc или desc"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /wallet/transactions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.wallet.history"
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

	q, err := parseQuery(r.URL.Query())
	if err != nil {
		log.Warn("invalid history query", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}

	entries, err := h.service.History(r.Context(), userID, q)
	if err != nil {
		log.Error("failed to list ledger entries", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list transactions"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"count":        len(entries),
		"transactions": entries,
	}))
}

func parseQuery(v url.Values) (models.HistoryQuery, error) {
	var q models.HistoryQuery
	var err error
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return q, errBadParam("limit")
		}
	}
	if s := v.Get("offset"); s != "" {
		if q.Offset, err = strconv.Atoi(s); err != nil || q.Offset < 0 {
			return q, errBadParam("offset")
		}
	}
	switch order := models.SortOrder(v.Get("order")); order {
	case "":
		q.Order = models.OrderNewestFirst
	case models.OrderNewestFirst, models.OrderOldestFirst:
		q.Order = order
	default:
		return q, errBadParam("order")
	}
	return q, nil
}

type errBadParam string

func (e errBadParam) Error() string {
	return "invalid query parameter " + string(e)
}
