// Package credit реализует административное начисление на кошелёк: возврат или бонус.
//
// Начисление идемпотентно по external_ref: повтор с тем же ключом возвращает
// исходную квитанцию с duplicate=true и баланс не меняет.
package credit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Service начисления.
type Service interface {
	Credit(ctx context.Context, req models.CreditRequest) (models.Receipt, error)
}

// Request тело запроса на начисление.
type Request struct {
	UserID      string `json:"user_id" validate:"required,max=128"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Kind        string `json:"kind" validate:"required,oneof=refund bonus"`
	ExternalRef string `json:"external_ref" validate:"required,max=128"`
	Description string `json:"description" validate:"max=256"`
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Начислить на кошелёк
// @Description Возврат или бонус с внешним идентификатором для идемпотентности.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body Request true "Параметры начисления"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/wallet/credit [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.wallet.credit"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !models.ValidAmount(amount) {
		log.Warn("invalid credit amount", slog.String("amount", req.Amount))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(models.ErrInvalidAmount.Error()))
		return
	}

	receipt, err := h.service.Credit(r.Context(), models.CreditRequest{
		UserID:      req.UserID,
		Amount:      amount,
		Kind:        models.EntryKind(req.Kind),
		ExternalRef: req.ExternalRef,
		Description: req.Description,
		Metadata:    map[string]string{"source": "admin"},
	})
	switch {
	case errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrInvalidKind):
		log.Warn("credit rejected", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("failed to credit wallet", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not credit wallet"))
		return
	}

	log.Info("wallet credited",
		slog.String("user_id", req.UserID),
		slog.String("kind", req.Kind),
		slog.String("external_ref", req.ExternalRef),
		slog.Bool("duplicate", receipt.Duplicate),
	)
	render.JSON(w, r, response.StatusOKWithData(receipt))
}
