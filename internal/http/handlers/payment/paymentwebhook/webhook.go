// Package paymentwebhook принимает вебхуки платёжного шлюза.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// maxBodySize ограничение размера тела вебхука.
const maxBodySize = 1 << 20

// Processor обработчик событий шлюза.
type Processor interface {
	Handle(ctx context.Context, raw []byte, signature string) (models.WebhookAck, error)
}

type Handler struct {
	log             *slog.Logger
	processor       Processor
	signatureHeader string
}

func New(log *slog.Logger, processor Processor, signatureHeader string) *Handler {
	return &Handler{
		log:             log,
		processor:       processor,
		signatureHeader: signatureHeader,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного шлюза
// @Description Тело подписано HMAC-SHA256 общим секретом. Повторная доставка подтверждается со статусом duplicate.
// @Tags Payment
// @Accept  json
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("could not read body"))
		return
	}
	if len(body) > maxBodySize {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		render.JSON(w, r, response.Error("payload too large"))
		return
	}

	ack, err := h.processor.Handle(r.Context(), body, r.Header.Get(h.signatureHeader))
	switch {
	case errors.Is(err, models.ErrBadSignature):
		log.Warn("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	case err != nil:
		// 5xx заставит шлюз повторить доставку.
		log.Error("failed to process webhook event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not process event"))
		return
	}

	log.Info("webhook processed",
		slog.String("event", ack.Event),
		slog.String("event_id", ack.EventID),
		slog.String("status", ack.Status),
	)
	render.JSON(w, r, response.StatusOKWithData(ack))
}
