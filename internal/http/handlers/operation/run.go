// Package operation реализует HTTP-обработчик платной операции.
//
// Handler определяет цену операции, проверяет допуск через AdmissionGuard, вызывает
// внешний исполнитель и, если исполнитель вернул ошибку после списания с кошелька,
// возвращает списанную сумму компенсирующим начислением. Если входящий запрос
// отменён или истёк его таймаут, списание не возвращается.
package operation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

const maxPayloadBytes = 1 << 20

// Guard проверка допуска.
type Guard interface {
	Admit(ctx context.Context, req models.AdmissionRequest) (models.Decision, error)
}

// Executor внешний исполнитель операций.
type Executor interface {
	Execute(ctx context.Context, operation, userID string, payload json.RawMessage) (json.RawMessage, error)
}

// Refunder компенсирующее начисление.
type Refunder interface {
	Credit(ctx context.Context, req models.CreditRequest) (models.Receipt, error)
}

// Handler обрабатывает POST /api/v1/operations/{operation}.
type Handler struct {
	log      *slog.Logger
	guard    Guard
	executor Executor
	wallet   Refunder
	prices   map[string]decimal.Decimal
}

// New создаёт Handler. prices задаёт стоимость каждой доступной операции.
func New(log *slog.Logger, guard Guard, executor Executor, wallet Refunder, prices map[string]decimal.Decimal) *Handler {
	return &Handler{
		log:      log,
		guard:    guard,
		executor: executor,
		wallet:   wallet,
		prices:   prices,
	}
}

// Result ответ на успешную операцию.
type Result struct {
	Operation       string                `json:"operation"`
	Source          models.DecisionSource `json:"source"`
	PlanType        string                `json:"plan_type,omitempty"`
	QuotaUsed       int                   `json:"quota_used,omitempty"`
	Charged         *decimal.Decimal      `json:"charged,omitempty"`
	TokensRemaining *decimal.Decimal      `json:"tokens_remaining,omitempty"`
	Result          json.RawMessage       `json:"result"`
}

// ServeHTTP godoc
// @Summary Выполнить платную операцию
// @Description Списывает квоту подписки или стоимость операции с кошелька и вызывает исполнителя.
// @Tags Operations
// @Accept  json
// @Produce  json
// @Param operation path string true "Тип операции"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректное тело запроса"
// @Failure 402 {object} response.PaymentRequired "Недостаточно средств"
// @Failure 404 {object} response.ErrorResponse "Неизвестная операция"
// @Failure 502 {object} response.ErrorResponse "Исполнитель вернул ошибку"
// @Failure 504 {object} response.ErrorResponse "Запрос отменён до завершения операции"
// @Router /operations/{operation} [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.operation.run"
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
	price, ok := h.prices[operation]
	if !ok {
		log.Warn("unknown operation", slog.String("operation", operation))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown operation"))
		return
	}

	payload, err := readPayload(r.Body)
	if err != nil {
		log.Error("failed to read request payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	log = log.With(slog.String("user_id", userID), slog.String("operation", operation))
	decision, err := h.guard.Admit(r.Context(), models.AdmissionRequest{
		UserID:        userID,
		OperationType: operation,
		Cost:          price,
		Description:   operation + " operation",
		Metadata:      map[string]string{"request_id": middleware.GetReqID(r.Context())},
	})
	if err != nil {
		log.Error("admission failed", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if !decision.Allowed {
		log.Info("operation denied", slog.String("reason", decision.Reason))
		w.WriteHeader(http.StatusPaymentRequired)
		render.JSON(w, r, response.Denied(decision))
		return
	}

	result, err := h.executor.Execute(r.Context(), operation, userID, payload)
	if err != nil {
		// Клиент ушёл или истёк таймаут входящего запроса: списание остаётся в силе.
		if ctxErr := r.Context().Err(); ctxErr != nil {
			log.Warn("request ended before operation completed, charge stands",
				slog.String("source", string(decision.Source)), sl.Err(ctxErr))
			w.WriteHeader(http.StatusGatewayTimeout)
			render.JSON(w, r, response.Error("request cancelled"))
			return
		}
		log.Error("operation execution failed", sl.Err(err))
		h.refund(r.Context(), log, decision)
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("operation failed"))
		return
	}

	res := Result{
		Operation: operation,
		Source:    decision.Source,
		PlanType:  decision.PlanType,
		QuotaUsed: decision.QuotaUsed,
		Result:    result,
	}
	if decision.Receipt != nil {
		res.Charged = &decision.Receipt.Amount
		res.TokensRemaining = &decision.Receipt.BalanceAfter
	}
	log.Info("operation completed", slog.String("source", string(decision.Source)))
	render.JSON(w, r, response.StatusOKWithData(res))
}

// refund возвращает списание с кошелька. Квота подписки не возвращается.
func (h *Handler) refund(ctx context.Context, log *slog.Logger, d models.Decision) {
	if d.Source != models.SourceWallet || d.Receipt == nil {
		return
	}
	receipt, err := h.wallet.Credit(context.WithoutCancel(ctx), models.CreditRequest{
		UserID:      d.Receipt.UserID,
		Amount:      d.Receipt.Amount,
		Kind:        models.KindRefund,
		ExternalRef: "refund:" + d.Receipt.EntryID,
		Description: "refund for failed " + d.OperationType,
		Metadata:    map[string]string{"debit_entry_id": d.Receipt.EntryID},
	})
	if err != nil {
		log.Error("failed to refund charge", slog.String("entry_id", d.Receipt.EntryID), sl.Err(err))
		return
	}
	log.Info("charge refunded", slog.String("entry_id", d.Receipt.EntryID), slog.String("balance", receipt.BalanceAfter.String()))
}

func readPayload(body io.Reader) (json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxPayloadBytes {
		return nil, errPayloadTooLarge
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errInvalidJSON
	}
	return raw, nil
}
