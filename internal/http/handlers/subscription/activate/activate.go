// Package activate реализует административную активацию подписки.
// Нужна для ручного восстановления, когда вебхук оплаты не дошёл.
package activate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
	"github.com/magabrotheeeer/billing-ledger/internal/services/subscription"
)

// Service подписки.
type Service interface {
	Activate(ctx context.Context, req models.ActivateRequest) (bool, error)
}

// Plans справочник тарифов.
type Plans interface {
	Get(ctx context.Context, planType string) (models.PlanLimit, error)
}

// Request тело запроса.
type Request struct {
	PlanType               string    `json:"plan_type" validate:"required,max=32"`
	ExternalSubscriptionID string    `json:"external_subscription_id" validate:"max=128"`
	PeriodStart            time.Time `json:"period_start" validate:"required"`
	PeriodEnd              time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`
}

// Result ответ обработчика.
type Result struct {
	Changed bool `json:"changed"`
}

type Handler struct {
	log      *slog.Logger
	service  Service
	plans    Plans
	validate *validator.Validate
}

func New(log *slog.Logger, service Service, plans Plans) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		plans:    plans,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Активировать подписку
// @Description Ставит подписку в active на указанный период. Повтор с той же внешней подпиской и периодом ничего не меняет.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param userID path string true "ID пользователя"
// @Param request body Request true "Параметры подписки"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/subscriptions/{userID}/activate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.activate"
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

	if _, err := h.plans.Get(r.Context(), req.PlanType); err != nil {
		if errors.Is(err, models.ErrPlanNotFound) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("unknown plan type"))
			return
		}
		log.Error("failed to get plan", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not activate subscription"))
		return
	}

	changed, err := h.service.Activate(r.Context(), models.ActivateRequest{
		UserID:                 userID,
		PlanType:               req.PlanType,
		ExternalSubscriptionID: req.ExternalSubscriptionID,
		PeriodStart:            req.PeriodStart.UTC(),
		PeriodEnd:              req.PeriodEnd.UTC(),
	})
	switch {
	case errors.Is(err, subscription.ErrInvalidPeriod):
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("failed to activate subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not activate subscription"))
		return
	}

	log.Info("subscription activated by operator",
		slog.String("user_id", userID),
		slog.String("plan_type", req.PlanType),
		slog.Bool("changed", changed),
	)
	render.JSON(w, r, response.StatusOKWithData(Result{Changed: changed}))
}
