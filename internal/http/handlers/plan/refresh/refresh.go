// Package refresh реализует сброс кеша лимитов тарифа после правки plan_limits.
package refresh

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

// Plans источник лимитов тарифов с кешем.
type Plans interface {
	Invalidate(ctx context.Context, planType string) error
	Get(ctx context.Context, planType string) (models.PlanLimit, error)
}

type Handler struct {
	log   *slog.Logger
	plans Plans
}

func New(log *slog.Logger, plans Plans) *Handler {
	return &Handler{
		log:   log,
		plans: plans,
	}
}

// ServeHTTP godoc
// @Summary Обновить лимиты тарифа
// @Description Сбрасывает закешированные лимиты тарифа и возвращает актуальные значения из базы.
// @Tags Admin
// @Produce  json
// @Param planType path string true "Тариф"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/plans/{planType}/refresh [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.plan.refresh"
	planType := chi.URLParam(r, "planType")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("plan_type", planType),
	)

	if err := h.plans.Invalidate(r.Context(), planType); err != nil {
		log.Error("failed to invalidate plan cache", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not refresh plan"))
		return
	}

	limits, err := h.plans.Get(r.Context(), planType)
	switch {
	case errors.Is(err, models.ErrPlanNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("plan not found"))
		return
	case err != nil:
		log.Error("failed to load plan", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not refresh plan"))
		return
	}

	log.Info("plan limits refreshed")
	render.JSON(w, r, response.StatusOKWithData(limits))
}
