// Package plan отдаёт лимиты тарифов из plan_limits с кешированием в Redis.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Repository источник тарифов.
type Repository interface {
	GetPlan(ctx context.Context, planType string) (models.PlanLimit, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(ctx context.Context, key string) error
}

// Service тарифы с кешем.
type Service struct {
	repo  Repository
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

// New создаёт сервис тарифов. cache может быть nil, тогда каждый запрос идёт в базу.
func New(repo Repository, cache Cache, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

func cacheKey(planType string) string {
	return "plan_limits:" + planType
}

// Get возвращает лимиты тарифа. Ошибки кеша не прерывают запрос.
func (s *Service) Get(ctx context.Context, planType string) (models.PlanLimit, error) {
	const op = "plan.Get"
	log := s.log.With(slog.String("op", op), slog.String("plan_type", planType))

	if s.cache != nil {
		var cached models.PlanLimit
		found, err := s.cache.Get(ctx, cacheKey(planType), &cached)
		if err != nil {
			log.Warn("failed to read plan from cache", sl.Err(err))
		}
		if found {
			return cached, nil
		}
	}

	p, err := s.repo.GetPlan(ctx, planType)
	if err != nil {
		return models.PlanLimit{}, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(planType), p, s.ttl); err != nil {
			log.Warn("failed to cache plan", sl.Err(err))
		}
	}
	return p, nil
}

// Invalidate сбрасывает кеш тарифа.
func (s *Service) Invalidate(ctx context.Context, planType string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, cacheKey(planType))
}
