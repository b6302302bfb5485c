// Package sweeper периодически закрывает подписки с истёкшим периодом
// и удаляет старые дневные счётчики использования.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/billing-ledger/internal/metrics"
)

// Subscriptions закрытие просроченных подписок.
type Subscriptions interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// Usage хранилище дневных счётчиков.
type Usage interface {
	PurgeUsageBefore(ctx context.Context, day time.Time) (int64, error)
}

// Clock торговый день.
type Clock interface {
	Today() time.Time
}

type Service struct {
	subs      Subscriptions
	usage     Usage
	clock     Clock
	retention time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New создаёт Service. retention = 0 отключает очистку счётчиков.
func New(subs Subscriptions, usage Usage, clock Clock, retention time.Duration, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		subs:      subs,
		usage:     usage,
		clock:     clock,
		retention: retention,
		metrics:   m,
		log:       log,
	}
}

// Run выполняет проход сразу и затем каждые interval, пока не отменён ctx.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error("sweep failed", sl.Err(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("sweep failed", sl.Err(err))
			}
		}
	}
}

// RunOnce один проход. Ошибка одного шага не мешает выполнить другой.
func (s *Service) RunOnce(ctx context.Context) error {
	const op = "sweeper.RunOnce"
	log := s.log.With(slog.String("op", op))

	var errs []error
	expired, err := s.subs.ExpireDue(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		s.metrics.Sweep("expire", expired)
		if expired > 0 {
			log.Info("subscriptions closed", slog.Int64("count", expired))
		}
	}

	if s.retention > 0 {
		cutoff := s.clock.Today().Add(-s.retention)
		purged, err := s.usage.PurgeUsageBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		} else {
			s.metrics.Sweep("purge_usage", purged)
			if purged > 0 {
				log.Info("usage counters purged", slog.Int64("count", purged), slog.Time("before", cutoff))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
