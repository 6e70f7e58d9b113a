package service

import (
	"context"
	"fmt"

	"github.com/StudioVBG/TALOK-sub009/internal/events"
	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Виды фоновых проходов
const (
	SweepCompleted = "completed"
	SweepExpired   = "expired"
)

// SweepResult число бронирований, изменённых проходом
type SweepResult struct {
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
}

// Sweep выполняет оба фоновых прохода; ошибка одного не мешает другому
func (s *SchedulingService) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res  SweepResult
		errs error
	)

	completed, err := s.CompleteElapsed(ctx)
	res.Completed = completed
	errs = multierr.Append(errs, err)

	expired, err := s.ExpirePending(ctx)
	res.Expired = expired
	errs = multierr.Append(errs, err)

	return res, errs
}

// CompleteElapsed завершает подтверждённые бронирования, чья дата уже прошла в зоне объектов
func (s *SchedulingService) CompleteElapsed(ctx context.Context) (int, error) {
	completed, err := s.bookings.CompleteElapsed(ctx, s.opts.today(), s.opts.Now())
	if err != nil {
		return 0, fmt.Errorf("complete elapsed bookings: %w", err)
	}

	s.afterSweep(ctx, SweepCompleted, events.BookingCompleted, model.BookingStatusCompleted, completed)
	return len(completed), nil
}

// ExpirePending отменяет неподтверждённые бронирования старше PendingTTL.
// Выполняется отдельно от резервирования, при PendingTTL = 0 ничего не делает.
func (s *SchedulingService) ExpirePending(ctx context.Context) (int, error) {
	if s.opts.PendingTTL <= 0 {
		return 0, nil
	}

	now := s.opts.Now()
	expired, err := s.bookings.ExpirePending(ctx, now.Add(-s.opts.PendingTTL), now)
	if err != nil {
		return 0, fmt.Errorf("expire pending bookings: %w", err)
	}

	s.afterSweep(ctx, SweepExpired, events.BookingExpired, model.BookingStatusCancelled, expired)
	return len(expired), nil
}

func (s *SchedulingService) afterSweep(ctx context.Context, kind, routingKey string, to model.BookingStatus, bookings []*model.Booking) {
	if len(bookings) == 0 {
		return
	}

	s.metrics.SweepAffected(kind, len(bookings))
	for _, b := range bookings {
		s.metrics.Transition(string(to))
		s.publish(ctx, routingKey, b)
	}

	s.logger.Info("Sweep changed bookings",
		zap.String("kind", kind),
		zap.Int("count", len(bookings)),
	)
}
