package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/events"
	"github.com/StudioVBG/TALOK-sub009/internal/metrics"
	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/slotgen"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SchedulingService отвечает на запросы доступности и проводит бронирования через журнал
type SchedulingService struct {
	patterns  PatternStore
	bookings  BookingLedger
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

func NewSchedulingService(
	patterns PatternStore,
	bookings BookingLedger,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *SchedulingService {
	return &SchedulingService{
		patterns:  patterns,
		bookings:  bookings,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// Now текущее время сервиса
func (s *SchedulingService) Now() time.Time {
	return s.opts.Now()
}

// Location зона, в которой заданы даты и время слотов
func (s *SchedulingService) Location() *time.Location {
	return s.opts.Location
}

// ListAvailability возвращает слоты объекта в окне [from, to] с текущей занятостью.
// Полностью занятые слоты возвращаются с remaining = 0.
func (s *SchedulingService) ListAvailability(ctx context.Context, propertyID uuid.UUID, from, to model.Date) ([]model.SlotView, error) {
	window := slotgen.Window{From: from, To: to, Now: s.opts.Now(), Location: s.opts.Location}

	var errs []*model.FieldError
	if propertyID == uuid.Nil {
		errs = append(errs, model.NewFieldError("property_id", "is required"))
	}
	if err := window.Validate(); err != nil {
		errs = append(errs, model.FieldErrors(err)...)
	} else if days := from.DaysUntil(to) + 1; days > s.opts.MaxWindowDays {
		errs = append(errs, model.NewFieldError("to",
			fmt.Sprintf("window of %d days exceeds the limit of %d", days, s.opts.MaxWindowDays)))
	}
	if err := model.Validation(errs...); err != nil {
		return nil, err
	}

	patterns, err := s.patterns.ListByProperty(ctx, propertyID, true)
	if err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}

	started := time.Now()
	slots, err := slotgen.Generate(ctx, patterns, window)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}
	s.metrics.ObserveGeneration(time.Since(started))

	// Занятость всегда читается из журнала, без кеширования между запросами
	counts, err := s.bookings.CountBySlots(ctx, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}

	views := make([]model.SlotView, 0, len(slots))
	for _, slot := range slots {
		views = append(views, model.NewSlotView(slot, counts[slot.SlotKey]))
	}
	return views, nil
}

// Reserve бронирует слот для посетителя.
// Проверка ёмкости и того, что слот порождается активным шаблоном, выполняется журналом атомарно.
func (s *SchedulingService) Reserve(ctx context.Context, actor model.Actor, req model.ReserveRequest) (*model.Booking, error) {
	if req.VisitorRef == "" {
		req.VisitorRef = actor.Ref
	}
	if req.Units == 0 {
		req.Units = 1
	}
	if err := validateReserve(req); err != nil {
		return nil, err
	}

	// Бронировать можно за себя; владелец объекта может бронировать за посетителя
	if req.VisitorRef != actor.Ref && !actor.Owns(req.Key.PropertyID) {
		return nil, fmt.Errorf("reserve for %q: %w", req.VisitorRef, model.ErrForbidden)
	}

	// Начавшийся слот уже не порождается генератором
	now := s.opts.Now()
	if req.Key.Date.At(req.Key.StartTime, s.opts.Location).Before(now) {
		s.metrics.Reservation(metrics.OutcomeStaleSlot)
		return nil, fmt.Errorf("slot %s already started: %w", req.Key, model.ErrStaleSlot)
	}

	booking, err := s.bookings.Reserve(ctx, req, now)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCapacityExceeded):
			s.metrics.Reservation(metrics.OutcomeCapacityExceeded)
		case errors.Is(err, model.ErrStaleSlot):
			s.metrics.Reservation(metrics.OutcomeStaleSlot)
		default:
			s.metrics.Reservation(metrics.OutcomeError)
		}
		return nil, fmt.Errorf("reserve slot %s: %w", req.Key, err)
	}
	s.metrics.Reservation(metrics.OutcomeAccepted)

	s.logger.Info("Slot reserved",
		zap.String("booking_id", booking.ID.String()),
		zap.String("property_id", booking.PropertyID.String()),
		zap.String("slot", req.Key.String()),
		zap.String("visitor_ref", booking.VisitorRef),
		zap.Int("units", booking.Units),
		zap.String("status", string(booking.Status)),
	)

	s.publish(ctx, events.BookingReserved, booking)
	return booking, nil
}

// Confirm подтверждает ожидающее бронирование; только владелец объекта
func (s *SchedulingService) Confirm(ctx context.Context, actor model.Actor, bookingID uuid.UUID) (*model.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !actor.Owns(booking.PropertyID) {
		return nil, fmt.Errorf("confirm booking: %w", model.ErrForbidden)
	}

	return s.transition(ctx, booking, model.BookingStatusConfirmed)
}

// Cancel отменяет бронирование; владелец объекта или сам посетитель
func (s *SchedulingService) Cancel(ctx context.Context, actor model.Actor, bookingID uuid.UUID) (*model.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !actor.CanAccess(booking) {
		return nil, fmt.Errorf("cancel booking: %w", model.ErrForbidden)
	}

	return s.transition(ctx, booking, model.BookingStatusCancelled)
}

// GetBooking возвращает бронирование владельцу объекта или посетителю
func (s *SchedulingService) GetBooking(ctx context.Context, actor model.Actor, bookingID uuid.UUID) (*model.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(booking) {
		return nil, fmt.Errorf("get booking: %w", model.ErrForbidden)
	}
	return booking, nil
}

// ListBookings возвращает бронирования объекта (владельцу) или посетителя (ему самому).
// Без фильтра по объекту и посетителю возвращаются бронирования самого актора.
func (s *SchedulingService) ListBookings(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]*model.Booking, error) {
	switch {
	case f.PropertyID != nil:
		if !actor.Owns(*f.PropertyID) {
			return nil, fmt.Errorf("list property bookings: %w", model.ErrForbidden)
		}
	case f.VisitorRef != "":
		if f.VisitorRef != actor.Ref {
			return nil, fmt.Errorf("list visitor bookings: %w", model.ErrForbidden)
		}
	default:
		if actor.Ref == "" {
			return nil, model.NewFieldError("visitor_ref", "is required")
		}
		f.VisitorRef = actor.Ref
	}

	bookings, err := s.bookings.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

func (s *SchedulingService) loadBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	return booking, nil
}

// transition переводит бронирование; журнал повторно проверяет допустимость перехода под блокировкой
func (s *SchedulingService) transition(ctx context.Context, booking *model.Booking, to model.BookingStatus) (*model.Booking, error) {
	if !booking.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("booking %s %s -> %s: %w", booking.ID, booking.Status, to, model.ErrInvalidTransition)
	}

	updated, err := s.bookings.Transition(ctx, booking.ID, to, s.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("transition booking %s: %w", booking.ID, err)
	}
	s.metrics.Transition(string(to))

	s.logger.Info("Booking status changed",
		zap.String("booking_id", updated.ID.String()),
		zap.String("property_id", updated.PropertyID.String()),
		zap.String("from", string(booking.Status)),
		zap.String("status", string(updated.Status)),
	)

	s.publish(ctx, events.RoutingKeyFor(to), updated)
	return updated, nil
}

// publish отправляет событие после коммита; ошибка брокера не откатывает бронирование
func (s *SchedulingService) publish(ctx context.Context, routingKey string, booking *model.Booking) {
	if err := s.publisher.Publish(ctx, routingKey, booking); err != nil {
		s.logger.Error("Failed to publish booking event",
			zap.Error(err),
			zap.String("routing_key", routingKey),
			zap.String("booking_id", booking.ID.String()),
		)
	}
}

func validateReserve(req model.ReserveRequest) error {
	var errs []*model.FieldError
	if req.Key.PropertyID == uuid.Nil {
		errs = append(errs, model.NewFieldError("property_id", "is required"))
	}
	if req.Key.Date.IsZero() {
		errs = append(errs, model.NewFieldError("date", "is required"))
	}
	if req.Key.StartTime < 0 || req.Key.StartTime >= model.MinutesPerDay {
		errs = append(errs, model.NewFieldError("start_time", "must be within 00:00..23:59"))
	}
	if req.Key.EndTime <= req.Key.StartTime || req.Key.EndTime > model.MinutesPerDay {
		errs = append(errs, model.NewFieldError("end_time", "must be after start_time"))
	}
	if req.VisitorRef == "" {
		errs = append(errs, model.NewFieldError("visitor_ref", "is required"))
	}
	if req.Units < 1 {
		errs = append(errs, model.NewFieldError("units", "must be at least 1"))
	}
	return model.Validation(errs...)
}
