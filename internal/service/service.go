package service

import (
	"context"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/google/uuid"
)

// PatternStore хранилище шаблонов доступности
type PatternStore interface {
	Create(ctx context.Context, p *model.AvailabilityPattern) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.AvailabilityPattern, error)
	ListByProperty(ctx context.Context, propertyID uuid.UUID, activeOnly bool) ([]*model.AvailabilityPattern, error)
	Update(ctx context.Context, p *model.AvailabilityPattern) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BookingLedger журнал бронирований с атомарным резервированием
type BookingLedger interface {
	Reserve(ctx context.Context, req model.ReserveRequest, at time.Time) (*model.Booking, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	List(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error)
	CountBySlots(ctx context.Context, propertyID uuid.UUID, from, to model.Date) (map[model.SlotKey]int, error)
	Transition(ctx context.Context, id uuid.UUID, to model.BookingStatus, at time.Time) (*model.Booking, error)
	CompleteElapsed(ctx context.Context, before model.Date, at time.Time) ([]*model.Booking, error)
	ExpirePending(ctx context.Context, createdBefore, at time.Time) ([]*model.Booking, error)
}

// Options параметры сервисов планирования
type Options struct {
	// Location единая зона объектов
	Location *time.Location
	// MaxWindowDays максимальная длина окна ListAvailability в днях
	MaxWindowDays int
	// PendingTTL срок жизни неподтверждённого бронирования; 0 отключает истечение
	PendingTTL time.Duration
	// Now источник текущего времени
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.MaxWindowDays <= 0 {
		o.MaxWindowDays = 92
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// today текущая дата в зоне объектов
func (o Options) today() model.Date {
	return model.DateOf(o.Now().In(o.Location))
}
