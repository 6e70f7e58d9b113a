package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Ожидает подтверждения владельцем
	BookingStatusConfirmed BookingStatus = "confirmed" // Подтверждено
	BookingStatusCancelled BookingStatus = "cancelled" // Отменено посетителем, владельцем или по истечении срока
	BookingStatusCompleted BookingStatus = "completed" // Просмотр состоялся
)

// ActiveStatuses статусы, занимающие ёмкость слота
var ActiveStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed}

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch st := BookingStatus(s); st {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return st, true
	}
	return "", false
}

// IsActive сообщает, учитывается ли бронирование в занятости слота
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// CanTransitionTo проверяет допустимость перехода статуса
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		return next == BookingStatusCancelled || next == BookingStatusCompleted
	}
	return false
}

type Booking struct {
	ID              uuid.UUID     `json:"id"`
	PropertyID      uuid.UUID     `json:"property_id"`
	Date            Date          `json:"date"`
	StartTime       TimeOfDay     `json:"start_time"`
	EndTime         TimeOfDay     `json:"end_time"`
	VisitorRef      string        `json:"visitor_ref"`
	Units           int           `json:"units"` // число мест (групповой просмотр)
	Status          BookingStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
}

func (b *Booking) Key() SlotKey {
	return SlotKey{PropertyID: b.PropertyID, Date: b.Date, StartTime: b.StartTime, EndTime: b.EndTime}
}

// ReserveRequest запрос на бронирование слота
type ReserveRequest struct {
	Key        SlotKey
	VisitorRef string
	Units      int
}

// BookingFilter условия выборки бронирований; пустые поля не ограничивают выборку
type BookingFilter struct {
	PropertyID *uuid.UUID
	VisitorRef string
	Statuses   []BookingStatus
	FromDate   *Date // включительно
	ToDate     *Date // включительно
}
