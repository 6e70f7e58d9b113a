package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly" // зарезервировано, не поддерживается
	RecurrenceCustom  RecurrenceType = "custom"  // зарезервировано, не поддерживается
)

// Supported сообщает, умеет ли генератор разворачивать этот тип повторения
func (r RecurrenceType) Supported() bool {
	return r == RecurrenceDaily || r == RecurrenceWeekly
}

// AvailabilityPattern представляет правило доступности объекта для просмотров
type AvailabilityPattern struct {
	ID                  uuid.UUID      `json:"id"`
	PropertyID          uuid.UUID      `json:"property_id"`
	RecurrenceType      RecurrenceType `json:"recurrence_type"`
	DaysOfWeek          []int          `json:"days_of_week"` // 0 = Sunday, 6 = Saturday
	StartTime           TimeOfDay      `json:"start_time"`
	EndTime             TimeOfDay      `json:"end_time"`
	SlotDurationMinutes int            `json:"slot_duration_minutes"`
	BufferMinutes       int            `json:"buffer_minutes"` // пауза после каждого слота
	ValidFrom           Date           `json:"valid_from"`
	ValidUntil          *Date          `json:"valid_until"` // nil - бессрочно
	MaxBookingsPerSlot  int            `json:"max_bookings_per_slot"`
	AutoConfirm         bool           `json:"auto_confirm"`
	IsActive            bool           `json:"is_active"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Validate проверяет поля шаблона и возвращает все найденные нарушения сразу
func (p *AvailabilityPattern) Validate() error {
	var err error
	add := func(field, reason string) {
		err = multierr.Append(err, NewFieldError(field, reason))
	}

	if p.PropertyID == uuid.Nil {
		add("property_id", "is required")
	}

	switch {
	case p.RecurrenceType == "":
		add("recurrence_type", "is required")
	case !p.RecurrenceType.Supported():
		add("recurrence_type", fmt.Sprintf("%q is not supported", p.RecurrenceType))
	}

	if p.RecurrenceType == RecurrenceWeekly {
		if len(p.DaysOfWeek) == 0 {
			add("days_of_week", "must not be empty for weekly recurrence")
		}
		seen := make(map[int]bool, len(p.DaysOfWeek))
		for _, d := range p.DaysOfWeek {
			if d < 0 || d > 6 {
				add("days_of_week", fmt.Sprintf("weekday %d out of range 0..6", d))
				continue
			}
			if seen[d] {
				add("days_of_week", fmt.Sprintf("weekday %d is duplicated", d))
			}
			seen[d] = true
		}
	}

	if p.StartTime < 0 || p.StartTime >= MinutesPerDay {
		add("start_time", "must be within 00:00..23:59")
	}
	if p.EndTime <= 0 || p.EndTime > MinutesPerDay {
		add("end_time", "must be within 00:01..24:00")
	}
	if p.StartTime >= p.EndTime {
		add("end_time", "must be after start_time")
	}

	if p.SlotDurationMinutes <= 0 {
		add("slot_duration_minutes", "must be positive")
	}
	if p.BufferMinutes < 0 {
		add("buffer_minutes", "must not be negative")
	}
	if p.MaxBookingsPerSlot < 1 {
		add("max_bookings_per_slot", "must be at least 1")
	}

	if p.ValidFrom.IsZero() {
		add("valid_from", "is required")
	}
	if p.ValidUntil != nil && p.ValidUntil.Before(p.ValidFrom) {
		add("valid_until", "must not be before valid_from")
	}

	return err
}

// Normalize сортирует дни недели; для daily они не используются и очищаются
func (p *AvailabilityPattern) Normalize() {
	if p.RecurrenceType == RecurrenceDaily {
		p.DaysOfWeek = nil
		return
	}
	days := append([]int(nil), p.DaysOfWeek...)
	sort.Ints(days)
	p.DaysOfWeek = days
}

// Step шаг между началами соседних слотов
func (p *AvailabilityPattern) Step() int {
	return p.SlotDurationMinutes + p.BufferMinutes
}

// Covers сообщает, попадает ли дата в окно действия шаблона
func (p *AvailabilityPattern) Covers(d Date) bool {
	if d.Before(p.ValidFrom) {
		return false
	}
	return p.ValidUntil == nil || !d.After(*p.ValidUntil)
}

// AppliesOn сообщает, генерирует ли шаблон слоты в указанную дату
func (p *AvailabilityPattern) AppliesOn(d Date) bool {
	if !p.IsActive || !p.Covers(d) {
		return false
	}
	switch p.RecurrenceType {
	case RecurrenceDaily:
		return true
	case RecurrenceWeekly:
		wd := int(d.Weekday())
		for _, day := range p.DaysOfWeek {
			if day == wd {
				return true
			}
		}
	}
	return false
}

// Clone возвращает глубокую копию шаблона
func (p *AvailabilityPattern) Clone() *AvailabilityPattern {
	c := *p
	c.DaysOfWeek = append([]int(nil), p.DaysOfWeek...)
	if p.ValidUntil != nil {
		until := *p.ValidUntil
		c.ValidUntil = &until
	}
	return &c
}
