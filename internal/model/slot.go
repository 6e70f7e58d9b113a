package model

import (
	"fmt"

	"github.com/google/uuid"
)

// SlotKey естественный ключ слота; по нему бронирования связаны со слотами
type SlotKey struct {
	PropertyID uuid.UUID `json:"property_id"`
	Date       Date      `json:"date"`
	StartTime  TimeOfDay `json:"start_time"`
	EndTime    TimeOfDay `json:"end_time"`
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s-%s", k.PropertyID, k.Date, k.StartTime, k.EndTime)
}

// Compare задаёт порядок слотов: дата, начало, конец, объект
func (k SlotKey) Compare(other SlotKey) int {
	if c := k.Date.Compare(other.Date); c != 0 {
		return c
	}
	if k.StartTime != other.StartTime {
		return sign(int(k.StartTime - other.StartTime))
	}
	if k.EndTime != other.EndTime {
		return sign(int(k.EndTime - other.EndTime))
	}
	return sign(compareUUID(k.PropertyID, other.PropertyID))
}

// Slot конкретный интервал для бронирования, вычисляется из шаблонов
type Slot struct {
	SlotKey
	Capacity    int       `json:"capacity"`
	AutoConfirm bool      `json:"auto_confirm"`
	PatternID   uuid.UUID `json:"pattern_id"` // шаблон, задающий ёмкость и политику подтверждения
}

// SlotView слот с текущей занятостью
type SlotView struct {
	Slot
	BookedCount int `json:"booked_count"`
	Remaining   int `json:"remaining"`
}

// NewSlotView считает остаток ёмкости, не опуская его ниже нуля
func NewSlotView(s Slot, booked int) SlotView {
	remaining := s.Capacity - booked
	if remaining < 0 {
		remaining = 0
	}
	return SlotView{Slot: s, BookedCount: booked, Remaining: remaining}
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return 0
}
