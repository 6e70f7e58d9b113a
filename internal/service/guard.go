package service

import (
	"sort"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/slotgen"
	"github.com/google/uuid"
)

// Причины, по которым бронирование требует ручной обработки
const (
	ReasonSlotRemoved     = "slot_removed"
	ReasonCapacityReduced = "capacity_reduced"
)

// AffectedBooking бронирование, которое изменённый набор шаблонов больше не обеспечивает.
// Статус бронирования не меняется: решение принимает владелец.
type AffectedBooking struct {
	Booking *model.Booking `json:"booking"`
	Reason  string         `json:"reason"`
}

// affectedBookings сравнивает старый и новый наборы активных шаблонов.
// Учитываются только будущие pending/confirmed бронирования, которые старый набор
// обеспечивал, а новый нет: слот исчез или его ёмкость стала меньше занятых мест.
// При нехватке ёмкости в список попадают самые поздние бронирования слота.
func affectedBookings(before, after []*model.AvailabilityPattern, bookings []*model.Booking, now time.Time, loc *time.Location) []AffectedBooking {
	var affected []AffectedBooking
	kept := make(map[model.SlotKey][]*model.Booking)
	capacity := make(map[model.SlotKey]int)

	for _, b := range bookings {
		if !b.Status.IsActive() || b.Date.At(b.StartTime, loc).Before(now) {
			continue
		}
		key := b.Key()

		oldSlot, wasProduced := slotgen.Produces(before, key)
		if !wasProduced {
			continue
		}
		newSlot, isProduced := slotgen.Produces(after, key)
		if !isProduced {
			affected = append(affected, AffectedBooking{Booking: b, Reason: ReasonSlotRemoved})
			continue
		}
		if newSlot.Capacity < oldSlot.Capacity {
			kept[key] = append(kept[key], b)
			capacity[key] = newSlot.Capacity
		}
	}

	for key, list := range kept {
		booked := 0
		for _, b := range list {
			booked += b.Units
		}
		if booked <= capacity[key] {
			continue
		}

		// Снимаем самые поздние бронирования, пока остальные не уместятся
		sort.Slice(list, func(i, j int) bool {
			if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].CreatedAt.After(list[j].CreatedAt)
			}
			return list[i].ID.String() > list[j].ID.String()
		})
		for _, b := range list {
			if booked <= capacity[key] {
				break
			}
			affected = append(affected, AffectedBooking{Booking: b, Reason: ReasonCapacityReduced})
			booked -= b.Units
		}
	}

	sort.Slice(affected, func(i, j int) bool {
		a, b := affected[i].Booking, affected[j].Booking
		if c := a.Key().Compare(b.Key()); c != 0 {
			return c < 0
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return affected
}

// replacePattern возвращает набор активных шаблонов после замены (или удаления при p == nil)
func replacePattern(active []*model.AvailabilityPattern, id uuid.UUID, p *model.AvailabilityPattern) []*model.AvailabilityPattern {
	out := make([]*model.AvailabilityPattern, 0, len(active)+1)
	for _, cur := range active {
		if cur.ID != id {
			out = append(out, cur)
		}
	}
	if p != nil && p.IsActive {
		out = append(out, p)
	}
	return out
}
