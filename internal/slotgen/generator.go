// Package slotgen разворачивает шаблоны доступности в конкретные слоты.
// Генерация чистая: результат зависит только от шаблонов, окна дат и момента "сейчас".
package slotgen

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"golang.org/x/sync/errgroup"
)

// Window окно генерации
type Window struct {
	From model.Date
	To   model.Date
	// Now момент генерации; слоты, начавшиеся строго раньше, отбрасываются.
	// Нулевое значение отключает фильтр.
	Now time.Time
	// Location зона, в которой интерпретируются даты и время шаблонов
	Location *time.Location
}

// Validate проверяет границы окна
func (w Window) Validate() error {
	var errs []*model.FieldError
	if w.From.IsZero() {
		errs = append(errs, model.NewFieldError("from", "is required"))
	}
	if w.To.IsZero() {
		errs = append(errs, model.NewFieldError("to", "is required"))
	}
	if !w.From.IsZero() && !w.To.IsZero() && w.To.Before(w.From) {
		errs = append(errs, model.NewFieldError("to", "must not be before from"))
	}
	return model.Validation(errs...)
}

type candidate struct {
	slot    model.Slot
	pattern *model.AvailabilityPattern
}

// Generate возвращает упорядоченный список слотов всех активных шаблонов в окне.
// Шаблоны разворачиваются параллельно, совпадающие кортежи сливаются в один слот.
func Generate(ctx context.Context, patterns []*model.AvailabilityPattern, w Window) ([]model.Slot, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Location == nil {
		w.Location = time.UTC
	}

	perPattern := make([][]candidate, len(patterns))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range patterns {
		if p == nil || !p.IsActive {
			continue
		}
		g.Go(func() error {
			out, err := expand(ctx, p, w)
			if err != nil {
				return fmt.Errorf("expand pattern %s: %w", p.ID, err)
			}
			perPattern[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(perPattern), nil
}

// Produces сообщает, порождает ли набор шаблонов слот с ключом key, без учёта текущего момента.
// Возвращает итоговый слот после слияния совпадающих кортежей.
func Produces(patterns []*model.AvailabilityPattern, key model.SlotKey) (model.Slot, bool) {
	var found []candidate
	for _, p := range patterns {
		if p == nil || p.PropertyID != key.PropertyID || !p.AppliesOn(key.Date) || p.SlotDurationMinutes <= 0 || p.BufferMinutes < 0 {
			continue
		}
		if !onGrid(p, key.StartTime, key.EndTime) {
			continue
		}
		found = append(found, candidate{slot: slotOf(p, key.Date, key.StartTime), pattern: p})
	}
	if len(found) == 0 {
		return model.Slot{}, false
	}

	best := found[0]
	for _, c := range found[1:] {
		if outranks(c.pattern, best.pattern) {
			best = c
		}
	}
	return best.slot, true
}

// expand разворачивает один шаблон в окне
func expand(ctx context.Context, p *model.AvailabilityPattern, w Window) ([]candidate, error) {
	if !p.RecurrenceType.Supported() {
		return nil, fmt.Errorf("recurrence %q: %w", p.RecurrenceType,
			model.NewFieldError("recurrence_type", "is not supported"))
	}
	if p.SlotDurationMinutes <= 0 || p.BufferMinutes < 0 {
		return nil, model.NewFieldError("slot_duration_minutes", "must be positive")
	}

	from, to := w.From, w.To
	if from.Before(p.ValidFrom) {
		from = p.ValidFrom
	}
	if p.ValidUntil != nil && to.After(*p.ValidUntil) {
		to = *p.ValidUntil
	}

	var out []candidate
	for d := from; !d.After(to); d = d.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.AppliesOn(d) {
			continue
		}
		for t := p.StartTime; t.Add(p.SlotDurationMinutes) <= p.EndTime; t = t.Add(p.Step()) {
			// Пропускаем уже начавшиеся слоты
			if !w.Now.IsZero() && d.At(t, w.Location).Before(w.Now) {
				continue
			}
			out = append(out, candidate{slot: slotOf(p, d, t), pattern: p})
		}
	}
	return out, nil
}

// onGrid проверяет, что [start, end) совпадает с одним из шагов шаблона
func onGrid(p *model.AvailabilityPattern, start, end model.TimeOfDay) bool {
	if start < p.StartTime || end != start.Add(p.SlotDurationMinutes) || end > p.EndTime {
		return false
	}
	return int(start-p.StartTime)%p.Step() == 0
}

func slotOf(p *model.AvailabilityPattern, d model.Date, start model.TimeOfDay) model.Slot {
	return model.Slot{
		SlotKey: model.SlotKey{
			PropertyID: p.PropertyID,
			Date:       d,
			StartTime:  start,
			EndTime:    start.Add(p.SlotDurationMinutes),
		},
		Capacity:    p.MaxBookingsPerSlot,
		AutoConfirm: p.AutoConfirm,
		PatternID:   p.ID,
	}
}

// merge сливает совпадающие кортежи и сортирует результат
func merge(perPattern [][]candidate) []model.Slot {
	best := make(map[model.SlotKey]candidate)
	for _, list := range perPattern {
		for _, c := range list {
			cur, ok := best[c.slot.SlotKey]
			if !ok || outranks(c.pattern, cur.pattern) {
				best[c.slot.SlotKey] = c
			}
		}
	}

	slots := make([]model.Slot, 0, len(best))
	for _, c := range best {
		slots = append(slots, c.slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].SlotKey.Compare(slots[j].SlotKey) < 0
	})
	return slots
}

// outranks решает, какой из шаблонов задаёт параметры общего слота:
// большая ёмкость, затем более поздний created_at, затем меньший id
func outranks(a, b *model.AvailabilityPattern) bool {
	if a.MaxBookingsPerSlot != b.MaxBookingsPerSlot {
		return a.MaxBookingsPerSlot > b.MaxBookingsPerSlot
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
