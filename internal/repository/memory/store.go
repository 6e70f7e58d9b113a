// Package memory хранит шаблоны и бронирования в памяти процесса.
// Контракты совпадают с PostgreSQL-репозиториями; используется в тестах и при STORAGE=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/slotgen"
	"github.com/google/uuid"
)

// Store общее состояние; один мьютекс делает резервирование и правку шаблонов атомарными
type Store struct {
	mu       sync.Mutex
	patterns map[uuid.UUID]*model.AvailabilityPattern
	bookings map[uuid.UUID]*model.Booking
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		patterns: make(map[uuid.UUID]*model.AvailabilityPattern),
		bookings: make(map[uuid.UUID]*model.Booking),
		now:      time.Now,
	}
}

func (s *Store) Patterns() *PatternRepository { return &PatternRepository{store: s} }
func (s *Store) Bookings() *BookingRepository { return &BookingRepository{store: s} }

// PatternRepository хранилище шаблонов
type PatternRepository struct {
	store *Store
}

func (r *PatternRepository) Create(ctx context.Context, p *model.AvailabilityPattern) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := s.patterns[p.ID]; exists {
		return fmt.Errorf("create availability pattern: duplicate id %s", p.ID)
	}

	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.patterns[p.ID] = p.Clone()
	return nil
}

func (r *PatternRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AvailabilityPattern, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *PatternRepository) ListByProperty(ctx context.Context, propertyID uuid.UUID, activeOnly bool) ([]*model.AvailabilityPattern, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listPatterns(propertyID, activeOnly), nil
}

func (r *PatternRepository) Update(ctx context.Context, p *model.AvailabilityPattern) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.patterns[p.ID]
	if !ok {
		return model.ErrNotFound
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	s.patterns[p.ID] = p.Clone()
	return nil
}

func (r *PatternRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return model.ErrNotFound
	}
	p.IsActive = active
	p.UpdatedAt = s.now()
	return nil
}

func (r *PatternRepository) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.patterns, id)
	return nil
}

func (s *Store) listPatterns(propertyID uuid.UUID, activeOnly bool) []*model.AvailabilityPattern {
	var out []*model.AvailabilityPattern
	for _, p := range s.patterns {
		if p.PropertyID != propertyID || (activeOnly && !p.IsActive) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// BookingRepository журнал бронирований
type BookingRepository struct {
	store *Store
}

// Reserve проверяет ёмкость и вставляет бронирование под общим мьютексом
func (r *BookingRepository) Reserve(ctx context.Context, req model.ReserveRequest, at time.Time) (*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := slotgen.Produces(s.listPatterns(req.Key.PropertyID, true), req.Key)
	if !ok {
		return nil, model.ErrStaleSlot
	}

	booked := 0
	for _, b := range s.bookings {
		if b.Status.IsActive() && b.Key() == req.Key {
			booked += b.Units
		}
	}
	if booked+req.Units > slot.Capacity {
		return nil, model.ErrCapacityExceeded
	}

	status := model.BookingStatusPending
	if slot.AutoConfirm {
		status = model.BookingStatusConfirmed
	}

	b := &model.Booking{
		ID:              uuid.New(),
		PropertyID:      req.Key.PropertyID,
		Date:            req.Key.Date,
		StartTime:       req.Key.StartTime,
		EndTime:         req.Key.EndTime,
		VisitorRef:      req.VisitorRef,
		Units:           req.Units,
		Status:          status,
		CreatedAt:       at,
		StatusChangedAt: at,
	}
	s.bookings[b.ID] = b

	out := *b
	return &out, nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	out := *b
	return &out, nil
}

func (r *BookingRepository) List(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if matches(b, f) {
			c := *b
			out = append(out, &c)
		}
	}
	sortBookings(out)
	return out, nil
}

func (r *BookingRepository) CountBySlots(ctx context.Context, propertyID uuid.UUID, from, to model.Date) (map[model.SlotKey]int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[model.SlotKey]int)
	for _, b := range s.bookings {
		if b.PropertyID != propertyID || !b.Status.IsActive() || b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		counts[b.Key()] += b.Units
	}
	return counts, nil
}

func (r *BookingRepository) Transition(ctx context.Context, id uuid.UUID, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s: %w", b.Status, to, model.ErrInvalidTransition)
	}

	b.Status = to
	b.StatusChangedAt = at
	out := *b
	return &out, nil
}

func (r *BookingRepository) CompleteElapsed(ctx context.Context, before model.Date, at time.Time) ([]*model.Booking, error) {
	return r.store.transitionWhere(model.BookingStatusCompleted, at, func(b *model.Booking) bool {
		return b.Status == model.BookingStatusConfirmed && b.Date.Before(before)
	}), nil
}

func (r *BookingRepository) ExpirePending(ctx context.Context, createdBefore, at time.Time) ([]*model.Booking, error) {
	return r.store.transitionWhere(model.BookingStatusCancelled, at, func(b *model.Booking) bool {
		return b.Status == model.BookingStatusPending && b.CreatedAt.Before(createdBefore)
	}), nil
}

func (s *Store) transitionWhere(to model.BookingStatus, at time.Time, match func(*model.Booking) bool) []*model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if !match(b) {
			continue
		}
		b.Status = to
		b.StatusChangedAt = at
		c := *b
		out = append(out, &c)
	}
	sortBookings(out)
	return out
}

func matches(b *model.Booking, f model.BookingFilter) bool {
	if f.PropertyID != nil && b.PropertyID != *f.PropertyID {
		return false
	}
	if f.VisitorRef != "" && b.VisitorRef != f.VisitorRef {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if b.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.FromDate != nil && b.Date.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && b.Date.After(*f.ToDate) {
		return false
	}
	return true
}

func sortBookings(bookings []*model.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if c := a.Key().Compare(b.Key()); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
