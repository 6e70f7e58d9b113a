package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PatternChange результат изменения шаблона
type PatternChange struct {
	Pattern          *model.AvailabilityPattern `json:"pattern,omitempty"`
	AffectedBookings []AffectedBooking          `json:"affected_bookings"`
	DryRun           bool                       `json:"dry_run"`
}

// PatternService управляет шаблонами доступности и не даёт правкам молча лишить посетителей бронирований
type PatternService struct {
	patterns PatternStore
	bookings BookingLedger
	logger   *zap.Logger
	opts     Options
	locks    *propertyLocks
}

func NewPatternService(patterns PatternStore, bookings BookingLedger, logger *zap.Logger, opts Options) *PatternService {
	return &PatternService{
		patterns: patterns,
		bookings: bookings,
		logger:   logger,
		opts:     opts.withDefaults(),
		locks:    newPropertyLocks(),
	}
}

// Create создаёт шаблон для объекта, которым владеет актор
func (s *PatternService) Create(ctx context.Context, actor model.Actor, p *model.AvailabilityPattern) (*model.AvailabilityPattern, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !actor.Owns(p.PropertyID) {
		return nil, fmt.Errorf("create pattern: %w", model.ErrForbidden)
	}

	p.ID = uuid.New()
	if err := s.patterns.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create pattern: %w", err)
	}

	s.logger.Info("Availability pattern created",
		zap.String("pattern_id", p.ID.String()),
		zap.String("property_id", p.PropertyID.String()),
		zap.String("recurrence_type", string(p.RecurrenceType)),
		zap.Bool("auto_confirm", p.AutoConfirm),
	)
	return p, nil
}

// Get возвращает шаблон владельцу объекта
func (s *PatternService) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.AvailabilityPattern, error) {
	return s.loadOwned(ctx, actor, id)
}

// List возвращает все шаблоны объекта, включая неактивные
func (s *PatternService) List(ctx context.Context, actor model.Actor, propertyID uuid.UUID) ([]*model.AvailabilityPattern, error) {
	if !actor.Owns(propertyID) {
		return nil, fmt.Errorf("list patterns: %w", model.ErrForbidden)
	}
	patterns, err := s.patterns.ListByProperty(ctx, propertyID, false)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return patterns, nil
}

// Update заменяет поля шаблона. Возвращает бронирования, которые новый набор шаблонов
// больше не обеспечивает; их статус не меняется. При dryRun изменение не сохраняется.
func (s *PatternService) Update(ctx context.Context, actor model.Actor, p *model.AvailabilityPattern, dryRun bool) (*PatternChange, error) {
	existing, err := s.loadOwned(ctx, actor, p.ID)
	if err != nil {
		return nil, err
	}

	if p.PropertyID == uuid.Nil {
		p.PropertyID = existing.PropertyID
	}
	if p.PropertyID != existing.PropertyID {
		return nil, model.NewFieldError("property_id", "cannot be changed")
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.CreatedAt = existing.CreatedAt

	return s.apply(ctx, existing, p, dryRun, func() error {
		return s.patterns.Update(ctx, p)
	})
}

// SetActive включает или выключает шаблон
func (s *PatternService) SetActive(ctx context.Context, actor model.Actor, id uuid.UUID, active, dryRun bool) (*PatternChange, error) {
	existing, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := existing.Clone()
	next.IsActive = active

	return s.apply(ctx, existing, next, dryRun, func() error {
		return s.patterns.SetActive(ctx, id, active)
	})
}

// Delete удаляет шаблон
func (s *PatternService) Delete(ctx context.Context, actor model.Actor, id uuid.UUID, dryRun bool) (*PatternChange, error) {
	existing, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	change, err := s.apply(ctx, existing, nil, dryRun, func() error {
		return s.patterns.Delete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	change.Pattern = nil
	return change, nil
}

// apply считает затронутые бронирования и, если это не пробный прогон, сохраняет изменение.
//
// Правки шаблонов одного объекта выполняются по очереди, чтобы набор before не устарел
// к моменту сохранения. Очередь действует в пределах процесса.
//
// После сохранения затронутый набор пересчитывается по фактическому состоянию: резервирование
// держит шаблоны объекта под разделяемой блокировкой, поэтому после коммита правки новых
// бронирований на исчезнувшие слоты появиться не может.
func (s *PatternService) apply(
	ctx context.Context,
	existing, next *model.AvailabilityPattern,
	dryRun bool,
	commit func() error,
) (*PatternChange, error) {
	propertyID := existing.PropertyID

	unlock := s.locks.lock(propertyID)
	defer unlock()

	before, err := s.patterns.ListByProperty(ctx, propertyID, true)
	if err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}

	after := replacePattern(before, existing.ID, next)
	if !dryRun {
		if err := commit(); err != nil {
			return nil, fmt.Errorf("save pattern %s: %w", existing.ID, err)
		}
		if after, err = s.patterns.ListByProperty(ctx, propertyID, true); err != nil {
			return nil, fmt.Errorf("list active patterns: %w", err)
		}
	}

	today := s.opts.today()
	bookings, err := s.bookings.List(ctx, model.BookingFilter{
		PropertyID: &propertyID,
		Statuses:   model.ActiveStatuses,
		FromDate:   &today,
	})
	if err != nil {
		return nil, fmt.Errorf("list future bookings: %w", err)
	}

	affected := affectedBookings(before, after, bookings, s.opts.Now(), s.opts.Location)
	if affected == nil {
		affected = []AffectedBooking{}
	}

	if len(affected) > 0 {
		s.logger.Warn("Pattern change leaves bookings without a slot",
			zap.String("pattern_id", existing.ID.String()),
			zap.String("property_id", propertyID.String()),
			zap.Int("affected", len(affected)),
			zap.Bool("dry_run", dryRun),
		)
	} else if !dryRun {
		s.logger.Info("Availability pattern changed",
			zap.String("pattern_id", existing.ID.String()),
			zap.String("property_id", propertyID.String()),
		)
	}

	if !dryRun && next != nil {
		saved, err := s.patterns.GetByID(ctx, next.ID)
		if err != nil {
			return nil, fmt.Errorf("reload pattern %s: %w", next.ID, err)
		}
		if saved == nil {
			return nil, fmt.Errorf("reload pattern %s: %w", next.ID, model.ErrNotFound)
		}
		next = saved
	}

	return &PatternChange{Pattern: next, AffectedBookings: affected, DryRun: dryRun}, nil
}

func (s *PatternService) loadOwned(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.AvailabilityPattern, error) {
	p, err := s.patterns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("pattern %s: %w", id, model.ErrNotFound)
	}
	if !actor.Owns(p.PropertyID) {
		return nil, fmt.Errorf("pattern %s: %w", id, model.ErrForbidden)
	}
	return p, nil
}

// propertyLocks мьютексы по объектам; запись удаляется, когда её никто не держит
type propertyLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*propertyLock
}

type propertyLock struct {
	mu   sync.Mutex
	refs int
}

func newPropertyLocks() *propertyLocks {
	return &propertyLocks{locks: make(map[uuid.UUID]*propertyLock)}
}

func (l *propertyLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &propertyLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()

		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
