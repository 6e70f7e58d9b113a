package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const patternColumns = `id, property_id, recurrence_type, days_of_week, start_minute, end_minute,
	slot_duration_minutes, buffer_minutes, valid_from, valid_until, max_bookings_per_slot,
	auto_confirm, is_active, created_at, updated_at`

// PatternRepository хранит шаблоны доступности в PostgreSQL
type PatternRepository struct {
	*base.Repository
	logger *zap.Logger
}

// NewPatternRepository создаёт новый репозиторий
func NewPatternRepository(repo *base.Repository, logger *zap.Logger) *PatternRepository {
	return &PatternRepository{
		Repository: repo,
		logger:     logger,
	}
}

// Create создаёт новый шаблон; ID назначается, если не задан
func (r *PatternRepository) Create(ctx context.Context, p *model.AvailabilityPattern) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := `
		INSERT INTO availability_patterns (` + patternColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.QueryRow(ctx, query, patternArgs(p)...).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create availability pattern: %w", err)
	}

	r.logger.Debug("Availability pattern created",
		zap.String("pattern_id", p.ID.String()),
		zap.String("property_id", p.PropertyID.String()),
	)
	return nil
}

// GetByID получает шаблон по ID; nil, если не найден
func (r *PatternRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AvailabilityPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM availability_patterns WHERE id = $1`

	p, err := scanPattern(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability pattern by id: %w", err)
	}
	return p, nil
}

// ListByProperty возвращает шаблоны объекта в порядке создания
func (r *PatternRepository) ListByProperty(ctx context.Context, propertyID uuid.UUID, activeOnly bool) ([]*model.AvailabilityPattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM availability_patterns
		WHERE property_id = $1 AND (is_active OR NOT $2)
		ORDER BY created_at, id
	`

	rows, err := r.Query(ctx, query, propertyID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list availability patterns: %w", err)
	}
	return collectPatterns(rows)
}

// Update сохраняет изменённый шаблон; ErrNotFound, если строки нет
func (r *PatternRepository) Update(ctx context.Context, p *model.AvailabilityPattern) error {
	query := `
		UPDATE availability_patterns
		SET property_id = $2, recurrence_type = $3, days_of_week = $4, start_minute = $5,
		    end_minute = $6, slot_duration_minutes = $7, buffer_minutes = $8, valid_from = $9,
		    valid_until = $10, max_bookings_per_slot = $11, auto_confirm = $12, is_active = $13,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`

	err := r.QueryRow(ctx, query, patternArgs(p)...).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return model.ErrNotFound
		}
		return fmt.Errorf("update availability pattern: %w", err)
	}
	return nil
}

// SetActive включает или выключает шаблон
func (r *PatternRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	affected, err := r.ExecAffected(ctx,
		`UPDATE availability_patterns SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set availability pattern active: %w", err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Delete удаляет шаблон. Бронирования ссылаются на слот по кортежу, поэтому не затрагиваются.
func (r *PatternRepository) Delete(ctx context.Context, id uuid.UUID) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM availability_patterns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability pattern: %w", err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func patternArgs(p *model.AvailabilityPattern) []interface{} {
	days := make([]int32, len(p.DaysOfWeek))
	for i, d := range p.DaysOfWeek {
		days[i] = int32(d)
	}

	var until *time.Time
	if p.ValidUntil != nil {
		t := p.ValidUntil.In(time.UTC)
		until = &t
	}

	return []interface{}{
		p.ID,
		p.PropertyID,
		string(p.RecurrenceType),
		days,
		int(p.StartTime),
		int(p.EndTime),
		p.SlotDurationMinutes,
		p.BufferMinutes,
		p.ValidFrom.In(time.UTC),
		until,
		p.MaxBookingsPerSlot,
		p.AutoConfirm,
		p.IsActive,
	}
}

func scanPattern(row pgx.Row) (*model.AvailabilityPattern, error) {
	var (
		p          model.AvailabilityPattern
		recurrence string
		days       []int32
		start, end int
		validFrom  time.Time
		validUntil *time.Time
	)

	err := row.Scan(
		&p.ID,
		&p.PropertyID,
		&recurrence,
		&days,
		&start,
		&end,
		&p.SlotDurationMinutes,
		&p.BufferMinutes,
		&validFrom,
		&validUntil,
		&p.MaxBookingsPerSlot,
		&p.AutoConfirm,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RecurrenceType = model.RecurrenceType(recurrence)
	p.DaysOfWeek = make([]int, len(days))
	for i, d := range days {
		p.DaysOfWeek[i] = int(d)
	}
	p.StartTime = model.TimeOfDay(start)
	p.EndTime = model.TimeOfDay(end)
	p.ValidFrom = model.DateOf(validFrom)
	if validUntil != nil {
		until := model.DateOf(*validUntil)
		p.ValidUntil = &until
	}
	return &p, nil
}

func collectPatterns(rows pgx.Rows) ([]*model.AvailabilityPattern, error) {
	defer rows.Close()

	var patterns []*model.AvailabilityPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan availability pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability patterns: %w", err)
	}
	return patterns, nil
}
