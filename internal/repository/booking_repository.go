package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/repository/base"
	"github.com/StudioVBG/TALOK-sub009/internal/slotgen"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const bookingColumns = `id, property_id, slot_date, start_minute, end_minute, visitor_ref, units,
	status, created_at, status_changed_at`

// BookingRepository журнал бронирований в PostgreSQL
type BookingRepository struct {
	*base.Repository
	logger *zap.Logger
}

func NewBookingRepository(repo *base.Repository, logger *zap.Logger) *BookingRepository {
	return &BookingRepository{
		Repository: repo,
		logger:     logger,
	}
}

// Reserve атомарно проверяет ёмкость слота и создаёт бронирование.
//
// В одной транзакции: активные шаблоны объекта блокируются FOR SHARE (правка шаблона
// дождётся окончания резервирования), ёмкость выводится из них заново, затем
// pg_advisory_xact_lock по ключу слота сериализует конкурентные резервирования
// одного слота до коммита. Транзиентные ошибки повторяются целиком.
func (r *BookingRepository) Reserve(ctx context.Context, req model.ReserveRequest, at time.Time) (*model.Booking, error) {
	var booking *model.Booking

	err := r.InTxWithRetry(ctx, func(tx pgx.Tx) error {
		patterns, err := r.lockActivePatterns(ctx, tx, req.Key.PropertyID)
		if err != nil {
			return err
		}

		slot, ok := slotgen.Produces(patterns, req.Key)
		if !ok {
			return model.ErrStaleSlot
		}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, req.Key.String()); err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}

		booked, err := r.bookedUnits(ctx, tx, req.Key)
		if err != nil {
			return err
		}
		if booked+req.Units > slot.Capacity {
			return model.ErrCapacityExceeded
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

		query := `
			INSERT INTO bookings (` + bookingColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		if _, err := tx.Exec(ctx, query,
			b.ID, b.PropertyID, b.Date.In(time.UTC), int(b.StartTime), int(b.EndTime),
			b.VisitorRef, b.Units, string(b.Status), b.CreatedAt, b.StatusChangedAt,
		); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}

func (r *BookingRepository) lockActivePatterns(ctx context.Context, tx pgx.Tx, propertyID uuid.UUID) ([]*model.AvailabilityPattern, error) {
	query := `
		SELECT ` + patternColumns + `
		FROM availability_patterns
		WHERE property_id = $1 AND is_active
		ORDER BY id
		FOR SHARE
	`

	rows, err := tx.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("lock active patterns: %w", err)
	}
	return collectPatterns(rows)
}

func (r *BookingRepository) bookedUnits(ctx context.Context, tx pgx.Tx, key model.SlotKey) (int, error) {
	query := `
		SELECT COALESCE(SUM(units), 0)
		FROM bookings
		WHERE property_id = $1 AND slot_date = $2 AND start_minute = $3 AND end_minute = $4
		  AND status IN ('pending', 'confirmed')
	`

	var booked int
	err := tx.QueryRow(ctx, query,
		key.PropertyID, key.Date.In(time.UTC), int(key.StartTime), int(key.EndTime),
	).Scan(&booked)
	if err != nil {
		return 0, fmt.Errorf("count booked units: %w", err)
	}
	return booked, nil
}

// GetByID получает бронирование по ID; nil, если не найдено
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return b, nil
}

// List возвращает бронирования по фильтру в порядке слотов
func (r *BookingRepository) List(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PropertyID != nil {
		conds = append(conds, "property_id = "+arg(*f.PropertyID))
	}
	if f.VisitorRef != "" {
		conds = append(conds, "visitor_ref = "+arg(f.VisitorRef))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if f.FromDate != nil {
		conds = append(conds, "slot_date >= "+arg(f.FromDate.In(time.UTC)))
	}
	if f.ToDate != nil {
		conds = append(conds, "slot_date <= "+arg(f.ToDate.In(time.UTC)))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY slot_date, start_minute, end_minute, created_at, id"

	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return collectBookings(rows)
}

// CountBySlots суммирует занятые места (pending и confirmed) по слотам объекта в диапазоне дат
func (r *BookingRepository) CountBySlots(ctx context.Context, propertyID uuid.UUID, from, to model.Date) (map[model.SlotKey]int, error) {
	query := `
		SELECT slot_date, start_minute, end_minute, SUM(units)
		FROM bookings
		WHERE property_id = $1 AND slot_date BETWEEN $2 AND $3
		  AND status IN ('pending', 'confirmed')
		GROUP BY slot_date, start_minute, end_minute
	`

	rows, err := r.Query(ctx, query, propertyID, from.In(time.UTC), to.In(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("count bookings by slots: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.SlotKey]int)
	for rows.Next() {
		var (
			date       time.Time
			start, end int
			units      int
		)
		if err := rows.Scan(&date, &start, &end, &units); err != nil {
			return nil, fmt.Errorf("scan slot count: %w", err)
		}
		counts[model.SlotKey{
			PropertyID: propertyID,
			Date:       model.DateOf(date),
			StartTime:  model.TimeOfDay(start),
			EndTime:    model.TimeOfDay(end),
		}] = units
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot counts: %w", err)
	}
	return counts, nil
}

// Transition переводит бронирование в статус to, если переход допустим из текущего статуса
func (r *BookingRepository) Transition(ctx context.Context, id uuid.UUID, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	var booking *model.Booking

	err := r.InTxWithRetry(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx,
			`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if base.IsNotFound(err) {
				return model.ErrNotFound
			}
			return fmt.Errorf("lock booking: %w", err)
		}

		if !b.Status.CanTransitionTo(to) {
			return fmt.Errorf("%s -> %s: %w", b.Status, to, model.ErrInvalidTransition)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE bookings SET status = $2, status_changed_at = $3 WHERE id = $1`,
			id, string(to), at,
		); err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}

		b.Status = to
		b.StatusChangedAt = at
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}

// CompleteElapsed завершает подтверждённые бронирования, чья дата раньше before
func (r *BookingRepository) CompleteElapsed(ctx context.Context, before model.Date, at time.Time) ([]*model.Booking, error) {
	query := `
		UPDATE bookings SET status = 'completed', status_changed_at = $2
		WHERE status = 'confirmed' AND slot_date < $1
		RETURNING ` + bookingColumns

	rows, err := r.Query(ctx, query, before.In(time.UTC), at)
	if err != nil {
		return nil, fmt.Errorf("complete elapsed bookings: %w", err)
	}
	return collectBookings(rows)
}

// ExpirePending отменяет ожидающие бронирования, созданные раньше createdBefore
func (r *BookingRepository) ExpirePending(ctx context.Context, createdBefore, at time.Time) ([]*model.Booking, error) {
	query := `
		UPDATE bookings SET status = 'cancelled', status_changed_at = $2
		WHERE status = 'pending' AND created_at < $1
		RETURNING ` + bookingColumns

	rows, err := r.Query(ctx, query, createdBefore, at)
	if err != nil {
		return nil, fmt.Errorf("expire pending bookings: %w", err)
	}
	return collectBookings(rows)
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b          model.Booking
		date       time.Time
		start, end int
		status     string
	)

	err := row.Scan(
		&b.ID,
		&b.PropertyID,
		&date,
		&start,
		&end,
		&b.VisitorRef,
		&b.Units,
		&status,
		&b.CreatedAt,
		&b.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Date = model.DateOf(date)
	b.StartTime = model.TimeOfDay(start)
	b.EndTime = model.TimeOfDay(end)
	b.Status = model.BookingStatus(status)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*model.Booking, error) {
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return bookings, nil
}
