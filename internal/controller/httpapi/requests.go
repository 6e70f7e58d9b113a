package httpapi

import (
	"strconv"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type patternRequest struct {
	PropertyID          string  `json:"property_id" validate:"omitempty,uuid"`
	RecurrenceType      string  `json:"recurrence_type" validate:"required,oneof=daily weekly monthly custom"`
	DaysOfWeek          []int   `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
	StartTime           string  `json:"start_time" validate:"required"`
	EndTime             string  `json:"end_time" validate:"required"`
	SlotDurationMinutes int     `json:"slot_duration_minutes" validate:"gt=0"`
	BufferMinutes       int     `json:"buffer_minutes" validate:"gte=0"`
	ValidFrom           string  `json:"valid_from" validate:"required"`
	ValidUntil          *string `json:"valid_until"`
	MaxBookingsPerSlot  int     `json:"max_bookings_per_slot" validate:"gte=1"`
	AutoConfirm         bool    `json:"auto_confirm"`
	IsActive            *bool   `json:"is_active"`
}

// toModel разбирает строковые поля; все ошибки разбора возвращаются вместе
func (r *patternRequest) toModel() (*model.AvailabilityPattern, error) {
	var p fieldParser
	pattern := &model.AvailabilityPattern{
		RecurrenceType:      model.RecurrenceType(r.RecurrenceType),
		DaysOfWeek:          r.DaysOfWeek,
		StartTime:           p.timeOfDay("start_time", r.StartTime),
		EndTime:             p.timeOfDay("end_time", r.EndTime),
		SlotDurationMinutes: r.SlotDurationMinutes,
		BufferMinutes:       r.BufferMinutes,
		ValidFrom:           p.date("valid_from", r.ValidFrom),
		MaxBookingsPerSlot:  r.MaxBookingsPerSlot,
		AutoConfirm:         r.AutoConfirm,
		IsActive:            true,
	}
	if r.PropertyID != "" {
		pattern.PropertyID = p.uuid("property_id", r.PropertyID)
	}
	if r.ValidUntil != nil && *r.ValidUntil != "" {
		until := p.date("valid_until", *r.ValidUntil)
		pattern.ValidUntil = &until
	}
	if r.IsActive != nil {
		pattern.IsActive = *r.IsActive
	}
	return pattern, p.err()
}

type reserveRequest struct {
	PropertyID string `json:"property_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required"`
	StartTime  string `json:"start_time" validate:"required"`
	EndTime    string `json:"end_time" validate:"required"`
	VisitorRef string `json:"visitor_ref"`
	Units      int    `json:"units" validate:"gte=0"`
}

func (r *reserveRequest) toModel() (model.ReserveRequest, error) {
	var p fieldParser
	req := model.ReserveRequest{
		Key: model.SlotKey{
			PropertyID: p.uuid("property_id", r.PropertyID),
			Date:       p.date("date", r.Date),
			StartTime:  p.timeOfDay("start_time", r.StartTime),
			EndTime:    p.timeOfDay("end_time", r.EndTime),
		},
		VisitorRef: r.VisitorRef,
		Units:      r.Units,
	}
	return req, p.err()
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// fieldParser копит ошибки разбора по полям
type fieldParser struct {
	errs []*model.FieldError
}

func (p *fieldParser) fail(field, reason string) {
	p.errs = append(p.errs, model.NewFieldError(field, reason))
}

func (p *fieldParser) err() error {
	return model.Validation(p.errs...)
}

func (p *fieldParser) uuid(field, s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		p.fail(field, "must be a UUID")
	}
	return id
}

func (p *fieldParser) date(field, s string) model.Date {
	d, err := model.ParseDate(s)
	if err != nil {
		p.fail(field, "must be a date in YYYY-MM-DD format")
	}
	return d
}

func (p *fieldParser) timeOfDay(field, s string) model.TimeOfDay {
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		p.fail(field, "must be a time in HH:MM format")
	}
	return t
}

func (p *fieldParser) optionalDate(field, s string) *model.Date {
	if s == "" {
		return nil
	}
	d := p.date(field, s)
	return &d
}

func (p *fieldParser) optionalUUID(field, s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := p.uuid(field, s)
	return &id
}

func (p *fieldParser) flag(field, s string) bool {
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(field, "must be a boolean")
	}
	return b
}

// bindAndValidate читает тело запроса и проверяет теги validate
func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return err
	}
	return c.Validate(dst)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	var p fieldParser
	id := p.uuid("id", c.Param("id"))
	return id, p.err()
}

func dryRun(c echo.Context) (bool, error) {
	var p fieldParser
	v := p.flag("dry_run", c.QueryParam("dry_run"))
	return v, p.err()
}
