package model

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPattern() *AvailabilityPattern {
	return &AvailabilityPattern{
		ID:                  uuid.New(),
		PropertyID:          uuid.New(),
		RecurrenceType:      RecurrenceWeekly,
		DaysOfWeek:          []int{6},
		StartTime:           Clock(10, 0),
		EndTime:             Clock(12, 0),
		SlotDurationMinutes: 30,
		BufferMinutes:       15,
		ValidFrom:           NewDate(2030, time.January, 1),
		MaxBookingsPerSlot:  1,
		IsActive:            true,
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "10:45", want: 645},
		{in: "24:00", want: MinutesPerDay},
		{in: "24:01", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "10:00junk", wantErr: true},
		{in: "10:5", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "+10:00", wantErr: true},
		{in: "-1:00", wantErr: true},
		{in: "10:00:00", wantErr: true},
		{in: "1000", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2030-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, d.Weekday())
	assert.Equal(t, NewDate(2030, time.July, 1), d.AddDays(30))
	assert.Equal(t, 30, d.DaysUntil(d.AddDays(30)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.Equal(t, 0, d.Compare(NewDate(2030, time.May, 32)))

	loc := time.FixedZone("UTC+3", 3*3600)
	at := d.At(Clock(10, 30), loc)
	assert.Equal(t, 7, at.UTC().Hour())
	assert.Equal(t, 30, at.UTC().Minute())

	_, err = ParseDate("2030-13-01")
	assert.Error(t, err)
}

func TestPatternJSON(t *testing.T) {
	p := validPattern()
	until := NewDate(2030, time.December, 31)
	p.ValidUntil = &until

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start_time":"10:00"`)
	assert.Contains(t, string(data), `"valid_until":"2030-12-31"`)

	var back AvailabilityPattern
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p.StartTime, back.StartTime)
	assert.Equal(t, until, *back.ValidUntil)
}

func TestPatternValidate(t *testing.T) {
	assert.NoError(t, validPattern().Validate())

	tests := []struct {
		name   string
		mutate func(p *AvailabilityPattern)
		fields []string
	}{
		{
			name:   "start not before end",
			mutate: func(p *AvailabilityPattern) { p.StartTime = Clock(12, 0) },
			fields: []string{"end_time"},
		},
		{
			name:   "empty weekdays",
			mutate: func(p *AvailabilityPattern) { p.DaysOfWeek = nil },
			fields: []string{"days_of_week"},
		},
		{
			name:   "weekday out of range",
			mutate: func(p *AvailabilityPattern) { p.DaysOfWeek = []int{7} },
			fields: []string{"days_of_week"},
		},
		{
			name: "non-positive durations",
			mutate: func(p *AvailabilityPattern) {
				p.SlotDurationMinutes = 0
				p.BufferMinutes = -5
				p.MaxBookingsPerSlot = 0
			},
			fields: []string{"slot_duration_minutes", "buffer_minutes", "max_bookings_per_slot"},
		},
		{
			name:   "monthly rejected",
			mutate: func(p *AvailabilityPattern) { p.RecurrenceType = RecurrenceMonthly },
			fields: []string{"recurrence_type"},
		},
		{
			name: "valid_until before valid_from",
			mutate: func(p *AvailabilityPattern) {
				until := p.ValidFrom.AddDays(-1)
				p.ValidUntil = &until
			},
			fields: []string{"valid_until"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPattern()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var got []string
			for _, fe := range FieldErrors(fmt.Errorf("create pattern: %w", err)) {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestPatternDailyIgnoresWeekdays(t *testing.T) {
	p := validPattern()
	p.RecurrenceType = RecurrenceDaily
	p.DaysOfWeek = nil
	require.NoError(t, p.Validate())

	monday := NewDate(2030, time.June, 3)
	assert.True(t, p.AppliesOn(monday))

	p.IsActive = false
	assert.False(t, p.AppliesOn(monday))
}

func TestPatternCovers(t *testing.T) {
	p := validPattern()
	until := NewDate(2030, time.June, 1)
	p.ValidUntil = &until

	assert.False(t, p.Covers(NewDate(2029, time.December, 31)))
	assert.True(t, p.Covers(until))
	assert.False(t, p.Covers(until.AddDays(1)))
}

func TestBookingTransitions(t *testing.T) {
	assert.True(t, BookingStatusPending.CanTransitionTo(BookingStatusConfirmed))
	assert.True(t, BookingStatusPending.CanTransitionTo(BookingStatusCancelled))
	assert.False(t, BookingStatusPending.CanTransitionTo(BookingStatusCompleted))
	assert.True(t, BookingStatusConfirmed.CanTransitionTo(BookingStatusCancelled))
	assert.True(t, BookingStatusConfirmed.CanTransitionTo(BookingStatusCompleted))
	assert.False(t, BookingStatusConfirmed.CanTransitionTo(BookingStatusConfirmed))
	assert.False(t, BookingStatusCancelled.CanTransitionTo(BookingStatusConfirmed))
	assert.False(t, BookingStatusCompleted.CanTransitionTo(BookingStatusCancelled))
}

func TestActor(t *testing.T) {
	property := uuid.New()
	owner := Actor{Ref: "owner-1", Role: RoleOwner, PropertyIDs: []uuid.UUID{property}}
	visitor := Actor{Ref: "visitor-1", Role: RoleVisitor, PropertyIDs: []uuid.UUID{property}}

	assert.True(t, owner.Owns(property))
	assert.False(t, owner.Owns(uuid.New()))
	assert.False(t, visitor.Owns(property))

	b := &Booking{PropertyID: property, VisitorRef: "visitor-1"}
	assert.True(t, owner.CanAccess(b))
	assert.True(t, visitor.CanAccess(b))
	assert.False(t, Actor{Ref: "visitor-2", Role: RoleVisitor}.CanAccess(b))
}

func TestNewSlotViewFloorsRemaining(t *testing.T) {
	v := NewSlotView(Slot{Capacity: 2}, 3)
	assert.Equal(t, 0, v.Remaining)
	assert.Equal(t, 3, v.BookedCount)
}
