package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/events"
	"github.com/StudioVBG/TALOK-sub009/internal/metrics"
	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/repository/memory"
	"github.com/StudioVBG/TALOK-sub009/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// понедельник 2030-05-27, ближайшая суббота 2030-06-01
var monday = time.Date(2030, time.May, 27, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	e        *echo.Echo
	property uuid.UUID
	recorder *events.Recorder
}

type header map[string]string

func newAPI(t *testing.T, mutate func(*RouterOptions)) *apiFixture {
	t.Helper()

	f := &apiFixture{property: uuid.New(), recorder: &events.Recorder{}}
	store := memory.NewStore()
	opts := service.Options{
		Location:      time.UTC,
		MaxWindowDays: 31,
		PendingTTL:    48 * time.Hour,
		Now:           func() time.Time { return monday },
	}
	reg := prometheus.NewRegistry()
	logger := zap.NewNop()

	scheduling := service.NewSchedulingService(store.Patterns(), store.Bookings(), f.recorder, metrics.New(reg), logger, opts)
	patterns := service.NewPatternService(store.Patterns(), store.Bookings(), logger, opts)

	ro := RouterOptions{Logger: logger, Gatherer: reg, IdempotencyTTL: time.Minute}
	if mutate != nil {
		mutate(&ro)
	}
	f.e = NewRouter(NewHandler(scheduling, patterns, logger), ro)
	return f
}

func (f *apiFixture) owner() header {
	return header{HeaderActorRef: "owner-1", HeaderActorRole: "owner", HeaderActorProperties: f.property.String()}
}

func visitor(ref string) header {
	return header{HeaderActorRef: ref, HeaderActorRole: "visitor"}
}

func (f *apiFixture) do(method, target string, h header, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range h {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) patternBody() string {
	return `{
		"property_id": "` + f.property.String() + `",
		"recurrence_type": "weekly",
		"days_of_week": [6],
		"start_time": "10:00",
		"end_time": "12:00",
		"slot_duration_minutes": 30,
		"buffer_minutes": 15,
		"valid_from": "2030-01-01",
		"max_bookings_per_slot": 1
	}`
}

func (f *apiFixture) createPattern(t *testing.T) model.AvailabilityPattern {
	t.Helper()
	rec := f.do(http.MethodPost, "/availability-patterns", f.owner(), f.patternBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p model.AvailabilityPattern
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func (f *apiFixture) reserveBody(start, end string) string {
	return `{"property_id":"` + f.property.String() + `","date":"2030-06-01","start_time":"` + start + `","end_time":"` + end + `"}`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreatePatternAccess(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(http.MethodPost, "/availability-patterns", nil, f.patternBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/availability-patterns", visitor("visitor-1"), f.patternBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other := header{HeaderActorRef: "owner-2", HeaderActorRole: "owner", HeaderActorProperties: uuid.NewString()}
	rec = f.do(http.MethodPost, "/availability-patterns", other, f.patternBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	p := f.createPattern(t)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.True(t, p.IsActive)
	assert.Equal(t, model.Clock(10, 0), p.StartTime)
}

func TestCreatePatternValidationErrors(t *testing.T) {
	f := newAPI(t, nil)

	body := `{
		"property_id": "` + f.property.String() + `",
		"recurrence_type": "weekly",
		"days_of_week": [6],
		"start_time": "25:00",
		"end_time": "12:00",
		"slot_duration_minutes": 0,
		"valid_from": "2030-01-01",
		"max_bookings_per_slot": 1
	}`
	rec := f.do(http.MethodPost, "/availability-patterns", f.owner(), body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation failed", resp.Message)
	fields := map[string]bool{}
	for _, fe := range resp.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["slot_duration_minutes"], resp.Errors)

	body = strings.Replace(f.patternBody(), `"start_time": "10:00"`, `"start_time": "ten"`, 1)
	rec = f.do(http.MethodPost, "/availability-patterns", f.owner(), body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp = decode[ErrorResponse](t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "start_time", resp.Errors[0].Field)

	body = strings.Replace(f.patternBody(), `"weekly"`, `"monthly"`, 1)
	rec = f.do(http.MethodPost, "/availability-patterns", f.owner(), body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp = decode[ErrorResponse](t, rec)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "recurrence_type", resp.Errors[0].Field)
}

func TestMalformedTimeOfDayRejected(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)

	for _, bad := range []string{"10:00junk", "10:5", "+10:00"} {
		t.Run(bad, func(t *testing.T) {
			body := strings.Replace(f.patternBody(), `"start_time": "10:00"`, `"start_time": "`+bad+`"`, 1)
			rec := f.do(http.MethodPost, "/availability-patterns", f.owner(), body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, "start_time", resp.Errors[0].Field)

			rec = f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody(bad, "10:30"))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp = decode[ErrorResponse](t, rec)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, "start_time", resp.Errors[0].Field)
		})
	}

	rec := f.do(http.MethodGet, "/bookings", visitor("visitor-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Booking](t, rec))
}

func TestListAvailability(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)

	rec := f.do(http.MethodGet, "/availability?property_id="+f.property.String()+"&from=2030-06-01&to=2030-06-01", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	slots := decode[[]map[string]any](t, rec)
	require.Len(t, slots, 3)
	assert.Equal(t, "10:00", slots[0]["start_time"])
	assert.Equal(t, "10:30", slots[0]["end_time"])
	assert.Equal(t, "2030-06-01", slots[0]["date"])
	assert.EqualValues(t, 1, slots[0]["remaining"])

	rec = f.do(http.MethodGet, "/availability", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode[ErrorResponse](t, rec).Errors, 3)

	rec = f.do(http.MethodGet, "/availability?property_id="+f.property.String()+"&from=2030-06-01&to=2030-09-01", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingLifecycle(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)

	rec := f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("10:00", "10:30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode[model.Booking](t, rec)
	assert.Equal(t, model.BookingStatusPending, booking.Status)
	assert.Equal(t, "visitor-1", booking.VisitorRef)
	assert.Equal(t, 1, booking.Units)

	// вместимость 1
	rec = f.do(http.MethodPost, "/bookings", visitor("visitor-2"), f.reserveBody("10:00", "10:30"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// слот не на сетке шаблона
	rec = f.do(http.MethodPost, "/bookings", visitor("visitor-2"), f.reserveBody("10:10", "10:40"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := "/bookings/" + booking.ID.String()

	rec = f.do(http.MethodGet, path, visitor("visitor-2"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, path+"/confirm", visitor("visitor-1"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, path+"/confirm", f.owner(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BookingStatusConfirmed, decode[model.Booking](t, rec).Status)

	rec = f.do(http.MethodPost, path+"/confirm", f.owner(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, path+"/cancel", visitor("visitor-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BookingStatusCancelled, decode[model.Booking](t, rec).Status)

	rec = f.do(http.MethodGet, "/bookings/"+uuid.NewString(), visitor("visitor-1"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/bookings/not-a-uuid", visitor("visitor-1"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{events.BookingReserved, events.BookingConfirmed, events.BookingCancelled}, f.recorder.Keys())
}

func TestListBookingsScoping(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("10:00", "10:30")).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/bookings", visitor("visitor-2"), f.reserveBody("10:45", "11:15")).Code)

	rec := f.do(http.MethodGet, "/bookings", visitor("visitor-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Booking](t, rec), 1)

	rec = f.do(http.MethodGet, "/bookings?visitor_ref=visitor-2", visitor("visitor-1"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/bookings?property_id="+f.property.String(), visitor("visitor-1"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/bookings?property_id="+f.property.String()+"&status=pending,confirmed", f.owner(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Booking](t, rec), 2)

	rec = f.do(http.MethodGet, "/bookings?property_id="+f.property.String()+"&status=confirmed", f.owner(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Booking](t, rec))

	rec = f.do(http.MethodGet, "/bookings?property_id="+f.property.String()+"&status=lost", f.owner(), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatternChangeDryRun(t *testing.T) {
	f := newAPI(t, nil)
	p := f.createPattern(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("10:00", "10:30")).Code)

	path := "/availability-patterns/" + p.ID.String()

	rec := f.do(http.MethodDelete, path+"?dry_run=true", f.owner(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	change := decode[service.PatternChange](t, rec)
	assert.True(t, change.DryRun)
	require.Len(t, change.AffectedBookings, 1)
	assert.Equal(t, service.ReasonSlotRemoved, change.AffectedBookings[0].Reason)

	rec = f.do(http.MethodGet, path, f.owner(), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPatch, path+"/active", f.owner(), `{"is_active": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	change = decode[service.PatternChange](t, rec)
	assert.False(t, change.DryRun)
	assert.Len(t, change.AffectedBookings, 1)
	require.NotNil(t, change.Pattern)
	assert.False(t, change.Pattern.IsActive)

	rec = f.do(http.MethodPatch, path+"/active", f.owner(), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodDelete, path+"?dry_run=maybe", f.owner(), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePatternReportsAffected(t *testing.T) {
	f := newAPI(t, nil)
	p := f.createPattern(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("11:30", "12:00")).Code)

	body := strings.Replace(f.patternBody(), `"end_time": "12:00"`, `"end_time": "11:00"`, 1)
	rec := f.do(http.MethodPut, "/availability-patterns/"+p.ID.String(), f.owner(), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	change := decode[service.PatternChange](t, rec)
	require.Len(t, change.AffectedBookings, 1)
	assert.Equal(t, "visitor-1", change.AffectedBookings[0].Booking.VisitorRef)
	assert.Equal(t, model.Clock(11, 0), change.Pattern.EndTime)
}

func TestIdempotentReserve(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)

	h := visitor("visitor-1")
	h[HeaderIdempotencyKey] = "retry-1"

	first := f.do(http.MethodPost, "/bookings", h, f.reserveBody("10:00", "10:30"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(http.MethodPost, "/bookings", h, f.reserveBody("10:00", "10:30"))
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// другой участник с тем же ключом выполняет свой запрос
	other := visitor("visitor-2")
	other[HeaderIdempotencyKey] = "retry-1"
	rec := f.do(http.MethodPost, "/bookings", other, f.reserveBody("10:00", "10:30"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{events.BookingReserved}, f.recorder.Keys())
}

func TestReserveRateLimited(t *testing.T) {
	f := newAPI(t, func(o *RouterOptions) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})
	f.createPattern(t)

	rec := f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("10:00", "10:30"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("10:45", "11:15"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// лимит считается на участника
	rec = f.do(http.MethodPost, "/bookings", visitor("visitor-2"), f.reserveBody("10:45", "11:15"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestActorHeadersValidated(t *testing.T) {
	f := newAPI(t, nil)

	rec := f.do(http.MethodGet, "/bookings", header{HeaderActorRef: "x", HeaderActorRole: "admin"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, HeaderActorRole, decode[ErrorResponse](t, rec).Errors[0].Field)

	rec = f.do(http.MethodGet, "/bookings", header{HeaderActorRef: "x", HeaderActorRole: "owner", HeaderActorProperties: "nope"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/bookings", visitor("visitor-1"), f.reserveBody("10:00", "10:30")).Code)

	rec := f.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `visits_reservations_total{outcome="accepted"} 1`)
}

func TestWeekImage(t *testing.T) {
	f := newAPI(t, nil)
	f.createPattern(t)

	rec := f.do(http.MethodGet, "/availability/week.png?property_id="+f.property.String()+"&date=2030-06-01", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = f.do(http.MethodGet, "/availability/week.png", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
