package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/StudioVBG/TALOK-sub009/internal/calendar"
	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/StudioVBG/TALOK-sub009/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler HTTP-обработчики планировщика просмотров
type Handler struct {
	scheduling *service.SchedulingService
	patterns   *service.PatternService
	logger     *zap.Logger
}

func NewHandler(scheduling *service.SchedulingService, patterns *service.PatternService, logger *zap.Logger) *Handler {
	return &Handler{
		scheduling: scheduling,
		patterns:   patterns,
		logger:     logger,
	}
}

// RegisterRoutes регистрирует маршруты API; reserve получает дополнительные middleware (лимит, идемпотентность)
func (h *Handler) RegisterRoutes(e *echo.Echo, reserve ...echo.MiddlewareFunc) {
	e.GET("/availability", h.ListAvailability)
	e.GET("/availability/week.png", h.WeekImage)

	patterns := e.Group("/availability-patterns")
	patterns.GET("", requireOwner(h.ListPatterns))
	patterns.POST("", requireOwner(h.CreatePattern))
	patterns.GET("/:id", requireOwner(h.GetPattern))
	patterns.PUT("/:id", requireOwner(h.UpdatePattern))
	patterns.PATCH("/:id/active", requireOwner(h.SetPatternActive))
	patterns.DELETE("/:id", requireOwner(h.DeletePattern))

	bookings := e.Group("/bookings")
	bookings.POST("", requireActor(h.CreateBooking), reserve...)
	bookings.GET("", requireActor(h.ListBookings))
	bookings.GET("/:id", requireActor(h.GetBooking))
	bookings.POST("/:id/confirm", requireOwner(h.ConfirmBooking))
	bookings.POST("/:id/cancel", requireActor(h.CancelBooking))
}

func (h *Handler) ListAvailability(c echo.Context) error {
	var p fieldParser
	q := c.QueryParams()
	for _, name := range []string{"property_id", "from", "to"} {
		if q.Get(name) == "" {
			p.fail(name, "is required")
		}
	}
	if err := p.err(); err != nil {
		return err
	}

	propertyID := p.uuid("property_id", q.Get("property_id"))
	from := p.date("from", q.Get("from"))
	to := p.date("to", q.Get("to"))
	if err := p.err(); err != nil {
		return err
	}

	slots, err := h.scheduling.ListAvailability(c.Request().Context(), propertyID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slots)
}

// WeekImage рисует неделю, содержащую date (по умолчанию текущую), в PNG
func (h *Handler) WeekImage(c echo.Context) error {
	var p fieldParser
	q := c.QueryParams()
	if q.Get("property_id") == "" {
		return model.NewFieldError("property_id", "is required")
	}
	propertyID := p.uuid("property_id", q.Get("property_id"))
	day := model.DateOf(h.scheduling.Now().In(h.scheduling.Location()))
	if raw := q.Get("date"); raw != "" {
		day = p.date("date", raw)
	}
	if err := p.err(); err != nil {
		return err
	}

	start := calendar.WeekStart(day)
	slots, err := h.scheduling.ListAvailability(c.Request().Context(), propertyID, start, start.AddDays(6))
	if err != nil {
		return err
	}

	img, err := calendar.RenderWeek(calendar.Week{
		Start:    start,
		Slots:    slots,
		Now:      h.scheduling.Now(),
		Location: h.scheduling.Location(),
	})
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", img)
}

func (h *Handler) ListPatterns(c echo.Context) error {
	raw := c.QueryParam("property_id")
	if raw == "" {
		return model.NewFieldError("property_id", "is required")
	}
	var p fieldParser
	propertyID := p.uuid("property_id", raw)
	if err := p.err(); err != nil {
		return err
	}

	patterns, err := h.patterns.List(c.Request().Context(), actorFrom(c), propertyID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patterns)
}

func (h *Handler) GetPattern(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	pattern, err := h.patterns.Get(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pattern)
}

func (h *Handler) CreatePattern(c echo.Context) error {
	var req patternRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	pattern, err := req.toModel()
	if err != nil {
		return err
	}

	created, err := h.patterns.Create(c.Request().Context(), actorFrom(c), pattern)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdatePattern(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	dry, err := dryRun(c)
	if err != nil {
		return err
	}

	var req patternRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	pattern, err := req.toModel()
	if err != nil {
		return err
	}
	pattern.ID = id

	change, err := h.patterns.Update(c.Request().Context(), actorFrom(c), pattern, dry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, change)
}

func (h *Handler) SetPatternActive(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	dry, err := dryRun(c)
	if err != nil {
		return err
	}

	var req setActiveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	change, err := h.patterns.SetActive(c.Request().Context(), actorFrom(c), id, *req.IsActive, dry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, change)
}

func (h *Handler) DeletePattern(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	dry, err := dryRun(c)
	if err != nil {
		return err
	}

	change, err := h.patterns.Delete(c.Request().Context(), actorFrom(c), id, dry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, change)
}

func (h *Handler) CreateBooking(c echo.Context) error {
	var req reserveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	reserve, err := req.toModel()
	if err != nil {
		return err
	}

	booking, err := h.scheduling.Reserve(c.Request().Context(), actorFrom(c), reserve)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, booking)
}

func (h *Handler) ListBookings(c echo.Context) error {
	var p fieldParser
	q := c.QueryParams()
	filter := model.BookingFilter{
		PropertyID: p.optionalUUID("property_id", q.Get("property_id")),
		VisitorRef: q.Get("visitor_ref"),
		FromDate:   p.optionalDate("from", q.Get("from")),
		ToDate:     p.optionalDate("to", q.Get("to")),
	}

	// status=pending,confirmed или status=pending&status=confirmed
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			status, ok := model.ParseBookingStatus(s)
			if !ok {
				p.fail("status", fmt.Sprintf("unknown status %q", s))
				continue
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if err := p.err(); err != nil {
		return err
	}

	bookings, err := h.scheduling.ListBookings(c.Request().Context(), actorFrom(c), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bookings)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	booking, err := h.scheduling.GetBooking(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking)
}

func (h *Handler) ConfirmBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	booking, err := h.scheduling.Confirm(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking)
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	booking, err := h.scheduling.Cancel(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking)
}
