package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions параметры HTTP-сервера
type RouterOptions struct {
	Logger         *zap.Logger
	Gatherer       prometheus.Gatherer // nil - без /metrics
	RateLimit      rate.Limit          // запросов в секунду на бронирование; 0 - без ограничения
	RateBurst      int
	IdempotencyTTL time.Duration // 0 - без Idempotency-Key
}

// NewRouter собирает echo с middleware и маршрутами API
func NewRouter(h *Handler, opts RouterOptions) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(echoMw.Recover())
	e.Use(echoMw.RequestID())
	e.Use(RequestLogger(logger))
	e.Use(ActorMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	var reserve []echo.MiddlewareFunc
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		reserve = append(reserve, NewRateLimiter(opts.RateLimit, burst, 10*time.Minute).Middleware())
	}
	if opts.IdempotencyTTL > 0 {
		reserve = append(reserve, Idempotency(cache.New(opts.IdempotencyTTL, 2*opts.IdempotencyTTL)))
	}

	h.RegisterRoutes(e, reserve...)
	return e
}
