package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echoMw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderActorRef         = "X-Actor-Ref"
	HeaderActorRole        = "X-Actor-Role"
	HeaderActorProperties  = "X-Actor-Properties"
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderIdempotentReplay = "Idempotent-Replayed"

	actorKey = "actor"
)

// ActorMiddleware читает участника запроса из заголовков шлюза.
// Аутентификация выполняется до сервиса; без заголовков запрос анонимный.
func ActorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			actor := model.Actor{
				Ref:  strings.TrimSpace(h.Get(HeaderActorRef)),
				Role: model.RoleVisitor,
			}

			if role := strings.TrimSpace(h.Get(HeaderActorRole)); role != "" {
				switch model.Role(role) {
				case model.RoleOwner, model.RoleVisitor:
					actor.Role = model.Role(role)
				default:
					return model.NewFieldError(HeaderActorRole, fmt.Sprintf("unknown role %q", role))
				}
			}

			if props := h.Get(HeaderActorProperties); props != "" {
				for _, raw := range strings.Split(props, ",") {
					raw = strings.TrimSpace(raw)
					if raw == "" {
						continue
					}
					id, err := uuid.Parse(raw)
					if err != nil {
						return model.NewFieldError(HeaderActorProperties, fmt.Sprintf("invalid property id %q", raw))
					}
					actor.PropertyIDs = append(actor.PropertyIDs, id)
				}
			}

			c.Set(actorKey, actor)
			return next(c)
		}
	}
}

func actorFrom(c echo.Context) model.Actor {
	actor, _ := c.Get(actorKey).(model.Actor)
	return actor
}

// requireActor отклоняет анонимные запросы
func requireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if actorFrom(c).Ref == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, HeaderActorRef+" header is required")
		}
		return next(c)
	}
}

// requireOwner пропускает только владельцев объектов; принадлежность объекта проверяет сервис
func requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return requireActor(func(c echo.Context) error {
		if actorFrom(c).Role != model.RoleOwner {
			return fmt.Errorf("owner role required: %w", model.ErrForbidden)
		}
		return next(c)
	})
}

// RequestLogger пишет каждый запрос в zap
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return echoMw.RequestLoggerWithConfig(echoMw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		// ошибка уходит в ErrorHandler до записи в лог, иначе статус остаётся 200
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
				zap.String("actor", actorFrom(c).Ref),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("HTTP request", fields...)
			return nil
		},
	})
}

// RateLimiter хранит ограничитель для каждого клиента; неактивные ограничители вытесняются кэшем
type RateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

func NewRateLimiter(r rate.Limit, b int, idle time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: cache.New(idle, 2*idle),
		r:        r,
		b:        b,
	}
}

// Limiter возвращает ограничитель клиента, создавая его при первом обращении
func (l *RateLimiter) Limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		l.limiters.SetDefault(key, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(l.r, l.b)
	if err := l.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// параллельный запрос успел создать свой
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Middleware ограничивает частоту запросов по участнику, а для анонимных по IP
func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if ref := actorFrom(c).Ref; ref != "" {
				key = "actor:" + ref
			}
			if !l.Limiter(key).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

type inFlight struct{}

type bodyCaptureWriter struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency повторяет сохранённый успешный ответ для запроса с тем же Idempotency-Key.
// Ключ действует в пределах участника; неуспешные ответы не сохраняются.
func Idempotency(store *cache.Cache) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idem := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if idem == "" {
				return next(c)
			}
			key := actorFrom(c).Ref + "|" + c.Request().Method + " " + c.Path() + "|" + idem

			if err := store.Add(key, inFlight{}, cache.DefaultExpiration); err != nil {
				v, ok := store.Get(key)
				if !ok {
					return echo.NewHTTPError(http.StatusConflict, "request with this Idempotency-Key is in progress")
				}
				cached, ok := v.(cachedResponse)
				if !ok {
					return echo.NewHTTPError(http.StatusConflict, "request with this Idempotency-Key is in progress")
				}
				c.Response().Header().Set(HeaderIdempotentReplay, "true")
				return c.Blob(cached.status, cached.contentType, cached.body)
			}

			res := c.Response()
			capture := &bodyCaptureWriter{ResponseWriter: res.Writer, body: new(bytes.Buffer)}
			res.Writer = capture

			err := next(c)
			res.Writer = capture.ResponseWriter

			if err != nil || res.Status < 200 || res.Status >= 300 {
				store.Delete(key)
				return err
			}

			store.SetDefault(key, cachedResponse{
				status:      res.Status,
				contentType: res.Header().Get(echo.HeaderContentType),
				body:        capture.body.Bytes(),
			})
			return nil
		}
	}
}
