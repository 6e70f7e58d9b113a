package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/config"
	"github.com/StudioVBG/TALOK-sub009/internal/controller/httpapi"
	"github.com/StudioVBG/TALOK-sub009/internal/events"
	"github.com/StudioVBG/TALOK-sub009/internal/metrics"
	"github.com/StudioVBG/TALOK-sub009/internal/repository"
	"github.com/StudioVBG/TALOK-sub009/internal/repository/base"
	"github.com/StudioVBG/TALOK-sub009/internal/repository/memory"
	"github.com/StudioVBG/TALOK-sub009/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

// App собранный сервис: хранилище, сервисы, HTTP-сервер и фоновый обходчик
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	pool       *pgxpool.Pool // nil при STORAGE=memory
	publisher  events.Publisher
	Scheduling *service.SchedulingService
	Patterns   *service.PatternService
	server     *echo.Echo
	sweeper    *Sweeper
}

// New собирает зависимости по конфигурации. Close освобождает их.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	var (
		patterns service.PatternStore
		bookings service.BookingLedger
	)
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		patterns, bookings = store.Patterns(), store.Bookings()
	default:
		pool, err := NewPool(ctx, cfg.DBDSN, logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		repo := base.NewRepository(pool, cfg.ReserveMaxRetries)
		patterns = repository.NewPatternRepository(repo, logger)
		bookings = repository.NewBookingRepository(repo, logger)
	}

	a.publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewRabbitPublisher(cfg.AMQPURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = publisher
		logger.Info("Publishing booking events", zap.String("exchange", events.ExchangeName))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := service.Options{
		Location:      cfg.Location,
		MaxWindowDays: cfg.MaxWindowDays,
		PendingTTL:    cfg.PendingTTL,
	}
	a.Scheduling = service.NewSchedulingService(patterns, bookings, a.publisher, metrics.New(registry), logger, opts)
	a.Patterns = service.NewPatternService(patterns, bookings, logger, opts)

	a.server = httpapi.NewRouter(httpapi.NewHandler(a.Scheduling, a.Patterns, logger), httpapi.RouterOptions{
		Logger:         logger,
		Gatherer:       registry,
		RateLimit:      rate.Limit(cfg.RateLimitPerSec),
		RateBurst:      cfg.RateLimitBurst,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	a.sweeper = NewSweeper(a.Scheduling, cfg.SweepInterval, logger)

	return a, nil
}

// Pool пул соединений PostgreSQL; nil для хранилища в памяти
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

// Run обслуживает HTTP и запускает обходчик до отмены ctx, затем корректно останавливается
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting", zap.String("addr", a.cfg.HTTPAddr))
		if err := a.server.Start(a.cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	a.sweeper.Start(gctx)
	err := g.Wait()
	a.sweeper.Stop()
	return err
}

// Close освобождает соединения с брокером и базой
func (a *App) Close() error {
	var err error
	if a.publisher != nil {
		err = multierr.Append(err, a.publisher.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}
