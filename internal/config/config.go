package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // TIMEZONE не зависит от системной базы зон

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Environment       string
	Storage           string
	DBDSN             string
	HTTPAddr          string
	Location          *time.Location
	MaxWindowDays     int
	PendingTTL        time.Duration
	SweepInterval     time.Duration
	ReserveMaxRetries int
	RateLimitPerSec   float64
	RateLimitBurst    int
	IdempotencyTTL    time.Duration
	AMQPURL           string
	LogFile           string
}

// Load читает .env (если есть) и переменные окружения
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return FromEnv(os.Getenv)
}

// FromEnv собирает конфигурацию из источника переменных; все ошибки возвращаются разом
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		Environment:       r.str("ENV", "development"),
		Storage:           r.str("STORAGE", StoragePostgres),
		DBDSN:             getenv("DB_DSN"),
		HTTPAddr:          r.str("HTTP_ADDR", ":8080"),
		MaxWindowDays:     r.int("MAX_WINDOW_DAYS", 92),
		PendingTTL:        r.duration("PENDING_TTL", 48*time.Hour),
		SweepInterval:     r.duration("SWEEP_INTERVAL", 15*time.Minute),
		ReserveMaxRetries: r.int("RESERVE_MAX_RETRIES", 3),
		RateLimitPerSec:   r.float("RATE_LIMIT_PER_SEC", 5),
		RateLimitBurst:    r.int("RATE_LIMIT_BURST", 10),
		IdempotencyTTL:    r.duration("IDEMPOTENCY_TTL", 10*time.Minute),
		AMQPURL:           getenv("AMQP_URL"),
		LogFile:           getenv("LOG_FILE"),
	}

	tz := r.str("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("TIMEZONE %q: %w", tz, err))
	}
	cfg.Location = loc

	// Проверяем обязательные поля
	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DBDSN == "" {
			r.errs = multierr.Append(r.errs, fmt.Errorf("DB_DSN is required with STORAGE=%s", StoragePostgres))
		}
	case StorageMemory:
	default:
		r.errs = multierr.Append(r.errs, fmt.Errorf("STORAGE %q: expected %s or %s", cfg.Storage, StoragePostgres, StorageMemory))
	}

	if cfg.MaxWindowDays < 1 {
		r.errs = multierr.Append(r.errs, fmt.Errorf("MAX_WINDOW_DAYS must be positive"))
	}
	if cfg.SweepInterval <= 0 {
		r.errs = multierr.Append(r.errs, fmt.Errorf("SWEEP_INTERVAL must be positive"))
	}

	if r.errs != nil {
		return nil, fmt.Errorf("load config: %w", r.errs)
	}
	return cfg, nil
}

type reader struct {
	getenv func(string) string
	errs   error
}

func (r *reader) str(key, def string) string {
	if v := r.getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = multierr.Append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
