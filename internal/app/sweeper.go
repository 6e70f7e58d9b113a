package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/service"
	"go.uber.org/zap"
)

// Sweeper периодически завершает прошедшие бронирования и снимает просроченные pending
type Sweeper struct {
	scheduling *service.SchedulingService
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	started    atomic.Bool
	done       chan struct{}
}

// NewSweeper создаёт новый фоновый обходчик
func NewSweeper(scheduling *service.SchedulingService, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		scheduling: scheduling,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start запускает фоновую задачу
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("Starting background sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop останавливает фоновую задачу и ждёт завершения текущего прохода
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background sweeper")
		close(s.stopChan)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	// Первый запуск сразу при старте
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("Sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Sweeper cancelled")
			return
		}
	}
}

// RunOnce выполняет один проход; ошибки логируются, следующий проход состоится по расписанию
func (s *Sweeper) RunOnce(ctx context.Context) service.SweepResult {
	res, err := s.scheduling.Sweep(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", zap.Error(err))
	}

	if res.Completed > 0 || res.Expired > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("completed", res.Completed),
			zap.Int("expired", res.Expired),
		)
	}
	return res
}
