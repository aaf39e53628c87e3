package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner удаляет runs, завершившиеся раньше before.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler — периодическая очистка истории runs по cron-расписанию.
type Scheduler struct {
	store     Pruner
	retention time.Duration
	schedule  cron.Schedule
	now       func() time.Time
	logger    *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Scheduler.
type Config struct {
	Store Pruner

	// Retention — сколько хранить runs (> 0).
	Retention time.Duration

	// Schedule — cron выражение запуска очистки.
	Schedule string

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("scheduler: retention must be positive")
	}

	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", cfg.Schedule, err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:     cfg.Store,
		retention: cfg.Retention,
		schedule:  schedule,
		now:       now,
		logger:    logger,
	}, nil
}

// Tick выполняет одну очистку и возвращает число удалённых runs.
func (s *Scheduler) Tick(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.retention)

	n, err := s.store.Prune(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	s.logger.Info("history pruned", "before", before.Format(time.RFC3339), "deleted", n)
	return n, nil
}

// Next возвращает время следующей очистки после from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Start запускает цикл очистки в фоне.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancelFunc = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	s.logger.Info("retention scheduler started", "retention", s.retention, "next", s.Next(s.now()))
}

// Stop останавливает цикл и ждёт его завершения.
func (s *Scheduler) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		wait := s.Next(s.now()).Sub(s.now())
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Ошибка одной очистки не останавливает цикл
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("history prune failed", "error", err)
		}
	}
}
