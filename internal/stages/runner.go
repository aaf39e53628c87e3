package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/telemetry"
)

// Runner выполняет стадии и сообщает переходы шагов в Recorder.
type Runner struct {
	recorder Recorder
	spawn    func(func()) error
	now      func() time.Time
	logger   *slog.Logger
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	// Recorder — получатель переходов (обязательно).
	Recorder Recorder

	// Spawn запускает фоновую работу. По умолчанию — go fn().
	// Ошибка означает, что работа не запущена (например, идёт остановка).
	Spawn func(func()) error

	// Now — источник времени (для тестов).
	Now func() time.Time

	// Logger
	Logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = func(fn func()) error {
			go fn()
			return nil
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		recorder: cfg.Recorder,
		spawn:    spawn,
		now:      now,
		logger:   logger,
	}
}

// Run выполняет стадию по её типу.
//
// Возвращает ошибку только для фатальных исходов (*FatalStageError).
func (r *Runner) Run(ctx context.Context, def Definition, in json.RawMessage) (Outcome, error) {
	switch def.Kind {
	case domain.StageKindSequential:
		return r.runSequential(ctx, def, in)
	case domain.StageKindOptional:
		return r.runOptional(ctx, def, in)
	case domain.StageKindParallel:
		return r.runParallel(ctx, def, in)
	case domain.StageKindBackground:
		return r.runBackground(ctx, def, in)
	default:
		return Outcome{}, &FatalStageError{
			Steps: []domain.StepID{def.ID},
			Err:   fmt.Errorf("%w: %s", ErrUnknownStageKind, def.Kind),
		}
	}
}

// runSequential — ждём результат, ошибка фатальна.
func (r *Runner) runSequential(ctx context.Context, def Definition, in json.RawMessage) (Outcome, error) {
	started := r.markProcessing(def.ID)

	out, err := def.Invoke(r.stepContext(ctx, def.ID), in)
	if err != nil {
		r.finish(def.ID, started, domain.StepStatusError, nil, err)
		return Outcome{}, &FatalStageError{Steps: []domain.StepID{def.ID}, Err: err}
	}

	r.finish(def.ID, started, domain.StepStatusSuccess, out, nil)
	return Outcome{Payload: out, Source: def.ID}, nil
}

// runOptional — ошибка поглощается и становится warning.
func (r *Runner) runOptional(ctx context.Context, def Definition, in json.RawMessage) (Outcome, error) {
	started := r.markProcessing(def.ID)

	out, err := def.Invoke(r.stepContext(ctx, def.ID), in)
	if err != nil {
		degraded := &DegradedStageError{Step: def.ID, Err: err}
		r.finish(def.ID, started, domain.StepStatusWarning, nil, err)
		telemetry.WithStepID(r.logger, string(def.ID)).Warn("optional stage degraded", "error", degraded)
		return Outcome{Source: def.ID, Degraded: true}, nil
	}

	r.finish(def.ID, started, domain.StepStatusSuccess, out, nil)
	return Outcome{Payload: out, Source: def.ID}, nil
}

// memberResult — исход одного участника parallel стадии.
type memberResult struct {
	payload json.RawMessage
	err     error
}

// runParallel — все участники стартуют вместе, ждём всех без short-circuit.
func (r *Runner) runParallel(ctx context.Context, def Definition, in json.RawMessage) (Outcome, error) {
	// Все участники переходят в processing до того, как хоть один завершится
	started := make(map[domain.StepID]time.Time, len(def.Members))
	for _, m := range def.Members {
		started[m.ID] = r.markProcessing(m.ID)
	}

	results := make(map[domain.StepID]*memberResult, len(def.Members))
	for _, m := range def.Members {
		results[m.ID] = &memberResult{}
	}

	// Горутины никогда не возвращают ошибку: ошибка одного участника
	// не должна отменять остальных.
	var g errgroup.Group
	for _, m := range def.Members {
		res := results[m.ID]
		g.Go(func() error {
			res.payload, res.err = m.Invoke(r.stepContext(ctx, m.ID), in)
			if res.err != nil {
				r.finish(m.ID, started[m.ID], domain.StepStatusError, nil, res.err)
			} else {
				r.finish(m.ID, started[m.ID], domain.StepStatusSuccess, res.payload, nil)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range def.precedence() {
		res, ok := results[id]
		if ok && res.err == nil {
			r.logger.Debug("parallel stage resolved", "stage", def.ID, "source", id)
			return Outcome{Payload: res.payload, Source: id}, nil
		}
	}

	errs := make([]error, 0, len(def.Members))
	for _, m := range def.Members {
		errs = append(errs, fmt.Errorf("%s: %w", m.ID, results[m.ID].err))
	}

	return Outcome{}, &FatalStageError{
		Steps: def.StepIDs(),
		Err:   fmt.Errorf("%w: %w", ErrAllMembersFailed, errors.Join(errs...)),
	}
}

// runBackground — запускаем и не ждём; ошибка никогда не становится error.
func (r *Runner) runBackground(ctx context.Context, def Definition, in json.RawMessage) (Outcome, error) {
	started := r.markProcessing(def.ID)

	// Фоновая работа переживает run и не отменяется вместе с ним.
	bgCtx := r.stepContext(context.WithoutCancel(ctx), def.ID)

	err := r.spawn(func() {
		out, err := def.Invoke(bgCtx, in)
		if err != nil {
			r.backgroundFailed(def.ID, started, err)
			return
		}
		r.finish(def.ID, started, domain.StepStatusSuccess, out, nil)
	})
	if err != nil {
		r.backgroundFailed(def.ID, started, err)
	}

	return Outcome{Source: def.ID, Detached: true}, nil
}

// backgroundFailed записывает warning; ошибка фоновой стадии не всплывает.
func (r *Runner) backgroundFailed(id domain.StepID, started time.Time, err error) {
	bgErr := &BackgroundError{Step: id, Err: err}
	r.finish(id, started, domain.StepStatusWarning, nil, err)
	telemetry.WithStepID(r.logger, string(id)).Warn("background stage failed", "error", bgErr)
}

// stepContext добавляет в ctx логгер шага.
func (r *Runner) stepContext(ctx context.Context, id domain.StepID) context.Context {
	return telemetry.StepContext(ctx, r.logger, string(id))
}

// markProcessing переводит шаг в processing и возвращает время старта.
func (r *Runner) markProcessing(id domain.StepID) time.Time {
	started := r.now()
	r.recorder.Transition(id, domain.StepResult{
		Status:    domain.StepStatusProcessing,
		StartedAt: &started,
	})
	return started
}

// finish переводит шаг в терминальный статус.
func (r *Runner) finish(id domain.StepID, started time.Time, status domain.StepStatus, payload json.RawMessage, err error) {
	finished := r.now()
	result := domain.StepResult{
		Status:     status,
		Payload:    payload,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	if err != nil {
		result.Error = err.Error()
	}
	r.recorder.Transition(id, result)
	telemetry.ObserveStep(string(id), string(status), finished.Sub(started))
}
