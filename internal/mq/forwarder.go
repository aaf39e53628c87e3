package mq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Veil/internal/domain"
)

const (
	defaultForwardBuffer  = 256
	defaultPublishTimeout = 5 * time.Second
	defaultRetryDelay     = 250 * time.Millisecond
)

// StepPublisher публикует переходы шагов.
type StepPublisher interface {
	PublishStepEvent(ctx context.Context, event domain.StepEvent) error

	// Connected — поднята ли связь с брокером.
	Connected() bool
}

// Forwarder пересылает переходы шагов в брокер, не блокируя оркестратор.
//
// Observe вызывается из state loop оркестратора: событие кладётся в буфер,
// при переполнении отбрасывается. Пока связь с брокером восстанавливается,
// публикация повторяется в пределах Timeout; ошибка при живой связи не
// повторяется.
type Forwarder struct {
	publisher  StepPublisher
	events     chan domain.StepEvent
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger

	dropped atomic.Int64
	failed  atomic.Int64

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ForwarderConfig — конфигурация Forwarder.
type ForwarderConfig struct {
	Publisher StepPublisher

	// Buffer — размер очереди событий (default: 256).
	Buffer int

	// Timeout — таймаут публикации одного события вместе с повторами (default: 5s).
	Timeout time.Duration

	// RetryDelay — пауза между повторами при потерянной связи (default: 250ms).
	RetryDelay time.Duration

	Logger *slog.Logger
}

// NewForwarder создаёт Forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultForwardBuffer
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Forwarder{
		publisher:  cfg.Publisher,
		events:     make(chan domain.StepEvent, buffer),
		timeout:    timeout,
		retryDelay: retryDelay,
		logger:     logger.With("exchange", ExchangeEvents),
	}
}

// Observe ставит событие в очередь на публикацию.
func (f *Forwarder) Observe(event domain.StepEvent) {
	select {
	case f.events <- event:
	default:
		f.dropped.Add(1)
		f.logger.Warn("step event dropped, forward buffer full",
			"run_id", event.RunID,
			"step_id", event.StepID,
		)
	}
}

// Dropped возвращает число событий, отброшенных при полном буфере.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Failed возвращает число событий, которые так и не удалось опубликовать.
func (f *Forwarder) Failed() int64 {
	return f.failed.Load()
}

// Start запускает публикацию.
func (f *Forwarder) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancelFunc = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.loop(ctx)
	}()
}

// Stop останавливает публикацию, оставшиеся в буфере события публикуются.
func (f *Forwarder) Stop() {
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	f.wg.Wait()
}

// loop публикует события по одному.
func (f *Forwarder) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case event := <-f.events:
			f.publish(context.WithoutCancel(ctx), ctx.Done(), event)
		}
	}
}

// drain публикует то, что осталось в буфере. Без связи с брокером
// остаток сразу считается неопубликованным.
func (f *Forwarder) drain() {
	for {
		select {
		case event := <-f.events:
			if !f.publisher.Connected() {
				f.failed.Add(1)
				continue
			}
			f.publish(context.Background(), nil, event)
		default:
			if n := f.failed.Load(); n > 0 {
				f.logger.Warn("forwarder stopped with unpublished events", "failed", n)
			}
			return
		}
	}
}

// publish публикует одно событие. При потерянной связи ждёт её
// восстановления и повторяет, пока не истечёт timeout или не закроется stop.
func (f *Forwarder) publish(ctx context.Context, stop <-chan struct{}, event domain.StepEvent) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := f.publisher.PublishStepEvent(ctx, event)
		if err == nil {
			if attempt > 1 {
				f.logger.Info("step event published after broker reconnect",
					"run_id", event.RunID,
					"step_id", event.StepID,
					"attempts", attempt,
				)
			}
			return
		}

		if f.publisher.Connected() {
			f.fail(event, attempt, err)
			return
		}

		timer := time.NewTimer(f.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.fail(event, attempt, err)
			return
		case <-stop:
			timer.Stop()
			f.fail(event, attempt, err)
			return
		case <-timer.C:
		}
	}
}

func (f *Forwarder) fail(event domain.StepEvent, attempts int, err error) {
	f.failed.Add(1)
	f.logger.Error("failed to publish step event",
		"run_id", event.RunID,
		"step_id", event.StepID,
		"attempts", attempts,
		"connected", f.publisher.Connected(),
		"error", err,
	)
}
