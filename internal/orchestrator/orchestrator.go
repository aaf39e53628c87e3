package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/stages"
)

const defaultInboxSize = 64

// Observer получает каждый переход шага.
//
// Вызывается из state loop последовательно; не должен блокироваться.
type Observer func(event domain.StepEvent)

// HistoryStore сохраняет завершённые runs.
type HistoryStore interface {
	SaveRun(ctx context.Context, result *domain.PipelineResult) error
}

// Orchestrator выполняет pipeline и владеет его состоянием.
type Orchestrator struct {
	workflow *workflow
	history  HistoryStore
	logger   *slog.Logger
	now      func() time.Time

	// State loop
	inbox chan message
	done  chan struct{}
	mu    sync.RWMutex // пишет только loop; читают State/StepStatus
	run   *runState

	observersMu sync.RWMutex
	observers   []Observer

	// Background задачи, которые могут пережить run.
	// После начала Stop новые задачи не запускаются.
	bgMu     sync.Mutex
	bgWG     sync.WaitGroup
	stopping bool

	// Lifecycle
	cancelFunc context.CancelFunc
	started    atomic.Bool
	startOnce  sync.Once
	stopOnce   sync.Once
	loopWG     sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Services — операции зависимых сервисов (обязательно).
	Services Services

	// Precedence — порядок предпочтения analysis backends
	// (default: analysis-a, analysis-b).
	Precedence []domain.StepID

	// History — опционально, хранилище истории runs.
	History HistoryStore

	// Now — источник времени (для тестов).
	Now func() time.Time

	// Logger
	Logger *slog.Logger
}

// New создаёт Orchestrator. State loop запускается в Start.
func New(cfg Config) (*Orchestrator, error) {
	wf, err := buildWorkflow(cfg.Services, cfg.Precedence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		workflow: wf,
		history:  cfg.History,
		logger:   logger,
		now:      now,
		inbox:    make(chan message, defaultInboxSize),
		done:     make(chan struct{}),
		run:      newRunState(wf.background),
	}

	return o, nil
}

// Start запускает state loop. Отмена ctx равносильна Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		o.cancelFunc = cancel

		o.loopWG.Add(1)
		go func() {
			defer o.loopWG.Done()
			o.loop()
		}()

		go func() {
			<-ctx.Done()
			o.Stop()
		}()

		o.started.Store(true)
		o.logger.Info("orchestrator started", "steps", len(domain.WorkflowOrder()))
	})
}

// Stop дожидается фоновых стадий и останавливает state loop.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.logger.Info("stopping orchestrator...")

		o.bgMu.Lock()
		o.stopping = true
		o.bgMu.Unlock()

		o.bgWG.Wait()
		close(o.done)
		o.loopWG.Wait()

		if o.cancelFunc != nil {
			o.cancelFunc()
		}
		o.logger.Info("orchestrator stopped")
	})
}

// WaitBackground ждёт завершения всех запущенных background стадий.
func (o *Orchestrator) WaitBackground() {
	o.bgWG.Wait()
}

// Subscribe регистрирует наблюдателя переходов шагов.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.observersMu.Lock()
	defer o.observersMu.Unlock()
	o.observers = append(o.observers, obs)
}

// State возвращает копию текущего состояния.
func (o *Orchestrator) State() domain.PipelineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.run.state.Clone()
}

// StepStatus возвращает статус шага; idle, если шага нет в текущем run.
func (o *Orchestrator) StepStatus(id domain.StepID) domain.StepStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.run.state.StepStatus(id)
}

// StepResult возвращает результат шага.
func (o *Orchestrator) StepResult(id domain.StepID) (domain.StepResult, error) {
	if !domain.IsKnownStep(id) {
		return domain.StepResult{}, fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if res, ok := o.run.state.Steps[id]; ok {
		return res, nil
	}
	return domain.StepResult{Status: domain.StepStatusIdle}, nil
}

// IsRunning проверяет, идёт ли run.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.run.state.IsRunning
}

// Reset возвращает состояние в пустой вид. Запрещён во время run.
func (o *Orchestrator) Reset() error {
	reply := make(chan error, 1)
	if err := o.send(message{kind: msgReset, reply: reply}); err != nil {
		return err
	}
	return o.await(reply)
}

// --- State loop ---

type messageKind int

const (
	msgTransition messageKind = iota
	msgParallel
	msgBegin
	msgFinish
	msgReset
)

// message — единица работы для state loop.
type message struct {
	kind  messageKind
	runID uuid.UUID

	// msgTransition
	stepID domain.StepID
	result domain.StepResult

	// msgParallel
	members []domain.StepID

	// msgFinish
	failedStep domain.StepID
	errMsg     string

	// msgBegin / msgReset
	reply chan error

	// msgFinish
	snapshot chan domain.PipelineState
}

// loop — единственная горутина, мутирующая состояние.
func (o *Orchestrator) loop() {
	for {
		select {
		case <-o.done:
			return
		case msg := <-o.inbox:
			o.handle(msg)
		}
	}
}

// handle применяет одно сообщение.
func (o *Orchestrator) handle(msg message) {
	switch msg.kind {
	case msgTransition:
		o.mu.Lock()
		applied := o.run.apply(msg.runID, msg.stepID, msg.result)
		o.mu.Unlock()

		if !applied {
			o.logger.Debug("dropped stale transition",
				"run_id", msg.runID,
				"step_id", msg.stepID,
				"status", msg.result.Status,
			)
			return
		}
		o.notify(msg.runID, msg.stepID, msg.result)

	case msgParallel:
		o.mu.Lock()
		o.run.markParallel(msg.runID, msg.members)
		o.mu.Unlock()

	case msgBegin:
		o.mu.Lock()
		ok := o.run.begin(msg.runID, o.now())
		o.mu.Unlock()

		if !ok {
			msg.reply <- ErrPipelineRunning
			return
		}
		msg.reply <- nil

	case msgFinish:
		o.mu.Lock()
		resolved := o.run.finish(msg.runID, msg.failedStep, msg.errMsg, o.now())
		snapshot := o.run.state.Clone()
		o.mu.Unlock()

		for _, id := range resolved {
			o.notify(msg.runID, id, snapshot.Steps[id])
		}
		msg.snapshot <- snapshot

	case msgReset:
		o.mu.Lock()
		ok := o.run.reset()
		o.mu.Unlock()

		if !ok {
			msg.reply <- ErrPipelineRunning
			return
		}
		o.logger.Info("pipeline state reset")
		msg.reply <- nil
	}
}

// notify уведомляет наблюдателей.
func (o *Orchestrator) notify(runID uuid.UUID, id domain.StepID, result domain.StepResult) {
	o.observersMu.RLock()
	observers := o.observers
	o.observersMu.RUnlock()

	if len(observers) == 0 {
		return
	}

	event := domain.StepEvent{
		RunID:  runID,
		StepID: id,
		Result: result,
		At:     o.now(),
	}
	for _, obs := range observers {
		obs(event)
	}
}

// send кладёт сообщение в inbox, если loop ещё жив.
func (o *Orchestrator) send(msg message) error {
	if !o.started.Load() {
		return ErrNotStarted
	}

	select {
	case <-o.done:
		return ErrOrchestratorStopped
	default:
	}

	select {
	case o.inbox <- msg:
		return nil
	case <-o.done:
		return ErrOrchestratorStopped
	}
}

// await ждёт ответ loop.
func (o *Orchestrator) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrOrchestratorStopped
	}
}

// recorder возвращает Recorder, привязанный к run.
func (o *Orchestrator) recorder(runID uuid.UUID) stages.Recorder {
	return stages.RecorderFunc(func(id domain.StepID, result domain.StepResult) {
		if err := o.send(message{kind: msgTransition, runID: runID, stepID: id, result: result}); err != nil {
			o.logger.Warn("transition lost", "run_id", runID, "step_id", id, "error", err)
		}
	})
}

// spawn запускает background задачу с учётом в bgWG.
// После начала Stop возвращает ErrOrchestratorStopped.
func (o *Orchestrator) spawn(fn func()) error {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()

	if o.stopping {
		return ErrOrchestratorStopped
	}

	o.bgWG.Add(1)
	go func() {
		defer o.bgWG.Done()
		fn()
	}()
	return nil
}
