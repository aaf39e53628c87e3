package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrPipelineRunning — run уже выполняется (Execute/Reset отклонены).
	ErrPipelineRunning = errors.New("pipeline is already running")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrNotStarted — state loop не запущен (не вызван Start).
	ErrNotStarted = errors.New("orchestrator not started")

	// ErrInvalidWorkflow — определения стадий не прошли валидацию.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrEmptyInput — пустой входной текст.
	ErrEmptyInput = errors.New("input text is empty")

	// ErrContractViolation — ответ сервиса не соответствует контракту.
	ErrContractViolation = errors.New("service response violates contract")

	// ErrStepNotFound — шаг не входит в workflow.
	ErrStepNotFound = errors.New("step not found in workflow")
)
