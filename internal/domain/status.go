package domain

// StepStatus — статус выполнения шага pipeline.
//
// Жизненный цикл:
//
//	IDLE → PROCESSING → SUCCESS
//	                  ↘ ERROR   (sequential / parallel)
//	                  ↘ WARNING (optional / background)
type StepStatus string

const (
	// StepStatusIdle — шаг ещё не запускался в текущем run.
	StepStatusIdle StepStatus = "idle"

	// StepStatusProcessing — шаг выполняется (или запущен в фоне).
	StepStatusProcessing StepStatus = "processing"

	// StepStatusSuccess — шаг завершён успешно.
	StepStatusSuccess StepStatus = "success"

	// StepStatusError — шаг упал, run прерван.
	StepStatusError StepStatus = "error"

	// StepStatusWarning — шаг упал, но ошибка поглощена (optional/background).
	StepStatusWarning StepStatus = "warning"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusError, StepStatusWarning:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// HealthStatus — статус доступности зависимого сервиса.
type HealthStatus string

const (
	// HealthStatusHealthy — liveness probe прошёл (или здоровье выведено по соглашению).
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusUnhealthy — probe вернул не-2xx или не дошёл до сервиса.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// StageKind — тип стадии pipeline.
type StageKind string

const (
	// StageKindSequential — ждём результат, ошибка фатальна.
	StageKindSequential StageKind = "sequential"

	// StageKindOptional — ждём результат, ошибка превращается в warning.
	StageKindOptional StageKind = "optional"

	// StageKindParallel — fan-out на несколько участников с общим входом.
	StageKindParallel StageKind = "parallel"

	// StageKindBackground — fire-and-forget, результат приходит асинхронно.
	StageKindBackground StageKind = "background"
)

// IsValid проверяет, что тип стадии известен.
func (k StageKind) IsValid() bool {
	switch k {
	case StageKindSequential, StageKindOptional, StageKindParallel, StageKindBackground:
		return true
	default:
		return false
	}
}
