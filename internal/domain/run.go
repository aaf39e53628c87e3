package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepID — идентификатор шага pipeline.
type StepID string

// Шаги pipeline в порядке workflow.
const (
	StepInputData                StepID = "input-data"
	StepPseudonymization         StepID = "pseudonymization"
	StepIntelligenceAugmentation StepID = "intelligence-augmentation"
	StepAnalysisA                StepID = "analysis-a"
	StepAnalysisB                StepID = "analysis-b"
	StepValidationSystem         StepID = "validation-system"
	StepLearningFeedback         StepID = "learning-feedback"
	StepRestoration              StepID = "restoration"
	StepOutputData               StepID = "output-data"
)

// WorkflowOrder возвращает все шаги в порядке workflow.
func WorkflowOrder() []StepID {
	return []StepID{
		StepInputData,
		StepPseudonymization,
		StepIntelligenceAugmentation,
		StepAnalysisA,
		StepAnalysisB,
		StepValidationSystem,
		StepLearningFeedback,
		StepRestoration,
		StepOutputData,
	}
}

// IsKnownStep проверяет, что шаг входит в workflow.
func IsKnownStep(id StepID) bool {
	for _, s := range WorkflowOrder() {
		if s == id {
			return true
		}
	}
	return false
}

// StepResult — запись о выполнении одного шага в рамках run.
//
// Пишется только стадией, которой принадлежит шаг (через оркестратор),
// для всех остальных — read-only.
type StepResult struct {
	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Payload — результат шага (JSON от удалённого сервиса).
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error — сообщение об ошибке (для error/warning).
	Error string `json:"error,omitempty"`

	// StartedAt — момент перехода в processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — момент перехода в терминальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration возвращает длительность шага или 0, если шаг не завершён.
func (r StepResult) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// PipelineState — состояние текущего (или последнего) run.
//
// Живёт ровно один экземпляр; мутирует только оркестратор.
type PipelineState struct {
	// RunID — идентификатор run. uuid.Nil после Reset.
	RunID uuid.UUID `json:"run_id"`

	// IsRunning — run в процессе; новый Execute отклоняется.
	IsRunning bool `json:"is_running"`

	// CurrentStep — последний шаг, перешедший в processing.
	CurrentStep StepID `json:"current_step,omitempty"`

	// ParallelSteps — участники parallel-стадии, которые сейчас выполняются.
	ParallelSteps map[StepID]bool `json:"parallel_steps"`

	// Steps — результаты шагов, ключи — префикс WorkflowOrder.
	Steps map[StepID]StepResult `json:"steps"`

	// StartTime — начало run.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime — конец run (выставляется ровно один раз).
	EndTime *time.Time `json:"end_time,omitempty"`

	// Error — сообщение ошибки, прервавшей run.
	Error string `json:"error,omitempty"`
}

// NewPipelineState создаёт пустое состояние.
func NewPipelineState() *PipelineState {
	return &PipelineState{
		ParallelSteps: make(map[StepID]bool),
		Steps:         make(map[StepID]StepResult),
	}
}

// Clone возвращает глубокую копию для отдачи наблюдателям.
func (s *PipelineState) Clone() PipelineState {
	out := *s
	out.ParallelSteps = make(map[StepID]bool, len(s.ParallelSteps))
	for k, v := range s.ParallelSteps {
		out.ParallelSteps[k] = v
	}
	out.Steps = CloneSteps(s.Steps)
	return out
}

// StepStatus возвращает статус шага; idle, если шаг не встречался.
func (s *PipelineState) StepStatus(id StepID) StepStatus {
	if r, ok := s.Steps[id]; ok {
		return r.Status
	}
	return StepStatusIdle
}

// CloneSteps копирует map шагов.
func CloneSteps(steps map[StepID]StepResult) map[StepID]StepResult {
	out := make(map[StepID]StepResult, len(steps))
	for k, v := range steps {
		out[k] = v
	}
	return out
}

// PipelineResult — итог одного Execute.
type PipelineResult struct {
	// RunID — идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// Success — run дошёл до output-data.
	Success bool `json:"success"`

	// Output — собранный результат (валидация + восстановленный текст).
	Output json.RawMessage `json:"output,omitempty"`

	// Error — сообщение стадии, прервавшей run.
	Error string `json:"error,omitempty"`

	// FailedStep — шаг, на котором run прервался.
	FailedStep StepID `json:"failed_step,omitempty"`

	// Steps — история шагов на момент завершения (может быть частичной).
	Steps map[StepID]StepResult `json:"steps"`

	// StartTime — начало run.
	StartTime time.Time `json:"start_time"`

	// EndTime — конец run.
	EndTime time.Time `json:"end_time"`
}

// Duration возвращает продолжительность run.
func (r *PipelineResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// StepEvent — уведомление наблюдателя о переходе шага.
type StepEvent struct {
	RunID  uuid.UUID  `json:"run_id"`
	StepID StepID     `json:"step_id"`
	Result StepResult `json:"result"`
	At     time.Time  `json:"at"`
}
