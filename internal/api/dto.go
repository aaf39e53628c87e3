package api

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Veil/internal/domain"
)

// Pipeline DTOs

// ExecuteRequest — запрос на запуск pipeline.
type ExecuteRequest struct {
	Text string `json:"text"`
}

// StepResponse — ответ с шагом.
type StepResponse struct {
	ID         domain.StepID     `json:"id"`
	Status     domain.StepStatus `json:"status"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// StepFromDomain конвертирует domain.StepResult в StepResponse.
func StepFromDomain(id domain.StepID, r domain.StepResult) StepResponse {
	return StepResponse{
		ID:         id,
		Status:     r.Status,
		Payload:    r.Payload,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
	}
}

// stepsInOrder возвращает шаги в порядке workflow.
func stepsInOrder(steps map[domain.StepID]domain.StepResult) []StepResponse {
	out := make([]StepResponse, 0, len(steps))
	for _, id := range domain.WorkflowOrder() {
		if r, ok := steps[id]; ok {
			out = append(out, StepFromDomain(id, r))
		}
	}
	return out
}

// StateResponse — ответ с состоянием pipeline.
type StateResponse struct {
	RunID         uuid.UUID       `json:"run_id"`
	IsRunning     bool            `json:"is_running"`
	CurrentStep   domain.StepID   `json:"current_step,omitempty"`
	ParallelSteps []domain.StepID `json:"parallel_steps"`
	Steps         []StepResponse  `json:"steps"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// StateFromDomain конвертирует domain.PipelineState в StateResponse.
func StateFromDomain(s domain.PipelineState) StateResponse {
	parallel := make([]domain.StepID, 0, len(s.ParallelSteps))
	for _, id := range domain.WorkflowOrder() {
		if s.ParallelSteps[id] {
			parallel = append(parallel, id)
		}
	}

	return StateResponse{
		RunID:         s.RunID,
		IsRunning:     s.IsRunning,
		CurrentStep:   s.CurrentStep,
		ParallelSteps: parallel,
		Steps:         stepsInOrder(s.Steps),
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Error:         s.Error,
	}
}

// RunResponse — ответ с итогом run.
type RunResponse struct {
	RunID      uuid.UUID       `json:"run_id"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	FailedStep domain.StepID   `json:"failed_step,omitempty"`
	Steps      []StepResponse  `json:"steps"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	DurationMs int64           `json:"duration_ms"`
}

// RunFromDomain конвертирует domain.PipelineResult в RunResponse.
func RunFromDomain(r domain.PipelineResult) RunResponse {
	return RunResponse{
		RunID:      r.RunID,
		Success:    r.Success,
		Output:     r.Output,
		Error:      r.Error,
		FailedStep: r.FailedStep,
		Steps:      stepsInOrder(r.Steps),
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		DurationMs: r.Duration().Milliseconds(),
	}
}

// Health DTOs

// HealthResponse — ответ со здоровьем сервиса.
type HealthResponse struct {
	Service     string              `json:"service"`
	Status      domain.HealthStatus `json:"status"`
	LastChecked time.Time           `json:"last_checked"`
	LatencyMs   int64               `json:"latency_ms"`
	LastError   string              `json:"last_error,omitempty"`
	Payload     json.RawMessage     `json:"payload,omitempty"`
	Inferred    bool                `json:"inferred"`
	Note        string              `json:"note,omitempty"`
}

// HealthFromDomain конвертирует domain.HealthRecord в HealthResponse.
func HealthFromDomain(r domain.HealthRecord) HealthResponse {
	return HealthResponse{
		Service:     r.Service,
		Status:      r.Status,
		LastChecked: r.LastChecked,
		LatencyMs:   r.Latency.Milliseconds(),
		LastError:   r.LastError,
		Payload:     r.Payload,
		Inferred:    r.Inferred,
		Note:        r.Note,
	}
}

// healthSorted возвращает записи, отсортированные по имени сервиса.
func healthSorted(records map[string]domain.HealthRecord) []HealthResponse {
	out := make([]HealthResponse, 0, len(records))
	for _, r := range records {
		out = append(out, HealthFromDomain(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
