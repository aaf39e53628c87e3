package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/orchestrator"
)

// maxInputBytes — ограничение размера тела запроса на запуск.
const maxInputBytes = 1 << 20

// ExecutePipeline запускает pipeline и ждёт результат.
// POST /api/v1/pipeline/runs
//
// Упавший run — это 200 с success=false: клиент видит, где run остановился.
func (h *Handler) ExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInputBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		BadRequest(w, "text is required")
		return
	}

	// Run не прерывается на середине: отключение клиента не отменяет стадии.
	result, err := h.pipeline.Execute(context.WithoutCancel(r.Context()), orchestrator.Input{Text: req.Text})
	if h.handlePipelineError(w, err) {
		return
	}

	Success(w, RunFromDomain(result))
}

// GetPipelineState возвращает состояние текущего или последнего run.
// GET /api/v1/pipeline/state
func (h *Handler) GetPipelineState(w http.ResponseWriter, r *http.Request) {
	Success(w, StateFromDomain(h.pipeline.State()))
}

// GetStep возвращает шаг текущего run.
// GET /api/v1/pipeline/steps/{id}
func (h *Handler) GetStep(w http.ResponseWriter, r *http.Request) {
	id := domain.StepID(r.PathValue("id"))

	result, err := h.pipeline.StepResult(id)
	if h.handlePipelineError(w, err) {
		return
	}

	Success(w, StepFromDomain(id, result))
}

// ResetPipeline сбрасывает состояние.
// POST /api/v1/pipeline/reset
func (h *Handler) ResetPipeline(w http.ResponseWriter, r *http.Request) {
	if h.handlePipelineError(w, h.pipeline.Reset()) {
		return
	}
	NoContent(w)
}

// handlePipelineError преобразует ошибку оркестратора в HTTP ответ.
func (h *Handler) handlePipelineError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, orchestrator.ErrPipelineRunning):
		Conflict(w, err.Error())
	case errors.Is(err, orchestrator.ErrEmptyInput):
		BadRequest(w, err.Error())
	case errors.Is(err, orchestrator.ErrStepNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, orchestrator.ErrOrchestratorStopped), errors.Is(err, orchestrator.ErrNotStarted):
		Unavailable(w, err.Error())
	default:
		InternalError(w, h.logger, err)
	}
	return true
}
