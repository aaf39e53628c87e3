package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/orchestrator"
	"github.com/shaiso/Veil/internal/repo"
)

// Pipeline — операции оркестратора, доступные через API.
type Pipeline interface {
	Execute(ctx context.Context, in orchestrator.Input) (domain.PipelineResult, error)
	State() domain.PipelineState
	StepResult(id domain.StepID) (domain.StepResult, error)
	Reset() error
}

// HealthChecker — операции health monitor, доступные через API.
type HealthChecker interface {
	Records() map[string]domain.HealthRecord
	Record(name string) (domain.HealthRecord, error)
	CheckOne(ctx context.Context, name string) (domain.HealthRecord, error)
	Summary() domain.HealthSummary
}

// RunStore — история runs.
type RunStore interface {
	List(ctx context.Context, filter repo.RunFilter) ([]domain.PipelineResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineResult, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipeline Pipeline
	health   HealthChecker
	runs     RunStore
	events   http.Handler
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Pipeline Pipeline
	Health   HealthChecker

	// Runs — опционально; без него /runs отвечает 503.
	Runs RunStore

	// Events — опционально, WebSocket поток событий.
	Events http.Handler

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		pipeline: cfg.Pipeline,
		health:   cfg.Health,
		runs:     cfg.Runs,
		events:   cfg.Events,
		logger:   logger,
	}
}
