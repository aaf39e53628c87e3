package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Veil/internal/domain"
)

// EventRepo — журнал переходов шагов (audit trail).
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Save сохраняет событие. id — идентификатор сообщения;
// повторная доставка того же сообщения игнорируется.
func (r *EventRepo) Save(ctx context.Context, id uuid.UUID, event domain.StepEvent) error {
	query := `
		INSERT INTO step_events (id, run_id, step_id, status, error, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		id,
		event.RunID,
		string(event.StepID),
		string(event.Result.Status),
		nullString(event.Result.Error),
		nullJSON(event.Result.Payload),
		event.At,
	)
	if err != nil {
		return fmt.Errorf("insert step event: %w", err)
	}
	return nil
}

// ListByRun возвращает события run в порядке возникновения.
func (r *EventRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.StepEvent, error) {
	query := `
		SELECT run_id, step_id, status, error, payload, occurred_at
		FROM step_events
		WHERE run_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list step events: %w", err)
	}
	defer rows.Close()

	var events []domain.StepEvent
	for rows.Next() {
		var e domain.StepEvent
		var stepID, status string
		var errMsg *string
		var payload []byte

		if err := rows.Scan(&e.RunID, &stepID, &status, &errMsg, &payload, &e.At); err != nil {
			return nil, fmt.Errorf("scan step event: %w", err)
		}

		e.StepID = domain.StepID(stepID)
		e.Result.Status = domain.StepStatus(status)
		if errMsg != nil {
			e.Result.Error = *errMsg
		}
		if payload != nil {
			e.Result.Payload = payload
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
